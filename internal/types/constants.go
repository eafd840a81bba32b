package types

import (
	"os"
	"strings"
)

// ContextUserKey is the gin context key the auth middleware stores the
// authenticated member under.
const ContextUserKey = "user"

var (
	// Local frontend dev servers, always allowed.
	defaultOrigins = []string{
		"http://localhost:3000",
		"http://localhost:5173",
	}

	// AllowedOrigins feeds both the CORS middleware and the websocket
	// origin check. Extended through the CLIENT_URL and comma-separated
	// ALLOWED_ORIGINS environment variables.
	AllowedOrigins = buildAllowedOrigins()
)

func buildAllowedOrigins() []string {
	origins := make([]string, len(defaultOrigins))
	copy(origins, defaultOrigins)

	if clientURL := os.Getenv("CLIENT_URL"); clientURL != "" {
		origins = append(origins, clientURL)
	}

	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	return origins
}
