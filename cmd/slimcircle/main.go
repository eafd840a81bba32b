package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sfoufcat/slimcircle/db"
	"github.com/sfoufcat/slimcircle/internal/auth"
	"github.com/sfoufcat/slimcircle/internal/calls"
	"github.com/sfoufcat/slimcircle/internal/event"
	"github.com/sfoufcat/slimcircle/internal/handlers"
	"github.com/sfoufcat/slimcircle/internal/router"
	"github.com/sfoufcat/slimcircle/internal/scheduler"
	"github.com/sfoufcat/slimcircle/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment")
	}

	if err := auth.InitJWTSecret(); err != nil {
		log.Fatalf("Failed to initialize JWT: %v", err)
	}

	if err := db.ConnectDatabase(os.Getenv("DATABASE_URL")); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.MigrateDatabase(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	bus := event.NewEventBus()

	calls.Initialize(db.DB, bus)
	handlers.SubscribeCallUpdates(bus)

	notifier := services.NewNotifier(db.DB, services.NewMailService())

	if err := scheduler.Initialize(bus, notifier); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	r := router.NewRouter()

	var port string

	if port = os.Getenv("PORT"); port == "" {
		port = "3000"
		log.Println("PORT not set, defaulting to 3000")
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
