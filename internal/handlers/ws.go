package handlers

import (
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sfoufcat/slimcircle/internal/event"
	"github.com/sfoufcat/slimcircle/internal/types"
	"github.com/sfoufcat/slimcircle/internal/utils"
)

var (
	squadClients   = make(map[uint]map[*websocket.Conn]bool)
	squadClientsMu sync.RWMutex
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// SubscribeCallUpdates attaches the websocket broadcaster to the domain
// event bus: every successful proposal mutation pushes a refresh to the
// squad's connected clients.
func SubscribeCallUpdates(bus *event.EventBus) {
	bus.SubscribeFunc(event.TypeCallUpdated, func(evt event.Event) {
		data, ok := evt.Data.(event.CallUpdatedEvent)

		if !ok {
			log.Printf("Unexpected call.updated payload: %T", evt.Data)
			return
		}

		BroadcastCallRefresh(data.SquadID)
	})
}

func BroadcastCallRefresh(squadID uint) {
	squadClientsMu.RLock()
	clients, exists := squadClients[squadID]
	if !exists || len(clients) == 0 {
		squadClientsMu.RUnlock()
		return
	}

	clientsCopy := make([]*websocket.Conn, 0, len(clients))
	for conn := range clients {
		clientsCopy = append(clientsCopy, conn)
	}
	squadClientsMu.RUnlock()

	for _, conn := range clientsCopy {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Printf("Failed to set write deadline for broadcast: %v", err)
			continue
		}

		err := conn.WriteJSON(map[string]interface{}{
			"type":     "refresh",
			"message":  "Call proposal updated",
			"squad_id": squadID,
		})

		if err != nil {
			log.Printf("Failed to broadcast refresh to client: %v", err)
			removeSquadClient(squadID, conn)
			conn.Close()
		}
	}
}

func removeSquadClient(squadID uint, conn *websocket.Conn) {
	squadClientsMu.Lock()
	defer squadClientsMu.Unlock()

	if clients, exists := squadClients[squadID]; exists {
		delete(clients, conn)

		if len(clients) == 0 {
			delete(squadClients, squadID)
		}
	}
}

func WebSocket(c *gin.Context) {
	userID, err := utils.GetCurrentUserID(c)

	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(c)

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !isSquadMember(squadID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this squad"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, allowed := range types.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Failed to set initial read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Failed to set read deadline in pong handler: %v", err)
		}
		return nil
	})

	squadClientsMu.Lock()
	if squadClients[squadID] == nil {
		squadClients[squadID] = make(map[*websocket.Conn]bool)
	}
	squadClients[squadID][conn] = true
	squadClientsMu.Unlock()

	defer func() {
		removeSquadClient(squadID, conn)
		conn.Close()

		log.Printf("WebSocket connection closed for squad %d", squadID)
	}()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Failed to set write deadline for welcome message: %v", err)
		return
	}

	err = conn.WriteJSON(map[string]string{
		"type":     "connected",
		"message":  "WebSocket connection established",
		"squad_id": strconv.FormatUint(uint64(squadID), 10),
	})

	if err != nil {
		log.Printf("Failed to send welcome message: %v", err)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Failed to set write deadline for squad %d: %v", squadID, err)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Ping failed for squad %d: %v", squadID, err)
				return
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Failed to set read deadline for squad %d: %v", squadID, err)
			break
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for squad %d: %v", squadID, err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			log.Printf("Received message from client in squad %d: %s", squadID, string(message))
		}
	}
}
