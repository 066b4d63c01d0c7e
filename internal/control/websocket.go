package control

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// wsMessage is the JSON frame sent for every access log entry.
type wsMessage struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Level     string `json:"level"`
	Client    string `json:"client,omitempty"`
	Target    string `json:"target,omitempty"`
	Status    int    `json:"status,omitempty"`
	Message   string `json:"message"`
	Raw       string `json:"raw"`
}

// handleWebSocket upgrades to WebSocket and streams access log entries to
// the client until it disconnects or the hub stops.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	entries := s.hub.Subscribe()
	defer s.hub.Unsubscribe(entries)

	// Read pump: detects client disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write pump: sends entries as JSON.
	for {
		select {
		case <-gone:
			return
		case entry, ok := <-entries:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}

			msg := wsMessage{
				Timestamp: entry.Timestamp.Format(time.RFC3339),
				Source:    entry.Source,
				Level:     entry.Level,
				Client:    entry.Client,
				Target:    entry.Target,
				Status:    entry.Status,
				Message:   entry.Message,
				Raw:       entry.Raw,
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("websocket write failed: %v", err)
				return
			}
		}
	}
}
