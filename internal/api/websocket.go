package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// orderSocket upgrades the connection and binds it as the order's single
// live subscriber. Connecting with a malformed order id is rejected
// before the upgrade.
func (s *Server) orderSocket(c *gin.Context) {
	orderID := c.Param("id")
	if _, err := uuid.Parse(orderID); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a UUID")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}

	sink := &wsSink{conn: conn}
	if err := sink.Send(gin.H{
		"status":  "connected",
		"orderId": orderID,
		"message": "Waiting for updates...",
	}); err != nil {
		log.Printf("api: ws hello for %s failed: %v", orderID, err)
		_ = sink.Close()
		return
	}

	s.Broadcaster.Bind(orderID, sink)

	// Read pump: we never expect client messages, but reading detects
	// closure (including the close we issue when a newer subscriber
	// replaces this one).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.Broadcaster.Unbind(orderID, sink)
	_ = sink.Close()
}

// wsSink adapts a websocket connection to the broadcaster's sink
// contract. Writes are serialized; gorilla allows one concurrent writer.
type wsSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSink) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteJSON(v)
}

func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced or shutting down"))
	return s.conn.Close()
}
