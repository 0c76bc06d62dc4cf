package server

import (
	// Go Internal Packages
	"context"
	"net/http"
	"sync"
	"time"

	// External Packages
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn serializes writes to one websocket; gorilla connections allow a single
// concurrent writer.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, msg []byte) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// events upgrades the request and registers the connection with the hub. Clients
// only listen; reading continues solely to notice when they go away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := s.Hub.Add(&wsConn{conn: conn, writeTimeout: s.WriteTimeout})
	if id == "" {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.Hub.Remove(id)
			return
		}
	}
}
