package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/0x1a0b/mockserver-sub001/pkg/callback"
)

// ClientIDHeader lets a callback client choose its own ID.
const ClientIDHeader = "X-Client-Id"

// socketChannel carries callback messages over one websocket.
type socketChannel struct {
	conn *websocket.Conn
}

func (c *socketChannel) Send(ctx context.Context, msg callback.Message) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *socketChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// handleCallbackSocket registers a callback client and feeds its replies to
// the registry until the socket closes.
func (s *Server) handleCallbackSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(ClientIDHeader)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Debug("callback upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxBodySize)

	ctx := r.Context()
	ch := &socketChannel{conn: conn}
	if err := s.callbacks.RegisterClient(ctx, clientID, ch); err != nil {
		s.log.Warn("callback client rejected", "clientId", clientID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	s.log.Info("callback client connected", "clientId", clientID, "remote", r.RemoteAddr)
	defer func() {
		s.callbacks.UnregisterClient(clientID, ch)
		s.log.Info("callback client disconnected", "clientId", clientID)
	}()

	for {
		var msg callback.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("callback read failed", "clientId", clientID, "error", err)
			}
			return
		}
		if !s.callbacks.DispatchIncoming(msg) {
			s.log.Debug("callback message dropped", "clientId", clientID, "type", msg.Type)
		}
	}
}
