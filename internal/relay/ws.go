package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/realxtend/cloudrender/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware.
		return true
	},
}

// HandleSignaling upgrades the connection and runs the peer's pumps. The
// peer stays roomless until its first message, which must be a
// Registration; anything else closes the connection.
func (h *Hub) HandleSignaling(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	p := newPeer()
	p.close = func() { conn.Close() }

	go h.writePump(p, conn)
	go h.readPump(p, conn)
}

func (h *Hub) readPump(p *peer, conn *websocket.Conn) {
	defer func() {
		h.Remove(p)
		close(p.done)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	registered := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "peer", p.id, "error", err)
			}
			return
		}

		var envelope protocol.Document
		if err := json.Unmarshal(raw, &envelope); err != nil {
			h.log.Warn("dropping unparseable frame", "peer", p.id, "error", err)
			continue
		}

		if !registered {
			msg, err := protocol.DecodeDocument(envelope)
			if err != nil {
				h.log.Warn("closing connection, first message undecodable", "error", err)
				return
			}
			reg, ok := msg.(*protocol.Registration)
			if !ok {
				h.log.Warn("closing connection, first message is not a registration", "kind", msg.Kind().String())
				return
			}
			h.Register(p, reg)
			registered = true
			continue
		}

		h.HandleEnvelope(p, envelope)
	}
}

func (h *Hub) writePump(p *peer, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case raw := <-p.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
