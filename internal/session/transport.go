package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/realxtend/cloudrender/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrNotConnected is returned by Send while no relay connection is up.
var ErrNotConnected = errors.New("session: not connected to relay")

// TransportEvents is the observer set a Transport reports into. Callbacks
// run on transport goroutines; owners re-post onto their session goroutine.
type TransportEvents struct {
	Connected     func()
	Disconnected  func()
	ConnectFailed func(err error)
	// MessagesReady signals that PendingMessages has at least one decoded
	// message queued.
	MessagesReady func()
}

// Transport is the connection to the signaling relay.
type Transport interface {
	// Connect dials the relay asynchronously; the outcome arrives as a
	// Connected or ConnectFailed event.
	Connect(host string)
	// Disconnect closes the connection. Safe to call when not connected.
	Disconnect()
	// Send encodes and writes one protocol message.
	Send(msg protocol.Message) error
	// PendingMessages drains the inbound queue, returning decoded messages
	// in arrival order.
	PendingMessages() []protocol.Message
}

// CleanHost normalizes a user-supplied relay address to a websocket URL:
// http and https schemes are rewritten to their websocket counterparts and
// a bare host gets ws:// prepended. Trailing slashes are dropped.
func CleanHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, "/")
	switch {
	case strings.HasPrefix(host, "ws://"), strings.HasPrefix(host, "wss://"):
		return host
	case strings.HasPrefix(host, "https://"):
		return "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		return "ws://" + strings.TrimPrefix(host, "http://")
	}
	return "ws://" + host
}

// WSTransport is the gorilla/websocket Transport. Inbound frames are
// decoded on the read pump; the queue lock is held only to hand decoded
// batches across.
type WSTransport struct {
	log    *slog.Logger
	events TransportEvents

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	pending []protocol.Message
}

// NewWSTransport builds a disconnected transport reporting into events.
func NewWSTransport(events TransportEvents, log *slog.Logger) *WSTransport {
	return &WSTransport{log: log, events: events}
}

func (t *WSTransport) Connect(host string) {
	url := CleanHost(host)
	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.log.Error("relay dial failed", "url", url, "error", err)
			if t.events.ConnectFailed != nil {
				t.events.ConnectFailed(err)
			}
			return
		}

		send := make(chan []byte, 256)
		done := make(chan struct{})
		t.mu.Lock()
		t.conn = conn
		t.send = send
		t.done = done
		t.mu.Unlock()

		go t.writePump(conn, send, done)
		go t.readPump(conn)

		t.log.Info("connected to relay", "url", url)
		if t.events.Connected != nil {
			t.events.Connected()
		}
	}()
}

func (t *WSTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.send = nil
	t.done = nil
	t.mu.Unlock()
	if conn == nil {
		return
	}
	close(done)
	conn.Close()
}

func (t *WSTransport) Send(msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	send <- raw
	return nil
}

func (t *WSTransport) PendingMessages() []protocol.Message {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()
	return batch
}

func (t *WSTransport) readPump(conn *websocket.Conn) {
	defer t.dropConnection(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Error("relay read failed", "error", err)
			}
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			t.log.Warn("dropping undecodable relay message", "error", err)
			continue
		}
		t.mu.Lock()
		t.pending = append(t.pending, msg)
		t.mu.Unlock()
		if t.events.MessagesReady != nil {
			t.events.MessagesReady()
		}
	}
}

func (t *WSTransport) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case raw := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// dropConnection tears down after a read failure and reports Disconnected
// exactly once. A Disconnect initiated locally already cleared t.conn, in
// which case there is nothing to report.
func (t *WSTransport) dropConnection(conn *websocket.Conn) {
	t.mu.Lock()
	active := t.conn == conn
	var done chan struct{}
	if active {
		done = t.done
		t.conn = nil
		t.send = nil
		t.done = nil
	}
	t.mu.Unlock()
	if !active {
		return
	}
	close(done)
	conn.Close()
	if t.events.Disconnected != nil {
		t.events.Disconnected()
	}
}
