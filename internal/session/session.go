package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/realxtend/cloudrender/internal/protocol"
	"github.com/realxtend/cloudrender/internal/rtc"
)

// Protocol violations observed by the orchestrators. They are logged, not
// fatal.
var (
	ErrOrphanIceCandidates = errors.New("session: ice candidates for unknown peer")
	ErrUnexpectedRoomError = errors.New("session: room assignment error for unrequested room")
)

// TransportFactory builds the relay transport for an orchestrator, wiring
// its event callbacks. Tests substitute fakes here.
type TransportFactory func(events TransportEvents, log *slog.Logger) Transport

// NewWSTransportFactory is the production TransportFactory.
func NewWSTransportFactory() TransportFactory {
	return func(events TransportEvents, log *slog.Logger) Transport {
		return NewWSTransport(events, log)
	}
}

// core is the state shared by both orchestrator roles: the session
// goroutine's work queue, the relay transport and the room. All mutation
// happens on the session goroutine; transport and engine events are
// re-posted onto it.
type core struct {
	log       *slog.Logger
	transport Transport
	room      Room
	peerID    string

	loop    chan func()
	stopped chan struct{}

	// handle dispatches one inbound relay message; set by the role.
	handle func(protocol.Message)
	// register sends the role's Registration; set by the role.
	register func()
}

func (c *core) init(log *slog.Logger) {
	c.log = log
	c.loop = make(chan func(), 128)
	c.stopped = make(chan struct{})
}

// post schedules f on the session goroutine. Posts after shutdown are
// dropped.
func (c *core) post(f func()) {
	select {
	case c.loop <- f:
	case <-c.stopped:
	}
}

// transportEvents adapts transport callbacks onto the session goroutine.
func (c *core) transportEvents() TransportEvents {
	return TransportEvents{
		Connected:    func() { c.post(c.onConnected) },
		Disconnected: func() { c.post(c.onDisconnected) },
		ConnectFailed: func(err error) {
			c.post(func() { c.onConnectFailed(err) })
		},
		MessagesReady: func() { c.post(c.drainMessages) },
	}
}

func (c *core) onConnected() {
	c.room.Reset()
	c.register()
}

func (c *core) onDisconnected() {
	c.log.Info("relay connection lost")
	c.room.Reset()
}

func (c *core) onConnectFailed(err error) {
	c.log.Error("relay connection failed", "error", err)
	c.room.Reset()
}

func (c *core) drainMessages() {
	for _, msg := range c.transport.PendingMessages() {
		c.handle(msg)
	}
}

// run processes the session queue until ctx is done.
func (c *core) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.loop:
			f()
		}
	}
}

// handleRoomAssigned applies the relay's assignment reply for both roles.
func (c *core) handleRoomAssigned(m *protocol.RoomAssigned) {
	c.room.Reset()
	if m.Error != protocol.RoomNoError {
		c.log.Error("room assignment failed", "error", ErrUnexpectedRoomError, "code", m.Error.String())
		return
	}
	c.room.id = m.RoomID
	c.peerID = m.PeerID
	c.log.Info("room assigned", "room", m.RoomID, "peer", m.PeerID)
}

// sendResolved builds and sends the Offer or Answer for a link whose local
// negotiation data just resolved. Any other description type is a hard
// error and nothing is sent.
func (c *core) sendResolved(link *rtc.PeerLink, desc rtc.SessionDescription, candidates []rtc.ICECandidate) {
	var msg protocol.Message
	switch desc.Type {
	case rtc.SDPTypeAnswer:
		m := protocol.New(protocol.KindAnswer).(*protocol.Answer)
		m.ReceiverID = link.PeerID()
		m.Description = desc
		m.Candidates = candidates
		msg = m
	case rtc.SDPTypeOffer:
		m := protocol.New(protocol.KindOffer).(*protocol.Offer)
		m.ReceiverID = link.PeerID()
		m.Description = desc
		m.Candidates = candidates
		msg = m
	default:
		c.log.Error("negotiation resolved with unsendable description", "peer", link.PeerID(), "type", desc.Type)
		return
	}
	if err := c.transport.Send(msg); err != nil {
		c.log.Error("sending negotiation result failed", "peer", link.PeerID(), "error", err)
	}
}

// decodePeerPayload extracts the data document from a data-channel frame,
// which carries an envelope-encoded PeerCustomMessage.
func decodePeerPayload(raw []byte) (protocol.Document, error) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	peer, ok := msg.(*protocol.PeerCustomMessage)
	if !ok {
		return nil, errors.New("unexpected data channel message kind " + msg.Kind().String())
	}
	return peer.Data, nil
}
