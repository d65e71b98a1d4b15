package session

import (
	"context"
	"log/slog"

	"github.com/realxtend/cloudrender/internal/protocol"
	"github.com/realxtend/cloudrender/internal/rtc"
)

// ClientOptions configures a client session.
type ClientOptions struct {
	// RoomID names the room to join. Empty lets the relay pick any room
	// with an available renderer.
	RoomID string
	// ApplicationMessage receives data-channel payloads from the renderer
	// and room custom messages. Optional.
	ApplicationMessage func(payload protocol.Document)
}

// Client is the client-role session orchestrator. It holds exactly one
// peer link, to the relay-designated renderer, addressed with an empty
// receiver id.
type Client struct {
	core

	opts    ClientOptions
	engines rtc.EngineFactory
	link    *rtc.PeerLink
}

// NewClient builds a client session. Run must be called before any traffic
// flows.
func NewClient(transports TransportFactory, engines rtc.EngineFactory, opts ClientOptions, log *slog.Logger) *Client {
	c := &Client{
		opts:    opts,
		engines: engines,
	}
	c.init(log.With("role", "client"))
	c.handle = c.handleMessage
	c.register = c.sendRegistration
	c.transport = transports(c.transportEvents(), c.log)
	return c
}

// Run connects to the relay and processes session events until ctx is
// done, then tears down the connection and the renderer link.
func (c *Client) Run(ctx context.Context, host string) {
	c.transport.Connect(host)
	c.run(ctx)
	c.transport.Disconnect()
	if c.link != nil {
		c.link.Disconnect()
	}
}

// SendData writes an application payload to the renderer over the data
// channel.
func (c *Client) SendData(payload protocol.Document) {
	c.post(func() {
		if c.link == nil {
			c.log.Warn("no renderer link, dropping data payload")
			return
		}
		m := protocol.New(protocol.KindPeerCustomMessage).(*protocol.PeerCustomMessage)
		m.Data = payload
		raw, err := protocol.Encode(m)
		if err != nil {
			c.log.Error("encoding data payload failed", "error", err)
			return
		}
		if err := c.link.SendData(raw); err != nil {
			c.log.Error("sending data payload failed", "error", err)
		}
	})
}

func (c *Client) sendRegistration() {
	m := protocol.New(protocol.KindRegistration).(*protocol.Registration)
	m.Registrant = protocol.RegistrantClient
	m.RoomID = c.opts.RoomID
	if err := c.transport.Send(m); err != nil {
		c.log.Error("registration failed", "error", err)
	}
}

func (c *Client) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Offer:
		c.handleRemoteDescription(m.Description, m.Candidates)
	case *protocol.Answer:
		c.handleRemoteDescription(m.Description, m.Candidates)
	case *protocol.IceCandidates:
		if c.link == nil {
			c.log.Warn("dropping ice candidates", "error", ErrOrphanIceCandidates, "peer", m.SenderID)
			return
		}
		c.link.AddRemoteICECandidates(m.Candidates)
	case *protocol.RoomAssigned:
		c.handleRoomAssigned(m)
	case *protocol.RoomUserJoined:
		for _, id := range m.PeerIDs {
			c.room.AddPeer(id)
		}
	case *protocol.RoomUserLeft:
		for _, id := range m.PeerIDs {
			c.room.RemovePeer(id)
		}
	case *protocol.RoomCustomMessage:
		if c.opts.ApplicationMessage != nil {
			c.opts.ApplicationMessage(m.Data)
		}
	default:
		c.log.Warn("unhandled relay message", "channel", msg.Channel().String(), "kind", msg.Kind().String())
	}
}

// handleRemoteDescription feeds the renderer's offer or answer into the
// single link, creating it on first contact. Clients negotiate no local
// media; tracks and the data channel arrive from the renderer's side.
func (c *Client) handleRemoteDescription(desc rtc.SessionDescription, candidates []rtc.ICECandidate) {
	if c.link == nil {
		// Empty peer id: outbound negotiation messages address the room's
		// renderer implicitly.
		c.link = rtc.NewPeerLink("", c.engines, c.post, rtc.LinkEvents{
			LocalDataResolved: c.sendResolved,
			DataMessage:       c.onDataMessage,
		}, c.log)
	}
	if err := c.link.HandleOfferOrAnswer(desc, candidates, rtc.MediaSettings{}); err != nil {
		c.log.Error("remote description handling failed", "error", err)
	}
}

func (c *Client) onDataMessage(_ *rtc.PeerLink, raw []byte) {
	payload, err := decodePeerPayload(raw)
	if err != nil {
		c.log.Warn("dropping data channel message", "error", err)
		return
	}
	if c.opts.ApplicationMessage != nil {
		c.opts.ApplicationMessage(payload)
	}
}
