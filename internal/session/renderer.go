package session

import (
	"context"
	"log/slog"

	"github.com/realxtend/cloudrender/internal/protocol"
	"github.com/realxtend/cloudrender/internal/rtc"
)

// Payload type tags the renderer special-cases on its data channels.
const (
	payloadTypeKeyboard = "keyboard"
	payloadTypeMouse    = "mouse"
)

// RendererOptions configures a renderer session.
type RendererOptions struct {
	// SendWebCamera swaps the outgoing video track from the rendered view
	// to a local camera feed.
	SendWebCamera bool
	// CreatePrivateRoom asks the relay for a room clients cannot be
	// auto-assigned into.
	CreatePrivateRoom bool
	// InputEvent receives keyboard and mouse payloads from client data
	// channels. Optional.
	InputEvent func(peerID string, kind string, payload protocol.Document)
	// ApplicationMessage receives every other data-channel payload and
	// room custom messages. Optional.
	ApplicationMessage func(peerID string, payload protocol.Document)
}

// Renderer is the renderer-role session orchestrator: it registers with
// the relay, answers or initiates negotiation with every client that joins
// its room, and fans data-channel traffic out to input and application
// consumers.
type Renderer struct {
	core

	opts    RendererOptions
	media   rtc.MediaSettings
	engines rtc.EngineFactory
	links   map[string]*rtc.PeerLink
}

// NewRenderer builds a renderer session. Run must be called before any
// traffic flows.
func NewRenderer(transports TransportFactory, engines rtc.EngineFactory, opts RendererOptions, log *slog.Logger) *Renderer {
	r := &Renderer{
		opts: opts,
		media: rtc.MediaSettings{
			Audio:     false,
			Webcamera: opts.SendWebCamera,
			Rendering: !opts.SendWebCamera,
			Data:      true,
		},
		engines: engines,
		links:   make(map[string]*rtc.PeerLink),
	}
	r.init(log.With("role", "renderer"))
	r.handle = r.handleMessage
	r.register = r.sendRegistration
	r.transport = transports(r.transportEvents(), r.log)
	return r
}

// Run connects to the relay and processes session events until ctx is
// done, then tears down the connection and every peer link.
func (r *Renderer) Run(ctx context.Context, host string) {
	r.transport.Connect(host)
	r.run(ctx)
	r.transport.Disconnect()
	for _, link := range r.links {
		link.Disconnect()
	}
}

// AnnounceState reports the renderer's availability to the relay.
func (r *Renderer) AnnounceState(state protocol.RendererState) {
	r.post(func() {
		m := protocol.New(protocol.KindRendererStateChange).(*protocol.RendererStateChange)
		m.State = state
		if err := r.transport.Send(m); err != nil {
			r.log.Error("announcing renderer state failed", "state", state.String(), "error", err)
		}
	})
}

// SendToRoom relays an application payload to the given receivers, or to
// the whole room when receivers is empty.
func (r *Renderer) SendToRoom(receivers []string, payload protocol.Document) {
	r.post(func() {
		m := protocol.New(protocol.KindRoomCustomMessage).(*protocol.RoomCustomMessage)
		m.Receivers = receivers
		m.Data = payload
		if err := r.transport.Send(m); err != nil {
			r.log.Error("sending room message failed", "error", err)
		}
	})
}

func (r *Renderer) sendRegistration() {
	m := protocol.New(protocol.KindRegistration).(*protocol.Registration)
	m.Registrant = protocol.RegistrantRenderer
	m.CreatePrivateRoom = r.opts.CreatePrivateRoom
	if err := r.transport.Send(m); err != nil {
		r.log.Error("registration failed", "error", err)
	}
}

func (r *Renderer) handleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Offer:
		r.handleRemoteDescription(m.SenderID, m.Description, m.Candidates)
	case *protocol.Answer:
		r.handleRemoteDescription(m.SenderID, m.Description, m.Candidates)
	case *protocol.IceCandidates:
		link, ok := r.links[m.SenderID]
		if !ok {
			r.log.Warn("dropping ice candidates", "error", ErrOrphanIceCandidates, "peer", m.SenderID)
			return
		}
		link.AddRemoteICECandidates(m.Candidates)
	case *protocol.RoomAssigned:
		r.handleRoomAssigned(m)
	case *protocol.RoomUserJoined:
		r.handleUserJoined(m.PeerIDs)
	case *protocol.RoomUserLeft:
		// The link to a departed peer is kept; only occupancy shrinks.
		for _, id := range m.PeerIDs {
			r.room.RemovePeer(id)
		}
	case *protocol.RoomCustomMessage:
		if r.opts.ApplicationMessage != nil {
			r.opts.ApplicationMessage(m.Sender, m.Data)
		}
	default:
		r.log.Warn("unhandled relay message", "channel", msg.Channel().String(), "kind", msg.Kind().String())
	}
}

func (r *Renderer) handleRemoteDescription(peerID string, desc rtc.SessionDescription, candidates []rtc.ICECandidate) {
	link := r.linkFor(peerID)
	if err := link.HandleOfferOrAnswer(desc, candidates, r.media); err != nil {
		r.log.Error("remote description handling failed", "peer", peerID, "error", err)
	}
}

// handleUserJoined records new occupants and opens negotiation toward each
// of them; the renderer is always the offer initiator.
func (r *Renderer) handleUserJoined(peerIDs []string) {
	for _, id := range peerIDs {
		if !r.room.AddPeer(id) {
			continue
		}
		link := r.linkFor(id)
		if err := link.StartNegotiation(r.media); err != nil {
			r.log.Error("offer negotiation failed to start", "peer", id, "error", err)
		}
	}
}

func (r *Renderer) linkFor(peerID string) *rtc.PeerLink {
	if link, ok := r.links[peerID]; ok {
		return link
	}
	link := rtc.NewPeerLink(peerID, r.engines, r.post, rtc.LinkEvents{
		LocalDataResolved: r.sendResolved,
		DataMessage:       r.onDataMessage,
	}, r.log)
	r.links[peerID] = link
	return link
}

// onDataMessage routes data-channel payloads: keyboard and mouse shapes go
// to the input consumer, the rest to the application consumer.
func (r *Renderer) onDataMessage(link *rtc.PeerLink, raw []byte) {
	payload, err := decodePeerPayload(raw)
	if err != nil {
		r.log.Warn("dropping data channel message", "peer", link.PeerID(), "error", err)
		return
	}
	kind, _ := payload["type"].(string)
	switch kind {
	case payloadTypeKeyboard, payloadTypeMouse:
		if r.opts.InputEvent != nil {
			r.opts.InputEvent(link.PeerID(), kind, payload)
		}
	default:
		if r.opts.ApplicationMessage != nil {
			r.opts.ApplicationMessage(link.PeerID(), payload)
		}
	}
}
