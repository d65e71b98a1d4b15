package session

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/realxtend/cloudrender/internal/protocol"
	"github.com/realxtend/cloudrender/internal/rtc"
)

// fakeTransport records outbound messages and lets tests inject inbound
// ones through the real queue/notify path.
type fakeTransport struct {
	events TransportEvents

	connects    []string
	disconnects int
	sent        []protocol.Message
	queue       []protocol.Message
}

func (f *fakeTransport) Connect(host string) { f.connects = append(f.connects, host) }
func (f *fakeTransport) Disconnect()         { f.disconnects++ }

func (f *fakeTransport) Send(msg protocol.Message) error {
	// Outbound messages must survive the real codec.
	if _, err := protocol.Encode(msg); err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) PendingMessages() []protocol.Message {
	batch := f.queue
	f.queue = nil
	return batch
}

func (f *fakeTransport) deliver(msgs ...protocol.Message) {
	f.queue = append(f.queue, msgs...)
	f.events.MessagesReady()
}

// fakeSessionEngine is a minimal engine the orchestrator tests drive by
// hand.
type fakeSessionEngine struct {
	events  rtc.EngineEvents
	offers  int
	answers int
	remotes []rtc.SessionDescription
	added   []rtc.ICECandidate
	sent    [][]byte
	closed  int
}

func (f *fakeSessionEngine) Initialize(_ rtc.MediaSettings, events rtc.EngineEvents) error {
	f.events = events
	return nil
}
func (f *fakeSessionEngine) CreateOffer() error  { f.offers++; return nil }
func (f *fakeSessionEngine) CreateAnswer() error { f.answers++; return nil }
func (f *fakeSessionEngine) SetRemoteDescription(desc rtc.SessionDescription) error {
	f.remotes = append(f.remotes, desc)
	return nil
}
func (f *fakeSessionEngine) AddICECandidate(c rtc.ICECandidate) error {
	f.added = append(f.added, c)
	return nil
}
func (f *fakeSessionEngine) SendData(p []byte) error { f.sent = append(f.sent, p); return nil }
func (f *fakeSessionEngine) Close() error            { f.closed++; return nil }

type engineBank struct {
	engines []*fakeSessionEngine
}

func (b *engineBank) factory() rtc.Engine {
	e := &fakeSessionEngine{}
	b.engines = append(b.engines, e)
	return e
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain runs queued session-loop work until the queue is empty, standing
// in for the Run goroutine.
func drain(c *core) {
	for {
		select {
		case f := <-c.loop:
			f()
		default:
			return
		}
	}
}

func newTestRenderer(t *testing.T, opts RendererOptions) (*Renderer, *fakeTransport, *engineBank) {
	t.Helper()
	transport := &fakeTransport{}
	bank := &engineBank{}
	r := NewRenderer(func(events TransportEvents, _ *slog.Logger) Transport {
		transport.events = events
		return transport
	}, bank.factory, opts, testLogger())
	return r, transport, bank
}

func newTestClient(t *testing.T, opts ClientOptions) (*Client, *fakeTransport, *engineBank) {
	t.Helper()
	transport := &fakeTransport{}
	bank := &engineBank{}
	c := NewClient(func(events TransportEvents, _ *slog.Logger) Transport {
		transport.events = events
		return transport
	}, bank.factory, opts, testLogger())
	return c, transport, bank
}

func TestRendererRegistersOnConnect(t *testing.T) {
	r, transport, _ := newTestRenderer(t, RendererOptions{CreatePrivateRoom: true})
	r.room.AddPeer("stale")

	transport.events.Connected()
	drain(&r.core)

	if len(transport.sent) != 1 {
		t.Fatalf("sent = %v", transport.sent)
	}
	reg, ok := transport.sent[0].(*protocol.Registration)
	if !ok || reg.Registrant != protocol.RegistrantRenderer || !reg.CreatePrivateRoom {
		t.Errorf("registration = %+v", transport.sent[0])
	}
	if len(r.room.Peers()) != 0 {
		t.Error("room must reset on connect")
	}
}

func TestRendererOffersToJoinedPeer(t *testing.T) {
	r, transport, bank := newTestRenderer(t, RendererOptions{})

	joined := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	joined.PeerIDs = []string{"p1"}
	transport.deliver(joined)
	drain(&r.core)

	if len(bank.engines) != 1 {
		t.Fatalf("engines created = %d", len(bank.engines))
	}
	if bank.engines[0].offers != 1 {
		t.Errorf("offers = %d", bank.engines[0].offers)
	}
	if !r.room.HasPeer("p1") {
		t.Error("p1 not recorded in room")
	}

	// A duplicate join must not renegotiate.
	transport.deliver(joined)
	drain(&r.core)
	if len(bank.engines) != 1 || bank.engines[0].offers != 1 {
		t.Errorf("duplicate join caused engines=%d offers=%d", len(bank.engines), bank.engines[0].offers)
	}
}

func TestRendererSendsResolvedOffer(t *testing.T) {
	r, transport, bank := newTestRenderer(t, RendererOptions{})

	joined := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	joined.PeerIDs = []string{"p1"}
	transport.deliver(joined)
	drain(&r.core)

	engine := bank.engines[0]
	engine.events.LocalDescription(rtc.SessionDescription{Type: rtc.SDPTypeOffer, SDP: "v=0"})
	engine.events.LocalICECandidate(rtc.ICECandidate{SDPMid: "0", Candidate: "candidate:a"})
	engine.events.ICEGatheringComplete()
	drain(&r.core)

	if len(transport.sent) != 1 {
		t.Fatalf("sent = %v", transport.sent)
	}
	offer, ok := transport.sent[0].(*protocol.Offer)
	if !ok {
		t.Fatalf("sent %T", transport.sent[0])
	}
	if offer.ReceiverID != "p1" || offer.Description.SDP != "v=0" || len(offer.Candidates) != 1 {
		t.Errorf("offer = %+v", offer)
	}
}

func TestRendererAnswersInboundOffer(t *testing.T) {
	r, transport, bank := newTestRenderer(t, RendererOptions{})

	offer := protocol.New(protocol.KindOffer).(*protocol.Offer)
	offer.SenderID = "3"
	offer.Description = rtc.SessionDescription{Type: rtc.SDPTypeOffer, SDP: "v=0"}
	transport.deliver(offer)
	drain(&r.core)

	if len(bank.engines) != 1 {
		t.Fatalf("engines = %d", len(bank.engines))
	}
	engine := bank.engines[0]
	if engine.answers != 1 || len(engine.remotes) != 1 {
		t.Errorf("answers=%d remotes=%v", engine.answers, engine.remotes)
	}

	engine.events.LocalDescription(rtc.SessionDescription{Type: rtc.SDPTypeAnswer, SDP: "v=0a"})
	engine.events.ICEGatheringComplete()
	drain(&r.core)

	answer, ok := transport.sent[len(transport.sent)-1].(*protocol.Answer)
	if !ok {
		t.Fatalf("sent %T", transport.sent[len(transport.sent)-1])
	}
	if answer.ReceiverID != "3" {
		t.Errorf("receiver = %q", answer.ReceiverID)
	}
}

func TestRendererDropsOrphanIceCandidates(t *testing.T) {
	r, transport, bank := newTestRenderer(t, RendererOptions{})

	ice := protocol.New(protocol.KindIceCandidates).(*protocol.IceCandidates)
	ice.SenderID = "ghost"
	ice.Candidates = []rtc.ICECandidate{{SDPMid: "0", Candidate: "candidate:x"}}
	transport.deliver(ice)
	drain(&r.core)

	if len(bank.engines) != 0 {
		t.Error("orphan candidates must not create a link")
	}
	if len(r.links) != 0 {
		t.Errorf("links = %d", len(r.links))
	}
}

func TestRendererKeepsLinkOnUserLeft(t *testing.T) {
	r, transport, _ := newTestRenderer(t, RendererOptions{})

	joined := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	joined.PeerIDs = []string{"p1"}
	left := protocol.New(protocol.KindRoomUserLeft).(*protocol.RoomUserLeft)
	left.PeerIDs = []string{"p1"}
	transport.deliver(joined, left)
	drain(&r.core)

	if r.room.HasPeer("p1") {
		t.Error("p1 should have left the room")
	}
	if _, ok := r.links["p1"]; !ok {
		t.Error("link to departed peer is kept")
	}
}

func TestRendererRoutesInputPayloads(t *testing.T) {
	var inputs, apps []string
	r, transport, bank := newTestRenderer(t, RendererOptions{
		InputEvent: func(peerID, kind string, _ protocol.Document) {
			inputs = append(inputs, peerID+"/"+kind)
		},
		ApplicationMessage: func(peerID string, payload protocol.Document) {
			apps = append(apps, peerID)
		},
	})

	joined := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	joined.PeerIDs = []string{"p1"}
	transport.deliver(joined)
	drain(&r.core)

	frame := func(doc protocol.Document) []byte {
		m := protocol.New(protocol.KindPeerCustomMessage).(*protocol.PeerCustomMessage)
		m.Data = doc
		raw, err := protocol.Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}

	engine := bank.engines[0]
	engine.events.DataMessage(frame(protocol.Document{"type": "keyboard", "key": "w"}))
	engine.events.DataMessage(frame(protocol.Document{"type": "mouse", "x": 1.0}))
	engine.events.DataMessage(frame(protocol.Document{"type": "chat", "text": "hi"}))
	drain(&r.core)

	if !reflect.DeepEqual(inputs, []string{"p1/keyboard", "p1/mouse"}) {
		t.Errorf("inputs = %v", inputs)
	}
	if !reflect.DeepEqual(apps, []string{"p1"}) {
		t.Errorf("apps = %v", apps)
	}
}

func TestRendererAnnounceState(t *testing.T) {
	r, transport, _ := newTestRenderer(t, RendererOptions{})
	r.AnnounceState(protocol.RendererFull)
	drain(&r.core)

	if len(transport.sent) != 1 {
		t.Fatalf("sent = %v", transport.sent)
	}
	change, ok := transport.sent[0].(*protocol.RendererStateChange)
	if !ok || change.State != protocol.RendererFull {
		t.Errorf("sent %+v", transport.sent[0])
	}
}

func TestClientEndToEndJoin(t *testing.T) {
	c, transport, _ := newTestClient(t, ClientOptions{RoomID: "R1"})

	transport.events.Connected()
	drain(&c.core)

	if len(transport.sent) != 1 {
		t.Fatalf("sent = %v", transport.sent)
	}
	reg, ok := transport.sent[0].(*protocol.Registration)
	if !ok || reg.Registrant != protocol.RegistrantClient || reg.RoomID != "R1" {
		t.Fatalf("registration = %+v", transport.sent[0])
	}

	assigned := protocol.New(protocol.KindRoomAssigned).(*protocol.RoomAssigned)
	assigned.RoomID = "R1"
	assigned.PeerID = "5"
	transport.deliver(assigned)
	drain(&c.core)

	if c.room.ID() != "R1" || c.peerID != "5" {
		t.Errorf("room=%q peer=%q", c.room.ID(), c.peerID)
	}

	joined := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	joined.PeerIDs = []string{"5"}
	transport.deliver(joined)
	drain(&c.core)

	if !reflect.DeepEqual(c.room.Peers(), []string{"5"}) {
		t.Errorf("peers = %v", c.room.Peers())
	}
}

func TestClientRoomErrorLeavesRoomUnassigned(t *testing.T) {
	c, transport, _ := newTestClient(t, ClientOptions{RoomID: "nope"})

	assigned := protocol.New(protocol.KindRoomAssigned).(*protocol.RoomAssigned)
	assigned.Error = protocol.RoomDoesNotExist
	transport.deliver(assigned)
	drain(&c.core)

	if c.room.ID() != "" {
		t.Errorf("room = %q", c.room.ID())
	}
}

func TestClientAnswersRendererOffer(t *testing.T) {
	c, transport, bank := newTestClient(t, ClientOptions{})

	offer := protocol.New(protocol.KindOffer).(*protocol.Offer)
	offer.SenderID = "renderer"
	offer.Description = rtc.SessionDescription{Type: rtc.SDPTypeOffer, SDP: "v=0"}
	transport.deliver(offer)
	drain(&c.core)

	if len(bank.engines) != 1 || bank.engines[0].answers != 1 {
		t.Fatalf("engines=%d", len(bank.engines))
	}

	engine := bank.engines[0]
	engine.events.LocalDescription(rtc.SessionDescription{Type: rtc.SDPTypeAnswer, SDP: "v=0a"})
	engine.events.ICEGatheringComplete()
	drain(&c.core)

	answer, ok := transport.sent[len(transport.sent)-1].(*protocol.Answer)
	if !ok {
		t.Fatalf("sent %T", transport.sent[len(transport.sent)-1])
	}
	if answer.ReceiverID != "" {
		t.Errorf("client answer must address the renderer implicitly, got %q", answer.ReceiverID)
	}
}

func TestClientDropsIceCandidatesBeforeOffer(t *testing.T) {
	c, transport, bank := newTestClient(t, ClientOptions{})

	ice := protocol.New(protocol.KindIceCandidates).(*protocol.IceCandidates)
	ice.SenderID = "renderer"
	ice.Candidates = []rtc.ICECandidate{{SDPMid: "0", Candidate: "candidate:x"}}
	transport.deliver(ice)
	drain(&c.core)

	if len(bank.engines) != 0 {
		t.Error("candidates before the offer must not create a link")
	}
}

func TestRoomResetsOnDisconnectAndConnectFailure(t *testing.T) {
	c, transport, _ := newTestClient(t, ClientOptions{})
	c.room.id = "R1"
	c.room.AddPeer("5")

	transport.events.Disconnected()
	drain(&c.core)
	if c.room.ID() != "" || len(c.room.Peers()) != 0 {
		t.Error("room must reset on disconnect")
	}

	c.room.id = "R1"
	transport.events.ConnectFailed(errors.New("refused"))
	drain(&c.core)
	if c.room.ID() != "" {
		t.Error("room must reset on connect failure")
	}
}
