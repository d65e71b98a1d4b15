package relay

import (
	"io"
	"log/slog"
	"testing"

	"github.com/realxtend/cloudrender/internal/protocol"
)

func newTestHub(maxPeers int) *Hub {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(NewStore(nil, log), maxPeers, log)
}

// drainPeer decodes everything queued for a fake peer.
func drainPeer(t *testing.T, p *peer) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for {
		select {
		case raw := <-p.send:
			msg, err := protocol.Decode(raw)
			if err != nil {
				t.Fatalf("undecodable hub message: %v\n%s", err, raw)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func registerRenderer(t *testing.T, h *Hub, private bool) (*peer, string) {
	t.Helper()
	p := newPeer()
	reg := protocol.New(protocol.KindRegistration).(*protocol.Registration)
	reg.Registrant = protocol.RegistrantRenderer
	reg.CreatePrivateRoom = private
	h.Register(p, reg)

	msgs := drainPeer(t, p)
	if len(msgs) != 1 {
		t.Fatalf("renderer got %d messages", len(msgs))
	}
	assigned, ok := msgs[0].(*protocol.RoomAssigned)
	if !ok || assigned.Error != protocol.RoomNoError {
		t.Fatalf("renderer assignment = %+v", msgs[0])
	}
	if assigned.PeerID != "" {
		t.Errorf("renderer peer id = %q, want empty", assigned.PeerID)
	}
	return p, assigned.RoomID
}

func registerClient(t *testing.T, h *Hub, roomID string) (*peer, *protocol.RoomAssigned) {
	t.Helper()
	p := newPeer()
	reg := protocol.New(protocol.KindRegistration).(*protocol.Registration)
	reg.Registrant = protocol.RegistrantClient
	reg.RoomID = roomID
	h.Register(p, reg)

	msgs := drainPeer(t, p)
	if len(msgs) == 0 {
		t.Fatal("client got no reply")
	}
	assigned, ok := msgs[0].(*protocol.RoomAssigned)
	if !ok {
		t.Fatalf("first reply = %T", msgs[0])
	}
	if assigned.Error != protocol.RoomNoError {
		return p, assigned
	}

	// Success always pairs the assignment with the occupancy snapshot.
	if len(msgs) != 2 {
		t.Fatalf("client got %d messages, want 2", len(msgs))
	}
	joined, ok := msgs[1].(*protocol.RoomUserJoined)
	if !ok {
		t.Fatalf("second reply = %T", msgs[1])
	}
	if !containsPeer(joined.PeerIDs, assigned.PeerID) {
		t.Errorf("occupancy %v does not include self %q", joined.PeerIDs, assigned.PeerID)
	}
	return p, assigned
}

func containsPeer(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestRendererGetsFreshRoom(t *testing.T) {
	h := newTestHub(4)
	_, roomID := registerRenderer(t, h, false)

	status, ok := h.roomStatus(roomID)
	if !ok {
		t.Fatal("room not found")
	}
	if status.RendererState != protocol.RendererOnline.String() {
		t.Errorf("renderer state = %q", status.RendererState)
	}
	if status.PeerCount != 0 {
		t.Errorf("peer count = %d", status.PeerCount)
	}
}

func TestRendererClaimsProvisionedRoom(t *testing.T) {
	h := newTestHub(4)
	meta := RoomMetadata{ID: "prov-1", Code: "AAAAAA", MaxPeers: 2}
	h.provisionRoom(meta)

	_, roomID := registerRenderer(t, h, false)
	if roomID != "prov-1" {
		t.Errorf("renderer claimed %q, want prov-1", roomID)
	}

	// A second renderer gets a fresh room.
	_, other := registerRenderer(t, h, false)
	if other == "prov-1" {
		t.Error("claimed room handed out twice")
	}
}

func TestClientJoinFlow(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)

	c1, a1 := registerClient(t, h, roomID)
	if a1.RoomID != roomID {
		t.Errorf("assigned room = %q", a1.RoomID)
	}

	// Renderer learns about the newcomer.
	msgs := drainPeer(t, renderer)
	if len(msgs) != 1 {
		t.Fatalf("renderer got %d messages", len(msgs))
	}
	joined := msgs[0].(*protocol.RoomUserJoined)
	if len(joined.PeerIDs) != 1 || joined.PeerIDs[0] != a1.PeerID {
		t.Errorf("renderer notice = %v", joined.PeerIDs)
	}

	// The second client's snapshot holds both clients.
	_, a2 := registerClient(t, h, roomID)
	if status, _ := h.roomStatus(roomID); status.PeerCount != 2 {
		t.Errorf("peer count = %d", status.PeerCount)
	}

	// First client hears only about the second.
	c1Msgs := drainPeer(t, c1)
	if len(c1Msgs) != 1 {
		t.Fatalf("first client got %d messages", len(c1Msgs))
	}
	notice := c1Msgs[0].(*protocol.RoomUserJoined)
	if len(notice.PeerIDs) != 1 || notice.PeerIDs[0] != a2.PeerID {
		t.Errorf("notice = %v", notice.PeerIDs)
	}
}

func TestClientJoinByCode(t *testing.T) {
	h := newTestHub(4)
	_, roomID := registerRenderer(t, h, false)

	status, _ := h.roomStatus(roomID)
	_, assigned := registerClient(t, h, status.Code)
	if assigned.RoomID != roomID {
		t.Errorf("join by code assigned %q", assigned.RoomID)
	}
}

func TestClientJoinMissingRoom(t *testing.T) {
	h := newTestHub(4)
	_, assigned := registerClient(t, h, "no-such-room")
	if assigned.Error != protocol.RoomDoesNotExist {
		t.Errorf("error = %v", assigned.Error)
	}
}

func TestClientAutoAssignSkipsPrivateRooms(t *testing.T) {
	h := newTestHub(4)
	registerRenderer(t, h, true)

	_, assigned := registerClient(t, h, "")
	if assigned.Error != protocol.RoomServiceError {
		t.Errorf("error = %v, want service error with only private rooms up", assigned.Error)
	}

	_, publicRoom := registerRenderer(t, h, false)
	_, assigned = registerClient(t, h, "")
	if assigned.Error != protocol.RoomNoError || assigned.RoomID != publicRoom {
		t.Errorf("assigned = %+v", assigned)
	}
}

func TestRoomFull(t *testing.T) {
	h := newTestHub(1)
	_, roomID := registerRenderer(t, h, false)

	registerClient(t, h, roomID)
	_, assigned := registerClient(t, h, roomID)
	if assigned.Error != protocol.RoomFull {
		t.Errorf("error = %v", assigned.Error)
	}
}

func TestFullRendererBlocksJoins(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)

	h.HandleEnvelope(renderer, protocol.Envelope(protocol.KindRendererStateChange,
		protocol.Document{"state": float64(protocol.RendererFull)}))

	_, assigned := registerClient(t, h, roomID)
	if assigned.Error != protocol.RoomFull {
		t.Errorf("error = %v", assigned.Error)
	}
}

func TestSignalingForwardInjectsSender(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)
	client, assigned := registerClient(t, h, roomID)
	drainPeer(t, renderer)

	// Client offer with no receiver goes to the renderer, stamped with the
	// client's id.
	h.HandleEnvelope(client, protocol.Envelope(protocol.KindOffer, protocol.Document{
		"receiverId": "",
		"sdp":        protocol.Document{"type": "offer", "sdp": "v=0"},
	}))

	msgs := drainPeer(t, renderer)
	if len(msgs) != 1 {
		t.Fatalf("renderer got %d messages", len(msgs))
	}
	offer, ok := msgs[0].(*protocol.Offer)
	if !ok {
		t.Fatalf("renderer got %T", msgs[0])
	}
	if offer.SenderID != assigned.PeerID {
		t.Errorf("senderId = %q, want %q", offer.SenderID, assigned.PeerID)
	}

	// Renderer answer addressed to the client arrives as "renderer".
	h.HandleEnvelope(renderer, protocol.Envelope(protocol.KindAnswer, protocol.Document{
		"receiverId": assigned.PeerID,
		"sdp":        protocol.Document{"type": "answer", "sdp": "v=0a"},
	}))

	answer := drainPeer(t, client)[0].(*protocol.Answer)
	if answer.SenderID != rendererPeerID {
		t.Errorf("senderId = %q", answer.SenderID)
	}
}

func TestSignalingUnknownReceiverDropped(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)
	client, _ := registerClient(t, h, roomID)
	drainPeer(t, renderer)

	h.HandleEnvelope(client, protocol.Envelope(protocol.KindOffer, protocol.Document{
		"receiverId": "404",
		"sdp":        protocol.Document{"type": "offer", "sdp": "v=0"},
	}))
	if msgs := drainPeer(t, renderer); len(msgs) != 0 {
		t.Errorf("renderer got %v", msgs)
	}
}

func TestRoomMessageBroadcast(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)
	c1, a1 := registerClient(t, h, roomID)
	c2, _ := registerClient(t, h, roomID)
	drainPeer(t, renderer)
	drainPeer(t, c1)
	drainPeer(t, c2)

	// Empty receivers: everyone but the sender, renderer included.
	h.HandleEnvelope(c1, protocol.Envelope(protocol.KindRoomCustomMessage, protocol.Document{
		"receivers": []any{},
		"payload":   protocol.Document{"event": "chat"},
	}))

	for name, p := range map[string]*peer{"renderer": renderer, "c2": c2} {
		msgs := drainPeer(t, p)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d messages", name, len(msgs))
		}
		custom := msgs[0].(*protocol.RoomCustomMessage)
		if custom.Sender != a1.PeerID {
			t.Errorf("%s saw sender %q", name, custom.Sender)
		}
	}
	if msgs := drainPeer(t, c1); len(msgs) != 0 {
		t.Errorf("sender received its own broadcast: %v", msgs)
	}
}

func TestClientLeaveBroadcastsRoomUserLeft(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)
	c1, a1 := registerClient(t, h, roomID)
	c2, _ := registerClient(t, h, roomID)
	drainPeer(t, renderer)
	drainPeer(t, c2)

	h.Remove(c1)

	for name, p := range map[string]*peer{"renderer": renderer, "c2": c2} {
		msgs := drainPeer(t, p)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d messages", name, len(msgs))
		}
		left, ok := msgs[0].(*protocol.RoomUserLeft)
		if !ok || len(left.PeerIDs) != 1 || left.PeerIDs[0] != a1.PeerID {
			t.Errorf("%s got %+v", name, msgs[0])
		}
	}
}

func TestRendererLeaveClosesRoom(t *testing.T) {
	h := newTestHub(4)
	renderer, roomID := registerRenderer(t, h, false)
	registerClient(t, h, roomID)

	h.Remove(renderer)

	if _, ok := h.roomStatus(roomID); ok {
		t.Error("room should be gone after renderer leaves")
	}
	if _, assigned := registerClient(t, h, roomID); assigned.Error != protocol.RoomDoesNotExist {
		t.Errorf("join after close = %v", assigned.Error)
	}
}

func TestDeleteRoomCreatorOnly(t *testing.T) {
	h := newTestHub(4)
	meta := RoomMetadata{ID: "prov-1", Code: "BBBBBB", CreatorID: "alice", MaxPeers: 2}
	h.provisionRoom(meta)

	if got := h.deleteRoom("prov-1", "bob"); got != deleteRoomForbidden {
		t.Errorf("delete by non-creator = %v", got)
	}
	if got := h.deleteRoom("prov-1", "alice"); got != deleteRoomOK {
		t.Errorf("delete by creator = %v", got)
	}
	if got := h.deleteRoom("prov-1", "alice"); got != deleteRoomNotFound {
		t.Errorf("double delete = %v", got)
	}
}
