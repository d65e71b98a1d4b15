package relay

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/realxtend/cloudrender/internal/protocol"
)

// rendererPeerID is the reserved address of a room's renderer; clients
// reach it by sending with an empty or reserved receiver id.
const rendererPeerID = protocol.ReceiverRenderer

// Hub owns every live room and connected peer. All room and peer mutation
// happens under one mutex; message fan-out only copies channel handles out
// of the critical section.
type Hub struct {
	log      *slog.Logger
	store    *Store
	maxPeers int

	mu         sync.Mutex
	rooms      map[string]*room
	codes      map[string]string
	unclaimed  []string
	nextPeerID int
}

// room is a live room: one renderer, its clients keyed by peer id, and the
// renderer's announced availability.
type room struct {
	meta          RoomMetadata
	renderer      *peer
	rendererState protocol.RendererState
	clients       map[string]*peer
}

// peer is one websocket occupant. id and registrant are set by Register.
type peer struct {
	id         string
	registrant protocol.Registrant
	room       *room
	send       chan []byte
	done       chan struct{}
	// close forces the underlying connection shut; nil in tests.
	close func()
}

// NewHub builds an empty hub. maxPeers caps clients per room when a
// provisioned room does not carry its own limit.
func NewHub(store *Store, maxPeers int, log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		store:    store,
		maxPeers: maxPeers,
		rooms:    make(map[string]*room),
		codes:    make(map[string]string),
	}
}

func newPeer() *peer {
	return &peer{
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// deliver queues raw for the peer's write pump, dropping on backpressure.
func (p *peer) deliver(h *Hub, raw []byte) {
	select {
	case p.send <- raw:
	default:
		h.log.Warn("peer send buffer full, dropping message", "peer", p.id)
	}
}

func (p *peer) deliverMessage(h *Hub, msg protocol.Message) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error("encoding relay message failed", "kind", msg.Kind().String(), "error", err)
		return
	}
	p.deliver(h, raw)
}

// provisionRoom registers an operator-created room awaiting a renderer.
func (h *Hub) provisionRoom(meta RoomMetadata) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[meta.ID] = &room{meta: meta, clients: make(map[string]*peer)}
	h.codes[meta.Code] = meta.ID
	h.unclaimed = append(h.unclaimed, meta.ID)
}

// lookupRoom resolves a room by id or shareable code. Caller holds h.mu.
func (h *Hub) lookupRoom(identifier string) (*room, bool) {
	if id, ok := h.codes[identifier]; ok {
		identifier = id
	}
	rm, ok := h.rooms[identifier]
	return rm, ok
}

func (h *Hub) roomStatus(identifier string) (roomStatusResponse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.lookupRoom(identifier)
	if !ok {
		return roomStatusResponse{}, false
	}
	return roomStatusResponse{
		RoomMetadata:  rm.meta,
		PeerCount:     len(rm.clients),
		RendererState: rm.rendererState.String(),
	}, true
}

type deleteRoomResult int

const (
	deleteRoomOK deleteRoomResult = iota
	deleteRoomNotFound
	deleteRoomForbidden
)

func (h *Hub) deleteRoom(identifier, userID string) deleteRoomResult {
	h.mu.Lock()
	rm, ok := h.lookupRoom(identifier)
	if !ok {
		h.mu.Unlock()
		return deleteRoomNotFound
	}
	if rm.meta.CreatorID != "" && rm.meta.CreatorID != userID {
		h.mu.Unlock()
		return deleteRoomForbidden
	}
	occupants := rm.occupants()
	h.removeRoomLocked(rm)
	h.mu.Unlock()

	for _, p := range occupants {
		p.closeConn()
	}
	h.store.DeleteRoom(rm.meta)
	h.log.Info("room deleted", "room", rm.meta.ID, "operator", userID)
	return deleteRoomOK
}

// Register processes a peer's Registration, assigning it to a room. The
// peer learns the outcome through a RoomAssigned reply either way.
func (h *Hub) Register(p *peer, reg *protocol.Registration) {
	switch reg.Registrant {
	case protocol.RegistrantRenderer:
		h.registerRenderer(p, reg)
	case protocol.RegistrantClient:
		h.registerClient(p, reg)
	}
}

func (h *Hub) registerRenderer(p *peer, reg *protocol.Registration) {
	h.mu.Lock()
	p.registrant = protocol.RegistrantRenderer
	p.id = rendererPeerID

	rm := h.claimUnclaimedLocked()
	if rm == nil {
		meta := RoomMetadata{
			ID:        uuid.New().String(),
			Code:      generateRoomCode(),
			CreatedAt: time.Now(),
			MaxPeers:  h.maxPeers,
			Private:   reg.CreatePrivateRoom,
		}
		rm = &room{meta: meta, clients: make(map[string]*peer)}
		h.rooms[meta.ID] = rm
		h.codes[meta.Code] = meta.ID
	}
	rm.renderer = p
	rm.rendererState = protocol.RendererOnline
	p.room = rm
	meta := rm.meta
	h.mu.Unlock()

	h.store.SaveRoom(meta)
	h.store.AddPeer(meta.ID, rendererPeerID)
	h.log.Info("renderer registered", "room", meta.ID, "private", meta.Private)

	assigned := protocol.New(protocol.KindRoomAssigned).(*protocol.RoomAssigned)
	assigned.RoomID = meta.ID
	// Renderers have a reserved address instead of an allocated peer id.
	assigned.PeerID = ""
	p.deliverMessage(h, assigned)
}

// claimUnclaimedLocked hands the oldest renderer-less provisioned room to
// a registering renderer.
func (h *Hub) claimUnclaimedLocked() *room {
	for len(h.unclaimed) > 0 {
		id := h.unclaimed[0]
		h.unclaimed = h.unclaimed[1:]
		if rm, ok := h.rooms[id]; ok && rm.renderer == nil {
			return rm
		}
	}
	return nil
}

func (h *Hub) registerClient(p *peer, reg *protocol.Registration) {
	h.mu.Lock()
	p.registrant = protocol.RegistrantClient

	var rm *room
	if reg.RoomID != "" {
		found, ok := h.lookupRoom(reg.RoomID)
		if !ok {
			h.mu.Unlock()
			h.replyRoomError(p, protocol.RoomDoesNotExist)
			return
		}
		rm = found
	} else {
		rm = h.pickAvailableRoomLocked()
		if rm == nil {
			h.mu.Unlock()
			h.replyRoomError(p, protocol.RoomServiceError)
			return
		}
	}

	if rm.renderer == nil {
		h.mu.Unlock()
		h.replyRoomError(p, protocol.RoomServiceError)
		return
	}
	if rm.full() {
		h.mu.Unlock()
		h.replyRoomError(p, protocol.RoomFull)
		return
	}

	h.nextPeerID++
	p.id = strconv.Itoa(h.nextPeerID)
	p.room = rm
	rm.clients[p.id] = p

	allClients := make([]string, 0, len(rm.clients))
	for id := range rm.clients {
		allClients = append(allClients, id)
	}
	others := rm.occupantsExcept(p)
	meta := rm.meta
	h.mu.Unlock()

	h.store.AddPeer(meta.ID, p.id)
	h.log.Info("client registered", "room", meta.ID, "peer", p.id)

	assigned := protocol.New(protocol.KindRoomAssigned).(*protocol.RoomAssigned)
	assigned.RoomID = meta.ID
	assigned.PeerID = p.id
	p.deliverMessage(h, assigned)

	// The newcomer learns the full occupancy, itself included; everyone
	// already present learns only the newcomer.
	joined := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	joined.PeerIDs = allClients
	p.deliverMessage(h, joined)

	notice := protocol.New(protocol.KindRoomUserJoined).(*protocol.RoomUserJoined)
	notice.PeerIDs = []string{p.id}
	for _, other := range others {
		other.deliverMessage(h, notice)
	}
}

// pickAvailableRoomLocked finds a public room with an online renderer and
// space for one more client.
func (h *Hub) pickAvailableRoomLocked() *room {
	for _, rm := range h.rooms {
		if rm.renderer == nil || rm.meta.Private || rm.full() {
			continue
		}
		if rm.rendererState != protocol.RendererOnline {
			continue
		}
		return rm
	}
	return nil
}

func (h *Hub) replyRoomError(p *peer, code protocol.RoomError) {
	h.log.Warn("room assignment rejected", "code", code.String())
	assigned := protocol.New(protocol.KindRoomAssigned).(*protocol.RoomAssigned)
	assigned.Error = code
	p.deliverMessage(h, assigned)
}

func (r *room) full() bool {
	if r.rendererState == protocol.RendererFull {
		return true
	}
	return r.meta.MaxPeers > 0 && len(r.clients) >= r.meta.MaxPeers
}

// occupants returns every connected peer, renderer included. Caller holds
// the hub mutex.
func (r *room) occupants() []*peer {
	out := make([]*peer, 0, len(r.clients)+1)
	if r.renderer != nil {
		out = append(out, r.renderer)
	}
	for _, p := range r.clients {
		out = append(out, p)
	}
	return out
}

func (r *room) occupantsExcept(skip *peer) []*peer {
	all := r.occupants()
	out := all[:0]
	for _, p := range all {
		if p != skip {
			out = append(out, p)
		}
	}
	return out
}

func (p *peer) closeConn() {
	if p.close != nil {
		p.close()
	}
}

// HandleEnvelope routes one post-registration envelope from a peer.
// Signaling and application traffic is forwarded with the sender injected;
// state traffic is interpreted by the hub itself.
func (h *Hub) HandleEnvelope(p *peer, envelope protocol.Document) {
	channel, kind, data := protocol.PeekEnvelope(envelope)
	if kind == protocol.KindInvalid {
		h.log.Warn("dropping unroutable envelope", "peer", p.id)
		return
	}
	if data == nil {
		data = protocol.Document{}
	}

	switch kind {
	case protocol.KindOffer, protocol.KindAnswer, protocol.KindIceCandidates:
		h.forwardSignaling(p, kind, data)
	case protocol.KindRendererStateChange:
		h.handleStateChange(p, data)
	case protocol.KindRoomCustomMessage:
		h.forwardRoomMessage(p, data)
	case protocol.KindRegistration:
		h.log.Warn("dropping repeated registration", "peer", p.id)
	default:
		h.log.Warn("dropping unexpected message", "peer", p.id, "channel", channel.String(), "kind", kind.String())
	}
}

// forwardSignaling stamps the sender and delivers to the addressed peer.
// An empty or reserved receiver id addresses the room's renderer.
func (h *Hub) forwardSignaling(p *peer, kind protocol.Kind, data protocol.Document) {
	data["senderId"] = p.id

	receiverID, _ := data["receiverId"].(string)
	h.mu.Lock()
	target := h.resolveTargetLocked(p, receiverID)
	h.mu.Unlock()
	if target == nil {
		h.log.Warn("dropping signaling for unknown receiver", "peer", p.id, "receiver", receiverID, "kind", kind.String())
		return
	}

	raw, err := json.Marshal(protocol.Envelope(kind, data))
	if err != nil {
		h.log.Error("re-encoding signaling failed", "error", err)
		return
	}
	target.deliver(h, raw)
}

// resolveTargetLocked maps a receiver id to a live peer in the sender's
// room.
func (h *Hub) resolveTargetLocked(p *peer, receiverID string) *peer {
	rm := p.room
	if rm == nil {
		return nil
	}
	if receiverID == "" || receiverID == rendererPeerID {
		return rm.renderer
	}
	return rm.clients[receiverID]
}

func (h *Hub) handleStateChange(p *peer, data protocol.Document) {
	if p.registrant != protocol.RegistrantRenderer || p.room == nil {
		h.log.Warn("dropping renderer state change from non-renderer", "peer", p.id)
		return
	}
	msg, err := protocol.DecodeDocument(protocol.Envelope(protocol.KindRendererStateChange, data))
	if err != nil {
		h.log.Warn("dropping malformed renderer state change", "error", err)
		return
	}
	state := msg.(*protocol.RendererStateChange).State

	h.mu.Lock()
	p.room.rendererState = state
	h.mu.Unlock()
	h.log.Info("renderer state recorded", "room", p.room.meta.ID, "state", state.String())
}

// forwardRoomMessage stamps the sender and fans the payload out to the
// named receivers; an empty receiver list means every other occupant plus
// the renderer.
func (h *Hub) forwardRoomMessage(p *peer, data protocol.Document) {
	data["sender"] = p.id

	receivers := receiverList(data)
	h.mu.Lock()
	rm := p.room
	if rm == nil {
		h.mu.Unlock()
		return
	}
	var targets []*peer
	if len(receivers) == 0 {
		targets = rm.occupantsExcept(p)
	} else {
		for _, id := range receivers {
			if id == protocol.ReceiverService {
				// Addressed to the relay itself; nothing consumes these yet.
				h.log.Info("room message addressed to service", "peer", p.id)
				continue
			}
			if target := h.resolveTargetLocked(p, id); target != nil {
				targets = append(targets, target)
			}
		}
	}
	h.mu.Unlock()

	raw, err := json.Marshal(protocol.Envelope(protocol.KindRoomCustomMessage, data))
	if err != nil {
		h.log.Error("re-encoding room message failed", "error", err)
		return
	}
	for _, target := range targets {
		target.deliver(h, raw)
	}
}

func receiverList(data protocol.Document) []string {
	list, _ := data["receivers"].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case float64:
			out = append(out, strconv.FormatInt(int64(s), 10))
		}
	}
	return out
}

// Remove drops a departed peer. A departing client is announced to the
// rest of the room; a departing renderer tears the whole room down.
func (h *Hub) Remove(p *peer) {
	h.mu.Lock()
	rm := p.room
	if rm == nil {
		h.mu.Unlock()
		return
	}
	p.room = nil

	if p.registrant == protocol.RegistrantRenderer {
		occupants := rm.occupantsExcept(p)
		h.removeRoomLocked(rm)
		h.mu.Unlock()

		for _, c := range occupants {
			c.closeConn()
		}
		h.store.DeleteRoom(rm.meta)
		h.log.Info("renderer left, room closed", "room", rm.meta.ID)
		return
	}

	delete(rm.clients, p.id)
	remaining := rm.occupants()
	h.mu.Unlock()

	h.store.RemovePeer(rm.meta.ID, p.id)
	h.log.Info("client left", "room", rm.meta.ID, "peer", p.id)

	left := protocol.New(protocol.KindRoomUserLeft).(*protocol.RoomUserLeft)
	left.PeerIDs = []string{p.id}
	for _, other := range remaining {
		other.deliverMessage(h, left)
	}
}

// removeRoomLocked unlinks a room from the registries. Caller holds h.mu.
func (h *Hub) removeRoomLocked(rm *room) {
	delete(h.rooms, rm.meta.ID)
	delete(h.codes, rm.meta.Code)
}
