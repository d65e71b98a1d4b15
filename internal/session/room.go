// Package session holds the peer-side runtime: the room occupancy model,
// the websocket transport to the relay, and the renderer and client session
// orchestrators that tie the protocol to per-peer negotiation links.
package session

import "slices"

// Room tracks the relay-assigned room and the peers known to be in it.
// Peer order follows arrival order. Not safe for concurrent use; owned by
// the session goroutine.
type Room struct {
	id    string
	peers []string
}

// ID returns the relay-assigned room id, empty when unassigned.
func (r *Room) ID() string { return r.id }

// Peers returns the room occupancy in arrival order. The returned slice is
// the room's own; callers must not retain or mutate it.
func (r *Room) Peers() []string { return r.peers }

// HasPeer reports whether the peer is known to the room.
func (r *Room) HasPeer(peerID string) bool {
	return slices.Contains(r.peers, peerID)
}

// AddPeer records a peer joining. Returns false without modification when
// the peer is already present.
func (r *Room) AddPeer(peerID string) bool {
	if r.HasPeer(peerID) {
		return false
	}
	r.peers = append(r.peers, peerID)
	return true
}

// RemovePeer records a peer leaving. Returns false when the peer was not
// present.
func (r *Room) RemovePeer(peerID string) bool {
	i := slices.Index(r.peers, peerID)
	if i < 0 {
		return false
	}
	r.peers = slices.Delete(r.peers, i, i+1)
	return true
}

// Reset clears the assignment and all occupancy. There is deliberately no
// setter for the id: assignment happens only inside the orchestrators'
// RoomAssigned handling.
func (r *Room) Reset() {
	r.id = ""
	r.peers = nil
}
