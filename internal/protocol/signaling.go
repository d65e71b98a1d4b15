package protocol

import (
	"errors"

	"github.com/realxtend/cloudrender/internal/rtc"
)

// sdpExchange is the shared body of Offer and Answer: an addressed session
// description with optional piggybacked ICE candidates.
//
// Direction matters for the sender id. Outbound messages never carry
// senderId; the relay stamps it before forwarding, so a locally set value
// would be overwritten anyway. Inbound messages must carry it.
type sdpExchange struct {
	base

	SenderID    string
	ReceiverID  string
	Description rtc.SessionDescription
	Candidates  []rtc.ICECandidate
}

func (m *sdpExchange) deserialize(data Document) error {
	m.SenderID = stringField(data, "senderId")
	if m.SenderID == "" {
		return errors.New("missing senderId")
	}
	desc, ok := rtc.SessionDescriptionFromDocument(documentField(data, "sdp"))
	if !ok {
		return errors.New("missing or incomplete sdp")
	}
	m.Description = desc
	m.ReceiverID = stringField(data, "receiverId")
	m.Candidates = rtc.ICECandidatesFromList(listField(data, "iceCandidates"))
	return nil
}

func (m *sdpExchange) serialize() Document {
	data := Document{
		"receiverId": m.ReceiverID,
		"sdp":        m.Description.Document(),
	}
	if len(m.Candidates) > 0 {
		data["iceCandidates"] = rtc.ICECandidatesToList(m.Candidates)
	}
	return data
}

func (m *sdpExchange) validForSerialization() error {
	if m.Description.IsZero() {
		return errors.New("empty session description")
	}
	return nil
}

// Offer carries a session description that opens negotiation with a peer.
// An empty receiver id addresses the room's renderer.
type Offer struct {
	sdpExchange
}

// Answer carries the responding session description for a received offer.
type Answer struct {
	sdpExchange
}

// IceCandidates carries trickled connectivity candidates between two peers.
type IceCandidates struct {
	base

	SenderID   string
	ReceiverID string
	Candidates []rtc.ICECandidate
}

func (m *IceCandidates) deserialize(data Document) error {
	m.SenderID = stringField(data, "senderId")
	if m.SenderID == "" {
		return errors.New("missing senderId")
	}
	m.Candidates = rtc.ICECandidatesFromList(listField(data, "iceCandidates"))
	if len(m.Candidates) == 0 {
		return errors.New("no valid ice candidates")
	}
	m.ReceiverID = stringField(data, "receiverId")
	return nil
}

func (m *IceCandidates) serialize() Document {
	data := Document{
		"receiverId":    m.ReceiverID,
		"iceCandidates": rtc.ICECandidatesToList(m.Candidates),
	}
	if m.SenderID != "" {
		data["senderId"] = m.SenderID
	}
	return data
}

func (m *IceCandidates) validForSerialization() error {
	if len(m.Candidates) == 0 {
		return errors.New("no ice candidates")
	}
	return nil
}
