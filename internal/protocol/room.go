package protocol

import (
	"errors"
	"fmt"
)

// RoomError is the outcome of a room assignment request.
type RoomError int

const (
	RoomNoError RoomError = iota
	RoomServiceError
	RoomDoesNotExist
	RoomFull
)

func (e RoomError) String() string {
	switch e {
	case RoomNoError:
		return "no error"
	case RoomServiceError:
		return "service error"
	case RoomDoesNotExist:
		return "room does not exist"
	case RoomFull:
		return "room is full"
	}
	return fmt.Sprintf("room error %d", int(e))
}

// RoomAssigned is the relay's reply to a Registration. On success it names
// the assigned room and the peer id the relay allocated for the recipient;
// the peer id may be empty for renderers, which have a reserved address.
type RoomAssigned struct {
	base

	Error  RoomError
	RoomID string
	PeerID string
}

func (m *RoomAssigned) deserialize(data Document) error {
	m.Error = RoomError(intField(data, "error", int(RoomNoError)))
	if m.Error != RoomNoError {
		m.RoomID = ""
		m.PeerID = ""
		return nil
	}
	m.RoomID = stringField(data, "roomId")
	if m.RoomID == "" {
		return errors.New("missing roomId")
	}
	if _, ok := data["peerId"]; !ok {
		return errors.New("missing peerId")
	}
	m.PeerID = stringField(data, "peerId")
	return nil
}

func (m *RoomAssigned) serialize() Document {
	data := Document{"error": int(m.Error)}
	if m.Error == RoomNoError {
		data["roomId"] = m.RoomID
		data["peerId"] = m.PeerID
	}
	return data
}

func (m *RoomAssigned) validForSerialization() error {
	if m.Error == RoomNoError && m.RoomID == "" {
		return errors.New("missing roomId")
	}
	return nil
}

// roomUserEvent is the shared body of RoomUserJoined and RoomUserLeft:
// a non-empty list of affected peer ids.
type roomUserEvent struct {
	base

	PeerIDs []string
}

func (m *roomUserEvent) deserialize(data Document) error {
	m.PeerIDs = stringListField(data, "peerIds")
	if len(m.PeerIDs) == 0 {
		return errors.New("empty peerIds")
	}
	return nil
}

func (m *roomUserEvent) serialize() Document {
	return Document{"peerIds": toAnyList(m.PeerIDs)}
}

func (m *roomUserEvent) validForSerialization() error {
	if len(m.PeerIDs) == 0 {
		return errors.New("empty peerIds")
	}
	return nil
}

// RoomUserJoined announces peers entering the room. A freshly joined peer
// receives the room's full occupancy, itself included; existing occupants
// receive only the newcomer.
type RoomUserJoined struct {
	roomUserEvent
}

// RoomUserLeft announces peers leaving the room.
type RoomUserLeft struct {
	roomUserEvent
}
