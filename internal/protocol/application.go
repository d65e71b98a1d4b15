package protocol

import "errors"

// Reserved receiver names understood by the relay in RoomCustomMessage
// receiver lists.
const (
	ReceiverRenderer = "renderer"
	ReceiverService  = "service"
)

// RoomCustomMessage carries an opaque application payload through the relay
// to selected room occupants. An empty receiver list means the whole room;
// the relay performs the expansion and stamps the sender, so serialization
// writes only receivers and payload.
type RoomCustomMessage struct {
	base

	Sender    string
	Receivers []string
	Data      Document
}

func (m *RoomCustomMessage) deserialize(data Document) error {
	m.Sender = stringField(data, "sender")
	m.Receivers = stringListField(data, "receivers")
	m.Data = documentField(data, "payload")
	return nil
}

func (m *RoomCustomMessage) serialize() Document {
	return Document{
		"receivers": toAnyList(m.Receivers),
		"payload":   m.Data,
	}
}

func (m *RoomCustomMessage) validForSerialization() error {
	if m.Data == nil {
		return errors.New("nil payload")
	}
	return nil
}

// PeerCustomMessage carries an opaque application payload over an
// established peer data channel, bypassing the relay entirely.
type PeerCustomMessage struct {
	base

	Data Document
}

func (m *PeerCustomMessage) deserialize(data Document) error {
	m.Data = documentField(data, "payload")
	return nil
}

func (m *PeerCustomMessage) serialize() Document {
	return Document{"payload": m.Data}
}

func (m *PeerCustomMessage) validForSerialization() error {
	if m.Data == nil {
		return errors.New("nil payload")
	}
	return nil
}
