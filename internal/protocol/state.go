package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Registrant is the role a peer declares when it registers with the relay.
type Registrant int

const (
	RegistrantInvalid Registrant = iota
	RegistrantRenderer
	RegistrantClient
)

// ParseRegistrant resolves a wire registrant value. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseRegistrant(name string) Registrant {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "renderer":
		return RegistrantRenderer
	case "client":
		return RegistrantClient
	}
	return RegistrantInvalid
}

func (r Registrant) String() string {
	switch r {
	case RegistrantRenderer:
		return "renderer"
	case RegistrantClient:
		return "client"
	}
	return ""
}

// Registration is the first message a peer sends after connecting. Clients
// may name the room they want to join; renderers may request a private room
// that clients cannot be auto-assigned into.
type Registration struct {
	base

	Registrant        Registrant
	RoomID            string
	CreatePrivateRoom bool
}

func (m *Registration) deserialize(data Document) error {
	m.Registrant = ParseRegistrant(stringField(data, "registrant"))
	switch m.Registrant {
	case RegistrantClient:
		m.RoomID = stringField(data, "roomId")
		m.CreatePrivateRoom = false
	case RegistrantRenderer:
		m.RoomID = ""
		m.CreatePrivateRoom = boolField(data, "createPrivateRoom")
	default:
		return fmt.Errorf("unknown registrant %q", stringField(data, "registrant"))
	}
	return nil
}

func (m *Registration) serialize() Document {
	data := Document{
		"registrant": m.Registrant.String(),
	}
	switch m.Registrant {
	case RegistrantClient:
		if m.RoomID != "" {
			data["roomId"] = m.RoomID
		}
	case RegistrantRenderer:
		if m.CreatePrivateRoom {
			data["createPrivateRoom"] = true
		}
	}
	return data
}

func (m *Registration) validForSerialization() error {
	if m.Registrant == RegistrantInvalid {
		return errors.New("registrant not set")
	}
	return nil
}

// RendererState is a renderer's announced availability.
type RendererState int

const (
	RendererStateInvalid RendererState = iota
	RendererOffline
	RendererOnline
	RendererFull
)

func (s RendererState) String() string {
	switch s {
	case RendererOffline:
		return "offline"
	case RendererOnline:
		return "online"
	case RendererFull:
		return "full"
	}
	return "invalid"
}

// valid reports whether the state is one of the announced values.
func (s RendererState) valid() bool {
	return s > RendererStateInvalid && s <= RendererFull
}

// RendererStateChange announces a renderer availability transition to the
// relay, which uses it to steer client assignment.
type RendererStateChange struct {
	base

	State RendererState
}

func (m *RendererStateChange) deserialize(data Document) error {
	m.State = RendererState(intField(data, "state", 0))
	if !m.State.valid() {
		return fmt.Errorf("state %d out of range", int(m.State))
	}
	return nil
}

func (m *RendererStateChange) serialize() Document {
	return Document{"state": int(m.State)}
}

func (m *RendererStateChange) validForSerialization() error {
	if !m.State.valid() {
		return fmt.Errorf("state %d out of range", int(m.State))
	}
	return nil
}
