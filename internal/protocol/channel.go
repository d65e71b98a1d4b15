// Package protocol implements the cloudrender signaling protocol: the
// versioned JSON envelope {channel, message:{type, data}}, the channel and
// message kind registries, and one typed message per protocol message kind.
//
// Messages decode fully or not at all: a payload that is missing a mandatory
// field yields an error and no message.
package protocol

// Channel identifies the logical stream a message belongs to.
type Channel int

const (
	ChannelInvalid Channel = iota
	ChannelSignaling
	ChannelRoom
	ChannelState
	ChannelApplication
)

// Kind identifies a concrete protocol message.
type Kind int

const (
	KindInvalid Kind = iota

	// State channel.
	KindRegistration
	KindRendererStateChange

	// Signaling channel.
	KindOffer
	KindAnswer
	KindIceCandidates

	// Room channel.
	KindRoomAssigned
	KindRoomUserJoined
	KindRoomUserLeft

	// Application channel.
	KindRoomCustomMessage
	KindPeerCustomMessage
)

// Wire names are case-sensitive. The registries below are built once at
// package initialization and are read-only afterwards.
var channelNames = map[Channel]string{
	ChannelSignaling:   "Signaling",
	ChannelRoom:        "Room",
	ChannelState:       "State",
	ChannelApplication: "Application",
}

var kindNames = map[Kind]string{
	KindRegistration:        "Registration",
	KindRendererStateChange: "RendererStateChange",
	KindOffer:               "Offer",
	KindAnswer:              "Answer",
	KindIceCandidates:       "IceCandidates",
	KindRoomAssigned:        "RoomAssigned",
	KindRoomUserJoined:      "RoomUserJoined",
	KindRoomUserLeft:        "RoomUserLeft",
	KindRoomCustomMessage:   "RoomCustomMessage",
	KindPeerCustomMessage:   "PeerCustomMessage",
}

var (
	channelsByName = invert(channelNames)
	kindsByName    = invert(kindNames)
)

func invert[K comparable, V comparable](in map[K]V) map[V]K {
	out := make(map[V]K, len(in))
	for k, v := range in {
		out[v] = k
	}
	return out
}

// ParseChannel resolves a wire channel name. Unknown or empty names resolve
// to ChannelInvalid.
func ParseChannel(name string) Channel {
	return channelsByName[name]
}

// String returns the wire name of the channel, or "" for ChannelInvalid.
func (c Channel) String() string {
	return channelNames[c]
}

// ParseKind resolves a wire message type name. Unknown or empty names
// resolve to KindInvalid.
func ParseKind(name string) Kind {
	return kindsByName[name]
}

// String returns the wire name of the kind, or "" for KindInvalid.
func (k Kind) String() string {
	return kindNames[k]
}

// channelOf maps every known kind to its static channel.
var channelOf = map[Kind]Channel{
	KindRegistration:        ChannelState,
	KindRendererStateChange: ChannelState,
	KindOffer:               ChannelSignaling,
	KindAnswer:              ChannelSignaling,
	KindIceCandidates:       ChannelSignaling,
	KindRoomAssigned:        ChannelRoom,
	KindRoomUserJoined:      ChannelRoom,
	KindRoomUserLeft:        ChannelRoom,
	KindRoomCustomMessage:   ChannelApplication,
	KindPeerCustomMessage:   ChannelApplication,
}
