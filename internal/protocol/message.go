package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Document is a generic JSON object, the shape of every message's data
// sub-document.
type Document = map[string]any

// Decode/encode failure taxonomy. Callers classify with errors.Is.
var (
	ErrUnknownChannel          = errors.New("protocol: unknown channel")
	ErrUnknownMessageKind      = errors.New("protocol: unknown message kind")
	ErrMalformedPayload        = errors.New("protocol: malformed payload")
	ErrInvalidForSerialization = errors.New("protocol: message not valid for serialization")
)

// Message is the closed union over the protocol message catalog. Concrete
// types live in this package only; the unexported methods keep the union
// closed.
type Message interface {
	// Channel returns the message's static channel.
	Channel() Channel
	// Kind returns the message's static kind.
	Kind() Kind
	// Payload returns the last data sub-document the message was decoded
	// from or encoded to. Nil until either has happened.
	Payload() Document
	// IsNull reports whether the message carries no payload content.
	IsNull() bool

	// serialize refreshes and returns the data sub-document from the
	// message's typed fields.
	serialize() Document
	// deserialize populates the typed fields from a data sub-document.
	deserialize(data Document) error
	// validForSerialization reports whether the current field values are
	// acceptable to encode.
	validForSerialization() error
	setPayload(data Document)
}

// base carries the envelope identity and raw payload common to every
// message variant.
type base struct {
	channel Channel
	kind    Kind
	payload Document
}

func (b *base) Channel() Channel             { return b.channel }
func (b *base) Kind() Kind                   { return b.kind }
func (b *base) Payload() Document            { return b.payload }
func (b *base) IsNull() bool                 { return len(b.payload) == 0 }
func (b *base) setPayload(data Document)     { b.payload = data }
func (b *base) validForSerialization() error { return nil }

func newBase(kind Kind) base {
	return base{channel: channelOf[kind], kind: kind}
}

// New constructs an empty message of the given kind, or nil for kinds
// outside the catalog. The factory match is exhaustive over the catalog.
func New(kind Kind) Message {
	switch kind {
	case KindRegistration:
		return &Registration{base: newBase(kind)}
	case KindRendererStateChange:
		return &RendererStateChange{base: newBase(kind)}
	case KindOffer:
		return &Offer{sdpExchange{base: newBase(kind)}}
	case KindAnswer:
		return &Answer{sdpExchange{base: newBase(kind)}}
	case KindIceCandidates:
		return &IceCandidates{base: newBase(kind)}
	case KindRoomAssigned:
		return &RoomAssigned{base: newBase(kind)}
	case KindRoomUserJoined:
		return &RoomUserJoined{roomUserEvent{base: newBase(kind)}}
	case KindRoomUserLeft:
		return &RoomUserLeft{roomUserEvent{base: newBase(kind)}}
	case KindRoomCustomMessage:
		return &RoomCustomMessage{base: newBase(kind)}
	case KindPeerCustomMessage:
		return &PeerCustomMessage{base: newBase(kind)}
	}
	return nil
}

// Decode parses a wire envelope and constructs the typed message it
// carries. The envelope keys "channel", "message", "type" and "data" are
// also accepted in their capitalized legacy forms.
func Decode(raw []byte) (Message, error) {
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return DecodeDocument(envelope)
}

// DecodeDocument is Decode for an already-parsed envelope object.
func DecodeDocument(envelope Document) (Message, error) {
	channelName := strings.TrimSpace(stringForAnyKey(envelope, "channel", "Channel"))
	channel := ParseChannel(channelName)
	if channel == ChannelInvalid {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channelName)
	}

	body := documentForAnyKey(envelope, "message", "Message")
	kindName := strings.TrimSpace(stringForAnyKey(body, "type", "Type"))
	kind := ParseKind(kindName)

	msg := New(kind)
	if msg == nil || msg.Channel() != channel {
		return nil, fmt.Errorf("%w: channel %q type %q", ErrUnknownMessageKind, channelName, kindName)
	}

	data := documentForAnyKey(body, "data", "Data")
	msg.setPayload(data)
	if err := msg.deserialize(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kindName, err)
	}
	return msg, nil
}

// PeekEnvelope resolves an envelope's channel, kind and data sub-document
// without decoding the typed message. Relays use this to route and amend
// messages whose mandatory fields they themselves are about to inject.
func PeekEnvelope(envelope Document) (Channel, Kind, Document) {
	channel := ParseChannel(strings.TrimSpace(stringForAnyKey(envelope, "channel", "Channel")))
	body := documentForAnyKey(envelope, "message", "Message")
	kind := ParseKind(strings.TrimSpace(stringForAnyKey(body, "type", "Type")))
	if channelOf[kind] != channel {
		return channel, KindInvalid, nil
	}
	return channel, kind, documentForAnyKey(body, "data", "Data")
}

// Envelope wraps a data sub-document in the wire envelope for the given
// kind.
func Envelope(kind Kind, data Document) Document {
	return Document{
		"channel": channelOf[kind].String(),
		"message": Document{
			"type": kind.String(),
			"data": data,
		},
	}
}

// Encode validates the message, refreshes its payload from the typed
// fields and wraps it in the wire envelope.
func Encode(msg Message) ([]byte, error) {
	envelope, err := EncodeDocument(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}

// EncodeDocument is Encode up to (but not including) JSON marshaling.
func EncodeDocument(msg Message) (Document, error) {
	if msg.Channel() == ChannelInvalid || msg.Kind() == KindInvalid {
		return nil, fmt.Errorf("%w: unresolved channel or kind", ErrInvalidForSerialization)
	}
	if err := msg.validForSerialization(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidForSerialization, msg.Kind(), err)
	}

	data := msg.serialize()
	msg.setPayload(data)
	return Document{
		"channel": msg.Channel().String(),
		"message": Document{
			"type": msg.Kind().String(),
			"data": data,
		},
	}, nil
}

// Generic document readers shared by the message variants. JSON numbers
// arrive as float64; peer ids are number-coerced to strings where noted.

func stringForAnyKey(doc Document, keys ...string) string {
	for _, key := range keys {
		if v, ok := doc[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func documentForAnyKey(doc Document, keys ...string) Document {
	for _, key := range keys {
		if v, ok := doc[key]; ok {
			if d, ok := v.(Document); ok {
				return d
			}
		}
	}
	return nil
}

func stringField(doc Document, key string) string {
	v, ok := doc[key]
	if !ok {
		return ""
	}
	return coerceString(v)
}

// coerceString renders strings and JSON numbers as strings; peer ids may
// legally arrive as either.
func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func intField(doc Document, key string, fallback int) int {
	v, ok := doc[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}

func boolField(doc Document, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func listField(doc Document, key string) []any {
	l, _ := doc[key].([]any)
	return l
}

func documentField(doc Document, key string) Document {
	d, _ := doc[key].(Document)
	return d
}

func stringListField(doc Document, key string) []string {
	list := listField(doc, key)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s := coerceString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toAnyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
