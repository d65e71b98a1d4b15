package rtc

import "errors"

// Engine failure taxonomy.
var (
	ErrNotInitialized            = errors.New("rtc: engine not initialized")
	ErrInitFailed                = errors.New("rtc: engine initialization failed")
	ErrRemoteDescriptionRejected = errors.New("rtc: remote description rejected")
	ErrAddCandidateFailed        = errors.New("rtc: adding ice candidate failed")
)

// MediaSettings selects which tracks and channels a peer connection
// negotiates. Rendering is the screen capture track; Data is the reliable
// channel used for application messages and input events.
type MediaSettings struct {
	Audio     bool
	Webcamera bool
	Rendering bool
	Data      bool
}

// EngineEvents is the observer set an Engine reports into. The engine may
// invoke these from its own goroutines; owners that need loop affinity must
// re-post in the callback.
type EngineEvents struct {
	// LocalDescription fires when a local offer or answer has been created
	// and applied.
	LocalDescription func(desc SessionDescription)
	// LocalICECandidate fires for each locally gathered candidate.
	LocalICECandidate func(candidate ICECandidate)
	// ICEGatheringComplete fires when local candidate gathering finishes.
	// It may fire again if gathering restarts.
	ICEGatheringComplete func()
	// DataMessage fires for each message received on the data channel.
	DataMessage func(payload []byte)
	// RemoteTrack fires when the remote side attaches a media track. The
	// track itself stays inside the engine; this is an announcement only.
	RemoteTrack func(kind string)
}

// Engine abstracts the WebRTC negotiation machinery behind a PeerLink.
// All methods return promptly; results surface through EngineEvents.
type Engine interface {
	// Initialize prepares the underlying connection for the given media
	// selection and registers the observer set. Must be called before any
	// other method.
	Initialize(settings MediaSettings, events EngineEvents) error
	// CreateOffer starts negotiation from this side.
	CreateOffer() error
	// CreateAnswer responds to a previously applied remote offer.
	CreateAnswer() error
	// SetRemoteDescription applies the remote peer's offer or answer.
	SetRemoteDescription(desc SessionDescription) error
	// AddICECandidate applies one remote candidate.
	AddICECandidate(candidate ICECandidate) error
	// SendData writes a payload to the data channel.
	SendData(payload []byte) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// EngineFactory builds a fresh Engine per peer link.
type EngineFactory func() Engine
