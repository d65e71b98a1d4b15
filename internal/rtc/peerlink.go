package rtc

import (
	"fmt"
	"log/slog"
)

// LinkState is the lifecycle of a peer link.
type LinkState int

const (
	// LinkIdle: no engine, nothing negotiated.
	LinkIdle LinkState = iota
	// LinkNegotiating: engine up, local description or candidates pending.
	LinkNegotiating
	// LinkLocalReady: local description and candidate gathering both
	// resolved at least once.
	LinkLocalReady
	// LinkDisconnected: engine torn down by Disconnect.
	LinkDisconnected
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkNegotiating:
		return "negotiating"
	case LinkLocalReady:
		return "local-ready"
	case LinkDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// LinkEvents is the observer set a PeerLink reports into. Callbacks run on
// the owner's goroutine (via the post function given to NewPeerLink).
type LinkEvents struct {
	// LocalSDPResolved fires the first time a local description exists.
	LocalSDPResolved func(link *PeerLink, desc SessionDescription)
	// LocalICEResolved fires the first time local gathering completes,
	// with every candidate gathered so far.
	LocalICEResolved func(link *PeerLink, candidates []ICECandidate)
	// LocalDataResolved fires exactly once per negotiation, when both the
	// description and the candidate set are locally resolved. This is the
	// moment the owner sends its Offer or Answer.
	LocalDataResolved func(link *PeerLink, desc SessionDescription, candidates []ICECandidate)
	// DataMessage fires for each payload received on the link's data
	// channel.
	DataMessage func(link *PeerLink, payload []byte)
}

// PeerLink drives offer/answer/ICE negotiation with one remote peer. It is
// not safe for concurrent use: all methods must be called from the owning
// session goroutine, and engine callbacks are re-posted there.
type PeerLink struct {
	peerID  string
	state   LinkState
	factory EngineFactory
	post    func(func())
	events  LinkEvents
	log     *slog.Logger

	engine      Engine
	initialized bool

	localSDPReady bool
	localICEReady bool
	localDesc     SessionDescription

	pendingLocalICE  []ICECandidate
	pendingRemoteICE []ICECandidate

	sdpEmitted bool
	iceEmitted bool
	customData map[string]any
}

// NewPeerLink builds an idle link for the given remote peer. post must run
// the closure on the goroutine that owns the link.
func NewPeerLink(peerID string, factory EngineFactory, post func(func()), events LinkEvents, log *slog.Logger) *PeerLink {
	return &PeerLink{
		peerID:     peerID,
		factory:    factory,
		post:       post,
		events:     events,
		log:        log.With("peer", peerID),
		customData: make(map[string]any),
	}
}

// PeerID returns the remote peer id the link negotiates with. Empty for a
// client's link to its room renderer.
func (l *PeerLink) PeerID() string { return l.peerID }

// State returns the link's current lifecycle state.
func (l *PeerLink) State() LinkState { return l.state }

// LocalDescription returns the most recent local offer or answer, zero if
// none has been created yet.
func (l *PeerLink) LocalDescription() SessionDescription { return l.localDesc }

// SetCustomData attaches opaque per-peer data to the link.
func (l *PeerLink) SetCustomData(key string, value any) { l.customData[key] = value }

// CustomData reads opaque per-peer data off the link.
func (l *PeerLink) CustomData(key string) (any, bool) {
	v, ok := l.customData[key]
	return v, ok
}

// Initialize brings up the engine for the given media selection. A failure
// leaves the link untouched. Initializing an already initialized link is a
// no-op.
func (l *PeerLink) Initialize(settings MediaSettings) error {
	if l.initialized {
		return nil
	}
	if l.engine == nil {
		l.engine = l.factory()
	}
	err := l.engine.Initialize(settings, EngineEvents{
		LocalDescription:     func(desc SessionDescription) { l.post(func() { l.onLocalDescription(desc) }) },
		LocalICECandidate:    func(c ICECandidate) { l.post(func() { l.onLocalICECandidate(c) }) },
		ICEGatheringComplete: func() { l.post(l.onICEGatheringComplete) },
		DataMessage:          func(payload []byte) { l.post(func() { l.onDataMessage(payload) }) },
		RemoteTrack: func(kind string) {
			l.log.Info("remote track attached", "kind", kind)
		},
	})
	if err != nil {
		l.log.Error("engine initialization failed", "error", err)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	l.initialized = true
	l.state = LinkNegotiating
	return nil
}

// StartNegotiation initializes the engine and creates a local offer.
func (l *PeerLink) StartNegotiation(settings MediaSettings) error {
	if err := l.Initialize(settings); err != nil {
		return err
	}
	return l.engine.CreateOffer()
}

// HandleOfferOrAnswer applies a remote description received from the relay,
// answering it when it is an offer, then applies any piggybacked candidates.
// A rejected description aborts without touching link state.
func (l *PeerLink) HandleOfferOrAnswer(desc SessionDescription, candidates []ICECandidate, settings MediaSettings) error {
	if err := l.Initialize(settings); err != nil {
		return err
	}
	if err := l.engine.SetRemoteDescription(desc); err != nil {
		l.log.Error("remote description rejected", "type", desc.Type, "error", err)
		return fmt.Errorf("%w: %v", ErrRemoteDescriptionRejected, err)
	}
	if desc.Type == SDPTypeOffer {
		if err := l.engine.CreateAnswer(); err != nil {
			return err
		}
	}
	l.AddRemoteICECandidates(candidates)
	return nil
}

// AddRemoteICECandidates applies remote candidates in order. Candidates
// arriving while local gathering is still in flight are buffered and
// flushed when it completes. Individual apply failures are logged and
// skipped.
func (l *PeerLink) AddRemoteICECandidates(candidates []ICECandidate) {
	if len(candidates) == 0 {
		return
	}
	if !l.initialized {
		l.log.Error("dropping remote ice candidates, engine not initialized", "count", len(candidates))
		return
	}
	if !l.localICEReady {
		l.pendingRemoteICE = append(l.pendingRemoteICE, candidates...)
		return
	}
	l.applyRemoteICE(candidates)
}

func (l *PeerLink) applyRemoteICE(candidates []ICECandidate) {
	for _, c := range candidates {
		if err := l.engine.AddICECandidate(c); err != nil {
			l.log.Warn("skipping remote ice candidate", "mid", c.SDPMid, "error", err)
		}
	}
}

// SendData writes a payload to the link's data channel.
func (l *PeerLink) SendData(payload []byte) error {
	if !l.initialized {
		return ErrNotInitialized
	}
	return l.engine.SendData(payload)
}

// Disconnect tears the engine down and returns the link to its baseline so
// a later Initialize starts a fresh negotiation.
func (l *PeerLink) Disconnect() {
	if l.engine != nil {
		if err := l.engine.Close(); err != nil {
			l.log.Warn("engine close failed", "error", err)
		}
		l.engine = nil
	}
	l.initialized = false
	l.localSDPReady = false
	l.localICEReady = false
	l.localDesc = SessionDescription{}
	l.pendingLocalICE = nil
	l.pendingRemoteICE = nil
	l.sdpEmitted = false
	l.iceEmitted = false
	l.state = LinkDisconnected
}

func (l *PeerLink) onLocalDescription(desc SessionDescription) {
	l.localDesc = desc
	l.localSDPReady = true
	l.emitResolved()
}

func (l *PeerLink) onLocalICECandidate(c ICECandidate) {
	// Any new candidate reopens gathering until the next complete signal.
	l.localICEReady = false
	l.pendingLocalICE = append(l.pendingLocalICE, c)
}

func (l *PeerLink) onICEGatheringComplete() {
	l.localICEReady = true
	if len(l.pendingRemoteICE) > 0 {
		l.applyRemoteICE(l.pendingRemoteICE)
		l.pendingRemoteICE = nil
	}
	l.emitResolved()
}

func (l *PeerLink) onDataMessage(payload []byte) {
	if l.events.DataMessage != nil {
		l.events.DataMessage(l, payload)
	}
}

// emitResolved fires each resolution event the first time its condition
// holds. The combined event is bound to the Negotiating to LocalReady
// transition, which can only happen once per negotiation.
func (l *PeerLink) emitResolved() {
	if l.localSDPReady && !l.sdpEmitted {
		l.sdpEmitted = true
		if l.events.LocalSDPResolved != nil {
			l.events.LocalSDPResolved(l, l.localDesc)
		}
	}
	if l.localICEReady && !l.iceEmitted {
		l.iceEmitted = true
		if l.events.LocalICEResolved != nil {
			l.events.LocalICEResolved(l, l.localCandidates())
		}
	}
	if l.localSDPReady && l.localICEReady && l.state == LinkNegotiating {
		l.state = LinkLocalReady
		if l.events.LocalDataResolved != nil {
			l.events.LocalDataResolved(l, l.localDesc, l.localCandidates())
		}
	}
}

func (l *PeerLink) localCandidates() []ICECandidate {
	out := make([]ICECandidate, len(l.pendingLocalICE))
	copy(out, l.pendingLocalICE)
	return out
}
