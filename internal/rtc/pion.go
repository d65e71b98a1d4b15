package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PionEngine implements Engine on a pion/webrtc PeerConnection.
type PionEngine struct {
	iceServers []string
	log        *slog.Logger

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	events EngineEvents
}

// NewPionEngineFactory returns an EngineFactory producing engines that
// negotiate through the given STUN/TURN servers.
func NewPionEngineFactory(iceServers []string, log *slog.Logger) EngineFactory {
	return func() Engine {
		return &PionEngine{iceServers: iceServers, log: log}
	}
}

func (e *PionEngine) Initialize(settings MediaSettings, events EngineEvents) error {
	cfg := webrtc.Configuration{}
	if len(e.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: e.iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pc = pc
	e.events = events
	e.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			if events.ICEGatheringComplete != nil {
				events.ICEGatheringComplete()
			}
			return
		}
		if events.LocalICECandidate == nil {
			return
		}
		init := c.ToJSON()
		candidate := ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		events.LocalICECandidate(candidate)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.log.Debug("peer connection state", "state", state.String())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.RemoteTrack != nil {
			events.RemoteTrack(track.Kind().String())
		}
	})

	// The answering side receives the channel the offerer created.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		e.adoptDataChannel(dc)
	})

	if settings.Audio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
			pc.Close()
			return fmt.Errorf("audio transceiver: %w", err)
		}
	}
	if settings.Webcamera || settings.Rendering {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
			pc.Close()
			return fmt.Errorf("video transceiver: %w", err)
		}
	}
	if settings.Data {
		dc, err := pc.CreateDataChannel("data", nil)
		if err != nil {
			pc.Close()
			return fmt.Errorf("data channel: %w", err)
		}
		e.adoptDataChannel(dc)
	}
	return nil
}

func (e *PionEngine) adoptDataChannel(dc *webrtc.DataChannel) {
	e.mu.Lock()
	e.dc = dc
	events := e.events
	e.mu.Unlock()

	dc.OnOpen(func() {
		e.log.Debug("data channel open", "label", dc.Label())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if events.DataMessage != nil {
			events.DataMessage(msg.Data)
		}
	})
}

func (e *PionEngine) CreateOffer() error {
	pc := e.conn()
	if pc == nil {
		return ErrNotInitialized
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	e.emitLocalDescription(offer)
	return nil
}

func (e *PionEngine) CreateAnswer() error {
	pc := e.conn()
	if pc == nil {
		return ErrNotInitialized
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	e.emitLocalDescription(answer)
	return nil
}

func (e *PionEngine) SetRemoteDescription(desc SessionDescription) error {
	pc := e.conn()
	if pc == nil {
		return ErrNotInitialized
	}
	var sdpType webrtc.SDPType
	switch desc.Type {
	case SDPTypeOffer:
		sdpType = webrtc.SDPTypeOffer
	case SDPTypeAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unsupported sdp type %q", desc.Type)
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
}

func (e *PionEngine) AddICECandidate(candidate ICECandidate) error {
	pc := e.conn()
	if pc == nil {
		return ErrNotInitialized
	}
	mid := candidate.SDPMid
	mLine := uint16(candidate.SDPMLineIndex)
	return pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mLine,
	})
}

func (e *PionEngine) SendData(payload []byte) error {
	e.mu.Lock()
	dc := e.dc
	e.mu.Unlock()
	if dc == nil {
		return errors.New("rtc: no data channel")
	}
	return dc.Send(payload)
}

func (e *PionEngine) Close() error {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.dc = nil
	e.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

func (e *PionEngine) conn() *webrtc.PeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc
}

func (e *PionEngine) emitLocalDescription(desc webrtc.SessionDescription) {
	e.mu.Lock()
	emit := e.events.LocalDescription
	e.mu.Unlock()
	if emit != nil {
		emit(SessionDescription{Type: desc.Type.String(), SDP: desc.SDP})
	}
}
