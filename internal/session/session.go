// Package session carries remote gestures over a WebRTC data channel.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"playmirror/internal/input"
	"playmirror/internal/types"
)

// InputLabel is the data channel label viewers open for gestures.
const InputLabel = "input"

// Config controls peer connection setup.
type Config struct {
	// ICEServers lists STUN/TURN URLs. Empty means LAN only.
	ICEServers []string
	// IncludeLoopback offers loopback candidates, for viewers on the
	// same host.
	IncludeLoopback bool
}

type Session struct {
	ID   string
	PC   *webrtc.PeerConnection
	Stop chan struct{}

	sink     types.GestureSink
	events   atomic.Uint64
	rejected atomic.Uint64

	closed bool
	mu     sync.Mutex
}

// NewSession creates a data-only peer connection whose "input" channel
// feeds sink.
func NewSession(id string, cfg Config, sink types.GestureSink) (*Session, error) {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sess := &Session{
		ID:   id,
		PC:   pc,
		Stop: make(chan struct{}),
		sink: sink,
	}

	// Data channels are created by the client; we handle them via OnDataChannel
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != InputLabel {
			log.Printf("session %s: ignoring data channel %q", id, dc.Label())
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			sess.handleMessage(msg.Data)
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("session %s: peer connection state: %s", id, state.String())
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateClosed {
			sess.Close()
		}
	})

	return sess, nil
}

// Answer applies a remote offer and returns the local answer once ICE
// gathering has finished.
func (s *Session) Answer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.PC.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.PC.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.PC)
	if err := s.PC.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.PC.LocalDescription().SDP, nil
}

// AddCandidate adds a trickled remote ICE candidate.
func (s *Session) AddCandidate(candidate string) error {
	return s.PC.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (s *Session) handleMessage(data []byte) {
	if s.IsClosed() {
		return
	}
	var event types.InputEvent
	if err := json.Unmarshal(data, &event); err != nil {
		if s.rejected.Add(1) == 1 {
			log.Printf("session %s: bad input event: %v", s.ID, err)
		}
		return
	}
	s.events.Add(1)
	input.Deliver(s.sink, event)
}

// Events returns how many input events were delivered and rejected.
func (s *Session) Events() (delivered, rejected uint64) {
	return s.events.Load(), s.rejected.Load()
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.Stop)
	s.mu.Unlock()

	// The state change callback re-enters Close, so s.mu must be free here.
	if err := s.PC.Close(); err != nil {
		log.Printf("session %s: close peer connection: %v", s.ID, err)
	}
	log.Printf("session %s closed", s.ID)
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
