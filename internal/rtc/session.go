package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// State is the session's connectivity, collapsed to what callers act on.
// Failed, disconnected and closed are indistinguishable to the caller: the
// session is gone and only a new negotiation brings it back.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateLost
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	}
	return "unknown"
}

// Session wraps a single PeerConnection carrying the local media tracks,
// exposing the offer/answer and trickle-ICE surface the orchestrator needs.
//
// Remote candidates that arrive before the remote description are buffered
// and applied once SetRemoteDescription succeeds; pion rejects them
// otherwise, and the sender's candidates legitimately race its description.
type Session struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a Session with the given STUN servers and attaches the
// local tracks. Negotiation is the caller's job via CreateOffer /
// CreateAnswer and the description setters.
func NewSession(stunServers []string, tracks []webrtc.TrackLocal) (*Session, error) {
	pc, err := newPeerConnection(stunServers)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach local track: %w", err)
		}
	}

	return &Session{pc: pc}, nil
}

// OnCandidate registers a callback for locally gathered ICE candidates.
// The end-of-gathering marker is filtered out; every candidate is reported
// the moment pion discovers it.
func (s *Session) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// OnTrack registers a callback for remote media tracks.
func (s *Session) OnTrack(fn func(*webrtc.TrackRemote)) {
	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

// OnStateChange registers a callback for connectivity transitions, already
// mapped onto State. Intermediate pion states that don't change what the
// caller should do (new, the SCTP-level states) are not reported.
func (s *Session) OnStateChange(fn func(State)) {
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnecting:
			fn(StateConnecting)
		case webrtc.PeerConnectionStateConnected:
			fn(StateConnected)
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			fn(StateLost)
		}
	})
}

// CreateOffer generates an SDP offer.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	return s.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer. Requires the remote offer to be set.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (s *Session) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP, then flushes any candidates
// buffered while it was missing.
func (s *Session) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.remoteSet = true
	s.mu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddRemoteCandidate feeds a remote ICE candidate into the session,
// buffering it if the remote description has not arrived yet.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.pc.AddICECandidate(c)
}

// LocalDescription returns the current local SDP, or nil if none is set.
func (s *Session) LocalDescription() *webrtc.SessionDescription {
	return s.pc.LocalDescription()
}

// RemoteDescriptionSet reports whether a remote description was applied.
func (s *Session) RemoteDescriptionSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSet
}

// PendingCandidates returns how many remote candidates are buffered waiting
// for the remote description.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close shuts the PeerConnection down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pc.Close()
	})
	return s.closeErr
}
