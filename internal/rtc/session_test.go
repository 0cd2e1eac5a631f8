package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/media"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	stream, err := media.NewSilentAudioStream()
	if err != nil {
		t.Fatalf("silent stream: %v", err)
	}
	t.Cleanup(stream.Close)

	s, err := NewSession(nil, stream.Tracks())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const hostCandidate = "candidate:863018703 1 udp 2130706431 192.168.1.10 54321 typ host"

func TestCandidateBufferedUntilRemoteDescription(t *testing.T) {
	offerer := newTestSession(t)
	answerer := newTestSession(t)

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local: %v", err)
	}

	// The offerer's candidates can reach the answerer before its offer.
	// They must be held, not rejected.
	if err := answerer.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: hostCandidate}); err != nil {
		t.Fatalf("early candidate: %v", err)
	}
	if got := answerer.PendingCandidates(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	if answerer.RemoteDescriptionSet() {
		t.Fatal("remote description reported set before SetRemoteDescription")
	}

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote: %v", err)
	}
	if got := answerer.PendingCandidates(); got != 0 {
		t.Fatalf("pending after flush = %d, want 0", got)
	}
	if !answerer.RemoteDescriptionSet() {
		t.Fatal("remote description not reported set")
	}

	// Later candidates go straight through.
	if err := answerer.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: hostCandidate}); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if got := answerer.PendingCandidates(); got != 0 {
		t.Fatalf("late candidate buffered, pending = %d", got)
	}
}

func TestOfferAnswerExchange(t *testing.T) {
	offerer := newTestSession(t)
	answerer := newTestSession(t)

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("offerer set local: %v", err)
	}
	if offerer.LocalDescription() == nil {
		t.Fatal("offerer local description nil after set")
	}

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("answerer set remote: %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("answerer set local: %v", err)
	}

	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("offerer set remote: %v", err)
	}
}

func TestGlareOfferRejected(t *testing.T) {
	a := newTestSession(t)
	b := newTestSession(t)

	offerA, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := a.SetLocalDescription(offerA); err != nil {
		t.Fatalf("set local: %v", err)
	}

	offerB, err := b.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	// A has a local offer outstanding; a colliding remote offer must fail
	// rather than be silently absorbed.
	if err := a.SetRemoteDescription(offerB); err == nil {
		t.Fatal("remote offer accepted while local offer pending")
	}
}

func TestLocalDescriptionNilBeforeSet(t *testing.T) {
	s := newTestSession(t)
	if s.LocalDescription() != nil {
		t.Fatal("local description set on a fresh session")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := newTestSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
