// Package call implements the connection orchestrator: one participant's
// end of the room join, offer/answer exchange, trickle ICE and media
// session lifecycle, driven against the signaling relay.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/rtc"
	"github.com/duocall/duocall/internal/signal"
	"github.com/duocall/duocall/internal/util"
)

// ErrCallActive is returned by StartCall while a previous call has not been
// cleaned up. Calls never overlap on one Orchestrator.
var ErrCallActive = errors.New("call already active")

// ErrNoMedia is returned by StartCall without a local media stream.
// Acquiring one is the caller's responsibility.
var ErrNoMedia = errors.New("local media stream required")

// Envelopes arriving while an offer/answer operation is still suspended are
// queued here rather than dropped; ICE candidates in particular burst in
// right behind the descriptions.
const eventBufferSize = 128

// Orchestrator drives one call. It owns the relay link, the peer session
// and the local media stream for the duration of the call; all protocol
// decisions live in the machine, which the single event-loop goroutine
// advances one event at a time.
//
// Register callbacks before StartCall. After Cleanup the Orchestrator is
// reusable for another call.
type Orchestrator struct {
	cfg config.Call

	onState func(State)
	onTrack func(*webrtc.TrackRemote)

	mu     sync.Mutex
	active bool

	// Per-call state, rebuilt by each StartCall.
	m          *machine
	events     chan event
	done       chan struct{}
	loopDone   chan struct{}
	push       func(event)
	link       *link
	session    *rtc.Session
	stream     *media.Stream
	electTimer *time.Timer
	surfaced   State
}

// NewOrchestrator creates an idle Orchestrator for the given configuration.
func NewOrchestrator(cfg config.Call) *Orchestrator {
	return &Orchestrator{cfg: cfg, surfaced: StateIdle}
}

// OnStateChange registers the call-state callback. It is invoked from the
// event loop, once per observable transition.
func (o *Orchestrator) OnStateChange(fn func(State)) { o.onState = fn }

// OnRemoteTrack registers the remote media callback.
func (o *Orchestrator) OnRemoteTrack(fn func(*webrtc.TrackRemote)) { o.onTrack = fn }

// StartCall connects to the relay, attaches the local stream to a new peer
// session, and joins the configured room. The negotiation then runs in the
// background; progress is reported through OnStateChange.
//
// The stream must already be acquired. A second StartCall without an
// intervening Cleanup is rejected with ErrCallActive.
func (o *Orchestrator) StartCall(ctx context.Context, stream *media.Stream) error {
	if stream == nil {
		return ErrNoMedia
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrCallActive
	}
	o.active = true
	o.mu.Unlock()

	o.surface(StateAcquiringMedia)

	lnk, err := dialLink(ctx, o.cfg.RelayURL)
	if err != nil {
		o.abortStart()
		return err
	}

	sess, err := rtc.NewSession(o.cfg.STUNServers, stream.Tracks())
	if err != nil {
		lnk.close()
		o.abortStart()
		return err
	}

	events := make(chan event, eventBufferSize)
	done := make(chan struct{})
	push := func(ev event) {
		select {
		case events <- ev:
		case <-done:
		}
	}

	o.mu.Lock()
	o.m = newMachine()
	o.events = events
	o.done = done
	o.loopDone = make(chan struct{})
	o.push = push
	o.link = lnk
	o.session = sess
	o.stream = stream
	o.electTimer = nil
	o.mu.Unlock()

	sess.OnTrack(func(track *webrtc.TrackRemote) {
		if o.onTrack != nil {
			o.onTrack(track)
		}
	})
	sess.OnCandidate(func(c webrtc.ICECandidateInit) {
		data, err := json.Marshal(c)
		if err != nil {
			return
		}
		push(evLocalCandidate{payload: data})
	})
	sess.OnStateChange(func(s rtc.State) {
		switch s {
		case rtc.StateConnecting:
			push(evSessionConnecting{})
		case rtc.StateConnected:
			push(evSessionConnected{})
		case rtc.StateLost:
			push(evSessionLost{})
		}
	})

	go o.loop()
	go lnk.readLoop(push)

	push(evStart{roomID: o.cfg.RoomID})
	return nil
}

// LeaveRoom tells the relay we are leaving. Idempotent, and safe to call
// even if no room was ever joined. The session and media stay up until
// Cleanup.
func (o *Orchestrator) LeaveRoom() {
	o.mu.Lock()
	push := o.push
	active := o.active
	o.mu.Unlock()

	if active && push != nil {
		push(evLeave{})
	}
}

// Cleanup releases everything: media stopped, session closed, link closed,
// state reset to idle. Safe from any state and on repeat calls, including
// before any call was started.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	push := o.push
	loopDone := o.loopDone
	active := o.active
	o.mu.Unlock()

	if !active {
		return
	}

	push(evShutdown{})
	<-loopDone

	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
	o.surface(StateIdle)
}

// State returns the last surfaced call state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.surfaced
}

// loop is the single goroutine that advances the machine. Every relay
// envelope, session callback and caller command funnels through here, so
// machine state needs no locking and suspending operations (description
// exchange) never race each other.
func (o *Orchestrator) loop() {
	defer close(o.loopDone)

	for {
		ev := <-o.events

		for _, fx := range o.m.handle(ev) {
			if err := o.perform(fx); err != nil {
				util.LogError("negotiation failed: %v", err)
				o.m.handle(evNegotiationFailed{})
			}
		}

		if o.m.state != o.State() && o.m.state != StateClosed {
			o.surface(o.m.state)
		}

		if _, ok := ev.(evShutdown); ok {
			close(o.done)
			return
		}
	}
}

// perform executes one machine effect. Errors from description handling are
// negotiation failures; the loop maps them to a lost call.
func (o *Orchestrator) perform(fx effect) error {
	switch fx := fx.(type) {

	case fxSendJoin:
		return o.link.send(&signal.Envelope{Kind: signal.KindJoinRoom, RoomID: fx.roomID})

	case fxSendLeave:
		return o.link.send(&signal.Envelope{Kind: signal.KindLeaveRoom, RoomID: fx.roomID})

	case fxArmElectTimer:
		push := o.push
		o.electTimer = time.AfterFunc(o.cfg.ElectDelay, func() {
			push(evElectTimer{})
		})
		return nil

	case fxSendOffer:
		offer, err := o.session.CreateOffer()
		if err != nil {
			return fmt.Errorf("CreateOffer: %w", err)
		}
		if err := o.session.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		return o.sendDescription(signal.KindOffer, offer)

	case fxResendOffer:
		if ld := o.session.LocalDescription(); ld != nil {
			return o.sendDescription(signal.KindOffer, *ld)
		}
		return nil

	case fxAcceptOffer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(fx.payload, &desc); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		if err := o.session.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("SetRemoteDescription: %w", err)
		}
		answer, err := o.session.CreateAnswer()
		if err != nil {
			return fmt.Errorf("CreateAnswer: %w", err)
		}
		if err := o.session.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		return o.sendDescription(signal.KindAnswer, answer)

	case fxAcceptAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(fx.payload, &desc); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		if err := o.session.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("SetRemoteDescription: %w", err)
		}
		return nil

	case fxApplyCandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(fx.payload, &c); err != nil {
			util.LogWarning("malformed remote candidate: %v", err)
			return nil
		}
		// A rejected candidate is not fatal: the remaining candidate pairs
		// may still connect.
		if err := o.session.AddRemoteCandidate(c); err != nil {
			util.LogWarning("AddRemoteCandidate: %v", err)
		}
		return nil

	case fxRelayCandidate:
		return o.link.send(&signal.Envelope{
			Kind:    signal.KindICECandidate,
			RoomID:  o.m.roomID,
			Payload: fx.payload,
		})

	case fxTeardown:
		o.teardown()
		return nil
	}

	return nil
}

// sendDescription relays a session description to the room.
func (o *Orchestrator) sendDescription(kind signal.Kind, desc webrtc.SessionDescription) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	return o.link.send(&signal.Envelope{
		Kind:    kind,
		RoomID:  o.m.roomID,
		Payload: payload,
	})
}

// teardown releases the call's resources, tolerating partial setup.
func (o *Orchestrator) teardown() {
	if o.electTimer != nil {
		o.electTimer.Stop()
	}
	if o.stream != nil {
		o.stream.Close()
	}
	if o.session != nil {
		o.session.Close()
	}
	if o.link != nil {
		o.link.close()
	}
}

// abortStart rolls back a failed StartCall.
func (o *Orchestrator) abortStart() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
	o.surface(StateIdle)
}

// surface reports a state transition to the caller.
func (o *Orchestrator) surface(s State) {
	o.mu.Lock()
	o.surfaced = s
	o.mu.Unlock()
	if o.onState != nil {
		o.onState(s)
	}
}
