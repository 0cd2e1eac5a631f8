package call

import "encoding/json"

// The negotiation protocol is asymmetric and racy: who offers first depends
// on arrival order the participants cannot observe directly. machine keeps
// every rule of that protocol in one place as a pure transition function
// (events in, effects out, no I/O) so the races it must survive, like glare
// and answers after teardown, are testable without a network.

// role is which side of the offer/answer exchange this participant takes.
type role int

const (
	roleNone role = iota
	roleOfferer
	roleAnswerer
)

// event is anything that can advance the negotiation.
type event interface{ isEvent() }

type (
	// evStart fires once when the caller starts the call; the link and
	// session already exist.
	evStart struct{ roomID string }
	// evRoomInfo is the relay's occupancy reply to our join.
	evRoomInfo struct{ numUsers int }
	// evPeerJoined / evPeerLeft track the observed peer count.
	evPeerJoined struct{ id string }
	evPeerLeft   struct{ id string }
	// evRoomFull is the relay rejecting our join.
	evRoomFull struct{ message string }
	// evElectTimer fires after the election delay.
	evElectTimer struct{}
	// evOffer / evAnswer / evRemoteCandidate are forwarded envelopes.
	evOffer           struct{ payload json.RawMessage }
	evAnswer          struct{ payload json.RawMessage }
	evRemoteCandidate struct{ payload json.RawMessage }
	// evLocalCandidate is a locally gathered ICE candidate.
	evLocalCandidate struct{ payload json.RawMessage }
	// evSessionConnecting/Connected/Lost mirror the peer session state.
	evSessionConnecting struct{}
	evSessionConnected  struct{}
	evSessionLost       struct{}
	// evNegotiationFailed reports a failed effect (description rejected).
	evNegotiationFailed struct{}
	// evLinkClosed reports the relay transport dropping.
	evLinkClosed struct{}
	// evLeave is the caller's LeaveRoom; evShutdown is Cleanup.
	evLeave    struct{}
	evShutdown struct{}
)

func (evStart) isEvent()             {}
func (evRoomInfo) isEvent()          {}
func (evPeerJoined) isEvent()        {}
func (evPeerLeft) isEvent()          {}
func (evRoomFull) isEvent()          {}
func (evElectTimer) isEvent()        {}
func (evOffer) isEvent()             {}
func (evAnswer) isEvent()            {}
func (evRemoteCandidate) isEvent()   {}
func (evLocalCandidate) isEvent()    {}
func (evSessionConnecting) isEvent() {}
func (evSessionConnected) isEvent()  {}
func (evSessionLost) isEvent()       {}
func (evNegotiationFailed) isEvent() {}
func (evLinkClosed) isEvent()        {}
func (evLeave) isEvent()             {}
func (evShutdown) isEvent()          {}

// effect is an action the machine wants performed. The machine never
// performs I/O itself.
type effect interface{ isEffect() }

type (
	// fxSendJoin / fxSendLeave talk to the relay about membership.
	fxSendJoin  struct{ roomID string }
	fxSendLeave struct{ roomID string }
	// fxArmElectTimer schedules evElectTimer.
	fxArmElectTimer struct{}
	// fxSendOffer creates an offer, sets it locally and relays it.
	// fxResendOffer relays the already-set local offer again.
	fxSendOffer   struct{}
	fxResendOffer struct{}
	// fxAcceptOffer applies the remote offer and relays an answer.
	fxAcceptOffer struct{ payload json.RawMessage }
	// fxAcceptAnswer applies the remote answer.
	fxAcceptAnswer struct{ payload json.RawMessage }
	// fxApplyCandidate feeds a remote candidate to the session.
	fxApplyCandidate struct{ payload json.RawMessage }
	// fxRelayCandidate sends a local candidate to the room.
	fxRelayCandidate struct{ payload json.RawMessage }
	// fxTeardown releases media, session and link.
	fxTeardown struct{}
)

func (fxSendJoin) isEffect()       {}
func (fxSendLeave) isEffect()      {}
func (fxArmElectTimer) isEffect()  {}
func (fxSendOffer) isEffect()      {}
func (fxResendOffer) isEffect()    {}
func (fxAcceptOffer) isEffect()    {}
func (fxAcceptAnswer) isEffect()   {}
func (fxApplyCandidate) isEffect() {}
func (fxRelayCandidate) isEffect() {}
func (fxTeardown) isEffect()       {}

// machine is one NegotiationSession's state. Not safe for concurrent use;
// the orchestrator's event loop is its only caller.
type machine struct {
	state     State
	role      role
	roomID    string
	peers     int  // remote participants observed via user-joined/user-left
	occupancy int  // last room-info numUsers, informational
	joined    bool // join-room sent and not yet left
	offerSent bool
	remoteSet bool
}

func newMachine() *machine {
	return &machine{state: StateIdle}
}

// active reports whether the machine is in a state where negotiation
// traffic is meaningful.
func (m *machine) active() bool {
	switch m.state {
	case StateJoinedWaiting, StateNegotiating, StateConnected:
		return true
	}
	return false
}

// handle advances the machine by one event and returns the effects to
// perform, in order.
func (m *machine) handle(ev event) []effect {
	switch ev := ev.(type) {

	case evStart:
		if m.state != StateIdle && m.state != StateAcquiringMedia {
			return nil
		}
		m.roomID = ev.roomID
		m.joined = true
		m.state = StateJoinedWaiting
		return []effect{fxSendJoin{roomID: ev.roomID}, fxArmElectTimer{}}

	case evRoomInfo:
		// Occupancy is informational only. The tie-break deliberately counts
		// user-joined events, not room occupancy: a second joiner never sees
		// a user-joined for the member already present, so it still observes
		// zero peers, elects offerer if the first side's offer hasn't reached
		// it yet, and exactly one side offers in every non-glare ordering.
		if m.active() {
			m.occupancy = ev.numUsers
		}
		return nil

	case evPeerJoined:
		if !m.active() {
			return nil
		}
		m.peers++
		// The peer joined after our offer went out (and was dropped by the
		// relay while the room was otherwise empty); send it again so the
		// peer actually sees it.
		if m.role == roleOfferer && m.offerSent {
			return []effect{fxResendOffer{}}
		}
		return nil

	case evPeerLeft:
		if m.active() && m.peers > 0 {
			m.peers--
		}
		return nil

	case evRoomFull:
		if m.state == StateJoinedWaiting {
			m.joined = false
			m.state = StateLost
		}
		return nil

	case evElectTimer:
		// The tie-break: zero user-joined observed by the time the delay
		// expires means nobody joined after us, so offer. A side that saw a
		// user-joined waits: the later joiner will elect offerer (it sees
		// zero), or an offer arriving before our timer makes us the
		// answerer outright. Both sides can still self-elect offerer when
		// the timings collide (glare); that surfaces as a negotiation
		// failure rather than being repaired.
		if m.state != StateJoinedWaiting || m.role != roleNone {
			return nil
		}
		if m.peers == 0 {
			m.role = roleOfferer
			m.offerSent = true
			return []effect{fxSendOffer{}}
		}
		m.role = roleAnswerer
		return nil

	case evOffer:
		if !m.active() {
			return nil
		}
		if m.role == roleNone {
			m.role = roleAnswerer
		}
		m.remoteSet = true
		m.state = StateNegotiating
		return []effect{fxAcceptOffer{payload: ev.payload}}

	case evAnswer:
		// Only meaningful if we offered and have no remote description yet;
		// duplicates and strays are dropped, no harm done.
		if !m.active() || !m.offerSent || m.remoteSet {
			return nil
		}
		m.remoteSet = true
		m.state = StateNegotiating
		return []effect{fxAcceptAnswer{payload: ev.payload}}

	case evRemoteCandidate:
		if !m.active() {
			return nil
		}
		return []effect{fxApplyCandidate{payload: ev.payload}}

	case evLocalCandidate:
		if !m.active() {
			return nil
		}
		return []effect{fxRelayCandidate{payload: ev.payload}}

	case evSessionConnecting:
		if m.active() {
			m.state = StateNegotiating
		}
		return nil

	case evSessionConnected:
		if m.active() {
			m.state = StateConnected
		}
		return nil

	case evSessionLost, evNegotiationFailed, evLinkClosed:
		if m.state != StateIdle && m.state != StateClosed {
			m.state = StateLost
		}
		return nil

	case evLeave:
		if !m.joined {
			return nil
		}
		m.joined = false
		return []effect{fxSendLeave{roomID: m.roomID}}

	case evShutdown:
		var fx []effect
		if m.joined {
			m.joined = false
			fx = append(fx, fxSendLeave{roomID: m.roomID})
		}
		m.state = StateClosed
		return append(fx, fxTeardown{})
	}

	return nil
}
