package call

// State is the orchestrator's call state as surfaced to the caller.
type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateJoinedWaiting  State = "joined-waiting"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	// StateLost covers both session failure and transport loss; the caller
	// gets one "connection lost" signal either way.
	StateLost   State = "lost"
	StateClosed State = "closed"
)
