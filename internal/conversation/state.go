// Package conversation runs the chat exchange with the learning assistant.
package conversation

// State is the turn state of an Engine.
type State int

const (
	// Idle accepts a new message.
	Idle State = iota
	// Sending has one request outstanding; further sends are rejected.
	Sending
	// Succeeded is the transient state after a reply was applied.
	Succeeded
	// Failed is the transient state after a request failed.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
