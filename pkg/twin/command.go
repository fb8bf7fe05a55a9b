package twin

// Command actions understood by the twin.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionSet   = "set"

	// ActionSetpoints is the older name for ActionSet.
	ActionSetpoints = "setpoints"
)

// Command is an operator request relayed through a subscriber connection or
// the command endpoint.
type Command struct {
	Action string   `json:"action"`
	Speed  *float64 `json:"speed,omitempty"`
	Valve  *float64 `json:"valve,omitempty"`
}

// Ack answers the sender of a Command.
type Ack struct {
	OK      bool   `json:"ok"`
	Action  string `json:"action"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// CommandEvent is broadcast to every subscriber and producer after a
// command has been applied. Speed and Valve are only set for ActionSet.
type CommandEvent struct {
	Action  string   `json:"action"`
	Speed   *float64 `json:"speed,omitempty"`
	Valve   *float64 `json:"valve,omitempty"`
	Running bool     `json:"running"`
}

// Float returns a pointer to v, for building Commands in code.
func Float(v float64) *float64 { return &v }
