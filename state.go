package realtime

// State represents the connection state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateReconnecting  State = "reconnecting"
	StateError         State = "error"
)

// transitions lists the legal moves of the connection state machine.
// Every state may also move to StateDisconnected (see canTransition).
var transitions = map[State][]State{
	StateDisconnected:  {StateConnecting, StateReconnecting},
	StateConnecting:    {StateConnected, StateError},
	StateConnected:     {StateDisconnecting},
	StateDisconnecting: {},
	StateError:         {StateReconnecting},
	StateReconnecting:  {StateConnecting},
}

func canTransition(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
