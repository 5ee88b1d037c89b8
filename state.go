package mastobot

// State is a unit's position in its lifecycle.
type State int

const (
	StateInstantiated State = iota
	StateConfigured
	StateConnected
	StateStarted
	StateRunning
	StateFailed
)

var stateNames = map[State]string{
	StateInstantiated: "instantiated",
	StateConfigured:   "configured",
	StateConnected:    "connected",
	StateStarted:      "started",
	StateRunning:      "running",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFailed
}

// transitions lists the allowed target states per kind and source state.
// Services skip Connect and Start. Failed is reachable from every
// non-terminal state and is handled separately.
var transitions = map[Kind]map[State][]State{
	KindService: {
		StateInstantiated: {StateConfigured},
		StateConfigured:   {StateRunning},
	},
	KindModule: {
		StateInstantiated: {StateConfigured},
		StateConfigured:   {StateConnected},
		StateConnected:    {StateStarted},
		StateStarted:      {StateRunning},
	},
}

func canTransition(kind Kind, from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, allowed := range transitions[kind][from] {
		if allowed == to {
			return true
		}
	}
	return false
}
