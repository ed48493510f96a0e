package pipeline

import "fmt"

// State is the stage of a single connector pull.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateStoring
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateStoring:
		return "storing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal next states. Fetching may end the pull
// directly when nothing could be retrieved.
var transitions = map[State][]State{
	StateIdle:       {StateFetching},
	StateFetching:   {StateProcessing, StateDone},
	StateProcessing: {StateStoring, StateDone},
	StateStoring:    {StateDone},
}

// tracker records the state path of one pull.
type tracker struct {
	current State
	trace   []State
}

func newTracker() *tracker {
	return &tracker{current: StateIdle, trace: []State{StateIdle}}
}

func (t *tracker) advance(next State) {
	for _, allowed := range transitions[t.current] {
		if allowed == next {
			t.current = next
			t.trace = append(t.trace, next)
			return
		}
	}
	panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", t.current, next))
}
