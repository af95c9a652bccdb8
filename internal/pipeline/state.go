package pipeline

import "sync/atomic"

// State is the lifecycle phase of a run. States only move forward; Failed
// and Done are terminal.
type State int32

const (
	Idle State = iota
	Reading
	Transforming
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Transforming:
		return "transforming"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type stateBox struct{ v atomic.Int32 }

func (b *stateBox) load() State { return State(b.v.Load()) }

// advance moves to s if s is later than the current state and the current
// state is not terminal.
func (b *stateBox) advance(s State) {
	for {
		cur := b.v.Load()
		if State(cur) >= Done || State(cur) >= s {
			return
		}
		if b.v.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// fail moves to Failed unless already terminal.
func (b *stateBox) fail() {
	for {
		cur := b.v.Load()
		if State(cur) >= Done {
			return
		}
		if b.v.CompareAndSwap(cur, int32(Failed)) {
			return
		}
	}
}
