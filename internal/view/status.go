package view

import "time"

// State is the load state of the view.
type State int

const (
	// StateIdle means no request is outstanding and nothing has loaded:
	// before activation, or after a teardown that interrupted a load.
	StateIdle State = iota
	StatePending
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Status is the tagged load outcome. Err is set only when State is StateFailed.
type Status struct {
	State State
	Err   error
	Since time.Time
}

// Loading reports whether the feed request is outstanding.
func (s Status) Loading() bool {
	return s.State == StatePending
}

// Meta describes the feed document behind a ready view.
type Meta struct {
	SyncToken  string
	CreateDate time.Time
	LoadedAt   time.Time
	Skipped    int
	Networks   int
}
