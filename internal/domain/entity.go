package domain

import "time"

// Entity tracks the current state of one externally-identified object within
// one machine. The id is opaque and owned by the calling domain; the engine
// only ever overwrites State and ChangeTime.
type Entity struct {
	Machine    string
	EntityID   string
	State      string
	ChangeTime time.Time
}

// HistoryRecord is one immutable audit row: a successful transition, a
// genuine self-transition, or a failed attempt.
//
// The creation record is the only one with a nil ChangeTimePrevious.
// StateFrom == StateTo with a non-empty Message marks a failed attempt;
// with an empty Message it marks a genuine self-transition.
type HistoryRecord struct {
	ID                 int64
	Machine            string
	EntityID           string
	StateFrom          string
	StateTo            string
	ChangeTime         time.Time
	ChangeTimePrevious *time.Time
	Message            string
}

// Failed reports whether this record captures a failed transition attempt.
func (r HistoryRecord) Failed() bool {
	return r.StateFrom == r.StateTo && r.Message != ""
}

// TransitionCommit carries the atomic write of a successful transition:
// the entity state overwrite plus the appended history record.
type TransitionCommit struct {
	Machine            string
	EntityID           string
	StateFrom          string
	StateTo            string
	ChangeTime         time.Time
	ChangeTimePrevious time.Time
}

// FailureRecord carries the history append for a failed command execution.
// The entity row is left untouched.
type FailureRecord struct {
	Machine            string
	EntityID           string
	State              string
	ChangeTime         time.Time
	ChangeTimePrevious time.Time
	Message            string
}
