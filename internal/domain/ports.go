package domain

import (
	"context"
	"time"
)

// EntityContext is what rule and command capabilities see during a
// transition attempt: the entity snapshot plus the candidate edge, and an
// optional payload built by the machine's factory capability.
type EntityContext struct {
	Entity     Entity
	Transition Transition
	Payload    any
}

// Rule is a guard predicate deciding whether a transition may fire.
// Evaluation must be side-effect free; an error is treated as a failed
// attempt for that candidate only.
type Rule interface {
	Evaluate(ctx context.Context, ec EntityContext) (bool, error)
}

// Command is the side-effecting capability executed when a transition fires.
// A returned error leaves the entity in its prior state.
type Command interface {
	Execute(ctx context.Context, ec EntityContext) error
}

// Factory builds the per-entity payload exposed to rules and commands.
// It is resolved once at load time and cached with the machine definition.
type Factory interface {
	New(machine, entityID string) any
}

// ConfigRepository defines the persistence contract for machine
// configuration. Configuration is owned by the administrative layer and is
// read-mostly.
type ConfigRepository interface {
	CreateMachine(ctx context.Context, m Machine) error
	CreateState(ctx context.Context, s State) error
	CreateTransition(ctx context.Context, t Transition) error
	// LoadMachine returns the full configuration of a machine, transitions
	// in declaration order. Unknown machines yield ErrMachineNotFound.
	LoadMachine(ctx context.Context, name string) (MachineConfig, error)
}

// EntityRepository defines the persistence contract for entity state and
// its transition history. Add and CommitTransition are atomic multi-row
// writes; history is append-only and the engine is its sole writer.
type EntityRepository interface {
	// Add creates the entity in initialState together with its creation
	// history record (nil previous changetime). Duplicates yield
	// *AlreadyExistsError and write nothing.
	Add(ctx context.Context, machine, entityID, initialState string, now time.Time) error
	Get(ctx context.Context, machine, entityID string) (Entity, error)
	FindByState(ctx context.Context, machine, state string) ([]string, error)
	// CommitTransition overwrites the entity state and appends the matching
	// history record in one transaction. It fails with ErrStaleState when
	// the entity is no longer in the commit's source state.
	CommitTransition(ctx context.Context, c TransitionCommit) error
	// RecordFailure appends a failed-attempt history record, leaving the
	// entity row untouched.
	RecordFailure(ctx context.Context, f FailureRecord) error
	History(ctx context.Context, machine, entityID string) ([]HistoryRecord, error)
}

// TransitionEvent describes a committed transition or a recorded failure,
// published for downstream consumers after the critical section.
type TransitionEvent struct {
	Machine    string
	EntityID   string
	StateFrom  string
	StateTo    string
	ChangeTime time.Time
	Message    string // non-empty for failed attempts
}

// EventPublisher defines the contract for emitting transition events.
type EventPublisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
}
