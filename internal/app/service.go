package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stateroom/stateroom/internal/domain"
)

// Engine orchestrates entity lifecycle operations: entity creation, rule
// evaluation, command execution, state update, and history append.
type Engine struct {
	loader    *Loader
	config    domain.ConfigRepository
	entities  domain.EntityRepository
	publisher domain.EventPublisher
	logger    *slog.Logger
	locks     *entityLocks
}

// NewEngine creates an engine with the given adapters.
func NewEngine(loader *Loader, config domain.ConfigRepository, entities domain.EntityRepository, publisher domain.EventPublisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		loader:    loader,
		config:    config,
		entities:  entities,
		publisher: publisher,
		logger:    logger,
		locks:     newEntityLocks(),
	}
}

// LoadMachine returns the validated, compiled definition of a machine.
func (e *Engine) LoadMachine(ctx context.Context, name string) (*Definition, error) {
	return e.loader.Load(ctx, name)
}

// CreateMachine persists a new machine definition namespace.
func (e *Engine) CreateMachine(ctx context.Context, m domain.Machine) error {
	if !domain.ValidStateName(m.Name) {
		return &domain.ConfigurationError{Machine: m.Name, Reason: "machine name is not a normalized token"}
	}
	if err := e.config.CreateMachine(ctx, m); err != nil {
		return err
	}
	e.loader.Invalidate(m.Name)
	return nil
}

// CreateState adds a state to a machine's configuration.
func (e *Engine) CreateState(ctx context.Context, s domain.State) error {
	if !domain.ValidStateName(s.Name) {
		return &domain.ConfigurationError{Machine: s.Machine, Reason: "state name " + fmt.Sprintf("%q", s.Name) + " is not a normalized token"}
	}
	switch s.Type {
	case domain.StateTypeInitial, domain.StateTypeNormal, domain.StateTypeFinal:
	default:
		return &domain.ConfigurationError{Machine: s.Machine, Reason: fmt.Sprintf("unknown state type %q", s.Type)}
	}
	if err := e.config.CreateState(ctx, s); err != nil {
		return err
	}
	e.loader.Invalidate(s.Machine)
	return nil
}

// CreateTransition adds a transition to a machine's configuration.
func (e *Engine) CreateTransition(ctx context.Context, t domain.Transition) error {
	if err := e.config.CreateTransition(ctx, t); err != nil {
		return err
	}
	e.loader.Invalidate(t.Machine)
	return nil
}

// AddEntity registers an entity with a machine, placing it in the machine's
// initial state and writing the creation history record atomically.
// Duplicate pairs fail with *domain.AlreadyExistsError and write nothing.
func (e *Engine) AddEntity(ctx context.Context, machine, entityID string) (domain.Entity, error) {
	def, err := e.loader.Load(ctx, machine)
	if err != nil {
		return domain.Entity{}, err
	}
	if entityID == "" {
		return domain.Entity{}, fmt.Errorf("entity id must not be empty")
	}

	now := time.Now().UTC()
	if err := e.entities.Add(ctx, machine, entityID, def.InitialState(), now); err != nil {
		return domain.Entity{}, err
	}

	ent := domain.Entity{Machine: machine, EntityID: entityID, State: def.InitialState(), ChangeTime: now}

	e.publish(ctx, domain.TransitionEvent{
		Machine:    machine,
		EntityID:   entityID,
		StateFrom:  ent.State,
		StateTo:    ent.State,
		ChangeTime: now,
	})

	return ent, nil
}

// GetState returns the entity's current state record.
func (e *Engine) GetState(ctx context.Context, machine, entityID string) (domain.Entity, error) {
	if _, err := e.loader.Load(ctx, machine); err != nil {
		return domain.Entity{}, err
	}
	return e.entities.Get(ctx, machine, entityID)
}

// FindEntitiesByState returns the ids of all entities of a machine currently
// in the given state.
func (e *Engine) FindEntitiesByState(ctx context.Context, machine, state string) ([]string, error) {
	if _, err := e.loader.Load(ctx, machine); err != nil {
		return nil, err
	}
	return e.entities.FindByState(ctx, machine, state)
}

// GetHistory returns the entity's transition history in chain order.
func (e *Engine) GetHistory(ctx context.Context, machine, entityID string) ([]domain.HistoryRecord, error) {
	if _, err := e.loader.Load(ctx, machine); err != nil {
		return nil, err
	}
	if _, err := e.entities.Get(ctx, machine, entityID); err != nil {
		return nil, err
	}
	return e.entities.History(ctx, machine, entityID)
}

// Transition attempts to move an entity out of its current state. Candidate
// transitions are evaluated in priority order (declaration order breaks
// ties); when target is non-empty only edges landing on it are considered.
// The first candidate whose rule accepts fires: its command runs, then the
// state overwrite and the history append commit atomically.
//
// A failing rule is logged and skips only that candidate. A failing command
// leaves the entity untouched, appends a failed-attempt history record, and
// surfaces *domain.TransitionFailedError. When no rule accepts, the call
// ends with *domain.NoApplicableTransitionError and nothing is written.
//
// Attempts on the same (machine, entity) pair serialize; distinct entities
// proceed independently.
func (e *Engine) Transition(ctx context.Context, machine, entityID, target string) (domain.Entity, error) {
	def, err := e.loader.Load(ctx, machine)
	if err != nil {
		return domain.Entity{}, err
	}

	release, err := e.locks.acquire(ctx, machine, entityID)
	if err != nil {
		return domain.Entity{}, err
	}
	defer release()

	ent, err := e.entities.Get(ctx, machine, entityID)
	if err != nil {
		return domain.Entity{}, err
	}

	payload := def.Payload(machine, entityID)

	var selected *CompiledTransition
	for _, cand := range def.Outgoing(ent.State) {
		if target != "" && cand.StateTo != target {
			continue
		}

		accepted, err := cand.Rule.Evaluate(ctx, domain.EntityContext{
			Entity:     ent,
			Transition: cand.Transition,
			Payload:    payload,
		})
		if err != nil {
			// Non-fatal: record for audit visibility and move on to the
			// next candidate.
			ruleErr := &domain.RuleEvaluationError{Machine: machine, Rule: cand.RuleRef, Err: err}
			e.logger.WarnContext(ctx, "rule evaluation failed",
				"machine", machine,
				"entity_id", entityID,
				"state", ent.State,
				"rule", cand.RuleRef,
				"error", ruleErr,
			)
			continue
		}
		if accepted {
			selected = &cand
			break
		}
	}

	if selected == nil {
		return domain.Entity{}, &domain.NoApplicableTransitionError{
			Machine:  machine,
			EntityID: entityID,
			State:    ent.State,
		}
	}

	landing, err := def.Step(ctx, ent.State, selected.StateTo)
	if err != nil {
		return domain.Entity{}, err
	}

	ec := domain.EntityContext{Entity: ent, Transition: selected.Transition, Payload: payload}
	if err := selected.Command.Execute(ctx, ec); err != nil {
		return domain.Entity{}, e.recordFailure(ctx, ent, selected.CommandRef, err)
	}

	now := time.Now().UTC()
	if err := e.entities.CommitTransition(ctx, domain.TransitionCommit{
		Machine:            machine,
		EntityID:           entityID,
		StateFrom:          ent.State,
		StateTo:            landing,
		ChangeTime:         now,
		ChangeTimePrevious: ent.ChangeTime,
	}); err != nil {
		return domain.Entity{}, err
	}

	updated := domain.Entity{Machine: machine, EntityID: entityID, State: landing, ChangeTime: now}

	e.publish(ctx, domain.TransitionEvent{
		Machine:    machine,
		EntityID:   entityID,
		StateFrom:  ent.State,
		StateTo:    landing,
		ChangeTime: now,
	})

	return updated, nil
}

// recordFailure persists the failed attempt as a self-loop history record
// and returns the wrapped TransitionFailedError. The append uses a
// cancellation-free context so the audit row lands even when the command
// failed due to the caller's deadline.
func (e *Engine) recordFailure(ctx context.Context, ent domain.Entity, commandRef string, cause error) error {
	now := time.Now().UTC()
	message := fmt.Sprintf("%s: %v", commandRef, cause)

	failure := domain.FailureRecord{
		Machine:            ent.Machine,
		EntityID:           ent.EntityID,
		State:              ent.State,
		ChangeTime:         now,
		ChangeTimePrevious: ent.ChangeTime,
		Message:            message,
	}
	if err := e.entities.RecordFailure(context.WithoutCancel(ctx), failure); err != nil {
		e.logger.ErrorContext(ctx, "recording failed attempt",
			"machine", ent.Machine,
			"entity_id", ent.EntityID,
			"error", err,
		)
	}

	e.publish(ctx, domain.TransitionEvent{
		Machine:    ent.Machine,
		EntityID:   ent.EntityID,
		StateFrom:  ent.State,
		StateTo:    ent.State,
		ChangeTime: now,
		Message:    message,
	})

	return &domain.TransitionFailedError{
		Machine:  ent.Machine,
		EntityID: ent.EntityID,
		State:    ent.State,
		Command:  commandRef,
		Err:      cause,
	}
}

// publish emits a transition event. Publication sits outside the commit, so
// a publisher error is logged rather than surfaced: the transition stands.
func (e *Engine) publish(ctx context.Context, ev domain.TransitionEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.WarnContext(ctx, "publishing transition event",
			"machine", ev.Machine,
			"entity_id", ev.EntityID,
			"error", err,
		)
	}
}
