package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stateroom/stateroom/internal/domain"
)

const tracerName = "github.com/stateroom/stateroom/internal/adapter/otel"

// TracingEntityRepository wraps a domain.EntityRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors.
type TracingEntityRepository struct {
	next   domain.EntityRepository
	tracer trace.Tracer
}

// Compile-time check: TracingEntityRepository implements domain.EntityRepository.
var _ domain.EntityRepository = (*TracingEntityRepository)(nil)

// NewTracingEntityRepository creates a tracing decorator around the given
// repository.
func NewTracingEntityRepository(next domain.EntityRepository) *TracingEntityRepository {
	return &TracingEntityRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingEntityRepository) Add(ctx context.Context, machine, entityID, initialState string, now time.Time) error {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.Add",
		trace.WithAttributes(
			attribute.String("fsm.machine", machine),
			attribute.String("fsm.entity_id", entityID),
			attribute.String("fsm.state", initialState),
		),
	)
	defer span.End()

	err := r.next.Add(ctx, machine, entityID, initialState, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingEntityRepository) Get(ctx context.Context, machine, entityID string) (domain.Entity, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.Get",
		trace.WithAttributes(
			attribute.String("fsm.machine", machine),
			attribute.String("fsm.entity_id", entityID),
		),
	)
	defer span.End()

	ent, err := r.next.Get(ctx, machine, entityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ent, err
}

func (r *TracingEntityRepository) FindByState(ctx context.Context, machine, state string) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.FindByState",
		trace.WithAttributes(
			attribute.String("fsm.machine", machine),
			attribute.String("fsm.state", state),
		),
	)
	defer span.End()

	ids, err := r.next.FindByState(ctx, machine, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(ids)))
	}
	return ids, err
}

func (r *TracingEntityRepository) CommitTransition(ctx context.Context, c domain.TransitionCommit) error {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.CommitTransition",
		trace.WithAttributes(
			attribute.String("fsm.machine", c.Machine),
			attribute.String("fsm.entity_id", c.EntityID),
			attribute.String("fsm.state_from", c.StateFrom),
			attribute.String("fsm.state_to", c.StateTo),
		),
	)
	defer span.End()

	err := r.next.CommitTransition(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingEntityRepository) RecordFailure(ctx context.Context, f domain.FailureRecord) error {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.RecordFailure",
		trace.WithAttributes(
			attribute.String("fsm.machine", f.Machine),
			attribute.String("fsm.entity_id", f.EntityID),
			attribute.String("fsm.state", f.State),
		),
	)
	defer span.End()

	err := r.next.RecordFailure(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingEntityRepository) History(ctx context.Context, machine, entityID string) ([]domain.HistoryRecord, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.History",
		trace.WithAttributes(
			attribute.String("fsm.machine", machine),
			attribute.String("fsm.entity_id", entityID),
		),
	)
	defer span.End()

	records, err := r.next.History(ctx, machine, entityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(records)))
	}
	return records, err
}
