package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/stateroom/stateroom/internal/domain"
)

// Compile-time check: Publisher implements domain.EventPublisher.
var _ domain.EventPublisher = (*Publisher)(nil)

// TransitionJobArgs carries one committed transition (or recorded failure)
// into the job queue. River serializes this as JSON into its job table. It
// is a snapshot taken at publish time, so workers never re-read the engine's
// tables.
type TransitionJobArgs struct {
	Machine    string `json:"machine"`
	EntityID   string `json:"entity_id"`
	StateFrom  string `json:"state_from"`
	StateTo    string `json:"state_to"`
	ChangeTime string `json:"changetime"`
	Message    string `json:"message,omitempty"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (TransitionJobArgs) Kind() string { return "transition.recorded" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a transition event as an async job in River.
func (p *Publisher) Publish(ctx context.Context, ev domain.TransitionEvent) error {
	_, err := p.client.Insert(ctx, TransitionJobArgs{
		Machine:    ev.Machine,
		EntityID:   ev.EntityID,
		StateFrom:  ev.StateFrom,
		StateTo:    ev.StateTo,
		ChangeTime: ev.ChangeTime.Format(time.RFC3339Nano),
		Message:    ev.Message,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing transition job: %w", err)
	}
	return nil
}
