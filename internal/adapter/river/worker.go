package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// TransitionWorker processes transition event jobs from the River queue.
// For now it logs the event; downstream dispatch (webhooks, notifications)
// hangs off this worker.
type TransitionWorker struct {
	river.WorkerDefaults[TransitionJobArgs]
}

// Work processes a single transition event job.
func (w *TransitionWorker) Work(ctx context.Context, job *river.Job[TransitionJobArgs]) error {
	slog.InfoContext(ctx, "processing transition event",
		"machine", job.Args.Machine,
		"entity_id", job.Args.EntityID,
		"state_from", job.Args.StateFrom,
		"state_to", job.Args.StateTo,
		"failed", job.Args.Message != "",
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
