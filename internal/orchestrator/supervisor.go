package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Supervisor restarts a background task with exponential backoff,
// capped at 60 seconds, whenever it returns an error. A task returning
// nil (clean exit) is not restarted. Grounded on internal/node/node.go's
// pattern of per-task goroutines selecting on ctx.Done(): Supervisor
// generalizes that into a reusable wrapper that also recovers the task
// from a crash instead of taking the process down with it.
type Supervisor struct {
	name   string
	task   func(ctx context.Context) error
	logger zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewSupervisor wraps task under backoff-and-restart supervision.
func NewSupervisor(name string, task func(ctx context.Context) error, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		name:       name,
		task:       task,
		logger:     logger.With().Str("task", name).Logger(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 60 * time.Second,
	}
}

// Run blocks until ctx is cancelled or the task exits cleanly.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.logger.Info().Msg("supervised task exited cleanly")
			return
		}

		s.logger.Error().Err(err).Dur("backoff", backoff).Msg("supervised task crashed, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// runOnce recovers a panic from task and turns it into an error so the
// supervision loop treats a panic the same as a returned error.
func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("supervised task panicked")
			err = errTaskPanicked
		}
	}()
	return s.task(ctx)
}

var errTaskPanicked = errPanic{}

type errPanic struct{}

func (errPanic) Error() string { return "supervised task panicked" }
