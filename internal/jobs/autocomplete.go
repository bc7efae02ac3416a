package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-spa/internal/lock"
	"github.com/noah-isme/backend-spa/internal/reservation"
)

// TaskAutoComplete triggers one reservation auto-complete sweep.
const TaskAutoComplete = "reservation:autocomplete"

const (
	// QueueCritical holds the sweep so it is not starved by email retries.
	QueueCritical = "critical"
	startupTaskID = "reservation:autocomplete:startup"
)

// Sweeper runs a single auto-complete pass.
type Sweeper interface {
	Sweep(ctx context.Context) reservation.Result
}

// Locker grants a non-blocking lease on a key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewAutoCompleteTask builds the sweep task. Runs do not retry; the next tick
// picks up whatever a failed run left behind.
func NewAutoCompleteTask() *asynq.Task {
	return asynq.NewTask(TaskAutoComplete, nil, asynq.MaxRetry(0), asynq.Queue(QueueCritical))
}

// RegisterSchedule adds the periodic sweep to s and returns the entry id.
func RegisterSchedule(s *asynq.Scheduler, every time.Duration) (string, error) {
	if every <= 0 {
		return "", errors.New("jobs: sweep interval must be positive")
	}
	return s.Register(fmt.Sprintf("@every %s", every), NewAutoCompleteTask())
}

// EnqueueStartup schedules one sweep after delay. Concurrent worker starts
// share the same task id so only one startup sweep is queued.
func EnqueueStartup(ctx context.Context, client Enqueuer, delay time.Duration) error {
	_, err := client.EnqueueContext(ctx, NewAutoCompleteTask(), asynq.ProcessIn(delay), asynq.TaskID(startupTaskID))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// AutoCompleteHandler runs the sweep while holding the cluster-wide lease.
type AutoCompleteHandler struct {
	Sweeper Sweeper
	Locker  Locker
	LockTTL time.Duration
	Logger  *zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h AutoCompleteHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if h.Sweeper == nil {
		return fmt.Errorf("auto-complete: sweeper not configured: %w", asynq.SkipRetry)
	}
	run := func(ctx context.Context) error {
		res := h.Sweeper.Sweep(ctx)
		if res.Err != nil {
			return fmt.Errorf("auto-complete: %v: %w", res.Err, asynq.SkipRetry)
		}
		return nil
	}
	if h.Locker == nil {
		return run(ctx)
	}

	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	err := h.Locker.TryLock(ctx, lock.SweepKey, ttl, run)
	if errors.Is(err, lock.ErrNotAcquired) {
		h.logger().Info().Msg("auto-complete sweep already running elsewhere")
		return nil
	}
	return err
}

func (h AutoCompleteHandler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
