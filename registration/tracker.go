package registration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/logging"
)

// Status of a registration attempt. Set once by the tracker when the
// terminal outcome is known; an attempt is never reused.
type Status int

const (
	StatusPending Status = iota
	StatusFinalized
	StatusRecoverable
	StatusAlreadyDone
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFinalized:
		return "finalized"
	case StatusRecoverable:
		return "recoverable"
	case StatusAlreadyDone:
		return "already_done"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func outcomeStatus(o Outcome) Status {
	switch o {
	case OutcomeRecoverable:
		return StatusRecoverable
	case OutcomeAlreadyDone:
		return StatusAlreadyDone
	default:
		return StatusFatal
	}
}

// Attempt records a single dispatched registration.
type Attempt struct {
	ID            uuid.UUID
	BlockNumber   uint64
	SubmittedAt   time.Time
	Status        Status
	ExtrinsicHash chain.Hash
}

type watchJob struct {
	attempt Attempt
	pending Pending
}

// Tracker awaits the terminal state of dispatched extrinsics on a
// fixed-size worker pool. It is strictly an observability and accounting
// sink: workers never touch scheduling state, and no retry is driven from
// here. The queue is bounded; when it is full new watches are dropped and
// counted rather than spawning without limit.
type Tracker struct {
	queue   chan watchJob
	results chan Attempt
	workers int
	timeout time.Duration
}

func NewTracker(workers, queueSize int, timeout time.Duration) *Tracker {
	return &Tracker{
		queue:   make(chan watchJob, queueSize),
		results: make(chan Attempt, queueSize),
		workers: workers,
		timeout: timeout,
	}
}

// Run blocks until ctx is cancelled, processing watch jobs on the pool.
func (t *Tracker) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("tracker")
	ctx = logging.NewContext(ctx, logger)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < t.workers; i++ {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-t.queue:
					t.track(ctx, job)
				}
			}
		})
	}
	return eg.Wait()
}

// Watch enqueues a finalization watch without blocking. It reports false
// when the queue is full and the job was dropped.
func (t *Tracker) Watch(attempt Attempt, pending Pending) bool {
	select {
	case t.queue <- watchJob{attempt: attempt, pending: pending}:
		return true
	default:
		droppedWatchesMetric.Inc()
		return false
	}
}

// Results delivers attempts whose terminal state is known. Consumed by the
// scheduler loop for logging and exit decisions only.
func (t *Tracker) Results() <-chan Attempt {
	return t.results
}

func (t *Tracker) track(ctx context.Context, job watchJob) {
	logger := logging.FromContext(ctx).With(
		zap.Stringer("attempt", job.attempt.ID),
		zap.Uint64("block", job.attempt.BlockNumber),
	)

	watchCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	attempt := job.attempt
	result, err := job.pending.AwaitFinalized(watchCtx)
	elapsed := time.Since(attempt.SubmittedAt)

	switch {
	case err == nil:
		attempt.Status = StatusFinalized
		finalizationLatencyMetric.Observe(elapsed.Seconds())
		outcomesMetric.WithLabelValues("finalized").Inc()
		logger.Info("registration finalized",
			zap.Stringer("extrinsic", result.ExtrinsicHash),
			zap.Stringer("in_block", result.BlockHash),
			zap.Duration("finalization_took", elapsed),
		)
	case ctx.Err() != nil:
		// Shutting down; nothing to record.
		return
	default:
		outcome := Classify(err)
		attempt.Status = outcomeStatus(outcome)
		outcomesMetric.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case OutcomeAlreadyDone:
			logger.Warn("hotkey is already registered", zap.Error(err))
		case OutcomeRecoverable:
			logger.Warn("finalization failed, next eligible block will retry",
				zap.Error(err), zap.Duration("watched_for", elapsed))
		default:
			logger.Error("registration failed", zap.Error(err), zap.Duration("watched_for", elapsed))
		}
	}

	select {
	case t.results <- attempt:
	case <-ctx.Done():
	}
}
