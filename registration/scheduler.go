package registration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subnetops/regd/blocks"
	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/logging"
)

type submitter interface {
	Submit(ctx context.Context, blk chain.BlockDescriptor) (Pending, error)
}

type watcher interface {
	Watch(attempt Attempt, pending Pending) bool
	Results() <-chan Attempt
}

// state is owned exclusively by the scheduler loop and mutated only inside
// a scheduling step. lastProcessed never decreases.
type state struct {
	lastProcessed uint64
	attempts      uint64
}

// Scheduler drives the control loop: block trigger, slot gate, dispatch,
// fire-and-forget finalization watch, and immediately back to the trigger.
// It never blocks on confirmation latency.
type Scheduler struct {
	cfg     Config
	slot    SlotConfig
	source  blocks.Source
	sub     submitter
	tracker watcher

	state state
}

func NewScheduler(cfg Config, source blocks.Source, sub submitter, tracker watcher) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		slot:    cfg.Slot(),
		source:  source,
		sub:     sub,
		tracker: tracker,
	}
}

// Attempts returns the number of submissions dispatched so far. Only
// meaningful once Run has returned, as the count is owned by the loop.
func (s *Scheduler) Attempts() uint64 {
	return s.state.attempts
}

// Run processes blocks until ctx is cancelled or, depending on the mode
// and the exit-when-registered policy, until a terminal tracker result.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("scheduler")
	ctx = logging.NewContext(ctx, logger)

	logger.Info("starting registration race",
		zap.Uint64("partition_count", s.slot.Count),
		zap.Uint64("partition_index", s.slot.Index),
		zap.String("mode", string(s.cfg.Mode)),
	)

	// Pump the block source on the side so the loop can also react to
	// tracker results.
	trigger := make(chan chain.BlockDescriptor)
	sourceErr := make(chan error, 1)
	go func() {
		for {
			blk, err := s.source.Next(ctx)
			if err != nil {
				sourceErr <- err
				return
			}
			select {
			case <-ctx.Done():
				return
			case trigger <- blk:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sourceErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case blk := <-trigger:
			if done := s.step(ctx, blk); done {
				return nil
			}
		case attempt := <-s.tracker.Results():
			if done := s.onResult(ctx, attempt); done {
				return nil
			}
		}
	}
}

// step runs one scheduling transition for a freshly observed block. It
// reports true when the loop should exit.
func (s *Scheduler) step(ctx context.Context, blk chain.BlockDescriptor) bool {
	logger := logging.FromContext(ctx)

	// Duplicate or stale descriptors are dropped, never reprocessed.
	if blk.Number <= s.state.lastProcessed {
		return false
	}
	s.state.lastProcessed = blk.Number

	if !s.slot.Eligible(blk.Number) {
		ineligibleBlocksMetric.Inc()
		logger.Debug("skipping block outside our slot",
			zap.Uint64("block", blk.Number),
			zap.Uint64("block_slot", blk.Number%s.slot.Count),
			zap.Uint64("our_slot", s.slot.Index),
		)
		return false
	}

	s.state.attempts++
	attemptsMetric.Inc()
	attempt := Attempt{
		ID:          uuid.New(),
		BlockNumber: blk.Number,
		SubmittedAt: time.Now(),
		Status:      StatusPending,
	}
	logger.Info("eligible block, attempting registration",
		zap.Uint64("attempt_count", s.state.attempts),
		zap.Uint64("block", blk.Number),
		zap.Stringer("block_hash", blk.Hash),
		zap.Stringer("attempt", attempt.ID),
	)

	pending, err := s.sub.Submit(ctx, blk)
	if err != nil {
		outcome := Classify(err)
		outcomesMetric.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case OutcomeRecoverable:
			logger.Warn("submission rejected, next eligible block will retry", zap.Error(err))
		case OutcomeAlreadyDone:
			logger.Warn("hotkey is already registered", zap.Error(err))
			if s.cfg.ExitWhenRegistered {
				return true
			}
		default:
			logger.Error("submission failed", zap.Error(err))
		}
		return false
	}

	attempt.ExtrinsicHash = pending.ExtrinsicHash()
	if !s.tracker.Watch(attempt, pending) {
		logger.Warn("tracker queue full, finalization of this attempt will not be watched",
			zap.Stringer("attempt", attempt.ID))
	}
	return false
}

// onResult reacts to a terminal tracker outcome. Results only ever decide
// whether to keep racing; they never mutate gating state.
func (s *Scheduler) onResult(ctx context.Context, attempt Attempt) bool {
	logger := logging.FromContext(ctx)

	switch attempt.Status {
	case StatusFinalized:
		if s.cfg.Mode == ModeSingleShot {
			logger.Info("registration confirmed, exiting",
				zap.Stringer("attempt", attempt.ID),
				zap.Uint64("block", attempt.BlockNumber),
			)
			return true
		}
		logger.Info("registration confirmed, continuing to race for further identities",
			zap.Stringer("attempt", attempt.ID))
	case StatusAlreadyDone:
		if s.cfg.ExitWhenRegistered {
			logger.Info("hotkey already registered, exiting", zap.Stringer("attempt", attempt.ID))
			return true
		}
	}
	return false
}
