package registration_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/logging"
	"github.com/subnetops/regd/registration"
)

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return logging.NewContext(ctx, zaptest.NewLogger(t)), cancel
}

// fakeSource replays a fixed list of descriptors, then blocks until
// cancellation.
type fakeSource struct {
	blocks []chain.BlockDescriptor
	next   int
}

func (s *fakeSource) Next(ctx context.Context) (chain.BlockDescriptor, error) {
	if s.next >= len(s.blocks) {
		<-ctx.Done()
		return chain.BlockDescriptor{}, ctx.Err()
	}
	blk := s.blocks[s.next]
	s.next++
	return blk, nil
}

func numbered(numbers ...uint64) []chain.BlockDescriptor {
	out := make([]chain.BlockDescriptor, len(numbers))
	for i, n := range numbers {
		out[i] = chain.BlockDescriptor{Number: n}
	}
	return out
}

type fakePending struct {
	hash    chain.Hash
	release <-chan struct{}
	result  chain.FinalizationResult
	err     error
}

func (p *fakePending) ExtrinsicHash() chain.Hash { return p.hash }

func (p *fakePending) AwaitFinalized(ctx context.Context) (chain.FinalizationResult, error) {
	if p.release != nil {
		select {
		case <-ctx.Done():
			return chain.FinalizationResult{}, ctx.Err()
		case <-p.release:
		}
	}
	return p.result, p.err
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   atomic.Uint64
	blocks  []uint64
	pending func() registration.Pending
	err     error
}

func (s *fakeSubmitter) Submit(ctx context.Context, blk chain.BlockDescriptor) (registration.Pending, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.blocks = append(s.blocks, blk.Number)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.pending != nil {
		return s.pending(), nil
	}
	return &fakePending{}, nil
}

func (s *fakeSubmitter) submittedBlocks() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.blocks...)
}

func newTestConfig() registration.Config {
	cfg := registration.DefaultConfig()
	cfg.TrackerWorkers = 2
	cfg.TrackerQueue = 16
	cfg.ConfirmationTimeout = 0
	return cfg
}

func runScheduler(
	ctx context.Context,
	cfg registration.Config,
	source *fakeSource,
	sub *fakeSubmitter,
) (*registration.Scheduler, *errgroup.Group, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	tracker := registration.NewTracker(cfg.TrackerWorkers, cfg.TrackerQueue, cfg.ConfirmationTimeout)
	scheduler := registration.NewScheduler(cfg, source, sub, tracker)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return tracker.Run(ctx) })
	eg.Go(func() error {
		defer cancel() // stop the tracker once the race is over
		return scheduler.Run(ctx)
	})
	return scheduler, eg, cancel
}

func TestSchedulerDeduplicatesBlocks(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)

	source := &fakeSource{blocks: numbered(50, 50, 51)}
	sub := &fakeSubmitter{err: &chain.SubmitError{Code: chain.CodeStaleTransaction, Message: "Stale"}}

	scheduler, eg, cancel := runScheduler(ctx, newTestConfig(), source, sub)
	require.Eventually(t, func() bool { return sub.calls.Load() == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, eg.Wait())

	require.Equal(t, []uint64{50, 51}, sub.submittedBlocks())
	require.Equal(t, uint64(2), scheduler.Attempts())
}

func TestSchedulerGatesOnSlot(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)

	cfg := newTestConfig()
	cfg.PartitionCount = 3
	cfg.PartitionIndex = 1

	source := &fakeSource{blocks: numbered(99, 100, 101, 102, 103)}
	sub := &fakeSubmitter{}

	_, eg, cancel := runScheduler(ctx, cfg, source, sub)
	// 100 and 103 are the only numbers ≡ 1 (mod 3).
	require.Eventually(t, func() bool { return sub.calls.Load() == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, eg.Wait())

	require.Equal(t, []uint64{100, 103}, sub.submittedBlocks())
}

func TestSchedulerSurvivesRecoverableErrors(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)

	source := &fakeSource{blocks: numbered(1, 2, 3)}
	sub := &fakeSubmitter{err: &chain.SubmitError{Code: chain.CodeNonceConflict, Message: "invalid nonce"}}

	_, eg, cancel := runScheduler(ctx, newTestConfig(), source, sub)
	require.Eventually(t, func() bool { return sub.calls.Load() == 3 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, eg.Wait())
}

func TestSchedulerSurvivesFatalAttempts(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)

	source := &fakeSource{blocks: numbered(1, 2)}
	sub := &fakeSubmitter{err: &chain.SubmitError{Code: chain.CodeUnknown, Message: "boom"}}

	_, eg, cancel := runScheduler(ctx, newTestConfig(), source, sub)
	require.Eventually(t, func() bool { return sub.calls.Load() == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, eg.Wait())
}

func TestSchedulerSingleShotExitsOnFinalization(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)

	cfg := newTestConfig()
	cfg.Mode = registration.ModeSingleShot

	source := &fakeSource{blocks: numbered(1)}
	sub := &fakeSubmitter{pending: func() registration.Pending {
		return &fakePending{result: chain.FinalizationResult{ExtrinsicHash: chain.Hash{0x01}}}
	}}

	_, eg, _ := runScheduler(ctx, cfg, source, sub)
	// Run must return on its own, without external cancellation.
	require.NoError(t, eg.Wait())
	require.Equal(t, uint64(1), sub.calls.Load())
}

func TestSchedulerAlreadyRegisteredPolicy(t *testing.T) {
	t.Parallel()

	t.Run("continues by default", func(t *testing.T) {
		t.Parallel()
		ctx, _ := testContext(t)

		source := &fakeSource{blocks: numbered(1, 2, 3)}
		sub := &fakeSubmitter{err: &chain.SubmitError{Code: chain.CodeAlreadyRegistered, Message: "AlreadyRegistered"}}

		_, eg, cancel := runScheduler(ctx, newTestConfig(), source, sub)
		require.Eventually(t, func() bool { return sub.calls.Load() == 3 }, 5*time.Second, time.Millisecond)
		cancel()
		require.NoError(t, eg.Wait())
	})

	t.Run("exits when configured to", func(t *testing.T) {
		t.Parallel()
		ctx, _ := testContext(t)

		cfg := newTestConfig()
		cfg.ExitWhenRegistered = true

		source := &fakeSource{blocks: numbered(1, 2, 3)}
		sub := &fakeSubmitter{err: &chain.SubmitError{Code: chain.CodeAlreadyRegistered, Message: "AlreadyRegistered"}}

		_, eg, _ := runScheduler(ctx, cfg, source, sub)
		require.NoError(t, eg.Wait())
		require.Equal(t, uint64(1), sub.calls.Load())
	})
}

func TestSchedulerNeverBlocksOnConfirmation(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)

	cfg := newTestConfig()
	cfg.Mode = registration.ModeSingleShot

	// Confirmations stay pending until released, long after several
	// further eligible blocks have been observed.
	release := make(chan struct{})
	source := &fakeSource{blocks: numbered(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)}
	sub := &fakeSubmitter{pending: func() registration.Pending {
		return &fakePending{release: release, result: chain.FinalizationResult{}}
	}}

	_, eg, _ := runScheduler(ctx, cfg, source, sub)

	// The scheduler must keep dispatching while confirmations hang.
	require.Eventually(t, func() bool { return sub.calls.Load() >= 3 }, 5*time.Second, time.Millisecond)
	close(release)
	require.NoError(t, eg.Wait())
	require.GreaterOrEqual(t, sub.calls.Load(), uint64(3))
}
