// Package blocks supplies the stream of block descriptors driving the
// registration scheduler, either by polling the chain head on a fixed
// cadence or by consuming a finalized-head push subscription.
package blocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/logging"
)

// DefaultPollInterval is the cadence of head polls. It is deliberately
// shorter than the block time so a new head is picked up early in its slot.
const DefaultPollInterval = 500 * time.Millisecond

// resubscribeDelay throttles re-establishing a dropped push subscription.
const resubscribeDelay = time.Second

// Source produces a lazy, effectively infinite sequence of block
// descriptors in strictly increasing order. Next only returns an error
// when ctx is cancelled or the source is beyond recovery; transient fetch
// failures are logged and retried internally.
type Source interface {
	Next(ctx context.Context) (chain.BlockDescriptor, error)
}

// HeadFetcher fetches the current chain head.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (chain.BlockDescriptor, error)
}

// Poller polls the chain head on a fixed cadence, yielding a descriptor
// only when its number is strictly greater than the last one yielded.
type Poller struct {
	fetcher  HeadFetcher
	interval time.Duration
	lastSeen uint64
}

func NewPoller(fetcher HeadFetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{fetcher: fetcher, interval: interval}
}

func (p *Poller) Next(ctx context.Context) (chain.BlockDescriptor, error) {
	logger := logging.FromContext(ctx).Named("poller")
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return chain.BlockDescriptor{}, ctx.Err()
		case <-timer.C:
		}
		timer.Reset(p.interval)

		blk, err := p.fetcher.LatestBlock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return chain.BlockDescriptor{}, ctx.Err()
			}
			logger.Warn("failed to fetch latest block", zap.Error(err))
			continue
		}
		if blk.Number <= p.lastSeen {
			continue
		}
		p.lastSeen = blk.Number
		return blk, nil
	}
}

// HeadStream is a single push subscription of finalized heads.
type HeadStream interface {
	Next(ctx context.Context) (chain.BlockDescriptor, error)
	Close(ctx context.Context) error
}

// SubscribeFunc opens a new finalized-head subscription.
type SubscribeFunc func(ctx context.Context) (HeadStream, error)

// FinalizedStream yields each finalized head exactly once, in increasing
// order. A dropped subscription is re-established transparently; only the
// initial subscription failure is fatal.
type FinalizedStream struct {
	subscribe SubscribeFunc
	stream    HeadStream
	lastSeen  uint64
}

func NewFinalizedStream(ctx context.Context, subscribe SubscribeFunc) (*FinalizedStream, error) {
	stream, err := subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening finalized head stream: %w", err)
	}
	return &FinalizedStream{subscribe: subscribe, stream: stream}, nil
}

func (f *FinalizedStream) Next(ctx context.Context) (chain.BlockDescriptor, error) {
	logger := logging.FromContext(ctx).Named("finalized-stream")

	for {
		blk, err := f.stream.Next(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return chain.BlockDescriptor{}, err
		case err != nil:
			logger.Warn("finalized head stream broken, resubscribing", zap.Error(err))
			if err := f.reopen(ctx); err != nil {
				return chain.BlockDescriptor{}, err
			}
			continue
		}
		if blk.Number <= f.lastSeen {
			continue
		}
		f.lastSeen = blk.Number
		return blk, nil
	}
}

func (f *FinalizedStream) reopen(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("finalized-stream")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
		stream, err := f.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("resubscribing to finalized heads failed", zap.Error(err))
			continue
		}
		f.stream = stream
		return nil
	}
}

func (f *FinalizedStream) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}
