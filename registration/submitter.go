package registration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/logging"
	"github.com/subnetops/regd/signing"
)

// Pending is the in-flight lifecycle handle of a dispatched extrinsic.
// Implemented by *chain.Pending.
type Pending interface {
	ExtrinsicHash() chain.Hash
	AwaitFinalized(ctx context.Context) (chain.FinalizationResult, error)
}

type submitClient interface {
	AccountNonce(ctx context.Context, account []byte) (uint64, error)
	SubmitAndWatch(ctx context.Context, ext chain.SignedExtrinsic) (*chain.Pending, error)
	GenesisHash() chain.Hash
	Runtime() chain.RuntimeVersion
}

// Submitter builds, signs and dispatches registration extrinsics. Dispatch
// is quick; inclusion is never awaited here.
type Submitter struct {
	client    submitClient
	identity  *signing.Identity
	netuid    uint16
	mortality uint64
}

func NewSubmitter(client submitClient, identity *signing.Identity, netuid uint16, mortality uint64) *Submitter {
	return &Submitter{
		client:    client,
		identity:  identity,
		netuid:    netuid,
		mortality: mortality,
	}
}

// Submit signs a burned_register call with the coldkey, anchored at blk
// with a validity window of mortality blocks so delayed inclusion cannot
// make it stale, and dispatches it. Returns the lifecycle handle without
// waiting for inclusion; pool rejections come back as *chain.SubmitError.
func (s *Submitter) Submit(ctx context.Context, blk chain.BlockDescriptor) (Pending, error) {
	logger := logging.FromContext(ctx).Named("submitter")

	call, err := chain.BurnedRegisterCall(s.netuid, s.identity.Hotkey.Public())
	if err != nil {
		return nil, fmt.Errorf("building registration call: %w", err)
	}

	nonce, err := s.client.AccountNonce(ctx, s.identity.Coldkey.Public())
	if err != nil {
		return nil, fmt.Errorf("fetching coldkey nonce: %w", err)
	}

	runtime := s.client.Runtime()
	ext, err := chain.SignExtrinsic(s.identity.Coldkey, call, chain.TxParams{
		Nonce:       nonce,
		Era:         chain.MortalEra(s.mortality, blk.Number),
		SpecVersion: runtime.SpecVersion,
		TxVersion:   runtime.TxVersion,
		GenesisHash: s.client.GenesisHash(),
		AnchorHash:  blk.Hash,
	})
	if err != nil {
		return nil, fmt.Errorf("signing extrinsic: %w", err)
	}

	start := time.Now()
	pending, err := s.client.SubmitAndWatch(ctx, ext)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	dispatchLatencyMetric.Observe(elapsed.Seconds())
	logger.Info("dispatched registration",
		zap.Uint64("block", blk.Number),
		zap.Stringer("extrinsic", ext.Hash),
		zap.Uint64("nonce", nonce),
		zap.Duration("dispatch_took", elapsed),
	)
	return pending, nil
}
