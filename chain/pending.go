package chain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Pending is the handle of a dispatched extrinsic. AwaitFinalized consumes
// the node's transaction-status stream until a terminal state is reached.
type Pending struct {
	sub           *subscription
	extrinsicHash Hash
}

// ExtrinsicHash returns the digest of the submitted extrinsic.
func (p *Pending) ExtrinsicHash() Hash {
	return p.extrinsicHash
}

// Terminal watch states other than "finalized". Anything non-terminal
// ("ready", "broadcast", "inBlock", "retracted", ...) keeps the watch open.
var terminalStates = map[string]ErrorCode{
	"usurped":         CodeUsurped,
	"dropped":         CodeDropped,
	"invalid":         CodeInvalidTransaction,
	"finalityTimeout": CodeFinalityTimeout,
}

// AwaitFinalized blocks until the extrinsic reaches a terminal state. It
// returns the finalization result on success, or a *SubmitError carrying
// the structured code of the terminal failure. The watch is torn down on
// return regardless of outcome.
func (p *Pending) AwaitFinalized(ctx context.Context) (FinalizationResult, error) {
	defer func() {
		// Best-effort teardown; the subscription is gone anyway once the
		// node reported a terminal state.
		unsubCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = p.sub.unsubscribe(unsubCtx)
	}()

	for {
		payload, err := p.sub.next(ctx)
		if err != nil {
			return FinalizationResult{}, err
		}

		// A status update is either a bare string ("ready") or a
		// single-key object ({"finalized": "0x..."}).
		var state string
		if err := json.Unmarshal(payload, &state); err == nil {
			continue
		}
		var update map[string]json.RawMessage
		if err := json.Unmarshal(payload, &update); err != nil {
			return FinalizationResult{}, fmt.Errorf("decoding transaction status: %w", err)
		}

		if raw, ok := update["finalized"]; ok {
			var blockHash Hash
			if err := json.Unmarshal(raw, &blockHash); err != nil {
				return FinalizationResult{}, fmt.Errorf("decoding finalized block hash: %w", err)
			}
			return FinalizationResult{
				BlockHash:     blockHash,
				ExtrinsicHash: p.extrinsicHash,
			}, nil
		}
		for state, code := range terminalStates {
			if _, ok := update[state]; ok {
				return FinalizationResult{}, &SubmitError{
					Code:    code,
					Message: fmt.Sprintf("transaction %s reached terminal state %q", p.extrinsicHash, state),
				}
			}
		}
		// Non-terminal object states (broadcast, inBlock, retracted).
	}
}
