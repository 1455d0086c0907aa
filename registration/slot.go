package registration

import (
	"errors"
	"fmt"
)

var ErrPartitionIndexOutOfRange = errors.New("partition index out of range")

// SlotConfig assigns this instance a rotating 1-in-Count share of
// submission opportunities. Fixed for the process lifetime.
type SlotConfig struct {
	Count uint64
	Index uint64
}

// SingleSlot covers every block, recovering the always-eligible behavior
// of a lone instance.
func SingleSlot() SlotConfig {
	return SlotConfig{Count: 1, Index: 0}
}

func (s SlotConfig) Validate() error {
	if s.Count < 1 {
		return fmt.Errorf("partition count must be at least 1, got %d", s.Count)
	}
	if s.Index >= s.Count {
		return fmt.Errorf("%w: index %d with count %d", ErrPartitionIndexOutOfRange, s.Index, s.Count)
	}
	return nil
}

// Eligible reports whether this instance should submit on the given block.
// For any block number exactly one index in [0, Count) is eligible.
func (s SlotConfig) Eligible(blockNumber uint64) bool {
	return blockNumber%s.Count == s.Index
}
