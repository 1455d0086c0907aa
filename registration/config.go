package registration

import (
	"fmt"
	"time"
)

// Mode selects when the scheduler loop exits.
type Mode string

const (
	// ModeContinuous keeps racing every eligible opportunity indefinitely,
	// for operators running multiple concurrent identities.
	ModeContinuous Mode = "continuous"
	// ModeSingleShot exits after the first confirmed finalization, for
	// operators registering exactly one identity.
	ModeSingleShot Mode = "single-shot"
)

func (m *Mode) UnmarshalFlag(value string) error {
	switch Mode(value) {
	case ModeContinuous, ModeSingleShot:
		*m = Mode(value)
		return nil
	default:
		return fmt.Errorf("invalid mode %q, want %q or %q", value, ModeContinuous, ModeSingleShot)
	}
}

// SourceKind selects the block trigger strategy.
type SourceKind string

const (
	SourcePoll      SourceKind = "poll"
	SourceSubscribe SourceKind = "subscribe"
)

func (s *SourceKind) UnmarshalFlag(value string) error {
	switch SourceKind(value) {
	case SourcePoll, SourceSubscribe:
		*s = SourceKind(value)
		return nil
	default:
		return fmt.Errorf("invalid block source %q, want %q or %q", value, SourcePoll, SourceSubscribe)
	}
}

//nolint:lll
type Config struct {
	PartitionCount uint64 `long:"partition-count" description:"Number of cooperating instances partitioning the block space"`
	PartitionIndex uint64 `long:"partition-index" description:"This instance's partition in [0, partition-count)"`

	Mode   Mode       `long:"mode"         description:"continuous: race indefinitely; single-shot: exit on first finalized registration"`
	Source SourceKind `long:"block-source" description:"poll: poll the chain head; subscribe: follow finalized heads"`

	PollInterval time.Duration `long:"poll-interval" description:"Cadence of head polls in poll mode"`
	Mortality    uint64        `long:"mortality"     description:"Transaction validity window in blocks"`

	TrackerWorkers      int           `long:"tracker-workers"      description:"Concurrent finalization watchers"`
	TrackerQueue        int           `long:"tracker-queue"        description:"Pending finalization watches before new ones are dropped"`
	ConfirmationTimeout time.Duration `long:"confirmation-timeout" description:"Give up watching a submission after this long (0 waits forever)"`

	ExitWhenRegistered bool `long:"exit-when-registered" description:"Also exit once the chain reports the hotkey as already registered"`
}

func DefaultConfig() Config {
	return Config{
		PartitionCount:      1,
		PartitionIndex:      0,
		Mode:                ModeContinuous,
		Source:              SourcePoll,
		PollInterval:        500 * time.Millisecond,
		Mortality:           256,
		TrackerWorkers:      8,
		TrackerQueue:        64,
		ConfirmationTimeout: 30 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Slot().Validate(); err != nil {
		return err
	}
	if c.TrackerWorkers < 1 {
		return fmt.Errorf("tracker workers must be at least 1, got %d", c.TrackerWorkers)
	}
	if c.TrackerQueue < 1 {
		return fmt.Errorf("tracker queue must be at least 1, got %d", c.TrackerQueue)
	}
	if c.Mortality < 4 {
		return fmt.Errorf("mortality window must be at least 4 blocks, got %d", c.Mortality)
	}
	return nil
}

func (c *Config) Slot() SlotConfig {
	return SlotConfig{Count: c.PartitionCount, Index: c.PartitionIndex}
}
