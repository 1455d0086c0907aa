package registration

import (
	"github.com/subnetops/regd/chain"
)

// Outcome is the scheduler-facing classification of a submission or
// finalization failure.
type Outcome int

const (
	// OutcomeRecoverable failures are expected under contention and
	// resolve themselves on a later attempt.
	OutcomeRecoverable Outcome = iota
	// OutcomeAlreadyDone means the hotkey is already registered: a benign
	// terminal signal, not a failure.
	OutcomeAlreadyDone
	// OutcomeFatal is everything else. It is reported at high severity
	// but does not unwind the process; only startup errors do that.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a structured submission error to its outcome. It matches
// exhaustively on the code decoded at the transport boundary; errors
// without a code (including plain transport failures) are fatal for the
// attempt, never for the process.
func Classify(err error) Outcome {
	switch chain.CodeOf(err) {
	case chain.CodeTooManyConsumers,
		chain.CodeInvalidTransaction,
		chain.CodeStaleTransaction,
		chain.CodeOutdatedTransaction,
		chain.CodeNonceConflict,
		chain.CodePriorityTooLow,
		chain.CodeUsurped,
		chain.CodeDropped,
		chain.CodeFinalityTimeout:
		return OutcomeRecoverable
	case chain.CodeAlreadyRegistered:
		return OutcomeAlreadyDone
	default:
		return OutcomeFatal
	}
}
