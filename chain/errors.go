package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the structured form of a submission or finalization
// failure. Raw node responses are decoded into a code exactly once, at the
// transport boundary; everything above this package matches on codes, never
// on message text.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota

	// Synchronous pool rejections.
	CodeTooManyConsumers
	CodeInvalidTransaction
	CodeStaleTransaction
	CodeOutdatedTransaction
	CodeNonceConflict
	CodePriorityTooLow

	// Terminal watch states other than finalized success.
	CodeUsurped
	CodeDropped
	CodeFinalityTimeout

	// The identity is already registered on the target subnet.
	CodeAlreadyRegistered
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:             "Unknown",
	CodeTooManyConsumers:    "TooManyConsumers",
	CodeInvalidTransaction:  "InvalidTransaction",
	CodeStaleTransaction:    "StaleTransaction",
	CodeOutdatedTransaction: "OutdatedTransaction",
	CodeNonceConflict:       "NonceConflict",
	CodePriorityTooLow:      "PriorityTooLow",
	CodeUsurped:             "Usurped",
	CodeDropped:             "Dropped",
	CodeFinalityTimeout:     "FinalityTimeout",
	CodeAlreadyRegistered:   "AlreadyRegistered",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// SubmitError is a rejected submission or a failed finalization watch,
// carrying the decoded code alongside the node's original message.
type SubmitError struct {
	Code    ErrorCode
	Message string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the structured code from err, or CodeUnknown when err
// did not originate at the transport boundary.
func CodeOf(err error) ErrorCode {
	var sub *SubmitError
	if errors.As(err, &sub) {
		return sub.Code
	}
	return CodeUnknown
}

// JSON-RPC error codes assigned by the node's author API.
const (
	rpcCodeTransactionInvalid = 1010 // rejected during validity checks
	rpcCodeTransactionPool    = 1013 // could not enter the transaction pool
	rpcCodePriorityTooLow     = 1014 // replaced by a higher-priority transaction
)

// decodeSubmitError turns a raw JSON-RPC error object into a structured
// SubmitError. This is the single place where node message text is
// inspected; validity failures at code 1010 only distinguish their cause in
// the free-form data payload.
func decodeSubmitError(code int, message, data string) *SubmitError {
	msg := message
	if data != "" {
		msg = message + ": " + data
	}

	switch code {
	case rpcCodeTransactionPool:
		return &SubmitError{Code: CodeTooManyConsumers, Message: msg}
	case rpcCodePriorityTooLow:
		return &SubmitError{Code: CodePriorityTooLow, Message: msg}
	case rpcCodeTransactionInvalid:
		return &SubmitError{Code: invalidityCode(msg), Message: msg}
	default:
		return &SubmitError{Code: CodeUnknown, Message: msg}
	}
}

func invalidityCode(detail string) ErrorCode {
	switch {
	case strings.Contains(detail, "AlreadyRegistered"):
		return CodeAlreadyRegistered
	case strings.Contains(detail, "TooManyConsumers"):
		return CodeTooManyConsumers
	case strings.Contains(detail, "Stale"):
		return CodeStaleTransaction
	case strings.Contains(detail, "outdated"):
		return CodeOutdatedTransaction
	case strings.Contains(detail, "nonce"):
		return CodeNonceConflict
	default:
		return CodeInvalidTransaction
	}
}
