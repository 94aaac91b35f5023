package errors

import stderrors "errors"

// Kind classifies an error into the ledger's failure taxonomy. Every error
// returned by a ledger operation maps onto exactly one kind.
type Kind string

const (
	KindUnauthorized        Kind = "Unauthorized"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindNotFound            Kind = "NotFound"
	KindAlreadyVerified     Kind = "AlreadyVerified"
	KindInvalidServiceType  Kind = "InvalidServiceType"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindTransportFailure    Kind = "TransportFailure"
	KindCancelled           Kind = "Cancelled"
	KindInternal            Kind = "Internal"
)

var (
	ErrUnauthorized        = stderrors.New("ledger: unauthorized")
	ErrInvalidArgument     = stderrors.New("ledger: invalid argument")
	ErrNotFound            = stderrors.New("ledger: not found")
	ErrAlreadyVerified     = stderrors.New("ledger: record already verified")
	ErrInvalidServiceType  = stderrors.New("ledger: invalid service type")
	ErrInsufficientBalance = stderrors.New("ledger: insufficient points balance")
	ErrTransportFailure    = stderrors.New("ledger: transport failure")

	// ErrCancelled is returned when the identity declined to authorise a
	// submission. It is terminal and never retried.
	ErrCancelled = stderrors.New("ledger: submission cancelled")
	// ErrPaused is returned when the operator paused the targeted module.
	ErrPaused = stderrors.New("ledger: module paused")
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrCancelled, KindCancelled},
	{ErrTransportFailure, KindTransportFailure},
	{ErrPaused, KindUnauthorized},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyVerified, KindAlreadyVerified},
	{ErrInvalidServiceType, KindInvalidServiceType},
	{ErrInsufficientBalance, KindInsufficientBalance},
}

// KindOf returns the taxonomy kind of err. Errors that do not wrap a known
// sentinel are reported as KindInternal; a nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, entry := range kindOrder {
		if stderrors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// Sentinel returns the canonical error for a kind. It is used by transports
// to rebuild a typed error from a wire representation.
func Sentinel(kind Kind) error {
	switch kind {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyVerified:
		return ErrAlreadyVerified
	case KindInvalidServiceType:
		return ErrInvalidServiceType
	case KindInsufficientBalance:
		return ErrInsufficientBalance
	case KindTransportFailure:
		return ErrTransportFailure
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Retryable reports whether err may succeed if submitted again unchanged.
// Rule violations are deterministic given state, so only transport failures
// qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindTransportFailure
}
