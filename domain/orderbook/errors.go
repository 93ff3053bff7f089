package orderbook

import "github.com/pkg/errors"

var (
	// ErrInvalidOrderParameters signals a zero amount, zero price or unknown side.
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	// ErrOrderNotFound signals a missing order or a caller that does not own it.
	ErrOrderNotFound = errors.New("order not found")
	// ErrArithmeticOverflow signals a fill that would wrap or exceed the order amount.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrTransferFailed signals the escrow rejected a leg.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrCapacityExceeded signals the book already tracks its maximum order count.
	ErrCapacityExceeded = errors.New("order book capacity exceeded")
	// ErrUnauthorized signals a caller other than the book authority.
	ErrUnauthorized = errors.New("caller is not the book authority")
	// ErrInvalidIdentity signals an empty, oversized or reserved identity.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrCorruptBook signals restored state that breaks a book invariant.
	ErrCorruptBook = errors.New("corrupt order book")
)

// transferError reports ErrTransferFailed while keeping the escrow's own
// error reachable through errors.Is and errors.Cause.
type transferError struct {
	cause error
}

func (e *transferError) Error() string        { return ErrTransferFailed.Error() + ": " + e.cause.Error() }
func (e *transferError) Is(target error) bool { return target == ErrTransferFailed }
func (e *transferError) Unwrap() error        { return e.cause }
func (e *transferError) Cause() error         { return e.cause }

func transferFailed(cause error, format string, args ...interface{}) error {
	return errors.Wrapf(&transferError{cause: cause}, format, args...)
}
