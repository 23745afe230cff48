package domain

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindContention
	KindSession
	KindPermission
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindContention:
		return "contention"
	case KindSession:
		return "session"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the typed failure returned across the service boundary. Two
// errors with the same Code match under errors.Is.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code string, kind Kind, msg string) *Error {
	e := &Error{Code: code, Kind: kind, Message: msg}
	registry[code] = e
	return e
}

var registry = map[string]*Error{}

var (
	ErrEmptyCart                  = newError("EmptyCart", KindValidation, "cart is empty")
	ErrMissingStore               = newError("MissingStore", KindValidation, "store is required")
	ErrMissingProfile             = newError("MissingProfile", KindValidation, "delivery address and phone are required")
	ErrInvalidPaymentMethod       = newError("InvalidPaymentMethod", KindValidation, "unsupported payment method")
	ErrInvalidItem                = newError("InvalidItem", KindValidation, "invalid cart item")
	ErrInvalidTransition          = newError("InvalidTransition", KindValidation, "invalid status transition")
	ErrCancelReasonRequired       = newError("CancelReasonRequired", KindValidation, "cancel reason is required")
	ErrPaymentNotConfirmed        = newError("PaymentNotConfirmed", KindValidation, "payment has not been confirmed")
	ErrIncompleteRefundSubmission = newError("IncompleteRefundSubmission", KindValidation, "refund request is incomplete")
	ErrRefundNotAllowed           = newError("RefundNotAllowed", KindValidation, "order is not in a refundable state")
	ErrInvalidInput               = newError("InvalidInput", KindValidation, "invalid input")
	ErrGatewayNotActive           = newError("GatewayNotActive", KindValidation, "payment gateway is not in a matching state")
	ErrAmountMismatch             = newError("AmountMismatch", KindValidation, "paid amount does not match order total")

	ErrAlreadyAssigned   = newError("AlreadyAssigned", KindContention, "order already claimed by another shipper")
	ErrDuplicateCheckout = newError("DuplicateCheckout", KindContention, "checkout already submitted")
	ErrRefundPending     = newError("RefundPending", KindContention, "a refund request is already pending")
	ErrRefundResolved    = newError("RefundResolved", KindContention, "refund request already resolved")
	ErrCartStoreMismatch = newError("CartStoreMismatch", KindContention, "cart holds items from another store")
	ErrStaleWrite        = newError("StaleWrite", KindContention, "order was modified concurrently")
	ErrUserExists        = newError("UserExists", KindContention, "user already exists")

	ErrUnauthorized       = newError("Unauthorized", KindSession, "authentication required")
	ErrSessionExpired     = newError("SessionExpired", KindSession, "session expired")
	ErrInvalidCredentials = newError("InvalidCredentials", KindSession, "invalid credentials")

	ErrForbidden = newError("Forbidden", KindPermission, "operation not permitted for this actor")

	ErrNotFound = newError("NotFound", KindNotFound, "not found")
)

// NotFound returns an ErrNotFound carrying the missing entity's name.
func NotFound(what string) error {
	return &Error{Code: ErrNotFound.Code, Kind: KindNotFound, Message: what + " not found"}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "ServerError"
}

// ErrorFromCode maps a wire code back to its sentinel. Unknown codes yield nil.
func ErrorFromCode(code string) error {
	if e, ok := registry[code]; ok {
		return e
	}
	return nil
}
