package service

import (
	"errors"
	"fmt"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
)

type Kind string

const (
	KindEmptyCart               Kind = "empty_cart"
	KindInvalidDeliveryRequest  Kind = "invalid_delivery_request"
	KindMissingReference        Kind = "missing_reference"
	KindTransactionNotFound     Kind = "transaction_not_found"
	KindVerificationFailed      Kind = "verification_failed"
	KindVerificationUnavailable Kind = "verification_unavailable"
	KindCartEmptyAtFinalization Kind = "cart_empty_at_finalization"
	KindAmountMismatch          Kind = "amount_mismatch"
	KindBusy                    Kind = "busy"
	KindOrderNotFound           Kind = "order_not_found"
	KindIllegalTransition       Kind = "illegal_transition"
	KindItemNotFound            Kind = "item_not_found"
	KindCartLineNotFound        Kind = "cart_line_not_found"
	KindGatewayUnavailable      Kind = "gateway_unavailable"
	KindPaymentRejected         Kind = "payment_rejected"
	KindInvalidRequest          Kind = "invalid_request"
)

// Error is the error type returned by every service operation that fails for
// a reason the caller can act on.
type Error struct {
	Kind    Kind
	Field   string // request field at fault, when there is one
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether repeating the same request later may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindVerificationUnavailable, KindBusy, KindGatewayUnavailable:
		return true
	}
	return false
}

var (
	ErrEmptyCart               = &Error{Kind: KindEmptyCart, Message: "Your cart is empty"}
	ErrMissingReference        = &Error{Kind: KindMissingReference, Message: "transaction reference is required"}
	ErrTransactionNotFound     = &Error{Kind: KindTransactionNotFound, Message: "transaction not found"}
	ErrVerificationFailed      = &Error{Kind: KindVerificationFailed, Message: "payment verification failed"}
	ErrCartEmptyAtFinalization = &Error{Kind: KindCartEmptyAtFinalization, Message: "cart was empty when the payment was confirmed"}
	ErrBusy                    = &Error{Kind: KindBusy, Message: "resource is busy, retry later"}
	ErrOrderNotFound           = &Error{Kind: KindOrderNotFound, Message: "order not found"}
	ErrItemNotFound            = &Error{Kind: KindItemNotFound, Message: "item not found"}
	ErrCartLineNotFound        = &Error{Kind: KindCartLineNotFound, Message: "cart item not found"}
)

// KindOf returns the Kind of err, or "" when err is not a service error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func invalidRequest(field, msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Field: field, Message: msg}
}

func invalidDelivery(err error) error {
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		return &Error{Kind: KindInvalidDeliveryRequest, Field: fe.Field, Message: fe.Message}
	}
	return &Error{Kind: KindInvalidDeliveryRequest, Message: err.Error()}
}

// storeError translates repository failures into service errors. Errors
// without a service meaning are wrapped with op.
func storeError(op string, err error) error {
	var se *Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, repository.ErrLockTimeout):
		return &Error{Kind: KindBusy, Message: ErrBusy.Message, Err: err}
	case errors.Is(err, repository.ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, repository.ErrIntentNotFound):
		return ErrTransactionNotFound
	case errors.Is(err, repository.ErrItemNotFound):
		return ErrItemNotFound
	case errors.Is(err, repository.ErrCartLineNotFound):
		return ErrCartLineNotFound
	case errors.Is(err, repository.ErrUserNotFound):
		return invalidRequest("user_id", "unknown user")
	}
	return fmt.Errorf("%s: %w", op, err)
}
