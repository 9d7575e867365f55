// Package apperr holds the error taxonomy shared by every layer of the store.
// Each error carries a Kind that maps to one stable code and one HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalidState
	KindInvalidArgument
	KindInsufficientStock
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInsufficientStock:
		return "insufficient_stock"
	default:
		return "internal_error"
	}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidState, KindInsufficientStock:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the generic application error. Two errors are the same for
// errors.Is when their codes match, so sentinels below can be compared
// against errors built with a formatted message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) ErrorKind() Kind {
	return e.Kind
}

func (e *Error) ErrorCode() string {
	return e.Code
}

const (
	CodeCartNotFound          = "cart_not_found"
	CodeProductNotFound       = "product_not_found"
	CodeLineNotFound          = "line_not_found"
	CodeOrderNotFound         = "order_not_found"
	CodeLineOwnershipMismatch = "line_ownership_mismatch"
	CodeProductInactive       = "product_inactive"
	CodeProductUnavailable    = "product_unavailable"
	CodeEmptyCart             = "empty_cart"
	CodeCartNotActive         = "cart_not_active"
	CodeActiveCartExists      = "active_cart_exists"
	CodeDuplicateOrder        = "duplicate_order"
	CodeConcurrentUpdate      = "concurrent_update"
	CodeIllegalTransition     = "illegal_state_transition"
	CodeInsufficientStock     = "insufficient_stock"
	CodeInvalidQuantity       = "invalid_quantity"
	CodeInvalidAmount         = "invalid_amount"
	CodeCurrencyMismatch      = "currency_mismatch"
	CodeInvalidArgument       = "invalid_argument"
)

var (
	ErrCartNotFound          = &Error{Kind: KindNotFound, Code: CodeCartNotFound, Message: "cart not found"}
	ErrProductNotFound       = &Error{Kind: KindNotFound, Code: CodeProductNotFound, Message: "product not found"}
	ErrLineNotFound          = &Error{Kind: KindNotFound, Code: CodeLineNotFound, Message: "cart line not found"}
	ErrOrderNotFound         = &Error{Kind: KindNotFound, Code: CodeOrderNotFound, Message: "order not found"}
	ErrLineOwnershipMismatch = &Error{Kind: KindConflict, Code: CodeLineOwnershipMismatch, Message: "cart line does not belong to the caller's cart"}
	ErrProductInactive       = &Error{Kind: KindInvalidState, Code: CodeProductInactive, Message: "product is not available for sale"}
	ErrProductUnavailable    = &Error{Kind: KindInvalidState, Code: CodeProductUnavailable, Message: "product is no longer available"}
	ErrEmptyCart             = &Error{Kind: KindInvalidState, Code: CodeEmptyCart, Message: "cart is empty, nothing to checkout"}
	ErrCartNotActive         = &Error{Kind: KindInvalidState, Code: CodeCartNotActive, Message: "cart is not active"}
	ErrActiveCartExists      = &Error{Kind: KindConflict, Code: CodeActiveCartExists, Message: "owner already has an active cart"}
	ErrDuplicateOrder        = &Error{Kind: KindConflict, Code: CodeDuplicateOrder, Message: "an order already exists for this cart"}
	ErrConcurrentUpdate      = &Error{Kind: KindConflict, Code: CodeConcurrentUpdate, Message: "resource was modified concurrently"}
	ErrIllegalTransition     = &Error{Kind: KindInvalidState, Code: CodeIllegalTransition, Message: "illegal order status transition"}
	ErrInsufficientStock     = &Error{Kind: KindInsufficientStock, Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrInvalidQuantity       = &Error{Kind: KindInvalidArgument, Code: CodeInvalidQuantity, Message: "invalid quantity"}
)

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

func InvalidArgument(code, format string, args ...any) *Error {
	return New(KindInvalidArgument, code, format, args...)
}

func InvalidState(code, format string, args ...any) *Error {
	return New(KindInvalidState, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindConflict, code, format, args...)
}

// InsufficientStockError reports a stock check that failed. ProductName is
// filled in when the caller knows it (checkout), ProductID always.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s. Available: %d, Requested: %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func (e *InsufficientStockError) ErrorKind() Kind { return KindInsufficientStock }
func (e *InsufficientStockError) ErrorCode() string { return CodeInsufficientStock }

// IllegalTransitionError is returned when an order is asked to move to a
// status its current status does not lead to.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

func (e *IllegalTransitionError) ErrorKind() Kind { return KindInvalidState }
func (e *IllegalTransitionError) ErrorCode() string { return CodeIllegalTransition }

type kinded interface {
	ErrorKind() Kind
	ErrorCode() string
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// CodeOf returns the specific code of err, falling back to the kind's code.
func CodeOf(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorCode()
	}
	return KindInternal.String()
}
