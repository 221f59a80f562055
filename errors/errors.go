package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the storefront reacts to it.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindEncryption     Kind = "encryption"
	KindAuthentication Kind = "authentication"
	KindSessionExpired Kind = "session_expired"
	KindNetwork        Kind = "network"
	KindBusiness       Kind = "business"
	KindBusy           Kind = "busy"
)

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`

	origin *Error
}

// Error implements the error interface. Only the message is returned: it is
// what ends up in the message areas.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is e itself or the sentinel e was derived from
// through Wrap or WithMessage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.origin != nil && e.origin == t)
}

// Detail returns the message followed by the wrapped cause, for logs.
func (e *Error) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// New creates a new Error
func New(kind Kind, code int, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of base carrying err as its cause.
func Wrap(base *Error, err error) *Error {
	cp := *base
	cp.Err = err
	cp.origin = base.root()
	return &cp
}

// WithMessage returns a copy of base with another user-facing message, e.g.
// a detail reported by the server.
func WithMessage(base *Error, message string, err error) *Error {
	cp := *base
	cp.Message = message
	cp.Err = err
	cp.origin = base.root()
	return &cp
}

func (e *Error) root() *Error {
	if e.origin != nil {
		return e.origin
	}
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// HTTPStatus maps err to the status code served by the local API.
func HTTPStatus(err error) int {
	var appErr *Error
	if stderrors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// Input validation errors
var (
	ErrInvalidEmail    = New(KindValidation, http.StatusBadRequest, "Enter a valid email.", nil)
	ErrInvalidPassword = New(KindValidation, http.StatusBadRequest, "Enter a valid password.", nil)
	ErrInvalidCartItem = New(KindValidation, http.StatusBadRequest, "Select a product and a valid quantity.", nil)
	ErrUnknownProduct  = New(KindValidation, http.StatusNotFound, "Product not found", nil)
	ErrInvalidOrderID  = New(KindValidation, http.StatusBadRequest, "Select a valid order.", nil)
)

// Encryption error types
var (
	ErrPublicKeyFetch   = New(KindEncryption, http.StatusBadGateway, "Could not fetch encryption key", nil)
	ErrPublicKeyNotSet  = New(KindEncryption, http.StatusBadRequest, "Public key not set correctly", nil)
	ErrEncryptionFailed = New(KindEncryption, http.StatusBadRequest, "Encryption failed", nil)
	ErrInvalidCipher    = New(KindEncryption, http.StatusBadRequest, "Invalid encryption result", nil)
)

// Authentication error types
var (
	ErrAuthentication = New(KindAuthentication, http.StatusUnauthorized, "Authentication error", nil)
	ErrLoginTransport = New(KindAuthentication, http.StatusBadGateway, "Network or authentication error", nil)
	ErrSessionExpired = New(KindSessionExpired, http.StatusUnauthorized, "Session expired", nil)
	ErrNotLoggedIn    = New(KindAuthentication, http.StatusUnauthorized, "Not logged in", nil)
)

// Network and upstream error types
var (
	ErrNetwork      = New(KindNetwork, http.StatusBadGateway, "Network error", nil)
	ErrLoadProducts = New(KindNetwork, http.StatusBadGateway, "Error loading products", nil)
	ErrLoadOrders   = New(KindNetwork, http.StatusBadGateway, "Error loading orders.", nil)
	ErrCreateOrder  = New(KindNetwork, http.StatusBadGateway, "Error creating order", nil)
)

// Business logic error types
var (
	ErrOutOfStock        = New(KindBusiness, http.StatusBadRequest, "No units of this product left", nil)
	ErrInsufficientStock = New(KindBusiness, http.StatusBadRequest, "Insufficient stock", nil)
	ErrEmptyCart         = New(KindBusiness, http.StatusBadRequest, "The cart is empty.", nil)
)

// ErrBusy is returned when the same action is still in flight.
var ErrBusy = New(KindBusy, http.StatusConflict, "Action already in progress", nil)
