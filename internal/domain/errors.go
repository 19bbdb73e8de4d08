package domain

import "errors"

// Sentinel errors shared by the stores, the services and the HTTP layer.
// Anything that is not one of these is treated as a server error.
var (
	// ErrNotFound indicates the requested book, user or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock indicates fewer copies are on the shelf than requested.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyReturned indicates a return was attempted on a closed transaction.
	ErrAlreadyReturned = errors.New("transaction already returned")

	// ErrForbidden indicates the identity may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument indicates malformed input, such as a non-positive quantity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict indicates a uniqueness or state conflict (duplicate email, book on loan).
	ErrConflict = errors.New("conflict")

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// notFoundError names the missing entity and matches ErrNotFound.
type notFoundError struct{ entity string }

func (e notFoundError) Error() string { return e.entity + " not found" }

func (e notFoundError) Is(target error) bool { return target == ErrNotFound }

// Entity-specific not-found errors. errors.Is(err, ErrNotFound) holds for each.
var (
	ErrBookNotFound        error = notFoundError{entity: "book"}
	ErrTransactionNotFound error = notFoundError{entity: "transaction"}
	ErrUserNotFound        error = notFoundError{entity: "user"}
)
