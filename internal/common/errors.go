package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Request validation errors. Always resolved before any I/O.
	ErrorValidation = errors.New("validation error")

	// Upload policy errors.
	ErrorDuplicate = errors.New("a file with the same or similar name is already saved for this project")

	// Storage errors. ErrorStorageUnavailable is raised by the metadata store
	// before any bytes are transferred; ErrorStoreWrite by the object store
	// after the transfer has started.
	ErrorStorageUnavailable = errors.New("storage unavailable")
	ErrorStoreWrite         = errors.New("object store write failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
