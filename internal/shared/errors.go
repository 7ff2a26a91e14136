package shared

import "errors"

var (
	// ErrNotFound indicates the referenced role or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed filter, unknown sort field, or a
	// grant referencing a nonexistent target object.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization indicates the caller lacks the effective permission
	// or attempted an admin-kind change without superuser authority.
	ErrAuthorization = errors.New("not authorized")
	// ErrDuplicate indicates a uniqueness conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInvalidCredentials indicates login or API key failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
