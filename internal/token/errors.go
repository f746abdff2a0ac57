package token

import "errors"

var (
	// ErrNotFound: the token or the token reference is absent.
	ErrNotFound = errors.New("token: not found")
	// ErrAlreadyExists: the scope already has a live token.
	ErrAlreadyExists = errors.New("token: already exists")
	// ErrInvalidReference: the referenced token exists but its payload is of
	// an unexpected type. Surfaced to users as a generic invalid token.
	ErrInvalidReference = errors.New("token: invalid reference")
	// ErrInvalidExpiration: the requested expiration violates a policy rule.
	// Wrapped with a message naming the violated rule.
	ErrInvalidExpiration = errors.New("token: invalid expiration")
)
