package auth

import "errors"

// Token errors are the protocol's whole vocabulary: handlers map them to
// machine-readable codes, clients must never retry them.
var (
	ErrTokenInvalid          = errors.New("refresh token invalid")
	ErrTokenExpired          = errors.New("refresh token expired")
	ErrTokenAlreadyRefreshed = errors.New("refresh token already refreshed")
	ErrTokenReused           = errors.New("refresh token reused")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailAlreadyExists = errors.New("email already exists")
)
