package models

import (
	"errors"
	"fmt"
)

var (
	// store errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrImageNotFound also matches ErrNotFound.
	ErrImageNotFound = fmt.Errorf("image %w", ErrNotFound)

	// request errors
	ErrValidation = errors.New("validation error")

	// auth errors
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
