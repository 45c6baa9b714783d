package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConfig        = errors.New("invalid configuration")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTooLarge      = errors.New("content too large")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")
)
