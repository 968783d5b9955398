package images

import "errors"

var (
	ErrNotFound           = errors.New("image not found")
	ErrAlreadyExists      = errors.New("image already exists")
	ErrNoEntrypoint       = errors.New("no entrypoint declared")
	ErrInvalidHealthcheck = errors.New("invalid healthcheck")
)
