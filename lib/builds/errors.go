package builds

import "errors"

var (
	ErrNotFound      = errors.New("build not found")
	ErrNotCancelable = errors.New("build already finished")
)
