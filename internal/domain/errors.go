package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrExternalService   = errors.New("external service failure")
	ErrPartialResult     = errors.New("partial result")
	ErrStorage           = errors.New("storage failure")
	ErrIllegalTransition = errors.New("illegal status transition")
)
