package model

import "errors"

var (
	ErrInvalidConfig   = errors.New("model: invalid configuration")
	ErrInvalidDocument = errors.New("model: invalid document")
	ErrEmptyBatch      = errors.New("model: empty mini-batch")
	ErrNonFinite       = errors.New("model: non-finite value in inference")
)
