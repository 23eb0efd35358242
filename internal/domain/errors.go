package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidHeader = errors.New("invalid header spec")
	ErrNoPhone       = errors.New("no destination phone")
	ErrNoCheckin     = errors.New("no reservation with check-in on date")
)
