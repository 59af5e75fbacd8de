package core

import "errors"

var (
	ErrInvalidFrequency  = errors.New("invalid frequency")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNoIncomeAvailable = errors.New("no income available")
	ErrNotFound          = errors.New("not found")
	ErrDuplicatePosting  = errors.New("duplicate posting")
	ErrEmptyName         = errors.New("empty name")
)
