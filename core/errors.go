package core

import (
	"errors"
	"fmt"
)

// Package-level sentinel errors. Callers branch on these with errors.Is; the
// transport boundary maps them to HTTP status codes.
var (
	ErrBadTransaction      = errors.New("core: transaction missing required fields")
	ErrInvalidSignature    = errors.New("core: invalid signature")
	ErrInvalidHash         = errors.New("core: block hash mismatch")
	ErrInvalidBlockIndex   = errors.New("core: non-contiguous block index")
	ErrInvalidPreviousHash = errors.New("core: previous hash mismatch")
	ErrDuplicate           = errors.New("core: duplicate transaction id")
	ErrEmptyPool           = errors.New("core: no pending transactions")
	ErrUnknownBlock        = errors.New("core: unknown block")
	ErrUnknownTransaction  = errors.New("core: unknown transaction")
)

// ChainError ties a validation failure to the block it occurred at.
type ChainError struct {
	Index uint64
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Index, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }
