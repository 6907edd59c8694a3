// Package validator manages the set of block-producing identities and
// round-robin proposer selection over the active ones.
package validator

import (
	"errors"
	"time"
)

var (
	ErrUnknown        = errors.New("validator: unknown validator")
	ErrNameTaken      = errors.New("validator: name already registered")
	ErrPublicKeyTaken = errors.New("validator: public key already registered")
	ErrNoActive       = errors.New("validator: no active validators")
	ErrBadName        = errors.New("validator: empty name")
)

// Validator is one registered block producer. The private key is stored
// only in encrypted form; decryption happens in the consensus engine with
// a caller-supplied passphrase.
type Validator struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	PublicKey           string     `json:"public_key"`
	EncryptedPrivateKey string     `json:"encrypted_private_key"`
	Address             string     `json:"address,omitempty"`
	IsActive            bool       `json:"is_active"`
	Priority            uint64     `json:"priority"`
	TotalBlocksCreated  uint64     `json:"total_blocks_created"`
	LastBlockCreatedAt  *time.Time `json:"last_block_created_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// less orders validators for proposer selection: fewest blocks first, then
// lowest priority value, then oldest registration. This is exact round-robin
// over the active set.
func less(a, b *Validator) bool {
	if a.TotalBlocksCreated != b.TotalBlocksCreated {
		return a.TotalBlocksCreated < b.TotalBlocksCreated
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
