package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/aidledger/aidledger/crypto"
)

// Sentinels used by the genesis block.
const (
	GenesisValidator    = "GENESIS"
	GenesisPreviousHash = "0"
)

// Block is one sealed link of the chain.
type Block struct {
	Index              uint64         `json:"index"`
	Timestamp          time.Time      `json:"timestamp"`
	Transactions       []*Transaction `json:"transactions"`
	PreviousHash       string         `json:"previous_hash"`
	Hash               string         `json:"hash"`
	Nonce              uint64         `json:"nonce"` // reserved; unused by PoA
	ValidatorPublicKey string         `json:"validator_public_key"`
	ValidatorSignature string         `json:"validator_signature"`
}

// NewGenesisBlock returns the unconditionally valid block 0.
func NewGenesisBlock() *Block {
	b := &Block{
		Index:              0,
		Timestamp:          time.Now().UTC(),
		Transactions:       []*Transaction{},
		PreviousHash:       GenesisPreviousHash,
		ValidatorPublicKey: GenesisValidator,
	}
	b.Hash = b.ComputeHash()
	return b
}

// IsGenesis reports whether this is block 0.
func (b *Block) IsGenesis() bool { return b.Index == 0 }

// HashInput is the preimage of the block hash:
// index || timestamp || join(",", tx ids) || previous_hash || nonce || validator.
func (b *Block) HashInput() []byte {
	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Index, 10))
	sb.WriteString(FormatTimestamp(b.Timestamp))
	sb.WriteString(strings.Join(ids, ","))
	sb.WriteString(b.PreviousHash)
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))
	sb.WriteString(b.ValidatorPublicKey)
	return []byte(sb.String())
}

// ComputeHash returns the SHA-256 hex digest of HashInput.
func (b *Block) ComputeHash() string {
	return crypto.SHA256Hex(b.HashInput())
}

// SealingInput is the byte sequence the validator signs:
// index|hash|timestamp|validator_public_key.
func (b *Block) SealingInput() []byte {
	return []byte(strings.Join([]string{
		strconv.FormatUint(b.Index, 10),
		b.Hash,
		FormatTimestamp(b.Timestamp),
		b.ValidatorPublicKey,
	}, "|"))
}

// Seal signs the block tuple with the validator's private key and attaches
// the signature. The hash must already be computed.
func (b *Block) Seal(privateKey string) error {
	sig, err := crypto.Sign(privateKey, b.SealingInput())
	if err != nil {
		return err
	}
	b.ValidatorSignature = sig
	return nil
}

// VerifySeal reports whether the validator signature verifies. Genesis
// passes unconditionally.
func (b *Block) VerifySeal() bool {
	if b.IsGenesis() {
		return true
	}
	if b.ValidatorSignature == "" {
		return false
	}
	return crypto.Verify(b.ValidatorPublicKey, b.SealingInput(), b.ValidatorSignature)
}

// Copy returns a deep copy of the block. Accessors hand copies out so
// callers can never mutate committed chain state.
func (b *Block) Copy() *Block {
	cpy := *b
	cpy.Transactions = make([]*Transaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		cpy.Transactions[i] = tx.Copy()
	}
	return &cpy
}
