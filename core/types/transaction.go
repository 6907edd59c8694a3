// Package types defines the ledger data model: transactions, blocks and the
// canonical encodings that hashing and signing operate on. The encodings are
// part of the wire contract; changing them invalidates every existing chain.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aidledger/aidledger/crypto"
)

// TxKind enumerates the domain event kinds carried on-chain.
type TxKind string

const (
	TxShipmentCreated    TxKind = "ShipmentCreated"
	TxStatusUpdated      TxKind = "StatusUpdated"
	TxCustodyTransferred TxKind = "CustodyTransferred"
	TxDeliveryConfirmed  TxKind = "DeliveryConfirmed"
)

// SentinelSignature marks a transaction created while the vault is in
// bootstrap mode. It never verifies; enforcement rejects it.
const SentinelSignature = "UNSIGNED"

// TimestampFormat is the ISO 8601 UTC layout used in hash and signing
// inputs. RFC3339Nano drops trailing zeros, so format→parse→format is
// stable.
const TimestampFormat = time.RFC3339Nano

// FormatTimestamp renders t in the canonical on-wire form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Transaction is a single signed domain event. Immutable once signed: every
// field below except Signature is covered by the signature.
type Transaction struct {
	ID              string    `json:"id"`
	Type            TxKind    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	SenderPublicKey string    `json:"sender_public_key"`
	Payload         string    `json:"payload"`
	Signature       string    `json:"signature"`
}

// NewTransaction creates an unsigned transaction with a fresh id and the
// current UTC time. Payload must already be canonical JSON.
func NewTransaction(kind TxKind, senderPublicKey, payload string) *Transaction {
	return &Transaction{
		ID:              uuid.NewString(),
		Type:            kind,
		Timestamp:       time.Now().UTC(),
		SenderPublicKey: senderPublicKey,
		Payload:         payload,
	}
}

// SigningInput is the byte sequence the sender signs:
// id|type|timestamp|sender_public_key|payload.
func (tx *Transaction) SigningInput() []byte {
	return []byte(strings.Join([]string{
		tx.ID,
		string(tx.Type),
		FormatTimestamp(tx.Timestamp),
		tx.SenderPublicKey,
		tx.Payload,
	}, "|"))
}

// Sign signs the transaction with the encoded private key.
func (tx *Transaction) Sign(privateKey string) error {
	sig, err := crypto.Sign(privateKey, tx.SigningInput())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySignature reports whether the signature verifies under the sender's
// public key. Sentinel and empty signatures never verify.
func (tx *Transaction) VerifySignature() bool {
	if tx.Signature == "" || tx.Signature == SentinelSignature {
		return false
	}
	return crypto.Verify(tx.SenderPublicKey, tx.SigningInput(), tx.Signature)
}

// Copy returns an independent copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	cpy := *tx
	return &cpy
}
