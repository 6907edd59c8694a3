package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidledger/aidledger/crypto"
	"github.com/aidledger/aidledger/ledgerdb"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/vault"
)

// Key schema. Rows live under rowPrefix; the name and public-key indexes
// map their value to the owning row id and enforce uniqueness.
var (
	rowPrefix  = []byte("validator:")
	namePrefix = []byte("validator-name:")
	pubPrefix  = []byte("validator-pub:")
)

// Registry stores validators in a key-value backend. All operations take
// the registry mutex, so a select-then-mark sequence by a single caller is
// not interleaved with a concurrent registration or stat update.
type Registry struct {
	mu     sync.Mutex
	db     ledgerdb.KeyValueStore
	logger *log.Logger
}

func NewRegistry(db ledgerdb.KeyValueStore) *Registry {
	return &Registry{db: db, logger: log.Module("validator")}
}

// Register creates a validator with a fresh keypair. The private key is
// encrypted under passphrase before it touches the store.
func (r *Registry) Register(name, address string, priority uint64, passphrase string) (*Validator, error) {
	if name == "" {
		return nil, ErrBadName
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, _ := r.db.Has(nameKey(name)); ok {
		return nil, ErrNameTaken
	}
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("validator: keygen: %w", err)
	}
	if ok, _ := r.db.Has(pubKey(pub)); ok {
		return nil, ErrPublicKeyTaken
	}
	enc, err := vault.Encrypt(priv, passphrase)
	if err != nil {
		return nil, fmt.Errorf("validator: encrypt key: %w", err)
	}

	v := &Validator{
		ID:                  uuid.NewString(),
		Name:                name,
		PublicKey:           pub,
		EncryptedPrivateKey: enc,
		Address:             address,
		IsActive:            true,
		Priority:            priority,
		CreatedAt:           time.Now().UTC(),
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("validator: encode row: %w", err)
	}
	// The row and its two index entries land atomically: a crash mid-write
	// cannot leave a validator visible to scans but not to lookups.
	batch := r.db.NewBatch()
	if err := batch.Put(rowKey(v.ID), raw); err != nil {
		return nil, fmt.Errorf("validator: batch row: %w", err)
	}
	if err := batch.Put(nameKey(name), []byte(v.ID)); err != nil {
		return nil, fmt.Errorf("validator: batch name index: %w", err)
	}
	if err := batch.Put(pubKey(pub), []byte(v.ID)); err != nil {
		return nil, fmt.Errorf("validator: batch public key index: %w", err)
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("validator: persist registration: %w", err)
	}
	r.logger.Info("validator registered", "id", v.ID, "name", name, "priority", priority)
	return v, nil
}

// ByID returns the validator with the given id.
func (r *Registry) ByID(id string) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

// ByName resolves a validator through the name index.
func (r *Registry) ByName(name string) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.db.Get(nameKey(name))
	if errors.Is(err, ledgerdb.ErrNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("validator: name lookup: %w", err)
	}
	return r.getLocked(string(id))
}

// ByPublicKey resolves a validator through the public-key index.
func (r *Registry) ByPublicKey(pub string) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.db.Get(pubKey(pub))
	if errors.Is(err, ledgerdb.ErrNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("validator: pubkey lookup: %w", err)
	}
	return r.getLocked(string(id))
}

// All returns every validator, ordered by registration time.
func (r *Registry) All() ([]*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs, err := r.scanLocked(func(*Validator) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].CreatedAt.Before(vs[j].CreatedAt) })
	return vs, nil
}

// ActiveOrdered returns the active validators ordered by priority, ties
// broken by registration time.
func (r *Registry) ActiveOrdered() ([]*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeOrderedLocked()
}

func (r *Registry) activeOrderedLocked() ([]*Validator, error) {
	vs, err := r.scanLocked(func(v *Validator) bool { return v.IsActive })
	if err != nil {
		return nil, err
	}
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].Priority != vs[j].Priority {
			return vs[i].Priority < vs[j].Priority
		}
		return vs[i].CreatedAt.Before(vs[j].CreatedAt)
	})
	return vs, nil
}

// NextProposer picks the active validator that should seal the next block:
// the minimum of (total_blocks_created, priority, created_at).
func (r *Registry) NextProposer() (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextProposerLocked()
}

func (r *Registry) nextProposerLocked() (*Validator, error) {
	vs, err := r.scanLocked(func(v *Validator) bool { return v.IsActive })
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, ErrNoActive
	}
	best := vs[0]
	for _, v := range vs[1:] {
		if less(v, best) {
			best = v
		}
	}
	return best, nil
}

// RecordBlockCreation bumps the proposer's block counter and stamps the
// production time.
func (r *Registry) RecordBlockCreation(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.getLocked(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	v.TotalBlocksCreated++
	v.LastBlockCreatedAt = &now
	return r.putLocked(v)
}

// Activate marks a validator eligible for proposer selection.
func (r *Registry) Activate(id string) error { return r.setActive(id, true) }

// Deactivate removes a validator from proposer selection without deleting
// its row or history.
func (r *Registry) Deactivate(id string) error { return r.setActive(id, false) }

func (r *Registry) setActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.getLocked(id)
	if err != nil {
		return err
	}
	v.IsActive = active
	if err := r.putLocked(v); err != nil {
		return err
	}
	r.logger.Info("validator state changed", "id", id, "active", active)
	return nil
}

// UpdatePriority changes a validator's selection priority.
func (r *Registry) UpdatePriority(id string, priority uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.getLocked(id)
	if err != nil {
		return err
	}
	v.Priority = priority
	return r.putLocked(v)
}

// UpdateAddress changes a validator's advertised address.
func (r *Registry) UpdateAddress(id, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.getLocked(id)
	if err != nil {
		return err
	}
	v.Address = address
	return r.putLocked(v)
}

// Count returns total and active validator counts.
func (r *Registry) Count() (total, active int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs, err := r.scanLocked(func(*Validator) bool { return true })
	if err != nil {
		return 0, 0, err
	}
	for _, v := range vs {
		if v.IsActive {
			active++
		}
	}
	return len(vs), active, nil
}

func (r *Registry) getLocked(id string) (*Validator, error) {
	raw, err := r.db.Get(rowKey(id))
	if errors.Is(err, ledgerdb.ErrNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("validator: get: %w", err)
	}
	var v Validator
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("validator: decode row %s: %w", id, err)
	}
	return &v, nil
}

func (r *Registry) putLocked(v *Validator) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("validator: encode row: %w", err)
	}
	if err := r.db.Put(rowKey(v.ID), raw); err != nil {
		return fmt.Errorf("validator: put: %w", err)
	}
	return nil
}

func (r *Registry) scanLocked(keep func(*Validator) bool) ([]*Validator, error) {
	it := r.db.NewIterator(rowPrefix, nil)
	defer it.Release()

	var vs []*Validator
	for it.Next() {
		var v Validator
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, fmt.Errorf("validator: decode row %s: %w", it.Key(), err)
		}
		if keep(&v) {
			vs = append(vs, &v)
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("validator: scan: %w", err)
	}
	return vs, nil
}

func rowKey(id string) []byte    { return append(append([]byte{}, rowPrefix...), id...) }
func nameKey(name string) []byte { return append(append([]byte{}, namePrefix...), name...) }

// pubKey hashes the base64 public key so index keys stay short and free of
// separator characters.
func pubKey(pub string) []byte {
	return append(append([]byte{}, pubPrefix...), crypto.SHA256Hex([]byte(pub))...)
}
