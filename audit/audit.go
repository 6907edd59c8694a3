// Package audit provides an append-only log of security-relevant
// operations: block sealing, validator changes, shipment lifecycle writes,
// authentication events. Records are persisted through a key-value store
// under monotonically increasing sequence keys, so iteration order is
// insertion order.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aidledger/aidledger/ledgerdb"
	"github.com/aidledger/aidledger/log"
)

// Record categories.
const (
	CategoryConsensus = "consensus"
	CategoryValidator = "validator"
	CategoryShipment  = "shipment"
	CategoryAuth      = "auth"
)

var recPrefix = []byte("audit:")

// Record is one audit entry. The principal identifies who acted, the
// entity what was acted on (block hash, shipment id, validator id).
type Record struct {
	ID            string    `json:"id"`
	Sequence      uint64    `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	Category      string    `json:"category"`
	Action        string    `json:"action"`
	Description   string    `json:"description,omitempty"`
	PrincipalID   string    `json:"principal_id,omitempty"`
	PrincipalName string    `json:"principal_name,omitempty"`
	EntityID      string    `json:"entity_id,omitempty"`
	EntityType    string    `json:"entity_type,omitempty"`
	Metadata      string    `json:"metadata,omitempty"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	Success       bool      `json:"is_success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Filter narrows a Query. Zero values match everything; Success filters
// only when set.
type Filter struct {
	Category    string
	Action      string
	PrincipalID string
	EntityID    string
	Success     *bool
	After       time.Time
	Before      time.Time
	Offset      int
	Limit       int
}

func (f *Filter) matches(r *Record) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.PrincipalID != "" && r.PrincipalID != f.PrincipalID {
		return false
	}
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.Success != nil && r.Success != *f.Success {
		return false
	}
	if !f.After.IsZero() && r.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// Store persists records. Append assigns the sequence number under the
// store mutex, so concurrent writers cannot collide on a key.
type Store struct {
	mu   sync.Mutex
	db   ledgerdb.KeyValueStore
	next uint64
}

func NewStore(db ledgerdb.KeyValueStore) (*Store, error) {
	s := &Store{db: db}
	// Resume the sequence after the last persisted record.
	it := db.NewIterator(recPrefix, nil)
	defer it.Release()
	for it.Next() {
		seq := binary.BigEndian.Uint64(it.Key()[len(recPrefix):])
		if seq >= s.next {
			s.next = seq + 1
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("audit: scan sequence: %w", err)
	}
	return s, nil
}

// Append persists r, filling in id, sequence and timestamp.
func (s *Store) Append(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	r.Sequence = s.next
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: encode: %w", err)
	}
	if err := s.db.Put(recKey(r.Sequence), raw); err != nil {
		return fmt.Errorf("audit: put: %w", err)
	}
	s.next++
	return nil
}

// Query scans records in insertion order and returns those matching f,
// honoring Offset and Limit after filtering.
func (s *Store) Query(f Filter) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.db.NewIterator(recPrefix, nil)
	defer it.Release()

	var (
		out     []*Record
		skipped int
	)
	for it.Next() {
		var r Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("audit: decode %s: %w", it.Key(), err)
		}
		if !f.matches(&r) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, &r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return out, nil
}

// Len returns the number of persisted records.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.db.NewIterator(recPrefix, nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func recKey(seq uint64) []byte {
	key := make([]byte, len(recPrefix)+8)
	copy(key, recPrefix)
	binary.BigEndian.PutUint64(key[len(recPrefix):], seq)
	return key
}

// Sink decouples audit emission from the caller's critical path. Emit
// enqueues and returns immediately; a background goroutine drains into the
// store. A full queue drops the record with a warning rather than blocking
// block production.
type Sink struct {
	store  *Store
	ch     chan *Record
	done   chan struct{}
	logger *log.Logger

	// mu orders Emit against Close: emitters hold the read lock across the
	// closed check and the send, Close takes the write lock before closing
	// the channel. An emitter can therefore never send on a closed channel.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

const defaultQueueDepth = 256

func NewSink(store *Store) *Sink {
	s := &Sink{
		store:  store,
		ch:     make(chan *Record, defaultQueueDepth),
		done:   make(chan struct{}),
		logger: log.Module("audit"),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for r := range s.ch {
		if err := s.store.Append(r); err != nil {
			s.logger.Error("audit append failed", "action", r.Action, "err", err)
		}
	}
}

// Emit records an audit event. It never fails the caller.
func (s *Sink) Emit(r *Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit queue full, record dropped", "action", r.Action)
	}
}

// Dropped returns the number of records discarded due to a full queue.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("audit: sink already closed")
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	return nil
}
