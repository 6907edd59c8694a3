package shipment

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("shipment: unknown shipment")
	ErrExists            = errors.New("shipment: shipment already exists")
	ErrInvalidTransition = errors.New("shipment: invalid status transition")
	ErrForbidden         = errors.New("shipment: principal not allowed")
	ErrNoSessionKey      = errors.New("shipment: no session key for principal")
	ErrBadRequest        = errors.New("shipment: missing required fields")
)

// Role of an acting principal. Coordinators and admins create shipments and
// advance status; only the assigned recipient confirms delivery.
type Role string

const (
	RoleAdmin       Role = "Admin"
	RoleCoordinator Role = "Coordinator"
	RoleRecipient   Role = "Recipient"
	RoleValidator   Role = "Validator"
)

// Principal is the resolved identity of a caller.
type Principal struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
	Role      Role   `json:"role"`
}

// Shipment is the external source-of-truth row for one aid consignment.
// The chain records lifecycle events; this row records current state.
type Shipment struct {
	ID               string     `json:"id"`
	Origin           string     `json:"origin"`
	Destination      string     `json:"destination"`
	RecipientID      string     `json:"recipient_id"`
	Items            []string   `json:"items,omitempty"`
	Status           Status     `json:"status"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	QRToken          string     `json:"qr_token,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (s *Shipment) copy() *Shipment {
	cpy := *s
	cpy.Items = append([]string(nil), s.Items...)
	if s.ExpectedDelivery != nil {
		t := *s.ExpectedDelivery
		cpy.ExpectedDelivery = &t
	}
	return &cpy
}

// Repository is the storage abstraction for shipment rows. Each operation
// is atomic; callers do not control transaction boundaries.
type Repository interface {
	Get(id string) (*Shipment, error)
	List() ([]*Shipment, error)
	Add(s *Shipment) error
	Update(s *Shipment) error
	Remove(id string) error
}

// MemoryRepository is the in-process Repository used by tests and
// single-node deployments.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]*Shipment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Shipment)}
}

func (r *MemoryRepository) Get(id string) (*Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copy(), nil
}

func (r *MemoryRepository) List() ([]*Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Shipment, 0, len(r.rows))
	for _, s := range r.rows {
		out = append(out, s.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Add(s *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.ID]; ok {
		return ErrExists
	}
	r.rows[s.ID] = s.copy()
	return nil
}

func (r *MemoryRepository) Update(s *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.ID]; !ok {
		return ErrNotFound
	}
	r.rows[s.ID] = s.copy()
	return nil
}

func (r *MemoryRepository) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}
