// Package shipment is the domain orchestrator: it owns the shipment
// lifecycle, enforces roles, signs ledger transactions for each lifecycle
// event and reconstructs shipment history from the chain.
package shipment

// Status is a shipment lifecycle state. The machine is linear: each state
// has exactly one successor and Confirmed is terminal.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusValidated Status = "Validated"
	StatusInTransit Status = "InTransit"
	StatusDelivered Status = "Delivered"
	StatusConfirmed Status = "Confirmed"
)

var successor = map[Status]Status{
	StatusCreated:   StatusValidated,
	StatusValidated: StatusInTransit,
	StatusInTransit: StatusDelivered,
	StatusDelivered: StatusConfirmed,
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := successor[s]
	return ok || s == StatusConfirmed
}

// Next returns the single allowed successor state. Confirmed has none.
func (s Status) Next() (Status, bool) {
	next, ok := successor[s]
	return next, ok
}

// CanTransition reports whether from → to is the one allowed step.
func CanTransition(from, to Status) bool {
	next, ok := from.Next()
	return ok && next == to
}
