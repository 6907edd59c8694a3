// Package builtin holds the contracts deployed at boot: shipment tracking
// and delivery verification. Both are advisory observers of ledger
// transactions; the authoritative state machine lives in the shipment
// orchestrator.
package builtin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aidledger/aidledger/contracts"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/shipment"
)

// Events emitted by the shipment-tracking contract.
const (
	EventShipmentAutoValidated      = "ShipmentAutoValidated"
	EventShipmentReachedDestination = "ShipmentReachedDestination"
	EventInvalidStateTransition     = "InvalidStateTransition"
)

var (
	errBadPayload        = errors.New("builtin: payload missing required fields")
	errUnknownShipment   = errors.New("builtin: no tracked state for shipment")
	errInvalidTransition = errors.New("builtin: invalid status transition")
)

// ShipmentTracking mirrors each shipment's lifecycle into contract state:
// creation seeds the status, updates walk the single-successor machine.
type ShipmentTracking struct{}

func NewShipmentTracking() *ShipmentTracking { return &ShipmentTracking{} }

func (s *ShipmentTracking) ID() string      { return "shipment-tracking" }
func (s *ShipmentTracking) Name() string    { return "Shipment Tracking" }
func (s *ShipmentTracking) Version() string { return "1.0.0" }
func (s *ShipmentTracking) Description() string {
	return "Tracks shipment lifecycle states and flags invalid transitions"
}

func (s *ShipmentTracking) CanExecute(ctx *contracts.Context) bool {
	if ctx == nil || ctx.Transaction == nil {
		return false
	}
	t := ctx.Transaction.Type
	return t == types.TxShipmentCreated || t == types.TxStatusUpdated
}

func (s *ShipmentTracking) Execute(ctx *contracts.Context, state contracts.State) *contracts.Result {
	var payload struct {
		ShipmentID  string   `json:"shipmentId"`
		Origin      string   `json:"origin"`
		Destination string   `json:"destination"`
		RecipientID string   `json:"recipientId"`
		Items       []string `json:"items"`
		Status      string   `json:"status"`
	}
	if err := json.Unmarshal([]byte(ctx.Transaction.Payload), &payload); err != nil {
		return contracts.Fail(fmt.Errorf("builtin: decode payload: %w", err))
	}
	if payload.ShipmentID == "" {
		return contracts.Fail(errBadPayload)
	}

	switch ctx.Transaction.Type {
	case types.TxShipmentCreated:
		return s.handleCreated(ctx, payload.ShipmentID, payload.Origin, payload.Destination,
			payload.RecipientID, payload.Items)
	case types.TxStatusUpdated:
		return s.handleStatusUpdated(state, payload.ShipmentID, shipment.Status(payload.Status))
	default:
		return contracts.Fail(fmt.Errorf("builtin: unexpected transaction type %q", ctx.Transaction.Type))
	}
}

func (s *ShipmentTracking) handleCreated(ctx *contracts.Context, id, origin, destination, recipient string, items []string) *contracts.Result {
	if origin == "" || destination == "" || recipient == "" {
		return contracts.Fail(errBadPayload)
	}
	status := shipment.StatusCreated
	var events []contracts.Event
	// Shipments created with a populated manifest skip straight past the
	// manual validation step.
	if len(items) > 0 {
		status = shipment.StatusValidated
		events = append(events, contracts.Event{
			Name: EventShipmentAutoValidated,
			Data: map[string]string{"shipmentId": id, "items": fmt.Sprint(len(items))},
		})
	}
	delta := map[string]string{
		stateKey(id, "status"):    string(status),
		stateKey(id, "createdBy"): ctx.Transaction.SenderPublicKey,
		stateKey(id, "createdAt"): types.FormatTimestamp(ctx.Transaction.Timestamp),
	}
	return contracts.Succeed(fmt.Sprintf("shipment %s tracked as %s", id, status), delta, events...)
}

func (s *ShipmentTracking) handleStatusUpdated(state contracts.State, id string, to shipment.Status) *contracts.Result {
	prior, ok := state.Get(stateKey(id, "status"))
	if !ok {
		return contracts.Fail(errUnknownShipment, invalidTransition(id, "", to))
	}
	from := shipment.Status(prior)
	if !shipment.CanTransition(from, to) {
		return contracts.Fail(errInvalidTransition, invalidTransition(id, from, to))
	}

	var events []contracts.Event
	if to == shipment.StatusDelivered {
		events = append(events, contracts.Event{
			Name: EventShipmentReachedDestination,
			Data: map[string]string{"shipmentId": id},
		})
	}
	delta := map[string]string{stateKey(id, "status"): string(to)}
	return contracts.Succeed(fmt.Sprintf("shipment %s moved %s -> %s", id, from, to), delta, events...)
}

func invalidTransition(id string, from, to shipment.Status) contracts.Event {
	return contracts.Event{
		Name: EventInvalidStateTransition,
		Data: map[string]string{"shipmentId": id, "from": string(from), "to": string(to)},
	}
}

func stateKey(id, field string) string {
	return fmt.Sprintf("shipment_%s_%s", id, field)
}
