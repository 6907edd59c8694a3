package builtin

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aidledger/aidledger/contracts"
	"github.com/aidledger/aidledger/core/types"
)

// Events emitted by the delivery-verification contract.
const (
	EventDeliveryVerified         = "DeliveryVerified"
	EventQRCodeVerificationFailed = "QRCodeVerificationFailed"
	EventDeliveryDelayed          = "DeliveryDelayed"
)

// Context data keys the orchestrator supplies for verification.
const (
	DataAssignedRecipient    = "assignedRecipientId"
	DataExpectedQRToken      = "expectedQrToken"
	DataExpectedDeliveryDate = "expectedDeliveryDate"
)

var (
	errRecipientMismatch = errors.New("builtin: confirming recipient is not the assigned recipient")
	errQRTokenMismatch   = errors.New("builtin: QR token mismatch")
)

// DeliveryVerification checks delivery confirmations: the confirming
// recipient must be the assigned one, an optional QR token must match, and
// the delivery is classified on-time or delayed against the expected date.
type DeliveryVerification struct{}

func NewDeliveryVerification() *DeliveryVerification { return &DeliveryVerification{} }

func (d *DeliveryVerification) ID() string      { return "delivery-verification" }
func (d *DeliveryVerification) Name() string    { return "Delivery Verification" }
func (d *DeliveryVerification) Version() string { return "1.0.0" }
func (d *DeliveryVerification) Description() string {
	return "Verifies delivery confirmations against the assigned recipient and schedule"
}

func (d *DeliveryVerification) CanExecute(ctx *contracts.Context) bool {
	return ctx != nil && ctx.Transaction != nil && ctx.Transaction.Type == types.TxDeliveryConfirmed
}

func (d *DeliveryVerification) Execute(ctx *contracts.Context, state contracts.State) *contracts.Result {
	var payload struct {
		ShipmentID  string `json:"shipmentId"`
		RecipientID string `json:"recipientId"`
		QRToken     string `json:"qrToken"`
	}
	if err := json.Unmarshal([]byte(ctx.Transaction.Payload), &payload); err != nil {
		return contracts.Fail(fmt.Errorf("builtin: decode payload: %w", err))
	}
	if payload.ShipmentID == "" || payload.RecipientID == "" {
		return contracts.Fail(errBadPayload)
	}

	if assigned, ok := ctx.Value(DataAssignedRecipient); ok && assigned != payload.RecipientID {
		return contracts.Fail(errRecipientMismatch)
	}
	if expected, ok := ctx.Value(DataExpectedQRToken); ok && expected != payload.QRToken {
		return contracts.Fail(errQRTokenMismatch, contracts.Event{
			Name: EventQRCodeVerificationFailed,
			Data: map[string]string{"shipmentId": payload.ShipmentID},
		})
	}

	onTime := true
	if raw, ok := ctx.Value(DataExpectedDeliveryDate); ok {
		expected, err := time.Parse(types.TimestampFormat, raw)
		if err != nil {
			return contracts.Fail(fmt.Errorf("builtin: expected delivery date: %w", err))
		}
		onTime = !ctx.Transaction.Timestamp.After(expected)
	}

	events := []contracts.Event{{
		Name: EventDeliveryVerified,
		Data: map[string]string{
			"shipmentId":  payload.ShipmentID,
			"recipientId": payload.RecipientID,
			"onTime":      fmt.Sprint(onTime),
		},
	}}
	if !onTime {
		events = append(events, contracts.Event{
			Name: EventDeliveryDelayed,
			Data: map[string]string{"shipmentId": payload.ShipmentID},
		})
	}
	delta := map[string]string{
		deliveryKey(payload.ShipmentID, "verified"):   "true",
		deliveryKey(payload.ShipmentID, "verifiedAt"): types.FormatTimestamp(ctx.Transaction.Timestamp),
		deliveryKey(payload.ShipmentID, "onTime"):     fmt.Sprint(onTime),
	}
	return contracts.Succeed(fmt.Sprintf("delivery of %s verified", payload.ShipmentID), delta, events...)
}

func deliveryKey(id, field string) string {
	return fmt.Sprintf("delivery_%s_%s", id, field)
}
