package builtin

import (
	"testing"
	"time"

	"github.com/aidledger/aidledger/contracts"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/shipment"
)

func ctxFor(kind types.TxKind, payload string, data map[string]string) *contracts.Context {
	if data == nil {
		data = map[string]string{}
	}
	return &contracts.Context{
		Transaction: types.NewTransaction(kind, "sender-pub", payload),
		Data:        data,
	}
}

func hasEvent(res *contracts.Result, name string) bool {
	for _, e := range res.Events {
		if e.Name == name {
			return true
		}
	}
	return false
}

func deployTracking(t *testing.T) *contracts.Engine {
	t.Helper()
	e := contracts.NewEngine()
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}
	return e
}

// ── Shipment tracking: creation ──────────────────────────────────────────────

func TestTrackingCreation(t *testing.T) {
	e := deployTracking(t)
	ctx := ctxFor(types.TxShipmentCreated,
		`{"shipmentId":"SH-1","origin":"Warehouse A","destination":"Camp B","recipientId":"R-1"}`, nil)

	res, err := e.Execute("shipment-tracking", ctx)
	if err != nil || !res.Success {
		t.Fatalf("Execute = (%+v, %v)", res, err)
	}
	st, _ := e.StateOf("shipment-tracking")
	if st["shipment_SH-1_status"] != string(shipment.StatusCreated) {
		t.Fatalf("status = %q, want Created", st["shipment_SH-1_status"])
	}
	if st["shipment_SH-1_createdBy"] != "sender-pub" || st["shipment_SH-1_createdAt"] == "" {
		t.Fatalf("provenance not seeded: %v", st)
	}
	if len(res.Events) != 0 {
		t.Fatalf("unexpected events on plain creation: %+v", res.Events)
	}
}

func TestTrackingAutoValidatesWithItems(t *testing.T) {
	e := deployTracking(t)
	ctx := ctxFor(types.TxShipmentCreated,
		`{"shipmentId":"SH-2","origin":"A","destination":"B","recipientId":"R-1","items":["rice","tarpaulin"]}`, nil)

	res, err := e.Execute("shipment-tracking", ctx)
	if err != nil || !res.Success {
		t.Fatalf("Execute = (%+v, %v)", res, err)
	}
	if !hasEvent(res, EventShipmentAutoValidated) {
		t.Fatalf("missing ShipmentAutoValidated: %+v", res.Events)
	}
	st, _ := e.StateOf("shipment-tracking")
	if st["shipment_SH-2_status"] != string(shipment.StatusValidated) {
		t.Fatalf("status = %q, want Validated", st["shipment_SH-2_status"])
	}
}

func TestTrackingCreationRequiresFields(t *testing.T) {
	e := deployTracking(t)
	payloads := []string{
		`{"origin":"A","destination":"B","recipientId":"R-1"}`,
		`{"shipmentId":"SH-3","destination":"B","recipientId":"R-1"}`,
		`{"shipmentId":"SH-3","origin":"A","recipientId":"R-1"}`,
		`{"shipmentId":"SH-3","origin":"A","destination":"B"}`,
		`not json`,
	}
	for i, p := range payloads {
		res, err := e.Execute("shipment-tracking", ctxFor(types.TxShipmentCreated, p, nil))
		if err != nil {
			t.Fatal(err)
		}
		if res.Success {
			t.Errorf("payload %d accepted: %+v", i, res)
		}
	}
	if st, _ := e.StateOf("shipment-tracking"); len(st) != 0 {
		t.Fatalf("failed creations seeded state: %v", st)
	}
}

// ── Shipment tracking: transitions ───────────────────────────────────────────

func TestTrackingFullLifecycle(t *testing.T) {
	e := deployTracking(t)
	created := ctxFor(types.TxShipmentCreated,
		`{"shipmentId":"SH-4","origin":"A","destination":"B","recipientId":"R-1"}`, nil)
	if _, err := e.Execute("shipment-tracking", created); err != nil {
		t.Fatal(err)
	}

	steps := []shipment.Status{
		shipment.StatusValidated,
		shipment.StatusInTransit,
		shipment.StatusDelivered,
		shipment.StatusConfirmed,
	}
	for _, next := range steps {
		ctx := ctxFor(types.TxStatusUpdated,
			`{"shipmentId":"SH-4","status":"`+string(next)+`"}`, nil)
		res, err := e.Execute("shipment-tracking", ctx)
		if err != nil || !res.Success {
			t.Fatalf("transition to %s = (%+v, %v)", next, res, err)
		}
		if next == shipment.StatusDelivered && !hasEvent(res, EventShipmentReachedDestination) {
			t.Fatal("missing ShipmentReachedDestination on Delivered")
		}
	}
	st, _ := e.StateOf("shipment-tracking")
	if st["shipment_SH-4_status"] != string(shipment.StatusConfirmed) {
		t.Fatalf("final status = %q", st["shipment_SH-4_status"])
	}
}

func TestTrackingRejectsInvalidTransitions(t *testing.T) {
	e := deployTracking(t)
	created := ctxFor(types.TxShipmentCreated,
		`{"shipmentId":"SH-5","origin":"A","destination":"B","recipientId":"R-1"}`, nil)
	if _, err := e.Execute("shipment-tracking", created); err != nil {
		t.Fatal(err)
	}

	// Skipping straight from Created to Delivered is not a legal step.
	res, err := e.Execute("shipment-tracking",
		ctxFor(types.TxStatusUpdated, `{"shipmentId":"SH-5","status":"Delivered"}`, nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("invalid transition accepted")
	}
	if !hasEvent(res, EventInvalidStateTransition) {
		t.Fatalf("missing InvalidStateTransition: %+v", res.Events)
	}
	st, _ := e.StateOf("shipment-tracking")
	if st["shipment_SH-5_status"] != string(shipment.StatusCreated) {
		t.Fatal("failed transition mutated state")
	}

	// Updates for a shipment the contract never saw also fail.
	res, err = e.Execute("shipment-tracking",
		ctxFor(types.TxStatusUpdated, `{"shipmentId":"SH-99","status":"Validated"}`, nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !hasEvent(res, EventInvalidStateTransition) {
		t.Fatalf("unknown shipment: %+v", res)
	}
}

func TestTrackingCanExecute(t *testing.T) {
	c := NewShipmentTracking()
	if !c.CanExecute(ctxFor(types.TxShipmentCreated, `{}`, nil)) ||
		!c.CanExecute(ctxFor(types.TxStatusUpdated, `{}`, nil)) {
		t.Fatal("contract refuses its own transaction types")
	}
	if c.CanExecute(ctxFor(types.TxDeliveryConfirmed, `{}`, nil)) {
		t.Fatal("contract claims DeliveryConfirmed")
	}
	if c.CanExecute(nil) {
		t.Fatal("nil context accepted")
	}
}

// ── Delivery verification ────────────────────────────────────────────────────

func TestDeliveryVerified(t *testing.T) {
	e := contracts.NewEngine()
	if err := e.Deploy(NewDeliveryVerification()); err != nil {
		t.Fatal(err)
	}
	ctx := ctxFor(types.TxDeliveryConfirmed,
		`{"shipmentId":"SH-1","recipientId":"R-1"}`,
		map[string]string{DataAssignedRecipient: "R-1"})

	res, err := e.Execute("delivery-verification", ctx)
	if err != nil || !res.Success {
		t.Fatalf("Execute = (%+v, %v)", res, err)
	}
	if !hasEvent(res, EventDeliveryVerified) {
		t.Fatalf("missing DeliveryVerified: %+v", res.Events)
	}
	st, _ := e.StateOf("delivery-verification")
	if st["delivery_SH-1_verified"] != "true" || st["delivery_SH-1_onTime"] != "true" {
		t.Fatalf("verification state wrong: %v", st)
	}
}

func TestDeliveryRecipientMismatch(t *testing.T) {
	c := NewDeliveryVerification()
	ctx := ctxFor(types.TxDeliveryConfirmed,
		`{"shipmentId":"SH-1","recipientId":"R-2"}`,
		map[string]string{DataAssignedRecipient: "R-1"})
	res := c.Execute(ctx, nil)
	if res.Success {
		t.Fatal("mismatched recipient accepted")
	}
}

func TestDeliveryQRToken(t *testing.T) {
	c := NewDeliveryVerification()

	match := ctxFor(types.TxDeliveryConfirmed,
		`{"shipmentId":"SH-1","recipientId":"R-1","qrToken":"tok-123"}`,
		map[string]string{DataAssignedRecipient: "R-1", DataExpectedQRToken: "tok-123"})
	if res := c.Execute(match, nil); !res.Success {
		t.Fatalf("matching token rejected: %+v", res)
	}

	mismatch := ctxFor(types.TxDeliveryConfirmed,
		`{"shipmentId":"SH-1","recipientId":"R-1","qrToken":"tok-999"}`,
		map[string]string{DataAssignedRecipient: "R-1", DataExpectedQRToken: "tok-123"})
	res := c.Execute(mismatch, nil)
	if res.Success || !hasEvent(res, EventQRCodeVerificationFailed) {
		t.Fatalf("token mismatch: %+v", res)
	}
}

func TestDeliveryDelayClassification(t *testing.T) {
	c := NewDeliveryVerification()
	past := types.FormatTimestamp(time.Now().UTC().Add(-48 * time.Hour))
	ctx := ctxFor(types.TxDeliveryConfirmed,
		`{"shipmentId":"SH-1","recipientId":"R-1"}`,
		map[string]string{DataAssignedRecipient: "R-1", DataExpectedDeliveryDate: past})

	res := c.Execute(ctx, nil)
	if !res.Success {
		t.Fatalf("delayed delivery rejected: %+v", res)
	}
	if !hasEvent(res, EventDeliveryVerified) || !hasEvent(res, EventDeliveryDelayed) {
		t.Fatalf("delay events wrong: %+v", res.Events)
	}
	if res.StateDelta["delivery_SH-1_onTime"] != "false" {
		t.Fatalf("onTime delta wrong: %v", res.StateDelta)
	}
}
