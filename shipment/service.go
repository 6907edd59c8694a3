package shipment

import (
	"fmt"
	"time"

	"github.com/aidledger/aidledger/audit"
	"github.com/aidledger/aidledger/contracts"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/vault"
)

// Service orchestrates the shipment lifecycle: it enforces roles and the
// status machine, mutates the repository, then signs and submits a ledger
// transaction for every accepted change. Contract execution is advisory;
// its results ride along in the Outcome.
type Service struct {
	repo      Repository
	ledger    *core.Ledger
	keys      *vault.Keyring
	contracts *contracts.Engine // nil disables advisory execution
	sink      *audit.Sink       // nil disables auditing

	// bootstrap permits sentinel-signed transactions when a principal has
	// no session key. Only sensible with signature enforcement off, during
	// initial data loading.
	bootstrap bool
	logger    *log.Logger
}

func NewService(repo Repository, ledger *core.Ledger, keys *vault.Keyring) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		keys:   keys,
		logger: log.Module("shipment"),
	}
}

// WithContracts attaches an advisory contract engine.
func (s *Service) WithContracts(engine *contracts.Engine) *Service {
	s.contracts = engine
	return s
}

// WithAudit attaches an audit sink.
func (s *Service) WithAudit(sink *audit.Sink) *Service {
	s.sink = sink
	return s
}

// WithBootstrap toggles sentinel-signature fallback.
func (s *Service) WithBootstrap(enabled bool) *Service {
	s.bootstrap = enabled
	return s
}

// CreateRequest describes a new shipment.
type CreateRequest struct {
	ID               string     `json:"id"`
	Origin           string     `json:"origin"`
	Destination      string     `json:"destination"`
	RecipientID      string     `json:"recipient_id"`
	Items            []string   `json:"items,omitempty"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	QRToken          string     `json:"qr_token,omitempty"`
}

// Outcome is the result of one accepted lifecycle operation.
type Outcome struct {
	Shipment        *Shipment           `json:"shipment"`
	Transaction     *types.Transaction  `json:"transaction"`
	ContractResults []*contracts.Result `json:"contract_results,omitempty"`
}

// Create registers a shipment and records a ShipmentCreated transaction.
// Coordinators and admins only.
func (s *Service) Create(p *Principal, req CreateRequest) (*Outcome, error) {
	if err := requireRole(p, RoleCoordinator, RoleAdmin); err != nil {
		s.audit("shipment_created", p, req.ID, false, err.Error())
		return nil, err
	}
	if req.ID == "" || req.Origin == "" || req.Destination == "" || req.RecipientID == "" {
		return nil, ErrBadRequest
	}

	now := time.Now().UTC()
	row := &Shipment{
		ID:               req.ID,
		Origin:           req.Origin,
		Destination:      req.Destination,
		RecipientID:      req.RecipientID,
		Items:            req.Items,
		Status:           StatusCreated,
		ExpectedDelivery: req.ExpectedDelivery,
		QRToken:          req.QRToken,
		CreatedBy:        p.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Add(row); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"shipmentId":  req.ID,
		"origin":      req.Origin,
		"destination": req.Destination,
		"recipientId": req.RecipientID,
	}
	if len(req.Items) > 0 {
		fields["items"] = req.Items
	}
	if req.ExpectedDelivery != nil {
		fields["expectedDelivery"] = types.FormatTimestamp(*req.ExpectedDelivery)
	}
	out, err := s.submit(p, types.TxShipmentCreated, fields, nil)
	if err != nil {
		s.audit("shipment_created", p, req.ID, false, err.Error())
		return nil, err
	}
	out.Shipment = row
	s.audit("shipment_created", p, req.ID, true, "")
	s.logger.Info("shipment created", "id", req.ID, "by", p.Name)
	return out, nil
}

// AdvanceStatus moves a shipment one step along the lifecycle and records
// a StatusUpdated transaction. Coordinators and admins only.
func (s *Service) AdvanceStatus(p *Principal, id string, to Status) (*Outcome, error) {
	if err := requireRole(p, RoleCoordinator, RoleAdmin); err != nil {
		s.audit("status_updated", p, id, false, err.Error())
		return nil, err
	}
	row, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(row.Status, to) {
		s.audit("status_updated", p, id, false,
			fmt.Sprintf("illegal transition %s -> %s", row.Status, to))
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, row.Status, to)
	}

	from := row.Status
	row.Status = to
	row.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(row); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"shipmentId":     id,
		"status":         string(to),
		"previousStatus": string(from),
	}
	out, err := s.submit(p, types.TxStatusUpdated, fields, nil)
	if err != nil {
		s.audit("status_updated", p, id, false, err.Error())
		return nil, err
	}
	out.Shipment = row
	s.audit("status_updated", p, id, true, fmt.Sprintf("%s -> %s", from, to))
	s.logger.Info("shipment status advanced", "id", id, "from", from, "to", to)
	return out, nil
}

// ConfirmDelivery closes the lifecycle. Only the assigned recipient may
// confirm, the shipment must be Delivered, and a QR token must match when
// the shipment carries one.
func (s *Service) ConfirmDelivery(p *Principal, id, qrToken string) (*Outcome, error) {
	row, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Role != RoleRecipient || p.ID != row.RecipientID {
		s.audit("delivery_confirmed", p, id, false, "not the assigned recipient")
		return nil, ErrForbidden
	}
	if !CanTransition(row.Status, StatusConfirmed) {
		s.audit("delivery_confirmed", p, id, false,
			fmt.Sprintf("illegal transition %s -> %s", row.Status, StatusConfirmed))
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, row.Status, StatusConfirmed)
	}
	if row.QRToken != "" && row.QRToken != qrToken {
		s.audit("delivery_confirmed", p, id, false, "QR token mismatch")
		return nil, ErrForbidden
	}

	row.Status = StatusConfirmed
	row.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(row); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"shipmentId":  id,
		"recipientId": p.ID,
	}
	if qrToken != "" {
		fields["qrToken"] = qrToken
	}
	ctxData := map[string]string{"assignedRecipientId": row.RecipientID}
	if row.QRToken != "" {
		ctxData["expectedQrToken"] = row.QRToken
	}
	if row.ExpectedDelivery != nil {
		ctxData["expectedDeliveryDate"] = types.FormatTimestamp(*row.ExpectedDelivery)
	}
	out, err := s.submit(p, types.TxDeliveryConfirmed, fields, ctxData)
	if err != nil {
		s.audit("delivery_confirmed", p, id, false, err.Error())
		return nil, err
	}
	out.Shipment = row
	s.audit("delivery_confirmed", p, id, true, "")
	s.logger.Info("delivery confirmed", "id", id, "recipient", p.Name)
	return out, nil
}

// Get returns the current row for a shipment.
func (s *Service) Get(id string) (*Shipment, error) { return s.repo.Get(id) }

// List returns all shipments, oldest first.
func (s *Service) List() ([]*Shipment, error) { return s.repo.List() }

// History returns every committed transaction whose payload references the
// shipment id, oldest block first. The canonical payload always carries a
// `"shipmentId":"<id>"` pair, so a substring scan finds them all.
func (s *Service) History(id string) ([]core.Located, error) {
	if _, err := s.repo.Get(id); err != nil {
		return nil, err
	}
	needle := fmt.Sprintf(`"shipmentId":%q`, id)
	return s.ledger.TransactionsMatching(needle), nil
}

// submit builds and signs the lifecycle transaction, consults the advisory
// contracts, then submits it to the pending pool.
func (s *Service) submit(p *Principal, kind types.TxKind, fields map[string]interface{}, ctxData map[string]string) (*Outcome, error) {
	payload, err := types.CanonicalJSON(fields)
	if err != nil {
		return nil, err
	}
	tx := types.NewTransaction(kind, p.PublicKey, payload)

	if key, ok := s.keys.SigningKey(p.ID); ok {
		if err := tx.Sign(key); err != nil {
			return nil, fmt.Errorf("shipment: sign: %w", err)
		}
	} else if s.bootstrap {
		tx.Signature = types.SentinelSignature
	} else {
		return nil, ErrNoSessionKey
	}

	out := &Outcome{Transaction: tx}
	if s.contracts != nil {
		if ctxData == nil {
			ctxData = map[string]string{}
		}
		out.ContractResults = s.contracts.ExecuteApplicable(&contracts.Context{
			Transaction: tx,
			Data:        ctxData,
		})
	}

	if err := s.ledger.AddTransaction(tx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) audit(action string, p *Principal, entityID string, success bool, errMsg string) {
	if s.sink == nil {
		return
	}
	r := &audit.Record{
		Category:   audit.CategoryShipment,
		Action:     action,
		EntityID:   entityID,
		EntityType: "shipment",
		Success:    success,
	}
	if p != nil {
		r.PrincipalID = p.ID
		r.PrincipalName = p.Name
	}
	if success {
		r.Description = errMsg
	} else {
		r.ErrorMessage = errMsg
	}
	s.sink.Emit(r)
}

func requireRole(p *Principal, allowed ...Role) error {
	if p == nil {
		return ErrForbidden
	}
	for _, role := range allowed {
		if p.Role == role {
			return nil
		}
	}
	return ErrForbidden
}
