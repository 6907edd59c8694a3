package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/aidledger/aidledger/audit"
	"github.com/aidledger/aidledger/consensus/poa"
	"github.com/aidledger/aidledger/core"
	"github.com/aidledger/aidledger/shipment"
	"github.com/aidledger/aidledger/vault"
)

// PrincipalResolver extracts the acting principal from a request. A nil
// principal with a nil error means the request carries no credentials.
type PrincipalResolver func(r *http.Request) (*shipment.Principal, error)

// HeaderPrincipalResolver trusts the X-Principal-* headers. It is meant
// for deployments behind an authenticating reverse proxy and for tests.
func HeaderPrincipalResolver(r *http.Request) (*shipment.Principal, error) {
	id := r.Header.Get("X-Principal-Id")
	if id == "" {
		return nil, nil
	}
	return &shipment.Principal{
		ID:        id,
		Name:      r.Header.Get("X-Principal-Name"),
		PublicKey: r.Header.Get("X-Principal-Key"),
		Role:      shipment.Role(r.Header.Get("X-Principal-Role")),
	}, nil
}

func (n *Node) router() http.Handler {
	r := httprouter.New()

	r.GET("/blockchain/chain", n.handleChain)
	r.GET("/blockchain/blocks/:index", n.handleBlock)
	r.GET("/blockchain/transactions/:id", n.handleTransaction)
	r.GET("/blockchain/pending", n.handlePending)
	r.POST("/blockchain/validate", n.handleValidate)

	r.GET("/consensus/status", n.handleStatus)
	r.POST("/consensus/create-block", n.requireRole(n.handleCreateBlock, shipment.RoleAdmin, shipment.RoleValidator))
	r.POST("/consensus/validate-block/:index", n.requireRole(n.handleValidateBlock, shipment.RoleAdmin, shipment.RoleValidator))
	r.GET("/consensus/validators", n.handleValidators)

	if n.service != nil {
		r.POST("/shipments", n.withPrincipal(n.handleShipmentCreate))
		r.GET("/shipments", n.handleShipmentList)
		r.GET("/shipments/:id", n.handleShipmentGet)
		r.GET("/shipments/:id/history", n.handleShipmentHistory)
		r.POST("/shipments/:id/status", n.withPrincipal(n.handleShipmentStatus))
		r.POST("/shipments/:id/confirm", n.withPrincipal(n.handleShipmentConfirm))
	}
	if n.auditLog != nil {
		r.GET("/audit/records", n.handleAuditQuery)
	}
	return r
}

// ── Middleware ───────────────────────────────────────────────────────────────

type principalHandler func(http.ResponseWriter, *http.Request, httprouter.Params, *shipment.Principal)

// withPrincipal requires credentials but leaves role policy to the
// service layer.
func (n *Node) withPrincipal(next principalHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := n.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid Credentials", err)
			return
		}
		if p == nil {
			writeError(w, http.StatusUnauthorized, "Missing Credentials", errors.New("no principal"))
			return
		}
		next(w, r, ps, p)
	}
}

// requireRole additionally enforces a role allow-list at the transport.
func (n *Node) requireRole(next principalHandler, allowed ...shipment.Role) httprouter.Handle {
	return n.withPrincipal(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p *shipment.Principal) {
		for _, role := range allowed {
			if p.Role == role {
				next(w, r, ps, p)
				return
			}
		}
		writeError(w, http.StatusForbidden, "Insufficient Role",
			errors.New("role "+string(p.Role)+" not allowed"))
	})
}

// ── Blockchain resources ─────────────────────────────────────────────────────

func (n *Node) handleChain(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, n.ledger.Chain())
}

func (n *Node) handleBlock(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	index, err := strconv.ParseUint(ps.ByName("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Block Index", err)
		return
	}
	b, err := n.ledger.BlockByIndex(index)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (n *Node) handleTransaction(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	tx, err := n.ledger.TransactionByID(ps.ByName("id"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (n *Node) handlePending(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, n.ledger.Pending())
}

func (n *Node) handleValidate(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	ok, errs := n.ledger.ValidateChain()
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_valid":    ok,
		"block_count": n.ledger.Height(),
		"errors":      msgs,
	})
}

// ── Consensus resources ──────────────────────────────────────────────────────

func (n *Node) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	st, err := n.engine.Status()
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain_height":           st.Height,
		"pending":                st.PendingCount,
		"active_validator_count": st.ActiveValidators,
		"head_hash":              st.HeadHash,
		"head_timestamp":         st.HeadTimestamp,
		"current_proposer_id":    st.CurrentProposerID,
		"auto_sealing":           st.AutoSealing,
	})
}

func (n *Node) handleCreateBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p *shipment.Principal) {
	var body struct {
		ValidatorPassword string `json:"validator_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Request Body", err)
		return
	}

	b, err := n.engine.SealNextBlock(body.ValidatorPassword)
	if err != nil {
		writeMapped(w, err)
		return
	}
	// Attribution comes from the sealed block itself: a concurrent seal (the
	// background loop) may rotate the proposer between any pre-read and the
	// actual sealing.
	var validatorID string
	if v, err := n.registry.ByPublicKey(b.ValidatorPublicKey); err == nil {
		validatorID = v.ID
	}
	n.logger.Info("block sealed via http", "index", b.Index, "by", p.Name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"block_index":       b.Index,
		"block_hash":        b.Hash,
		"transaction_count": len(b.Transactions),
		"validator_id":      validatorID,
	})
}

func (n *Node) handleValidateBlock(w http.ResponseWriter, _ *http.Request, ps httprouter.Params, _ *shipment.Principal) {
	index, err := strconv.ParseUint(ps.ByName("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Block Index", err)
		return
	}
	if err := n.engine.ValidateBlockAt(index); err != nil {
		if errors.Is(err, core.ErrUnknownBlock) {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"block_index": index,
			"is_valid":    false,
			"error":       err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"block_index": index,
		"is_valid":    true,
	})
}

func (n *Node) handleValidators(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	vs, err := n.registry.ActiveOrdered()
	if err != nil {
		writeMapped(w, err)
		return
	}
	// Strip key material from the public view.
	type view struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		PublicKey          string `json:"public_key"`
		Address            string `json:"address,omitempty"`
		Priority           uint64 `json:"priority"`
		TotalBlocksCreated uint64 `json:"total_blocks_created"`
	}
	out := make([]view, 0, len(vs))
	for _, v := range vs {
		out = append(out, view{
			ID:                 v.ID,
			Name:               v.Name,
			PublicKey:          v.PublicKey,
			Address:            v.Address,
			Priority:           v.Priority,
			TotalBlocksCreated: v.TotalBlocksCreated,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Shipment resources ───────────────────────────────────────────────────────

func (n *Node) handleShipmentCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p *shipment.Principal) {
	var req shipment.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Request Body", err)
		return
	}
	out, err := n.service.Create(p, req)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (n *Node) handleShipmentList(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	rows, err := n.service.List()
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (n *Node) handleShipmentGet(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	row, err := n.service.Get(ps.ByName("id"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (n *Node) handleShipmentHistory(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	hist, err := n.service.History(ps.ByName("id"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	type entry struct {
		Transaction interface{} `json:"transaction"`
		BlockIndex  uint64      `json:"block_index"`
		BlockHash   string      `json:"block_hash"`
	}
	out := make([]entry, 0, len(hist))
	for _, loc := range hist {
		out = append(out, entry{Transaction: loc.Transaction, BlockIndex: loc.BlockIndex, BlockHash: loc.BlockHash})
	}
	writeJSON(w, http.StatusOK, out)
}

func (n *Node) handleShipmentStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p *shipment.Principal) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Request Body", err)
		return
	}
	out, err := n.service.AdvanceStatus(p, ps.ByName("id"), shipment.Status(body.Status))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (n *Node) handleShipmentConfirm(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p *shipment.Principal) {
	var body struct {
		QRToken string `json:"qr_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Request Body", err)
		return
	}
	out, err := n.service.ConfirmDelivery(p, ps.ByName("id"), body.QRToken)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Audit resources ──────────────────────────────────────────────────────────

func (n *Node) handleAuditQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	f := audit.Filter{
		Category:    q.Get("category"),
		Action:      q.Get("action"),
		PrincipalID: q.Get("principal_id"),
		EntityID:    q.Get("entity_id"),
	}
	if v := q.Get("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid Query", err)
			return
		}
		f.Success = &ok
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	recs, err := n.auditLog.Query(f)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// ── Response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title string, err error) {
	writeJSON(w, status, map[string]string{
		"title":  title,
		"detail": err.Error(),
	})
}

// writeMapped converts domain errors to the HTTP statuses the surface
// promises: availability and validation failures are 400s, missing
// resources 404s, role denials 403s.
func writeMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrEmptyPool):
		writeError(w, http.StatusBadRequest, "No Pending Transactions", err)
	case errors.Is(err, poa.ErrNoValidators):
		writeError(w, http.StatusBadRequest, "No Active Validators", err)
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusBadRequest, "Invalid Validator Password", err)
	case errors.Is(err, core.ErrUnknownBlock),
		errors.Is(err, core.ErrUnknownTransaction),
		errors.Is(err, shipment.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not Found", err)
	case errors.Is(err, shipment.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, shipment.ErrNoSessionKey):
		writeError(w, http.StatusUnauthorized, "No Session Key", err)
	case errors.Is(err, core.ErrBadTransaction),
		errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrInvalidHash),
		errors.Is(err, core.ErrInvalidBlockIndex),
		errors.Is(err, core.ErrInvalidPreviousHash),
		errors.Is(err, core.ErrDuplicate),
		errors.Is(err, shipment.ErrInvalidTransition),
		errors.Is(err, shipment.ErrBadRequest),
		errors.Is(err, shipment.ErrExists):
		writeError(w, http.StatusBadRequest, "Validation Failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal Error", err)
	}
}
