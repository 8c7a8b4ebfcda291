package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/burnrate"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/escrow"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/payments"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/status"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Nodes())
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, ok := s.engine.Node(name)
	if !ok {
		s.writeError(w, fmt.Errorf("node %q: %w", name, offset.ErrNodeNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleClientNodes lists node balances whose client name starts with the
// prefix query parameter.
func (s *Server) handleClientNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.ClientNodes(r.URL.Query().Get("prefix")))
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Clients().Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAddClient(w http.ResponseWriter, r *http.Request) {
	var req offset.ClientEntry
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, fmt.Errorf("%w: client name is required", errBadRequest))
		return
	}
	s.engine.Clients().Add(req.Name, req.NodeIDs)
	entry, _ := s.engine.Clients().Get(req.Name)
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveClient(w http.ResponseWriter, r *http.Request) {
	s.engine.Clients().Remove(r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}

type offsetRequest struct {
	Client string  `json:"client"`
	Budget float64 `json:"budget"`
	Target string  `json:"target"`
}

type offsetResponse struct {
	Report  offset.Report `json:"report"`
	Message string        `json:"message"`
}

// handleOffset runs an allocation pass. With a client the pass is scoped to
// that client's nodes, otherwise it runs over the network listing.
func (s *Server) handleOffset(w http.ResponseWriter, r *http.Request) {
	var req offsetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var (
		report offset.Report
		err    error
	)
	if req.Client != "" {
		report, err = s.engine.OffsetForClient(r.Context(), req.Client, req.Budget, req.Target)
	} else {
		report, err = s.engine.AllocateOffset(r.Context(), nil, req.Budget, req.Target)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offsetResponse{Report: report, Message: report.String()})
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	ledger := s.engine.Payments()
	if ledger == nil {
		s.writeError(w, fmt.Errorf("payments: %w", errors.ErrUnsupported))
		return
	}
	if payer := r.URL.Query().Get("payer"); payer != "" {
		s.writeJSON(w, http.StatusOK, nonNil(ledger.PurchasesBy(payer)))
		return
	}
	s.writeJSON(w, http.StatusOK, ledger.Purchases())
}

type purchaseRequest struct {
	Payer   string `json:"payer"`
	Tickets uint64 `json:"tickets"`
	Target  string `json:"target"`
}

type purchaseResponse struct {
	Payment payments.Payment `json:"payment"`
	Report  offset.Report    `json:"report"`
	Message string           `json:"message"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Payer == "" {
		s.writeError(w, fmt.Errorf("%w: payer is required", errBadRequest))
		return
	}

	payment, report, err := s.engine.PurchaseOffset(r.Context(), req.Payer, req.Tickets, req.Target)
	if err != nil && payment.ID == 0 {
		s.writeError(w, err)
		return
	}
	resp := purchaseResponse{Payment: payment, Report: report, Message: report.String()}
	if err != nil {
		// The payment is settled; report the allocation failure alongside it.
		resp.Message = err.Error()
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ledger := s.engine.Payments()
	if ledger == nil {
		s.writeError(w, fmt.Errorf("payments: %w", errors.ErrUnsupported))
		return
	}
	count, err := strconv.ParseUint(r.URL.Query().Get("count"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: count: %v", errBadRequest, err))
		return
	}
	if err := payments.ValidateTicketCount(count); err != nil {
		s.writeError(w, fmt.Errorf("price: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":        count,
		"ticket_price": ledger.TicketPrice(),
		"price":        ledger.Price(count),
	})
}

type unitResponse struct {
	Status   *status.UnitStatus `json:"status,omitempty"`
	BurnRate *burnrate.Snapshot `json:"burn_rate,omitempty"`
}

// handleUnit returns the tracked burn rate of a unit and, when the status
// provider supports it, a live status snapshot.
func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var resp unitResponse
	if snap, ok := s.engine.BurnRate(id); ok {
		resp.BurnRate = &snap
	}

	st, err := s.engine.UnitStatus(r.Context(), id)
	if err == nil {
		resp.Status = &st
	} else if !errors.Is(err, errors.ErrUnsupported) || resp.BurnRate == nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmissions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	win, ok := s.engine.Emissions(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no emissions recorded for %q", id)})
		return
	}
	s.writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Escrow().List())
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner, err := s.engine.Escrow().Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, escrow.Entry{ID: id, Owner: owner})
}

func (s *Server) handleAddEscrow(w http.ResponseWriter, r *http.Request) {
	var req escrow.Entry
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ID == "" || req.Owner == "" {
		s.writeError(w, fmt.Errorf("%w: id and owner are required", errBadRequest))
		return
	}
	if err := s.engine.Escrow().Add(req.ID, req.Owner); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

// handleContributions proxies contribution queries: by id, by entity or
// the full list.
func (s *Server) handleContributions(w http.ResponseWriter, r *http.Request) {
	if s.contributions == nil {
		s.writeError(w, fmt.Errorf("contributions: %w", errors.ErrUnsupported))
		return
	}

	var (
		body json.RawMessage
		err  error
	)
	q := r.URL.Query()
	switch {
	case q.Get("id") != "":
		body, err = s.contributions.ByID(r.Context(), q.Get("id"))
	case q.Get("entity") != "":
		body, err = s.contributions.ByEntity(r.Context(), q.Get("entity"))
	default:
		body, err = s.contributions.List(r.Context())
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("contribution query failed")
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
