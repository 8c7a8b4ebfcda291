package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/escrow"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/payments"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/status"
)

// maxRequestBytes bounds request bodies.
const maxRequestBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusCode(err), errorBody{Error: err.Error()})
}

// statusCode maps engine errors to HTTP status codes.
func statusCode(err error) int {
	var fe *status.FetchError
	switch {
	case errors.Is(err, offset.ErrNodeNotFound),
		errors.Is(err, offset.ErrClientNotFound),
		errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrExists):
		return http.StatusConflict
	case errors.Is(err, payments.ErrInvalidTicketCount),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, payments.ErrTransferFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
