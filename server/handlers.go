package server

import (
	// Go Internal Packages
	"encoding/json"
	"net/http"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type submitRequest struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Contract    string          `json:"contract"`
	Function    string          `json:"function"`
	Args        json.RawMessage `json:"args,omitempty"`
	Envelope    string          `json:"envelope"`
}

func (r submitRequest) operation() models.Operation {
	return models.Operation{
		Category:    models.Category(r.Category),
		Description: r.Description,
		Params: models.CallParams{
			Contract: r.Contract,
			Function: r.Function,
			Args:     r.Args,
			Envelope: r.Envelope,
		},
	}
}

type submitResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type pollResponse struct {
	Record   models.TransactionRecord `json:"record"`
	Attempts int                      `json:"attempts"`
	TimedOut bool                     `json:"timed_out"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.Hub.Len(),
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.InvalidBodyErr(err))
		return
	}

	id, err := s.Submitter.Submit(r.Context(), req.operation())
	if err != nil {
		if id != "" {
			// accepted by the ledger but not recorded; the caller must not resubmit
			s.writeJSON(w, statusOf(err), submitResponse{ID: id, Error: err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.TxRepo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != string(models.StatusPending) {
		ve := errors.ValidationErrs()
		ve.Add("status", "only pending can be listed")
		s.writeError(w, errors.ValidationFailedErr(ve.Err()))
		return
	}

	recs, err := s.TxRepo.ListPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []models.TransactionRecord{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	res, err := s.Poller.Poll(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pollResponse{Record: res.Record, Attempts: res.Attempts, TimedOut: res.TimedOut})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch errors.KindOf(err) {
	case errors.Invalid:
		return http.StatusBadRequest
	case errors.NotFound:
		return http.StatusNotFound
	case errors.Conflict, errors.InvalidTransition:
		return http.StatusConflict
	case errors.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
