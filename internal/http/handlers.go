package http

import (
	"log/slog"
	"net/http"

	"envelopes/internal/services"

	"github.com/shopspring/decimal"
)

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, err := userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if cached, found := s.suggestionsCache.Get(user); found {
		slog.DebugContext(r.Context(), "Suggestions cache hit", "user_id", user)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	suggestions, err := s.funding.GetSuggestions(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.suggestionsCache.Set(user, suggestions)
	writeJSON(w, http.StatusOK, suggestions)
}

type setAllocationRequest struct {
	EnvelopeID     int64           `json:"envelope_id"`
	IncomeSourceID int64           `json:"income_source_id"`
	Amount         decimal.Decimal `json:"amount"`
}

func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", "PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, err := userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var req setAllocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.funding.SetAllocation(r.Context(), user, req.EnvelopeID, req.IncomeSourceID, req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateUser(user)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFundingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, err := userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	view := r.URL.Query().Get("view")
	if view == "" {
		view = services.ViewUnfunded
	}

	key := user + ":" + view
	if cached, found := s.statusCache.Get(key); found {
		slog.DebugContext(r.Context(), "Status cache hit", "user_id", user, "view", view)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	status, err := s.funding.FundingStatus(r.Context(), user, view)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.statusCache.Set(key, status)
	writeJSON(w, http.StatusOK, status)
}

type processRequest struct {
	ID  int64   `json:"id,omitempty"`
	IDs []int64 `json:"ids,omitempty"`
}

type processResult struct {
	services.Result
	Error string `json:"error,omitempty"`
}

// handleProcessTransactions runs the allocator for one transaction or a
// batch. Batch members fail independently.
func (s *Server) handleProcessTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, err := userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if req.ID != 0 {
		result, err := s.allocator.ProcessTransaction(r.Context(), req.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.invalidateUser(user)
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id or ids required"})
		return
	}

	results := s.allocator.ProcessTransactions(r.Context(), req.IDs)
	out := make([]processResult, len(results))
	for i, res := range results {
		out[i] = processResult{Result: res}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	s.invalidateUser(user)
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
