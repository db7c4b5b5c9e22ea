package api

import (
	"net/http"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
)

// dispatchRequest is the JSON body for POST /v1/dispatch. An empty ids list
// targets every registered agent.
type dispatchRequest struct {
	Input   string   `json:"input"`
	IDs     []string `json:"ids"`
	Timeout string   `json:"timeout"`
}

// dispatchResponse is the JSON response for POST /v1/dispatch.
type dispatchResponse struct {
	Results map[string]model.ExecutionResult `json:"results"`
	Summary pool.Summary                     `json:"summary"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Input == "" {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	timeout := s.opts.DispatchTimeout
	if req.Timeout != "" {
		d, err := parseDuration(req.Timeout)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		timeout = d
	}

	ids := req.IDs
	if len(ids) == 0 {
		ids = s.pool.IDs()
	}
	if len(ids) == 0 {
		s.writeError(w, http.StatusConflict, "no agents registered")
		return
	}

	// Dispatches may outlive the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for dispatch", "error", err)
	}

	results := s.pool.DispatchAll(r.Context(), req.Input, ids, timeout)
	s.writeJSON(w, http.StatusOK, dispatchResponse{
		Results: results,
		Summary: pool.Summarize(results),
	})
}
