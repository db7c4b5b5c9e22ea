package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/stage"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

// workflowRequest is the JSON body for POST /v1/workflows.
type workflowRequest struct {
	Symbol    string `json:"symbol"`
	SessionID string `json:"session_id"`
}

func (s *Server) buildWorkflow(req workflowRequest) (*stage.Workflow, error) {
	specs, err := stage.TradingStages(s.pool, s.pool.IDs(), req.Symbol, s.opts.InputTimeout)
	if err != nil {
		return nil, err
	}
	return stage.NewWorkflow(s.store, specs, s.logger), nil
}

func (s *Server) decodeWorkflow(w http.ResponseWriter, r *http.Request) (*stage.Workflow, workflowRequest, bool) {
	var req workflowRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, req, false
	}
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return nil, req, false
	}
	// The async endpoint cannot report a taken id once it has responded.
	if req.SessionID != "" {
		_, err := s.store.Session(r.Context(), req.SessionID)
		switch {
		case err == nil:
			s.writeError(w, http.StatusConflict, "session already exists")
			return nil, req, false
		case !errors.Is(err, store.ErrNotFound):
			s.writeStoreError(w, "check session", err)
			return nil, req, false
		}
	}
	wf, err := s.buildWorkflow(req)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return nil, req, false
	}
	return wf, req, true
}

// handleRunWorkflow runs the trading workflow and responds with its report.
// Stage failures are part of the report, not an HTTP error.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, req, ok := s.decodeWorkflow(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for workflow", "error", err)
	}

	report, err := wf.Run(r.Context(), req.SessionID)
	if report == nil {
		s.writeStoreError(w, "run workflow", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleAsyncWorkflow starts the trading workflow in the background and
// returns its session id. Progress is observable through the session
// endpoints.
func (s *Server) handleAsyncWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, req, ok := s.decodeWorkflow(w, r)
	if !ok {
		return
	}
	if req.SessionID == "" {
		req.SessionID = model.NewID()
	}

	s.runs.Add(1)
	workflowRuns.Inc()
	go func(ctx context.Context) {
		defer s.runs.Done()
		defer workflowRuns.Dec()
		report, err := wf.Run(ctx, req.SessionID)
		if report == nil {
			s.logger.Error("async workflow failed to start", "session_id", req.SessionID, "error", err)
		}
	}(s.baseCtx)

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": req.SessionID,
		"symbol":     req.Symbol,
	})
}
