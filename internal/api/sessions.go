package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

const (
	defaultWaitTimeout = 5 * time.Second
	// maxWaitTimeout keeps long-poll reads inside the server write timeout.
	maxWaitTimeout = 25 * time.Second
)

// createSessionRequest is the optional JSON body for POST /v1/sessions.
type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

// publishRequest is the JSON body for POST /v1/sessions/{id}/outputs.
type publishRequest struct {
	ProducerName string          `json:"producer_name"`
	OutputType   string          `json:"output_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
}

// listOutputsResponse is the JSON response for GET /v1/sessions/{id}/outputs.
type listOutputsResponse struct {
	SessionID string                `json:"session_id"`
	Outputs   []*model.OutputRecord `json:"outputs"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.store.OpenSession(r.Context(), req.SessionID)
	if err != nil {
		s.writeStoreError(w, "create session", err)
		return
	}

	sess, err := s.store.Session(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get session", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "get session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.store.Session(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get session", err)
		return
	}
	if !model.ValidSessionTransition(sess.Status, model.SessionCompleted) {
		s.writeError(w, http.StatusConflict, "session is already "+sess.Status)
		return
	}

	if err := s.store.CompleteSession(r.Context(), id); err != nil {
		s.writeStoreError(w, "complete session", err)
		return
	}
	if err := s.store.Flush(r.Context()); err != nil {
		s.writeStoreError(w, "flush session", err)
		return
	}

	sess, err = s.store.Session(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outputs, err := s.store.Outputs(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "list outputs", err)
		return
	}
	if outputs == nil {
		outputs = []*model.OutputRecord{}
	}
	s.writeJSON(w, http.StatusOK, listOutputsResponse{SessionID: id, Outputs: outputs})
}

func (s *Server) handlePublishOutput(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch {
	case req.ProducerName == "":
		s.writeError(w, http.StatusBadRequest, "producer_name is required")
		return
	case req.OutputType == "":
		s.writeError(w, http.StatusBadRequest, "output_type is required")
		return
	case len(req.Payload) == 0 || string(req.Payload) == "null":
		s.writeError(w, http.StatusBadRequest, "payload is required")
		return
	case req.Status != "" && !model.ValidOutputStatus(req.Status):
		s.writeError(w, http.StatusBadRequest, "status must be completed or failed")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.Publish(r.Context(), id, req.ProducerName, req.OutputType, req.Payload, req.Status); err != nil {
		s.writeStoreError(w, "publish output", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id":  id,
		"output_type": req.OutputType,
		"status":      "accepted",
	})
}

// handleWaitOutput long-polls for the latest completed record of a type.
// A timeout is reported as 404 so clients can retry.
func (s *Server) handleWaitOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outputType := chi.URLParam(r, "type")
	timeout := parseDurationQuery(r, "timeout", defaultWaitTimeout, maxWaitTimeout)

	rec, err := s.store.Get(r.Context(), id, outputType, timeout)
	if err != nil {
		// Client went away.
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "output not available")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// writeStoreError maps store errors to HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrSessionExists):
		s.writeError(w, http.StatusConflict, "session already exists")
	case errors.Is(err, store.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "store is shutting down")
	case errors.Is(err, model.ErrEmptyPayload):
		s.writeError(w, http.StatusBadRequest, "payload is required")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
