package api

import (
	"net/http"

	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Pool          pool.Stats `json:"pool"`
	PendingWrites int        `json:"pending_writes"`
}

// agentsResponse is the JSON response for GET /v1/agents.
type agentsResponse struct {
	Agents []string `json:"agents"`
	Count  int      `json:"count"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse{
		Pool:          s.pool.Stats(),
		PendingWrites: s.store.Pending(),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	ids := s.pool.IDs()
	s.writeJSON(w, http.StatusOK, agentsResponse{Agents: ids, Count: len(ids)})
}
