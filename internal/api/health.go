package api

import "net/http"

type healthResponse struct {
	Status        string `json:"status"`
	Agents        int    `json:"agents"`
	PendingWrites int    `json:"pending_writes"`
}

// handleHealthz reports liveness. A pool with no agents is degraded: the
// server is up but cannot dispatch or run workflows.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Agents:        s.pool.Count(),
		PendingWrites: s.store.Pending(),
	}
	if resp.Agents == 0 {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}
