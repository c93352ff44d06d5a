package sandbox

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes registers the debug endpoints:
//
//	GET    /debug/sessions       runs in flight
//	DELETE /debug/sessions/{id}  cancel a run
func (m *Manager) SetupRoutes(router chi.Router) {
	router.Route("/debug/sessions", func(r chi.Router) {
		r.Get("/", m.listSessions)
		r.Delete("/{id}", m.killSession)
	})
}

func (m *Manager) listSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	sessions := m.Sessions()
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	_ = json.NewEncoder(w).Encode(sessions)
}

func (m *Manager) killSession(w http.ResponseWriter, r *http.Request) {
	if !m.Kill(chi.URLParam(r, "id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
