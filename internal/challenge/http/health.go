package http

import (
	"net/http"

	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
	"github.com/aussiebroadwan/smsgate/pkg/httpx"
)

// Livez reports process liveness. Always 200 while the process can serve.
func Livez(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness: the database must answer a ping.
func Readyz(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
