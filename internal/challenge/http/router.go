package http

import (
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/smsgate/internal/challenge/service"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
	"github.com/aussiebroadwan/smsgate/pkg/httpx"
	"github.com/aussiebroadwan/smsgate/pkg/slogx"
)

// NewRouter assembles the full HTTP surface. Submission gets the strict rate
// limit; decide and resend sit in the middle since both can trigger an SMS.
func NewRouter(logger *slog.Logger, svc *service.ChallengeService, st store.Store) http.Handler {
	handler := NewChallengeHandler(svc)
	mux := http.NewServeMux()

	mux.Handle("POST /v1/challenge/decide",
		httpx.Chain(http.HandlerFunc(handler.Decide), httpx.RateLimitByIP(httpx.ModerateLimit)))
	mux.Handle("POST /v1/challenge/submit",
		httpx.Chain(http.HandlerFunc(handler.Submit), httpx.RateLimitByIP(httpx.StrictLimit)))
	mux.Handle("POST /v1/challenge/resend",
		httpx.Chain(http.HandlerFunc(handler.Resend), httpx.RateLimitByIP(httpx.ModerateLimit)))
	mux.Handle("GET /v1/challenge/status",
		httpx.Chain(http.HandlerFunc(handler.Status), httpx.RateLimitByIP(httpx.LenientLimit)))

	mux.HandleFunc("GET /livez", Livez)
	mux.Handle("GET /readyz", Readyz(st))

	return httpx.Chain(mux, slogx.HTTPMiddleware(logger))
}
