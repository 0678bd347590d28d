package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
	"github.com/aussiebroadwan/smsgate/internal/challenge/service"
	"github.com/aussiebroadwan/smsgate/pkg/httpx"
)

// ChallengeHandler exposes the challenge flow over JSON.
type ChallengeHandler struct {
	svc *service.ChallengeService
}

func NewChallengeHandler(svc *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{svc: svc}
}

type decideRequest struct {
	UserID string `json:"user_id"`
	Domain string `json:"domain"`
	IP     string `json:"ip"`
}

type decideResponse struct {
	ChallengeRequired bool          `json:"challenge_required"`
	ChallengeToken    string        `json:"challenge_token,omitempty"`
	Grant             *domain.Grant `json:"grant,omitempty"`
}

// Decide handles POST /v1/challenge/decide, invoked by the primary-auth layer
// right after a successful credential check.
func (h *ChallengeHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	origin := domain.Origin{Domain: req.Domain, IP: req.IP}
	decision, err := h.svc.DecidePostPrimaryAuth(r.Context(), req.UserID, origin)
	if err != nil {
		writeChallengeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, decideResponse{
		ChallengeRequired: decision.ChallengeRequired,
		ChallengeToken:    decision.Token,
		Grant:             decision.Grant,
	})
}

type submitRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// Submit handles POST /v1/challenge/submit: the user's code attempt.
func (h *ChallengeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	grant, err := h.svc.SubmitCode(r.Context(), req.ChallengeToken, req.Code)
	if err != nil {
		writeChallengeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, grant)
}

type resendRequest struct {
	ChallengeToken string `json:"challenge_token"`
}

// Resend handles POST /v1/challenge/resend.
func (h *ChallengeHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	if err := h.svc.ResendCode(r.Context(), req.ChallengeToken); err != nil {
		writeChallengeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// Status handles GET /v1/challenge/status?challenge_token=... with display
// data for the code-entry page.
func (h *ChallengeHandler) Status(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("challenge_token")

	status, err := h.svc.Status(r.Context(), token)
	if err != nil {
		writeChallengeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, status)
}

// writeChallengeError maps service sentinels onto the error envelope. The
// not-found and expired cases share one response on purpose; clients restart
// from primary auth either way.
func writeChallengeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTokenNotFoundOrExpired):
		httpx.WriteError(w, http.StatusUnauthorized, "challenge_not_found", "no pending challenge for this token")
	case errors.Is(err, service.ErrTokenAlreadyConsumed):
		httpx.WriteError(w, http.StatusConflict, "challenge_consumed", "this challenge was already completed")
	case errors.Is(err, service.ErrCodeMissing):
		httpx.WriteError(w, http.StatusBadRequest, "code_missing", "code is required")
	case errors.Is(err, service.ErrCodeInvalid):
		httpx.WriteError(w, http.StatusUnauthorized, "code_invalid", "the code did not match")
	case errors.Is(err, service.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusTooManyRequests, "too_many_attempts", "attempt limit reached, restart the login")
	case errors.Is(err, service.ErrNoPhoneRegistered):
		httpx.WriteError(w, http.StatusForbidden, "no_phone_registered", "no cell phone on file for this account")
	case errors.Is(err, service.ErrTransportFailure):
		httpx.WriteError(w, http.StatusBadGateway, "sms_delivery_failed", "the code could not be delivered, try resending")
	case errors.Is(err, service.ErrSecretMissing):
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "account is not provisioned for sms login")
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
