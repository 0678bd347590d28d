package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
	"github.com/aussiebroadwan/smsgate/pkg/cryptox"
	"github.com/aussiebroadwan/smsgate/pkg/idx"
	"github.com/aussiebroadwan/smsgate/pkg/jwtx"
	"github.com/aussiebroadwan/smsgate/pkg/slogx"
	"github.com/aussiebroadwan/smsgate/pkg/smsx"
)

const (
	// DefaultChallengeTokenTTL bounds how long a pending challenge stays
	// resumable before the user has to start over from primary auth.
	DefaultChallengeTokenTTL = 24 * time.Hour

	// DefaultAutoLogoutAfter is the session deadline stamped on the user once
	// a challenge completes.
	DefaultAutoLogoutAfter = 12 * time.Hour

	// MaxChallengeAttempts caps wrong-code submissions per token. Reaching the
	// cap destroys the token; the user restarts from primary auth.
	MaxChallengeAttempts = 5

	// DefaultMessageTemplate formats the SMS body around the code.
	DefaultMessageTemplate = "Your login verification code: %s"
)

var (
	// ErrNoPhoneRegistered: policy demands a challenge but the user has no
	// cell number to deliver it to. Fail closed.
	ErrNoPhoneRegistered = errors.New("no_phone_registered")

	// ErrTokenNotFoundOrExpired covers unknown, expired and wrong-action
	// tokens, and inactive users. Deliberately one error: a caller probing
	// token values learns nothing from the response shape.
	ErrTokenNotFoundOrExpired = errors.New("token_not_found_or_expired")

	// ErrTokenAlreadyConsumed: the challenge was already completed, likely a
	// replayed or double-clicked submission.
	ErrTokenAlreadyConsumed = errors.New("token_already_consumed")

	// ErrCodeMissing: an empty submission. Does not count as an attempt.
	ErrCodeMissing = errors.New("code_missing")

	// ErrCodeInvalid: the code did not match. The token survives for a retry.
	ErrCodeInvalid = errors.New("code_invalid")

	// ErrTooManyAttempts: the attempt cap was reached and the token destroyed.
	ErrTooManyAttempts = errors.New("too_many_attempts")

	// ErrTransportFailure: the SMS gateway rejected or failed the dispatch.
	ErrTransportFailure = errors.New("transport_failure")
)

// ChallengeService drives a login challenge end to end: decide whether one is
// needed, dispatch the code, and judge submissions.
type ChallengeService struct {
	store  store.Store
	otp    *OTPService
	policy *PolicyService
	sender smsx.Sender
	signer *jwtx.EdDSASigner

	issuer          string
	tokenTTL        time.Duration
	autoLogoutAfter time.Duration
	messageTemplate string

	// debugMode skips the SMS dispatch entirely so staging environments can
	// exercise the full flow without a gateway account. The code itself is
	// still generated and validated.
	debugMode bool
}

// ChallengeConfig wires a ChallengeService. Zero durations fall back to the
// package defaults.
type ChallengeConfig struct {
	Issuer          string
	TokenTTL        time.Duration
	AutoLogoutAfter time.Duration
	MessageTemplate string
	DebugMode       bool
}

func NewChallengeService(
	st store.Store,
	otp *OTPService,
	policy *PolicyService,
	sender smsx.Sender,
	signer *jwtx.EdDSASigner,
	cfg ChallengeConfig,
) *ChallengeService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultChallengeTokenTTL
	}
	if cfg.AutoLogoutAfter <= 0 {
		cfg.AutoLogoutAfter = DefaultAutoLogoutAfter
	}
	if cfg.MessageTemplate == "" {
		cfg.MessageTemplate = DefaultMessageTemplate
	}
	return &ChallengeService{
		store:           st,
		otp:             otp,
		policy:          policy,
		sender:          sender,
		signer:          signer,
		issuer:          cfg.Issuer,
		tokenTTL:        cfg.TokenTTL,
		autoLogoutAfter: cfg.AutoLogoutAfter,
		messageTemplate: cfg.MessageTemplate,
		debugMode:       cfg.DebugMode,
	}
}

// DecidePostPrimaryAuth runs right after the primary credential check
// succeeds. Either the policy lets the login straight through and a grant
// comes back immediately, or a challenge token is minted and the code is
// dispatched to the user's cell phone.
//
// When the dispatch fails the token record survives: a resend can pick the
// flow back up without restarting primary auth. The cached code, however, is
// dropped so the user is never asked for a code that provably went nowhere.
func (s *ChallengeService) DecidePostPrimaryAuth(ctx context.Context, userID string, origin domain.Origin) (domain.Decision, error) {
	log := slogx.FromContext(ctx)
	now := time.Now()

	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load user: %w", err)
	}

	if !s.policy.RequiresChallenge(user, origin) {
		grant, err := s.grant(user, []string{jwtx.AMRPassword}, now)
		if err != nil {
			return domain.Decision{}, err
		}
		log.Info("challenge skipped by policy", slog.String("user_id", user.ID))
		return domain.Decision{ChallengeRequired: false, Grant: &grant}, nil
	}

	cell, ok := user.CellPhone()
	if !ok {
		// Policy says challenge, but there is nowhere to send it. Never fall
		// back to granting the login.
		log.Warn("challenge required but no cell phone on file", slog.String("user_id", user.ID))
		return domain.Decision{}, ErrNoPhoneRegistered
	}

	value, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("mint challenge token: %w", err)
	}

	token := domain.ChallengeToken{
		ID:        idx.New().String(),
		UserID:    user.ID,
		Action:    domain.ActionEnterSMSCode,
		ValueHash: cryptox.FingerprintToken(value),
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.store.ChallengeTokens().CreateChallengeToken(ctx, token); err != nil {
		return domain.Decision{}, fmt.Errorf("persist challenge token: %w", err)
	}

	if err := s.dispatchCode(ctx, user, cell, now); err != nil {
		return domain.Decision{}, err
	}

	log.Info("challenge issued",
		slog.String("user_id", user.ID),
		slog.String("token_id", token.ID),
	)
	return domain.Decision{ChallengeRequired: true, Token: value}, nil
}

// SubmitCode judges a code submitted against a pending challenge. On success
// the token is consumed atomically, the user's post-challenge flags are
// stamped, and a grant with AMR ["pwd","sms"] comes back.
func (s *ChallengeService) SubmitCode(ctx context.Context, tokenValue, code string) (domain.Grant, error) {
	log := slogx.FromContext(ctx)
	now := time.Now()

	token, user, err := s.resolvePending(ctx, tokenValue, now)
	if err != nil {
		return domain.Grant{}, err
	}

	if code == "" {
		// No attempt consumed: the user just lands back on the entry form.
		return domain.Grant{}, ErrCodeMissing
	}

	ok, err := s.otp.Validate(user, code, now)
	if err != nil {
		log.Error("otp validation failed",
			slog.String("user_id", user.ID),
			slogx.Err(err),
		)
		return domain.Grant{}, err
	}
	if !ok {
		updated, err := s.store.ChallengeTokens().IncrementChallengeTokenAttempts(ctx, token.Action, token.ValueHash)
		if err != nil {
			return domain.Grant{}, fmt.Errorf("record failed attempt: %w", err)
		}
		if updated.Attempts >= MaxChallengeAttempts {
			if err := s.store.ChallengeTokens().DeleteChallengeToken(ctx, token.ID); err != nil {
				return domain.Grant{}, fmt.Errorf("destroy exhausted token: %w", err)
			}
			log.Warn("challenge attempt cap reached",
				slog.String("user_id", user.ID),
				slog.String("token_id", token.ID),
			)
			return domain.Grant{}, ErrTooManyAttempts
		}
		return domain.Grant{}, ErrCodeInvalid
	}

	// Consume and stamp the user in one transaction. Exactly one concurrent
	// submission gets past the consume; the rest see ErrAlreadyConsumed.
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.ChallengeTokens().ConsumeChallengeToken(ctx, token.Action, token.ValueHash, now); err != nil {
			return err
		}
		return tx.Users().SetPostChallengeFlags(ctx, user.ID, now.Add(s.autoLogoutAfter))
	})
	switch {
	case errors.Is(err, store.ErrAlreadyConsumed):
		return domain.Grant{}, ErrTokenAlreadyConsumed
	case errors.Is(err, store.ErrNotFound):
		return domain.Grant{}, ErrTokenNotFoundOrExpired
	case err != nil:
		return domain.Grant{}, fmt.Errorf("consume challenge token: %w", err)
	}

	s.otp.ClearCache(user.ID)

	grant, err := s.grant(user, []string{jwtx.AMRPassword, jwtx.AMRSMS}, now)
	if err != nil {
		return domain.Grant{}, err
	}

	log.Info("challenge completed",
		slog.String("user_id", user.ID),
		slog.String("token_id", token.ID),
	)
	return grant, nil
}

// ResendCode re-dispatches the code for a pending challenge. If the cached
// code's window already closed a fresh code is generated first.
func (s *ChallengeService) ResendCode(ctx context.Context, tokenValue string) error {
	now := time.Now()

	_, user, err := s.resolvePending(ctx, tokenValue, now)
	if err != nil {
		return err
	}

	cell, ok := user.CellPhone()
	if !ok {
		return ErrNoPhoneRegistered
	}

	return s.dispatchCode(ctx, user, cell, now)
}

// Status returns display data for the code-entry page: how long the current
// code stays valid and a masked rendering of the target number.
func (s *ChallengeService) Status(ctx context.Context, tokenValue string) (domain.ChallengeStatus, error) {
	now := time.Now()

	_, user, err := s.resolvePending(ctx, tokenValue, now)
	if err != nil {
		return domain.ChallengeStatus{}, err
	}

	status := domain.ChallengeStatus{
		TimeLeftSeconds: int(s.otp.TimeLeft(now).Seconds()),
	}
	if cell, ok := user.CellPhone(); ok {
		status.PhoneMasked = smsx.MaskNumber(cell.Number)
	}
	return status, nil
}

// resolvePending maps a raw token value to its live token record and owner.
// Everything stale or suspicious collapses into ErrTokenNotFoundOrExpired.
func (s *ChallengeService) resolvePending(ctx context.Context, tokenValue string, now time.Time) (domain.ChallengeToken, domain.User, error) {
	if tokenValue == "" {
		return domain.ChallengeToken{}, domain.User{}, ErrTokenNotFoundOrExpired
	}

	hash := cryptox.FingerprintToken(tokenValue)
	token, err := s.store.ChallengeTokens().GetChallengeToken(ctx, domain.ActionEnterSMSCode, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ChallengeToken{}, domain.User{}, ErrTokenNotFoundOrExpired
	case err != nil:
		return domain.ChallengeToken{}, domain.User{}, fmt.Errorf("load challenge token: %w", err)
	}

	if token.Consumed() {
		return domain.ChallengeToken{}, domain.User{}, ErrTokenAlreadyConsumed
	}
	if token.Expired(now) {
		return domain.ChallengeToken{}, domain.User{}, ErrTokenNotFoundOrExpired
	}

	user, err := s.store.Users().GetUserByID(ctx, token.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ChallengeToken{}, domain.User{}, ErrTokenNotFoundOrExpired
	case err != nil:
		return domain.ChallengeToken{}, domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		// An account deactivated mid-challenge looks identical to a dead token.
		return domain.ChallengeToken{}, domain.User{}, ErrTokenNotFoundOrExpired
	}

	return token, user, nil
}

// dispatchCode generates (or reuses) the current code and pushes it out the
// SMS gateway. Dispatch failure clears the cached code so the next attempt
// regenerates instead of re-promising an undelivered one.
func (s *ChallengeService) dispatchCode(ctx context.Context, user domain.User, cell domain.Phone, now time.Time) error {
	log := slogx.FromContext(ctx)

	code, err := s.otp.Code(user, now)
	if err != nil {
		log.Error("otp code generation failed",
			slog.String("user_id", user.ID),
			slogx.Err(err),
		)
		return err
	}

	if s.debugMode {
		log.Info("debug mode, sms dispatch skipped", slog.String("user_id", user.ID))
		return nil
	}

	body := fmt.Sprintf(s.messageTemplate, code)
	if err := s.sender.Send(ctx, cell.Number, body); err != nil {
		s.otp.ClearCache(user.ID)
		log.Error("sms dispatch failed",
			slog.String("user_id", user.ID),
			slog.String("phone", smsx.MaskNumber(cell.Number)),
			slogx.Err(err),
		)
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	log.Info("sms dispatched",
		slog.String("user_id", user.ID),
		slog.String("phone", smsx.MaskNumber(cell.Number)),
	)
	return nil
}

func (s *ChallengeService) grant(user domain.User, amr []string, now time.Time) (domain.Grant, error) {
	claims := jwtx.NewGrantClaims(user.ID, user.Username, amr, s.issuer, jwtx.DefaultGrantTTL, now)
	assertion, err := s.signer.Sign(claims)
	if err != nil {
		return domain.Grant{}, fmt.Errorf("sign grant assertion: %w", err)
	}
	return domain.Grant{UserID: user.ID, AMR: amr, Assertion: assertion}, nil
}
