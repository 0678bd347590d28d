package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store/drivers/sqlite"
	"github.com/aussiebroadwan/smsgate/pkg/cryptox"
	"github.com/aussiebroadwan/smsgate/pkg/idx"
	"github.com/aussiebroadwan/smsgate/pkg/jwtx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentSMS struct {
	To   string
	Body string
}

// fakeSender records dispatches and can be primed to fail.
type fakeSender struct {
	mu    sync.Mutex
	calls []sentSMS
	err   error
}

func (f *fakeSender) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, sentSMS{To: to, Body: body})
	return nil
}

func (f *fakeSender) sent() []sentSMS {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSMS(nil), f.calls...)
}

type challengeEnv struct {
	store  store.Store
	otp    *OTPService
	sender *fakeSender
	signer *jwtx.EdDSASigner
	svc    *ChallengeService
	user   domain.User
}

func newChallengeEnv(t *testing.T, cfg ChallengeConfig) *challengeEnv {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	user := domain.User{
		ID:        idx.New().String(),
		Username:  "alice",
		OTPSecret: testOTPSecret,
		Active:    true,
		Phones: []domain.Phone{
			{ID: idx.New().String(), Type: domain.PhoneTypeCell, Number: "+7 900 123 45 67"},
		},
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))

	signer, err := jwtx.NewEdDSASigner("test-key")
	require.NoError(t, err)

	otp := &OTPService{Step: 60 * time.Second, Skew: 1}
	policy := NewPolicyService(PolicyConfig{
		SMSAuthEnabled:  true,
		GroupWhitelist:  []string{"g-trusted"},
		IntranetDomains: []string{"intranet.example.com"},
		IPWhitelist:     []string{"10.0.0.5"},
	})
	sender := &fakeSender{}

	if cfg.Issuer == "" {
		cfg.Issuer = "smsgate-test"
	}

	return &challengeEnv{
		store:  st,
		otp:    otp,
		sender: sender,
		signer: signer,
		svc:    NewChallengeService(st, otp, policy, sender, signer, cfg),
		user:   user,
	}
}

func publicOrigin() domain.Origin {
	return domain.Origin{Domain: "example.com", IP: "203.0.113.7"}
}

func (e *challengeEnv) currentCode(t *testing.T) string {
	t.Helper()
	code, err := e.otp.Code(e.user, time.Now())
	require.NoError(t, err)
	return code
}

func TestChallengeService_DecideIssuesTokenAndSendsCode(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)
	assert.True(t, decision.ChallengeRequired)
	assert.NotEmpty(t, decision.Token)
	assert.Nil(t, decision.Grant)

	sent := env.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "79001234567", sent[0].To, "number must be normalized for the gateway")
	assert.Contains(t, sent[0].Body, env.currentCode(t))

	// The persisted record stores only the fingerprint of the handed-out value.
	tok, err := env.store.ChallengeTokens().GetChallengeToken(ctx, domain.ActionEnterSMSCode, cryptox.FingerprintToken(decision.Token))
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, tok.UserID)
	assert.NotEqual(t, decision.Token, tok.ValueHash)
}

func TestChallengeService_DecidePolicyBypassGrantsImmediately(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	trusted := domain.Origin{Domain: "intranet.example.com", IP: "10.0.0.5"}
	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, trusted)
	require.NoError(t, err)

	assert.False(t, decision.ChallengeRequired)
	assert.Empty(t, decision.Token)
	require.NotNil(t, decision.Grant)
	assert.Equal(t, []string{jwtx.AMRPassword}, decision.Grant.AMR)
	assert.Empty(t, env.sender.sent())

	verifier := jwtx.NewEdDSAVerifier(env.signer.Public(), "smsgate-test")
	claims, err := verifier.Verify(decision.Grant.Assertion)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, claims.Subject)
}

func TestChallengeService_DecideNoCellPhoneFailsClosed(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	// Work number only: policy still fires (phones exist) but there is no
	// deliverable target.
	worker := domain.User{
		ID:        idx.New().String(),
		Username:  "bob",
		OTPSecret: testOTPSecret,
		Active:    true,
		Phones: []domain.Phone{
			{ID: idx.New().String(), Type: domain.PhoneTypeWork, Number: "+74950000000"},
		},
	}
	require.NoError(t, env.store.Users().CreateUser(ctx, worker))

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, worker.ID, publicOrigin())
	assert.ErrorIs(t, err, ErrNoPhoneRegistered)
	assert.False(t, decision.ChallengeRequired)
	assert.Nil(t, decision.Grant)
	assert.Empty(t, env.sender.sent())
}

func TestChallengeService_DecideTransportFailure(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	env.sender.err = errors.New("gateway: 503")
	_, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	assert.ErrorIs(t, err, ErrTransportFailure)

	// The cached code is dropped so nobody waits on an undelivered code.
	assert.True(t, env.otp.Expired(env.user.ID, time.Now()))

	// But the token record survives for a resend.
	env.sender.err = nil
	// The decision result was discarded, so mimic a resend against the same
	// flow by issuing again; the second decide succeeds end to end.
	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)
	assert.True(t, decision.ChallengeRequired)
}

func TestChallengeService_DebugModeSkipsDispatch(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{DebugMode: true})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)
	assert.True(t, decision.ChallengeRequired)
	assert.Empty(t, env.sender.sent(), "debug mode must never touch the gateway")

	// The flow still completes with the generated code.
	grant, err := env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	require.NoError(t, err)
	assert.Equal(t, []string{jwtx.AMRPassword, jwtx.AMRSMS}, grant.AMR)
}

func TestChallengeService_SubmitValidCode(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{AutoLogoutAfter: 8 * time.Hour})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)

	grant, err := env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, grant.UserID)
	assert.Equal(t, []string{jwtx.AMRPassword, jwtx.AMRSMS}, grant.AMR)
	assert.NotEmpty(t, grant.Assertion)

	// Post-challenge flags are stamped on the user.
	stamped, err := env.store.Users().GetUserByID(ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, stamped.TFALogin)
	require.NotNil(t, stamped.AutoLogoutAt)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), *stamped.AutoLogoutAt, time.Minute)

	// The token is spent: a replay is reported as consumed.
	_, err = env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
}

func TestChallengeService_SubmitWrongAndEmptyCode(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)

	_, err = env.svc.SubmitCode(ctx, decision.Token, "")
	assert.ErrorIs(t, err, ErrCodeMissing)

	wrong := "000000"
	if wrong == env.currentCode(t) {
		wrong = "000001"
	}
	_, err = env.svc.SubmitCode(ctx, decision.Token, wrong)
	assert.ErrorIs(t, err, ErrCodeInvalid)

	// Neither outcome consumed the token: the right code still lands.
	grant, err := env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Assertion)
}

func TestChallengeService_SubmitAttemptCapDestroysToken(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)

	wrong := "000000"
	if wrong == env.currentCode(t) {
		wrong = "000001"
	}

	for i := 0; i < MaxChallengeAttempts-1; i++ {
		_, err = env.svc.SubmitCode(ctx, decision.Token, wrong)
		assert.ErrorIs(t, err, ErrCodeInvalid, "attempt %d", i+1)
	}

	_, err = env.svc.SubmitCode(ctx, decision.Token, wrong)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	// The token is gone; even the right code cannot revive the flow.
	_, err = env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)
}

func TestChallengeService_SubmitUnknownAndExpiredToken(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	_, err := env.svc.SubmitCode(ctx, "never-issued", "123456")
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)

	_, err = env.svc.SubmitCode(ctx, "", "123456")
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)

	// Seed an already-expired record directly.
	value, err := cryptox.GenerateToken(cryptox.TokenSize128)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, env.store.ChallengeTokens().CreateChallengeToken(ctx, domain.ChallengeToken{
		ID:        idx.New().String(),
		UserID:    env.user.ID,
		Action:    domain.ActionEnterSMSCode,
		ValueHash: cryptox.FingerprintToken(value),
		CreatedAt: now.Add(-25 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}))

	_, err = env.svc.SubmitCode(ctx, value, env.currentCode(t))
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)
}

func TestChallengeService_SubmitInactiveUser(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)

	require.NoError(t, env.store.Users().SetActive(ctx, env.user.ID, false))

	// Deactivation mid-challenge is indistinguishable from a dead token.
	_, err = env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)
}

func TestChallengeService_ConcurrentSubmitSingleWinner(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)
	code := env.currentCode(t)

	const workers = 8
	results := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, err := env.svc.SubmitCode(ctx, decision.Token, code)
			results <- err
		}()
	}
	start.Done()

	var wins, consumed int
	for i := 0; i < workers; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenAlreadyConsumed):
			consumed++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent submission may win")
	assert.Equal(t, workers-1, consumed)
}

func TestChallengeService_ResendCode(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)
	require.Len(t, env.sender.sent(), 1)

	// Within the same window the cached code is re-sent unchanged.
	require.NoError(t, env.svc.ResendCode(ctx, decision.Token))
	sent := env.sender.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].Body, sent[1].Body)

	// Once the cached code's window has lapsed a resend carries a fresh code.
	env.otp.ClearCache(env.user.ID)
	stale, err := env.otp.Code(env.user, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.NoError(t, env.svc.ResendCode(ctx, decision.Token))
	sent = env.sender.sent()
	require.Len(t, sent, 3)
	assert.NotContains(t, sent[2].Body, stale)
	assert.Contains(t, sent[2].Body, env.currentCode(t))

	// Resend against a dead token fails the same way submit does.
	err = env.svc.ResendCode(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)
}

func TestChallengeService_ResendTransportFailureKeepsToken(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)

	env.sender.err = errors.New("gateway: timeout")
	err = env.svc.ResendCode(ctx, decision.Token)
	assert.ErrorIs(t, err, ErrTransportFailure)

	// The pending challenge survives the failed dispatch.
	env.sender.err = nil
	require.NoError(t, env.svc.ResendCode(ctx, decision.Token))

	grant, err := env.svc.SubmitCode(ctx, decision.Token, env.currentCode(t))
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Assertion)
}

func TestChallengeService_Status(t *testing.T) {
	env := newChallengeEnv(t, ChallengeConfig{})
	ctx := context.Background()

	decision, err := env.svc.DecidePostPrimaryAuth(ctx, env.user.ID, publicOrigin())
	require.NoError(t, err)

	status, err := env.svc.Status(ctx, decision.Token)
	require.NoError(t, err)
	assert.Greater(t, status.TimeLeftSeconds, 0)
	assert.LessOrEqual(t, status.TimeLeftSeconds, 60)
	assert.Equal(t, "790******67", status.PhoneMasked)

	_, err = env.svc.Status(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrTokenNotFoundOrExpired)
}
