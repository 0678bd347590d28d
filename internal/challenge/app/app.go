package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	challengehttp "github.com/aussiebroadwan/smsgate/internal/challenge/http"
	"github.com/aussiebroadwan/smsgate/internal/challenge/service"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store/drivers/sqlite"
	"github.com/aussiebroadwan/smsgate/pkg/jwtx"
	"github.com/aussiebroadwan/smsgate/pkg/slogx"
	"github.com/aussiebroadwan/smsgate/pkg/smsx"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Application owns every long-lived component and their lifecycles.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store        store.Store
	housekeeping *service.HousekeepingService
	server       *http.Server
}

// New wires the application together: store and migrations, signing keys,
// services, and the HTTP surface.
func New(cfg Config) (*Application, error) {
	logger := slogx.New(slogx.Config{
		Service: "smsgate",
		Version: Version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	st, err := sqlite.NewStore(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	signer, err := jwtx.NewEdDSASigner("smsgate-" + Version)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var sender smsx.Sender
	if !cfg.SMSDebugMode {
		if cfg.SMSURL == "" {
			_ = st.Close()
			return nil, errors.New("SMS_URL is required unless SMS_DEBUG_MODE is set")
		}
		sender = smsx.NewClient(cfg.SMSURL, smsx.Credentials{
			Login:    cfg.SMSBotLogin,
			Password: cfg.SMSBotPassword,
		}, cfg.SMSTimeout)
	}

	otp := &service.OTPService{Step: cfg.OTPStep, Skew: 1}
	policy := service.NewPolicyService(service.PolicyConfig{
		SMSAuthEnabled:  cfg.SMSAuthEnabled,
		GroupWhitelist:  cfg.GroupWhitelist,
		IntranetDomains: cfg.IntranetDomains,
		IPWhitelist:     cfg.IPWhitelist,
	})
	challenge := service.NewChallengeService(st, otp, policy, sender, signer, service.ChallengeConfig{
		Issuer:          cfg.Issuer,
		TokenTTL:        cfg.ChallengeTokenTTL,
		AutoLogoutAfter: cfg.AutoLogoutAfter,
		DebugMode:       cfg.SMSDebugMode,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           challengehttp.NewRouter(logger, challenge, st),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		housekeeping: service.NewHousekeepingService(st, cfg.HousekeepingInterval),
		server:       server,
	}, nil
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.housekeeping.Start(slogx.WithContext(context.Background(), a.logger))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.cfg.HTTPAddr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	return a.Shutdown()
}

// Shutdown drains the HTTP server, stops housekeeping and closes the store.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.housekeeping.Stop()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
