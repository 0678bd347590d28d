package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
	"github.com/aussiebroadwan/smsgate/pkg/slogx"
)

// DefaultHousekeepingInterval is how often expired challenge tokens get swept.
const DefaultHousekeepingInterval = 15 * time.Minute

// HousekeepingService periodically deletes challenge tokens past their
// expiry. Expired rows are already invisible to the flow; the sweep just
// keeps the table from growing without bound.
type HousekeepingService struct {
	store    store.Store
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewHousekeepingService(st store.Store, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		store:    st,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so restarts don't
// wait a full interval to reclaim space.
func (s *HousekeepingService) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight sweep to finish.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *HousekeepingService) sweep(ctx context.Context) {
	log := slogx.FromContext(ctx)
	if err := s.store.ChallengeTokens().DeleteExpiredChallengeTokens(ctx); err != nil {
		log.Error("housekeeping sweep failed", slogx.Err(err))
		return
	}
	log.Debug("housekeeping sweep completed", slog.Duration("interval", s.interval))
}
