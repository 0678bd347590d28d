package service

import (
	"testing"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
	"github.com/stretchr/testify/assert"
)

func policyUser() domain.User {
	u := testUser("u1")
	u.Phones = []domain.Phone{
		{ID: "p1", UserID: "u1", Type: domain.PhoneTypeCell, Number: "+79001234567"},
	}
	return u
}

func TestPolicyService_RequiresChallenge(t *testing.T) {
	cfg := PolicyConfig{
		SMSAuthEnabled:  true,
		GroupWhitelist:  []string{"g-ops"},
		IntranetDomains: []string{"intranet.example.com"},
		IPWhitelist:     []string{"10.0.0.5"},
	}
	svc := NewPolicyService(cfg)

	origin := domain.Origin{Domain: "example.com", IP: "203.0.113.7"}

	t.Run("default is challenged", func(t *testing.T) {
		assert.True(t, svc.RequiresChallenge(policyUser(), origin))
	})

	t.Run("disabled feature skips everyone", func(t *testing.T) {
		off := NewPolicyService(PolicyConfig{SMSAuthEnabled: false})
		assert.False(t, off.RequiresChallenge(policyUser(), origin))
	})

	t.Run("no phones on file skips", func(t *testing.T) {
		u := policyUser()
		u.Phones = nil
		assert.False(t, svc.RequiresChallenge(u, origin))
	})

	t.Run("whitelisted group skips", func(t *testing.T) {
		u := policyUser()
		u.GroupIDs = []string{"g-dev", "g-ops"}
		assert.False(t, svc.RequiresChallenge(u, origin))
	})

	t.Run("non-whitelisted group still challenged", func(t *testing.T) {
		u := policyUser()
		u.GroupIDs = []string{"g-dev"}
		assert.True(t, svc.RequiresChallenge(u, origin))
	})

	t.Run("trusted network skips only when domain and ip both match", func(t *testing.T) {
		trusted := domain.Origin{Domain: "intranet.example.com", IP: "10.0.0.5"}
		assert.False(t, svc.RequiresChallenge(policyUser(), trusted))

		domainOnly := domain.Origin{Domain: "intranet.example.com", IP: "203.0.113.7"}
		assert.True(t, svc.RequiresChallenge(policyUser(), domainOnly),
			"intranet domain from an unknown address must still challenge")

		ipOnly := domain.Origin{Domain: "example.com", IP: "10.0.0.5"}
		assert.True(t, svc.RequiresChallenge(policyUser(), ipOnly),
			"whitelisted address on a public domain must still challenge")
	})
}

func TestPolicyService_IgnoresBlankWhitelistEntries(t *testing.T) {
	svc := NewPolicyService(PolicyConfig{
		SMSAuthEnabled: true,
		GroupWhitelist: []string{"", "  "},
	})

	u := policyUser()
	u.GroupIDs = []string{""}
	assert.True(t, svc.RequiresChallenge(u, domain.Origin{Domain: "example.com", IP: "1.2.3.4"}))
}
