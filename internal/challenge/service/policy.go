package service

import (
	"strings"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
)

// PolicyConfig carries the deployment-level rules deciding which logins get a
// second factor.
type PolicyConfig struct {
	SMSAuthEnabled bool

	// GroupWhitelist lists group IDs whose members never get challenged.
	GroupWhitelist []string

	// IntranetDomains and IPWhitelist together describe the trusted network.
	// A login bypasses the challenge only when BOTH match: the request came
	// through an intranet-facing domain AND from a whitelisted address.
	IntranetDomains []string
	IPWhitelist     []string
}

// PolicyService answers a single question: does this login, from this origin,
// need an SMS challenge. It holds no mutable state and is safe for concurrent
// use.
type PolicyService struct {
	enabled         bool
	groupWhitelist  map[string]struct{}
	intranetDomains map[string]struct{}
	ipWhitelist     map[string]struct{}
}

func NewPolicyService(cfg PolicyConfig) *PolicyService {
	return &PolicyService{
		enabled:         cfg.SMSAuthEnabled,
		groupWhitelist:  toSet(cfg.GroupWhitelist),
		intranetDomains: toSet(cfg.IntranetDomains),
		ipWhitelist:     toSet(cfg.IPWhitelist),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

// RequiresChallenge reports whether the user must pass an SMS challenge
// before the login completes.
//
// The challenge is skipped when the feature is disabled, when the user has no
// phone numbers on file at all, when the user belongs to a whitelisted group,
// or when the request arrives from the trusted network. The trusted-network
// exemption needs both conditions at once; a whitelisted IP on a public
// domain, or an intranet domain from an unknown address, still challenges.
func (s *PolicyService) RequiresChallenge(user domain.User, origin domain.Origin) bool {
	if !s.enabled {
		return false
	}
	if !user.HasPhones() {
		return false
	}
	for _, groupID := range user.GroupIDs {
		if _, ok := s.groupWhitelist[groupID]; ok {
			return false
		}
	}
	if s.fromTrustedNetwork(origin) {
		return false
	}
	return true
}

func (s *PolicyService) fromTrustedNetwork(origin domain.Origin) bool {
	if _, ok := s.intranetDomains[origin.Domain]; !ok {
		return false
	}
	_, ok := s.ipWhitelist[origin.IP]
	return ok
}
