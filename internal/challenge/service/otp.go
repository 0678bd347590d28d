package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DefaultOTPStep is the code validity window when none is configured.
const DefaultOTPStep = 60 * time.Second

var (
	// ErrSecretMissing means the user has no OTP secret on file. This is an
	// operational misconfiguration, not a wrong code, and must be logged as
	// such.
	ErrSecretMissing = errors.New("otp_secret_missing")
)

// OTPService produces and validates time-stepped numeric codes. The step
// length is an explicit parameter on every underlying call; the library
// default is never touched.
//
// Codes are cached per user for the duration of their step so that repeated
// requests inside one window always see the same code. Without the cache a
// second clock read near a step boundary could silently rotate the code after
// it was already sent.
type OTPService struct {
	Step time.Duration // validity window length, DefaultOTPStep if zero
	Skew uint          // extra steps accepted on validation (clock tolerance)

	mu    sync.Mutex
	cache map[string]otpEntry // keyed by user ID
}

type otpEntry struct {
	code        string
	counter     int64
	generatedAt time.Time
}

func (s *OTPService) step() time.Duration {
	if s.Step <= 0 {
		return DefaultOTPStep
	}
	return s.Step
}

func (s *OTPService) counter(now time.Time) int64 {
	return now.Unix() / int64(s.step().Seconds())
}

func (s *OTPService) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(s.step().Seconds()),
		Skew:      s.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Code returns the code for the step containing now, generating it on first
// use within the window and serving the cached value afterwards.
func (s *OTPService) Code(user domain.User, now time.Time) (string, error) {
	if user.OTPSecret == "" {
		return "", ErrSecretMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.counter(now)
	if entry, ok := s.cache[user.ID]; ok && entry.counter == counter {
		return entry.code, nil
	}

	code, err := totp.GenerateCodeCustom(user.OTPSecret, now, s.opts())
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}

	if s.cache == nil {
		s.cache = make(map[string]otpEntry)
	}
	s.cache[user.ID] = otpEntry{code: code, counter: counter, generatedAt: now}

	return code, nil
}

// TimeLeft reports how long the current step window stays open. Display only.
func (s *OTPService) TimeLeft(now time.Time) time.Duration {
	step := s.step()
	elapsed := time.Duration(now.Unix()%int64(step.Seconds())) * time.Second
	return step - elapsed
}

// Expired reports whether the user's cached code has fallen out of its step
// window (or was never generated). The orchestrator uses this to decide
// between resending the cached code and generating a fresh one.
func (s *OTPService) Expired(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[userID]
	if !ok {
		return true
	}
	return entry.counter != s.counter(now)
}

// Validate recomputes the code for the step containing now (plus the
// configured skew) and compares, in constant time, against the candidate.
// A mismatch is a plain false, never an error.
func (s *OTPService) Validate(user domain.User, candidate string, now time.Time) (bool, error) {
	if user.OTPSecret == "" {
		return false, ErrSecretMissing
	}

	ok, err := totp.ValidateCustom(candidate, user.OTPSecret, now, s.opts())
	if err != nil {
		// A candidate of the wrong length is a mismatch, not a fault.
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, fmt.Errorf("validate otp code: %w", err)
	}
	return ok, nil
}

// ClearCache drops the user's cached code, forcing regeneration on the next
// request. Called after a failed dispatch so the user is never stuck with a
// code that was never delivered.
func (s *OTPService) ClearCache(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, userID)
}
