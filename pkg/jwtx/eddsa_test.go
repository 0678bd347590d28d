package jwtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEdDSASignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := NewEdDSASigner("grant-1")
	require.NoError(t, err)
	require.NoError(t, signer.Validate())
	require.Equal(t, "EdDSA", signer.Alg())

	now := time.Now()
	claims := NewGrantClaims("user-123", "alice", []string{AMRPassword, AMRSMS}, "smsgate", DefaultGrantTTL, now)

	token, err := signer.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verifier := NewEdDSAVerifier(signer.Public(), "smsgate")
	got, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", got.Subject)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, []string{AMRPassword, AMRSMS}, got.AMR)
}

func TestEdDSAVerifierRejections(t *testing.T) {
	t.Parallel()

	signer, err := NewEdDSASigner("grant-1")
	require.NoError(t, err)

	t.Run("empty assertion", func(t *testing.T) {
		verifier := NewEdDSAVerifier(signer.Public(), "smsgate")
		_, err := verifier.Verify("")
		require.ErrorIs(t, err, ErrMissingAsser)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := NewGrantClaims("u", "alice", []string{AMRPassword}, "someone-else", DefaultGrantTTL, time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		verifier := NewEdDSAVerifier(signer.Public(), "smsgate")
		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, ErrWrongIssuer)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewEdDSASigner("grant-2")
		require.NoError(t, err)

		claims := NewGrantClaims("u", "alice", []string{AMRPassword}, "smsgate", DefaultGrantTTL, time.Now())
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		verifier := NewEdDSAVerifier(other.Public(), "smsgate")
		_, err = verifier.Verify(token)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := NewGrantClaims("u", "alice", []string{AMRPassword}, "smsgate", time.Second, time.Now().Add(-time.Minute))
		token, err := signer.Sign(claims)
		require.NoError(t, err)

		verifier := NewEdDSAVerifier(signer.Public(), "smsgate")
		_, err = verifier.Verify(token)
		require.Error(t, err)
	})
}
