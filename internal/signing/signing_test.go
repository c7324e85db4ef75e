package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(at time.Time) *Signer {
	s := NewSigner([]byte("topsecret"))
	s.now = func() time.Time { return at }
	return s
}

func TestSignerRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := fixedSigner(now)

	q, expires := s.Query("doc123", time.Minute)
	assert.Equal(t, now.Add(time.Minute).Unix(), expires.Unix())
	assert.Equal(t, "doc123", q.Get("doc"))
	require.NoError(t, s.Verify(q.Get("doc"), q.Get("expires"), q.Get("signature")))
}

func TestSignerRejectsTampering(t *testing.T) {
	s := fixedSigner(time.Unix(1_700_000_000, 0))
	q, _ := s.Query("doc123", time.Minute)
	sig := q.Get("signature")

	assert.ErrorIs(t, s.Verify("other", q.Get("expires"), sig), ErrBadSignature)
	assert.ErrorIs(t, s.Verify("doc123", "1800000000", sig), ErrBadSignature)
	assert.ErrorIs(t, s.Verify("doc123", "soon", sig), ErrBadSignature)
	assert.ErrorIs(t, NewSigner([]byte("another")).Verify("doc123", q.Get("expires"), sig), ErrBadSignature)
}

func TestSignerRejectsExpiredLinks(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := fixedSigner(now)
	q, _ := s.Query("doc123", time.Minute)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify("doc123", q.Get("expires"), q.Get("signature")), ErrExpired)
}
