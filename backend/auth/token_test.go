package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key, &key.PublicKey
}

// fakeRevocationStore is an in-memory RevocationStore for tests that don't
// need a real bus connection.
type fakeRevocationStore struct {
	revoked    map[string]bool
	watermarks map[string]time.Time
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{revoked: map[string]bool{}, watermarks: map[string]time.Time{}}
}

func (f *fakeRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeRevocationStore) RevokedAfter(ctx context.Context, userID string) (time.Time, error) {
	return f.watermarks[userID], nil
}

func (f *fakeRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeRevocationStore) RevokeAllAfterNow(ctx context.Context, userID string) error {
	f.watermarks[userID] = time.Now()
	return nil
}

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	priv, pub := testKeyPair(t)
	issuer := NewIssuer(priv, "sherwood", "sherwood-clients", time.Minute, time.Hour)
	verifier := NewVerifier(pub, "sherwood", "sherwood-clients", newFakeRevocationStore())

	access, refresh, accessJTI, refreshJTI, err := issuer.IssuePair("acct-1", "family-1", "fp-hash")
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	require.NotEqual(t, accessJTI, refreshJTI)

	claims, err := verifier.Verify(t.Context(), access)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.Subject)
	require.Equal(t, "family-1", claims.FamilyID)
	require.Equal(t, "fp-hash", claims.FingerprintHash)
	require.Equal(t, accessJTI, claims.ID)
}

func TestVerify_RejectsWrongSigningKey(t *testing.T) {
	priv, _ := testKeyPair(t)
	_, otherPub := testKeyPair(t)

	issuer := NewIssuer(priv, "sherwood", "sherwood-clients", time.Minute, time.Hour)
	verifier := NewVerifier(otherPub, "sherwood", "sherwood-clients", newFakeRevocationStore())

	access, _, _, _, err := issuer.IssuePair("acct-1", "family-1", "")
	require.NoError(t, err)

	_, err = verifier.Verify(t.Context(), access)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	priv, pub := testKeyPair(t)
	issuer := NewIssuer(priv, "sherwood", "sherwood-clients", -time.Minute, time.Hour)
	verifier := NewVerifier(pub, "sherwood", "sherwood-clients", newFakeRevocationStore())

	access, _, _, _, err := issuer.IssuePair("acct-1", "family-1", "")
	require.NoError(t, err)

	_, err = verifier.Verify(t.Context(), access)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_RejectsExplicitlyRevokedJTI(t *testing.T) {
	priv, pub := testKeyPair(t)
	store := newFakeRevocationStore()
	issuer := NewIssuer(priv, "sherwood", "sherwood-clients", time.Minute, time.Hour)
	verifier := NewVerifier(pub, "sherwood", "sherwood-clients", store)

	access, _, accessJTI, _, err := issuer.IssuePair("acct-1", "family-1", "")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(t.Context(), accessJTI, time.Minute))

	_, err = verifier.Verify(t.Context(), access)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestVerify_RejectsTokenIssuedBeforeWatermark(t *testing.T) {
	priv, pub := testKeyPair(t)
	store := newFakeRevocationStore()
	issuer := NewIssuer(priv, "sherwood", "sherwood-clients", time.Minute, time.Hour)
	verifier := NewVerifier(pub, "sherwood", "sherwood-clients", store)

	access, _, _, _, err := issuer.IssuePair("acct-1", "family-1", "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.RevokeAllAfterNow(t.Context(), "acct-1"))

	_, err = verifier.Verify(t.Context(), access)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestVerify_NilRevocationStoreSkipsRevocationChecks(t *testing.T) {
	priv, pub := testKeyPair(t)
	issuer := NewIssuer(priv, "sherwood", "sherwood-clients", time.Minute, time.Hour)
	verifier := NewVerifier(pub, "sherwood", "sherwood-clients", nil)

	access, _, _, _, err := issuer.IssuePair("acct-1", "family-1", "")
	require.NoError(t, err)

	claims, err := verifier.Verify(t.Context(), access)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.Subject)
}
