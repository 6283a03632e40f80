// Package auth verifies and issues the JWTs the WebSocket fan-out layer
// uses to authenticate a session, plus the revocation lists backing logout
// and forced-rotation. The HTTP API does not use these tokens; it is
// guarded by an API key instead.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the set of registered + custom claims carried by an access or
// refresh token.
type Claims struct {
	jwt.RegisteredClaims
	// FamilyID ties an access/refresh token pair together so refresh-token
	// reuse can revoke the whole family.
	FamilyID string `json:"fid"`
	// FingerprintHash binds the token to a specific device/client, checked
	// against the request with MatchesFingerprint.
	FingerprintHash string `json:"fp"`
}

var (
	ErrTokenRevoked      = errors.New("auth: token revoked")
	ErrTokenExpired      = errors.New("auth: token expired")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrFingerprintMismatch = errors.New("auth: fingerprint mismatch")
)

// RevocationStore is the narrow bus surface the verifier needs to check
// and record revocations; satisfied by backend/bus.Client.
type RevocationStore interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	RevokedAfter(ctx context.Context, userID string) (time.Time, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	RevokeAllAfterNow(ctx context.Context, userID string) error
}

// Verifier validates RS256 access tokens issued by Issuer, checking
// signature, standard claims, and both revocation mechanisms (explicit
// per-jti revocation and the per-user "revoked after" watermark).
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
	revoked   RevocationStore
}

// NewVerifier builds a Verifier.
func NewVerifier(publicKey *rsa.PublicKey, issuer, audience string, revoked RevocationStore) *Verifier {
	return &Verifier{publicKey: publicKey, issuer: issuer, audience: audience, revoked: revoked}
}

// Verify parses and validates tokenString, returning its claims if the
// token is well-formed, unexpired, correctly signed, and not revoked.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}

		watermark, err := v.revoked.RevokedAfter(ctx, claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("check revocation watermark: %w", err)
		}
		if !watermark.IsZero() && claims.IssuedAt != nil && claims.IssuedAt.Time.Before(watermark) {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Issuer mints RS256 access and refresh token pairs.
type Issuer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer builds an Issuer.
func NewIssuer(privateKey *rsa.PrivateKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{privateKey: privateKey, issuer: issuer, audience: audience, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssuePair mints a linked access/refresh token pair for subject, binding
// both to fingerprintHash.
func (i *Issuer) IssuePair(subject, familyID, fingerprintHash string) (accessToken, refreshToken, accessJTI, refreshJTI string, err error) {
	now := time.Now()
	accessJTI = newJTI()
	refreshJTI = newJTI()

	access := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ID:        accessJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		FamilyID:        familyID,
		FingerprintHash: fingerprintHash,
	})
	accessToken, err = access.SignedString(i.privateKey)
	if err != nil {
		return "", "", "", "", fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ID:        refreshJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
		FamilyID:        familyID,
		FingerprintHash: fingerprintHash,
	})
	refreshToken, err = refresh.SignedString(i.privateKey)
	if err != nil {
		return "", "", "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	return accessToken, refreshToken, accessJTI, refreshJTI, nil
}

func newJTI() string {
	return uuid.New().String()
}
