package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-signing-secret"

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSecret),
		Issuer:        "timetable-auth",
		Audience:      "timetable-api",
		TokenTTL:      15 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateToken(t *testing.T) {
	issued := time.Unix(1750000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issued })

	token, expiresIn, err := issuer.IssueToken(context.Background(), "user-1", RoleMethodist)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected user id %q", claims.UserID)
	}
	if claims.Role != RoleMethodist {
		t.Fatalf("unexpected role %q", claims.Role)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	now := time.Unix(1750000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })

	token, _, err := issuer.IssueToken(context.Background(), "user-1", RoleReadAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(16 * time.Minute)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	clock := func() time.Time { return time.Unix(1750000000, 0).UTC() }
	issuer := newTestIssuer(clock)
	token, _, err := issuer.IssueToken(context.Background(), "user-1", RoleMethodist)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("a-different-secret"),
		Issuer:        "timetable-auth",
		Audience:      "timetable-api",
		Clock:         clock,
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestValidateTokenRejectsWrongAudience(t *testing.T) {
	clock := func() time.Time { return time.Unix(1750000000, 0).UTC() }
	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSecret),
		Issuer:        "timetable-auth",
		Audience:      "another-service",
		Clock:         clock,
	})
	token, _, err := foreign.IssueToken(context.Background(), "user-1", RoleMethodist)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	issuer := newTestIssuer(clock)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected foreign audience to be rejected")
	}
}

func TestValidateTokenRejectsMissingRole(t *testing.T) {
	clock := func() time.Time { return time.Unix(1750000000, 0).UTC() }
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "timetable-auth",
		Audience:  []string{"timetable-api"},
		IssuedAt:  jwt.NewNumericDate(clock()),
		ExpiresAt: jwt.NewNumericDate(clock().Add(10 * time.Minute)),
	})
	token, err := raw.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	issuer := newTestIssuer(clock)
	if _, validateErr := issuer.ValidateToken(token); validateErr == nil {
		t.Fatalf("expected token without a role claim to be rejected")
	}
}

func TestValidateTokenRejectsForeignAlgorithm(t *testing.T) {
	clock := func() time.Time { return time.Unix(1750000000, 0).UTC() }
	raw := jwt.NewWithClaims(jwt.SigningMethodHS512, roleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "timetable-auth",
			Audience:  []string{"timetable-api"},
			IssuedAt:  jwt.NewNumericDate(clock()),
			ExpiresAt: jwt.NewNumericDate(clock().Add(10 * time.Minute)),
		},
		Role: RoleMethodist,
	})
	token, err := raw.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	issuer := newTestIssuer(clock)
	if _, validateErr := issuer.ValidateToken(token); validateErr == nil {
		t.Fatalf("expected non-HS256 token to be rejected")
	}
}

func TestIssueTokenRequiresIdentity(t *testing.T) {
	issuer := newTestIssuer(nil)
	if _, _, err := issuer.IssueToken(context.Background(), "", RoleMethodist); err == nil {
		t.Fatalf("expected missing subject to fail")
	}
	if _, _, err := issuer.IssueToken(context.Background(), "user-1", ""); err == nil {
		t.Fatalf("expected missing role to fail")
	}
}
