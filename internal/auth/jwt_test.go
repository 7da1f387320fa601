package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewIssuer(t *testing.T) {
	if _, err := NewIssuer("", "key", time.Hour); err == nil {
		t.Error("Expected error without secret")
	}

	issuer, err := NewIssuer("secret", "key", 0)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	if issuer.ttl != 24*time.Hour {
		t.Errorf("Expected default ttl 24h, got %s", issuer.ttl)
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, _ := NewIssuer("secret", "key", time.Hour)

	token, expiresAt, err := issuer.Exchange("key", "operator-1")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if time.Until(expiresAt) > time.Hour || time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("Unexpected expiry %s", expiresAt)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.OperatorID != "operator-1" || claims.Role != RoleOperator {
		t.Errorf("Unexpected claims %+v", claims)
	}
}

func TestIssuer_RejectsBadAPIKey(t *testing.T) {
	issuer, _ := NewIssuer("secret", "key", time.Hour)
	if _, _, err := issuer.Exchange("wrong", "operator-1"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("Expected ErrInvalidAPIKey, got %v", err)
	}

	noKey, _ := NewIssuer("secret", "", time.Hour)
	if _, _, err := noKey.Exchange("", "operator-1"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("Expected ErrInvalidAPIKey when no key is configured, got %v", err)
	}
}

func TestIssuer_ValidateToken(t *testing.T) {
	issuer, _ := NewIssuer("secret", "key", time.Hour)
	other, _ := NewIssuer("other-secret", "key", time.Hour)

	otherToken, _, _ := other.GenerateOperatorToken("operator-1")
	if _, err := issuer.ValidateToken(otherToken); err == nil {
		t.Error("Expected error for token signed with another secret")
	}

	expired, _ := NewIssuer("secret", "key", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	oldToken, _, _ := expired.GenerateOperatorToken("operator-1")
	if _, err := issuer.ValidateToken(oldToken); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}

	deviceToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		Role: "device",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	if _, err := issuer.ValidateToken(deviceToken); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}

	if _, err := issuer.ValidateToken("not-a-token"); err == nil {
		t.Error("Expected error for garbage token")
	}
}
