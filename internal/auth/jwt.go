package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleOperator = "operator"
	issuerName   = "emotiscan"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidRole   = errors.New("token role is not allowed")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates operator tokens with a shared secret
type Issuer struct {
	secret []byte
	apiKey []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer; tokens are exchanged for apiKey and live for ttl
func NewIssuer(secret, apiKey string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		secret: []byte(secret),
		apiKey: []byte(apiKey),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Exchange trades the API key for an operator token
func (i *Issuer) Exchange(apiKey, operatorID string) (string, time.Time, error) {
	if len(i.apiKey) == 0 || subtle.ConstantTimeCompare([]byte(apiKey), i.apiKey) != 1 {
		return "", time.Time{}, ErrInvalidAPIKey
	}
	return i.GenerateOperatorToken(operatorID)
}

// GenerateOperatorToken generates a JWT token for an operator of the detection session
func (i *Issuer) GenerateOperatorToken(operatorID string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		OperatorID: operatorID,
		Role:       RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   operatorID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}
	if claims.Role != RoleOperator {
		return nil, ErrInvalidRole
	}
	return claims, nil
}
