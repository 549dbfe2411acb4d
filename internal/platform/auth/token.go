package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is what a token pair is issued for.
type Identity struct {
	AccountID uuid.UUID
	Phone     string
	Roles     []string
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
}

// TokenPair is returned by the login flows.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Issuer signs and parses access and refresh tokens with a shared HMAC key.
type Issuer struct {
	cfg        JWTConfig
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(cfg JWTConfig, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{cfg: cfg, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

func (i *Issuer) Config() JWTConfig { return i.cfg }

func (i *Issuer) IssuePair(id Identity) (*TokenPair, error) {
	access, err := i.sign(id, TokenAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(id, TokenRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

func (i *Issuer) IssueAccess(id Identity) (string, error) {
	return i.sign(id, TokenAccess, i.accessTTL)
}

// ParseRefresh validates a refresh token and returns its claims.
func (i *Issuer) ParseRefresh(token string) (*Claims, error) {
	claims, err := parseToken(token, i.cfg)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenRefresh {
		return nil, fmt.Errorf("token is not a refresh token")
	}
	return claims, nil
}

func (i *Issuer) sign(id Identity, typ string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TokenType: typ,
		Phone:     id.Phone,
		Roles:     id.Roles,
	}
	if id.PatientID != nil {
		claims.PatientID = id.PatientID.String()
	}
	if id.DoctorID != nil {
		claims.DoctorID = id.DoctorID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}
