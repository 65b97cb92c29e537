package fakeserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type tokenKind string

const (
	kindAccess  tokenKind = "access"
	kindRefresh tokenKind = "refresh"
)

var errWrongKind = errors.New("token kind mismatch")

// TokenConfig controls the tokens the server issues.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Secret     []byte
	Issuer     string
	Leeway     time.Duration
}

type tokenClaims struct {
	Kind    tokenKind `json:"typ"`
	Epoch   uint64    `json:"ep"`
	UserID  int       `json:"uid"`
	IsAdmin bool      `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	config TokenConfig
	now    func() time.Time
}

func newTokenIssuer(cfg TokenConfig, now func() time.Time) (*tokenIssuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a secret")
	}
	return &tokenIssuer{config: cfg, now: now}, nil
}

// issue signs a token of kind for acct. epoch ties it to the server's
// revocation counter for that kind.
func (t *tokenIssuer) issue(kind tokenKind, acct *account, epoch uint64) (string, time.Time, error) {
	ttl := t.config.AccessTTL
	if kind == kindRefresh {
		ttl = t.config.RefreshTTL
	}

	now := t.now()
	exp := now.Add(ttl)
	claims := tokenClaims{
		Kind:    kind,
		Epoch:   epoch,
		UserID:  acct.id,
		IsAdmin: acct.isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.username,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    t.config.Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (t *tokenIssuer) parse(raw string, kind tokenKind) (*tokenClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(t.config.Leeway))
	}
	if t.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(t.config.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(raw, &tokenClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", tok.Method.Alg())
		}
		return t.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Kind != kind {
		return nil, errWrongKind
	}
	return claims, nil
}
