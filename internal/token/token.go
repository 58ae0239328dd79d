// internal/token/token.go
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/davidshare/ObservaShop/internal/autherr"
)

const (
	// TypeAccess/TypeRefresh занимают claim "typ"; verify сверяет тип,
	// чтобы refresh-токен нельзя было предъявить как access.
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims — полезная нагрузка обоих видов токенов.
// Для refresh дополнительно заполняются FamilyID и Generation.
type Claims struct {
	jwt.RegisteredClaims
	Type       string   `json:"typ"`
	Roles      []string `json:"roles,omitempty"`
	FamilyID   string   `json:"fam,omitempty"`
	Generation int64    `json:"gen"`
}

// UserID — subject токена.
func (c *Claims) UserID() string { return c.Subject }

// JTI — уникальный идентификатор токена.
func (c *Claims) JTI() string { return c.ID }

// RemainingTTL возвращает время до истечения (0, если уже истёк).
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Signer выпускает подписанные токены. Живёт только в auth-сервисе:
// у enforcement point'ов приватного ключа нет.
type Signer interface {
	SignAccess(userID string, roles []string) (string, *Claims, error)
	SignRefresh(userID, familyID string, generation int64) (string, *Claims, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// Verifier проверяет подпись и срок и возвращает claims.
// Верификация чисто криптографическая, без внешних вызовов.
type Verifier interface {
	VerifyAccess(raw string) (*Claims, error)
	VerifyRefresh(raw string) (*Claims, error)
	// VerifySignatureOnly игнорирует exp: нужен для logout уже истёкших
	// refresh-токенов, семейство которых всё равно надо добить.
	VerifySignatureOnly(raw string) (*Claims, error)
}

type rs256 struct {
	priv       *rsa.PrivateKey
	pub        *rsa.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewRS256Signer строит Signer+Verifier на приватном ключе.
func NewRS256Signer(priv *rsa.PrivateKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (interface {
	Signer
	Verifier
}, error) {
	if priv == nil {
		return nil, fmt.Errorf("token: private key required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token: TTLs must be positive")
	}
	return &rs256{
		priv: priv, pub: &priv.PublicKey,
		issuer: issuer, audience: audience,
		accessTTL: accessTTL, refreshTTL: refreshTTL,
		now: time.Now,
	}, nil
}

// NewRS256Verifier строит только Verifier на публичном ключе —
// то, что получает gateway.
func NewRS256Verifier(pub *rsa.PublicKey, issuer, audience string) (Verifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("token: public key required")
	}
	return &rs256{pub: pub, issuer: issuer, audience: audience, now: time.Now}, nil
}

func (s *rs256) AccessTTL() time.Duration  { return s.accessTTL }
func (s *rs256) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *rs256) sign(c *Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	raw, err := tok.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return raw, nil
}

func (s *rs256) baseClaims(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *rs256) SignAccess(userID string, roles []string) (string, *Claims, error) {
	if s.priv == nil {
		return "", nil, fmt.Errorf("token: signer is verify-only")
	}
	c := &Claims{
		RegisteredClaims: s.baseClaims(userID, s.accessTTL),
		Type:             TypeAccess,
		Roles:            roles,
	}
	raw, err := s.sign(c)
	if err != nil {
		return "", nil, err
	}
	return raw, c, nil
}

func (s *rs256) SignRefresh(userID, familyID string, generation int64) (string, *Claims, error) {
	if s.priv == nil {
		return "", nil, fmt.Errorf("token: signer is verify-only")
	}
	c := &Claims{
		RegisteredClaims: s.baseClaims(userID, s.refreshTTL),
		Type:             TypeRefresh,
		FamilyID:         familyID,
		Generation:       generation,
	}
	raw, err := s.sign(c)
	if err != nil {
		return "", nil, err
	}
	return raw, c, nil
}

func (s *rs256) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	base := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		base = append(base, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		base = append(base, jwt.WithAudience(s.audience))
	}
	base = append(base, opts...)

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.pub, nil
	}, base...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", autherr.ErrTokenInvalid, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub/jti", autherr.ErrTokenInvalid)
	}
	return claims, nil
}

func (s *rs256) VerifyAccess(raw string) (*Claims, error) {
	c, err := s.parse(raw)
	if err != nil {
		return nil, err
	}
	if c.Type != TypeAccess {
		return nil, fmt.Errorf("%w: not an access token", autherr.ErrTokenInvalid)
	}
	return c, nil
}

func (s *rs256) VerifyRefresh(raw string) (*Claims, error) {
	c, err := s.parse(raw)
	if err != nil {
		return nil, err
	}
	if c.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", autherr.ErrTokenInvalid)
	}
	if c.FamilyID == "" {
		return nil, fmt.Errorf("%w: missing family id", autherr.ErrTokenInvalid)
	}
	return c, nil
}

func (s *rs256) VerifySignatureOnly(raw string) (*Claims, error) {
	return s.parse(raw, jwt.WithoutClaimsValidation())
}
