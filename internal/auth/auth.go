// Package auth verifies connect_game handshakes. Verifiers may do I/O and
// are called off the game loop; every failure is reported as
// ErrInvalidToken so callers fail closed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/worldsync/server/internal/config"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Credentials is what a client presents in connect_game.
type Credentials struct {
	CharacterID string
	Token       string
}

// Verifier maps credentials to a player id.
type Verifier interface {
	Verify(ctx context.Context, c Credentials) (string, error)
}

// TokenHashStore looks up the bcrypt hash of a character's login token.
type TokenHashStore interface {
	TokenHash(ctx context.Context, characterID string) (string, error)
}

// New builds the verifier selected by cfg.Mode. store is only consulted in
// "store" mode.
func New(cfg config.AuthConfig, store TokenHashStore, now func() time.Time) (Verifier, error) {
	switch cfg.Mode {
	case "", "open":
		return Open{}, nil
	case "jwt":
		return NewJWT(cfg.JWTSecret, cfg.JWTIssuer, now), nil
	case "store":
		if store == nil {
			return nil, fmt.Errorf("auth mode store needs a character store")
		}
		return &StoreVerifier{store: store}, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
}

// Open trusts the claimed character id. Development only.
type Open struct{}

func (Open) Verify(_ context.Context, c Credentials) (string, error) {
	if c.CharacterID == "" {
		return "", ErrInvalidToken
	}
	return c.CharacterID, nil
}

// JWT verifies HS256 tokens whose subject is the player id.
type JWT struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWT(secret, issuer string, now func() time.Time) *JWT {
	if now == nil {
		now = time.Now
	}
	return &JWT{secret: []byte(secret), issuer: issuer, now: now}
}

func (v *JWT) Verify(_ context.Context, c Credentials) (string, error) {
	if c.Token == "" {
		return "", ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(c.Token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if c.CharacterID != "" && c.CharacterID != claims.Subject {
		return "", fmt.Errorf("%w: subject does not match character", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs a token for playerID valid for ttl. Used by tooling and tests.
func (v *JWT) Issue(playerID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// StoreVerifier checks the token against the character's stored bcrypt hash.
type StoreVerifier struct {
	store TokenHashStore
}

func NewStoreVerifier(store TokenHashStore) *StoreVerifier {
	return &StoreVerifier{store: store}
}

func (v *StoreVerifier) Verify(ctx context.Context, c Credentials) (string, error) {
	if c.CharacterID == "" || c.Token == "" {
		return "", ErrInvalidToken
	}
	hash, err := v.store.TokenHash(ctx, c.CharacterID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(c.Token)) != nil {
		return "", ErrInvalidToken
	}
	return c.CharacterID, nil
}

// HashToken produces the value stored in characters.token_hash.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
