package devserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/ahmad-cheema/file-verse/internal/metrics"
)

// Principal is the identity behind a session token.
type Principal struct {
	Username string
	Role     string
}

// Claims holds JWT token claims. Subject is the username.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Sessions issues HS256 tokens and remembers them for a fixed TTL. A token
// is valid only while it verifies and is still in the table, so revoking
// or expiring the entry invalidates it before its exp claim.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	table  *ttlcache.Cache[string, Principal]
}

func newSessions(secret []byte, ttl time.Duration) *Sessions {
	table := ttlcache.New[string, Principal](
		ttlcache.WithTTL[string, Principal](ttl),
		ttlcache.WithDisableTouchOnHit[string, Principal](),
	)
	s := &Sessions{secret: secret, ttl: ttl, table: table}
	table.OnEviction(func(context.Context, ttlcache.EvictionReason, *ttlcache.Item[string, Principal]) {
		metrics.SetServerSessionsActive(table.Len())
	})
	go table.Start()
	return s
}

// Issue signs a token for p and registers it.
func (s *Sessions) Issue(p Principal) (string, error) {
	id, err := randomHex(16)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := &Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "file-verse",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	s.table.Set(token, p, ttlcache.DefaultTTL)
	metrics.SetServerSessionsActive(s.table.Len())
	return token, nil
}

// Lookup returns the principal of a live token.
func (s *Sessions) Lookup(token string) (Principal, bool) {
	if token == "" {
		return Principal{}, false
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, false
	}

	item := s.table.Get(token)
	if item == nil {
		return Principal{}, false
	}
	return item.Value(), true
}

// Revoke drops a token.
func (s *Sessions) Revoke(token string) {
	s.table.Delete(token)
}

// Count returns the number of live tokens.
func (s *Sessions) Count() int {
	return s.table.Len()
}

func (s *Sessions) close() {
	s.table.Stop()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
