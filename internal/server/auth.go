package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// ErrInvalidToken is returned by verifiers for unknown or revoked tokens.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is who the bearer token belongs to.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// TokenVerifier resolves a bearer token into an identity. Unknown tokens
// must return ErrInvalidToken; there is no anonymous fallback.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// StaticTokenVerifier is an in-memory verifier for dev and tests. Safe for
// concurrent use.
type StaticTokenVerifier struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewStaticTokenVerifier creates an empty verifier.
func NewStaticTokenVerifier() *StaticTokenVerifier {
	return &StaticTokenVerifier{tokens: make(map[string]Identity)}
}

// Register associates a token with an identity.
func (v *StaticTokenVerifier) Register(token string, identity Identity) {
	v.mu.Lock()
	v.tokens[token] = identity
	v.mu.Unlock()
}

// Verify resolves the token. Every unknown token is rejected.
func (v *StaticTokenVerifier) Verify(token string) (Identity, error) {
	v.mu.RLock()
	identity, ok := v.tokens[token]
	v.mu.RUnlock()
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}

const identityKey = "identity"

// requireAuth extracts and verifies the bearer token, aborting with 401 when
// it is missing or unknown.
func requireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "not authorized, no token"})
			return
		}
		identity, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "not authorized, token failed"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// requireAdmin must run after requireAuth.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentIdentity(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "not authorized as an admin"})
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}
