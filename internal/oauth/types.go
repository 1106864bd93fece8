// Package oauth implements the OAuth 2.1 authorization subsystem that
// gates the streaming HTTP transport's submission path: dynamic client
// registration (RFC 7591), authorization code + PKCE (RFC 7636),
// bearer token issuance, and the discovery documents MCP clients use to
// find these endpoints (RFC 8414, RFC 9728). State is in-memory only
// per spec §1's Non-goals — no durable storage, restart loses clients,
// grants, and tokens.
//
// Data type shapes are grounded on
// other_examples/...docker-mcp-gateway__...oauth-types.go
// (OAuthDiscovery, OAuthProtectedResourceMetadata,
// OAuthAuthorizationServerMetadata, DCRRequest/DCRResponse,
// WWWAuthenticateChallenge); the bearer-middleware identity-in-context
// pattern is grounded on the teacher's pkg/auth/middleware.go.
package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Errors mapped to the OAuth-standard error codes spec §4.5 names
// (invalid_request, invalid_grant, invalid_client, unauthorized_client).
var (
	ErrInvalidClient         = errors.New("oauth: invalid_client")
	ErrInvalidGrant          = errors.New("oauth: invalid_grant")
	ErrInvalidRequest        = errors.New("oauth: invalid_request")
	ErrUnauthorizedClient    = errors.New("oauth: unauthorized_client")
	ErrAccessDenied          = errors.New("oauth: access_denied")
	ErrTokenExpiredOrUnknown = errors.New("oauth: token expired or unknown")
)

// Client is a dynamically registered OAuth client.
type Client struct {
	ID                      string
	Secret                  string
	Name                    string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
}

// HasRedirectURI reports whether uri is one of the client's registered
// redirect URIs, compared for an exact match per spec §4.5.
func (c Client) HasRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// IsConfidential reports whether the client authenticates with a secret
// (token_endpoint_auth_method other than "none").
func (c Client) IsConfidential() bool {
	return c.TokenEndpointAuthMethod != "" && c.TokenEndpointAuthMethod != "none"
}

// Grant is a single-use authorization code plus the parameters needed to
// validate a subsequent token exchange.
type Grant struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	IssuedAt            time.Time
	ExpiresAt           time.Time

	mu       sync.Mutex
	consumed bool
}

// Expired reports whether the grant's lifetime has elapsed.
func (g *Grant) Expired() bool {
	return time.Now().After(g.ExpiresAt)
}

// Consume marks the grant used, returning false if it was already
// consumed. Safe for concurrent callers; exactly one caller observes
// true, enforcing spec §3's "consumed at most once" invariant.
func (g *Grant) Consume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consumed {
		return false
	}
	g.consumed = true
	return true
}

// Token is an issued bearer access token. It embeds oauth2.Token rather
// than hand-rolling an equivalent AccessToken/RefreshToken/Expiry shape,
// so the access-token lifetime bookkeeping this package needs lines up
// with the same type MCP client implementations in this pack already
// use on the consuming side.
type Token struct {
	oauth2.Token
	ClientID string
	Scope    string
	IssuedAt time.Time
}

// Expired reports whether the token's lifetime has elapsed.
func (t Token) Expired() bool {
	return !t.Valid()
}

// CoversScope reports whether the token's scope grants the requested
// operation scope. An empty requested scope is always covered; a token
// scope is treated as a space-separated set per RFC 6749 §3.3.
func (t Token) CoversScope(requested string) bool {
	if requested == "" {
		return true
	}
	granted := splitScope(t.Scope)
	for _, want := range splitScope(requested) {
		if !granted[want] {
			return false
		}
	}
	return true
}

func splitScope(scope string) map[string]bool {
	set := make(map[string]bool)
	field := ""
	for _, r := range scope + " " {
		if r == ' ' {
			if field != "" {
				set[field] = true
				field = ""
			}
			continue
		}
		field += string(r)
	}
	return set
}

// newOpaqueID returns a UUIDv4 string, used where a field only needs to
// be unique and hard to guess by enumeration — client ids, grant codes,
// consent ids — not where bearer-token-grade unguessability matters.
func newOpaqueID() string {
	return uuid.NewString()
}

// newBearerSecret returns a URL-safe, base64-encoded value drawn
// directly from crypto/rand, used for access and refresh tokens where
// the security of the whole system rests on the value being
// unguessable, not merely unique.
func newBearerSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
