package oauth

import (
	"context"
	"fmt"
	"net"
	neturl "net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	grantTTL = 5 * time.Minute
	// defaultTokenTTL is the bearer access token lifetime used when
	// Config.TokenTTL is unset (e.g. a zero-value Config in a test).
	// A refresh token accompanies the access token only when
	// Config.RefreshEnabled is set.
	defaultTokenTTL = 1 * time.Hour
	sweepInterval   = 1 * time.Minute
	defaultScope    = "mcp"
)

// Config controls Service policy. AutoApproveClients lists client IDs
// (typically ones this same process registered for itself, e.g. a CLI
// dev flow) whose authorize requests skip the consent page entirely.
// It is unrelated to the HTTP facade's Simplified flag, which skips
// bearer authentication on the submission endpoint.
type Config struct {
	Issuer             string
	AutoApproveClients []string
	// RefreshEnabled turns on the refresh_token grant (spec Open
	// Question 1); off by default since Non-goals mark it optional.
	RefreshEnabled bool
	// AllowedCallbackHosts lists additional non-loopback redirect URI
	// hosts dynamic registration accepts beyond loopback addresses
	// (spec §4.5: "loopback and a fixed set of known AI-assistant
	// callback hosts are permitted; others are rejected").
	AllowedCallbackHosts []string
	// TokenTTL is the bearer access-token lifetime (spec §6
	// TOKEN_TTL_SECONDS). Zero falls back to defaultTokenTTL.
	TokenTTL time.Duration
}

// tokenTTL returns the configured access-token lifetime, falling back
// to defaultTokenTTL for a zero-value Config.
func (c Config) tokenTTL() time.Duration {
	if c.TokenTTL <= 0 {
		return defaultTokenTTL
	}
	return c.TokenTTL
}

// PendingConsent describes an authorize request waiting on a resource
// owner's approve/deny decision, as rendered by the consent page.
type PendingConsent struct {
	ID          string
	ClientID    string
	ClientName  string
	RedirectURI string
	Scope       string
	State       string
	challenge   string
	method      string
}

// Service is the authorization subsystem's single entry point: all
// HTTP handlers in internal/httpapi call into a Service rather than
// touching the stores directly. Grounded on the teacher's
// pkg/vectorstore.Service shape (config + backing stores + logger,
// exposed as narrow verbs).
type Service struct {
	cfg Config
	log *zap.Logger

	clients *ClientStore
	grants  *GrantStore
	tokens  *TokenStore
	locks   *clientLocks

	pendingMu sync.Mutex
	pending   map[string]*PendingConsent
}

// NewService constructs a Service with empty in-memory stores.
func NewService(cfg Config, log *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		clients: NewClientStore(),
		grants:  NewGrantStore(),
		tokens:  NewTokenStore(),
		locks:   newClientLocks(),
		pending: make(map[string]*PendingConsent),
	}
}

// RunJanitor periodically sweeps expired grants and tokens until ctx is
// canceled. Grounded on the teacher's background-goroutine-with-ticker
// pattern used for its own store maintenance loops.
func (s *Service) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.grants.sweepExpired()
			s.tokens.sweepExpired()
		}
	}
}

// RegisterClient implements RFC 7591 dynamic client registration.
func (s *Service) RegisterClient(req DCRRequest) (DCRResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return DCRResponse{}, fmt.Errorf("%w: redirect_uris is required", ErrInvalidRequest)
	}
	for _, uri := range req.RedirectURIs {
		if err := s.validateRedirectURI(uri); err != nil {
			return DCRResponse{}, err
		}
	}

	id := newOpaqueID()

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	client := Client{
		ID:                      id,
		Name:                    req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               time.Now(),
	}
	if authMethod != "none" {
		secret, err := newBearerSecret()
		if err != nil {
			return DCRResponse{}, fmt.Errorf("generating client secret: %w", err)
		}
		client.Secret = secret
	}

	s.clients.Put(client)
	s.log.Info("oauth client registered", zap.String("client_id", client.ID), zap.String("client_name", client.Name))

	return DCRResponse{
		ClientID:                client.ID,
		ClientSecret:            client.Secret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.Name,
	}, nil
}

// AuthorizeParams are the validated query parameters of an
// /oauth/authorize request.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates an authorization request and either returns a
// redirect URL immediately (auto-approved client) or a PendingConsent
// the caller should render a consent page for.
func (s *Service) Authorize(p AuthorizeParams) (redirectURL string, consent *PendingConsent, err error) {
	client, ok := s.clients.Get(p.ClientID)
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown client_id", ErrInvalidClient)
	}
	if !client.HasRedirectURI(p.RedirectURI) {
		return "", nil, fmt.Errorf("%w: redirect_uri not registered for client", ErrInvalidRequest)
	}
	if p.CodeChallengeMethod != "S256" || p.CodeChallenge == "" {
		return "", nil, fmt.Errorf("%w: PKCE S256 code_challenge is required", ErrInvalidRequest)
	}

	scope := p.Scope
	if scope == "" {
		scope = defaultScope
	}

	if s.isAutoApproved(client.ID) {
		url, err := s.issueGrantRedirect(client, p.RedirectURI, scope, p.State, p.CodeChallenge, p.CodeChallengeMethod)
		return url, nil, err
	}

	pc := &PendingConsent{
		ID:          newOpaqueID(),
		ClientID:    client.ID,
		ClientName:  client.Name,
		RedirectURI: p.RedirectURI,
		Scope:       scope,
		State:       p.State,
		challenge:   p.CodeChallenge,
		method:      p.CodeChallengeMethod,
	}
	s.pendingMu.Lock()
	s.pending[pc.ID] = pc
	s.pendingMu.Unlock()

	return "", pc, nil
}

// validateRedirectURI enforces spec §4.5: redirect URIs must be
// absolute, and their host must be a loopback address or one of the
// configured allowed callback hosts.
func (s *Service) validateRedirectURI(rawURI string) error {
	u, err := neturl.Parse(rawURI)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: redirect_uri %q is not an absolute URL", ErrInvalidRequest, rawURI)
	}

	host := u.Hostname()
	if isLoopbackHost(host) {
		return nil
	}
	for _, allowed := range s.cfg.AllowedCallbackHosts {
		if host == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: redirect_uri host %q is not permitted", ErrInvalidRequest, host)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isAutoApproved reports whether clientID is in the configured
// auto-approve list.
func (s *Service) isAutoApproved(clientID string) bool {
	for _, id := range s.cfg.AutoApproveClients {
		if id == clientID {
			return true
		}
	}
	return false
}

// Decide resolves a pending consent by id, issuing a grant and
// redirect URL on approve, or an access_denied redirect on deny. The
// consent entry is removed either way so a resubmitted form can't
// double-issue a grant.
func (s *Service) Decide(consentID string, approve bool) (redirectURL string, err error) {
	s.pendingMu.Lock()
	pc, ok := s.pending[consentID]
	if ok {
		delete(s.pending, consentID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown or already-decided consent", ErrInvalidRequest)
	}

	if !approve {
		return appendQuery(pc.RedirectURI, map[string]string{
			"error": "access_denied",
			"state": pc.State,
		}), nil
	}

	client, ok := s.clients.Get(pc.ClientID)
	if !ok {
		return "", fmt.Errorf("%w: client no longer registered", ErrInvalidClient)
	}
	return s.issueGrantRedirect(client, pc.RedirectURI, pc.Scope, pc.State, pc.challenge, pc.method)
}

func (s *Service) issueGrantRedirect(client Client, redirectURI, scope, state, challenge, method string) (string, error) {
	code := newOpaqueID()
	now := time.Now()
	grant := &Grant{
		Code:                code,
		ClientID:            client.ID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		State:               state,
		IssuedAt:            now,
		ExpiresAt:           now.Add(grantTTL),
	}
	s.locks.withClientLock(client.ID, func() {
		s.grants.Put(grant)
	})

	return appendQuery(redirectURI, map[string]string{
		"code":  code,
		"state": state,
	}), nil
}

// TokenParams are the validated form parameters of a /oauth/token
// request, covering both grant_type=authorization_code and
// grant_type=refresh_token.
type TokenParams struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// ExchangeToken implements the token endpoint for both the
// authorization_code and refresh_token grants.
func (s *Service) ExchangeToken(p TokenParams) (TokenResponse, error) {
	switch p.GrantType {
	case "authorization_code":
		return s.exchangeAuthorizationCode(p)
	case "refresh_token":
		if !s.cfg.RefreshEnabled {
			return TokenResponse{}, fmt.Errorf("%w: refresh_token grant is disabled", ErrInvalidRequest)
		}
		return s.exchangeRefreshToken(p)
	default:
		return TokenResponse{}, fmt.Errorf("%w: unsupported grant_type %q", ErrInvalidRequest, p.GrantType)
	}
}

func (s *Service) exchangeAuthorizationCode(p TokenParams) (TokenResponse, error) {
	client, err := s.authenticateClient(p.ClientID, p.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	var resp TokenResponse
	var issueErr error
	s.locks.withClientLock(client.ID, func() {
		grant, ok := s.grants.Take(p.Code)
		if !ok {
			issueErr = fmt.Errorf("%w: unknown or already-used code", ErrInvalidGrant)
			return
		}
		if !grant.Consume() {
			issueErr = fmt.Errorf("%w: code already consumed", ErrInvalidGrant)
			return
		}
		if grant.Expired() {
			issueErr = fmt.Errorf("%w: code expired", ErrInvalidGrant)
			return
		}
		if grant.ClientID != client.ID {
			issueErr = fmt.Errorf("%w: code was issued to a different client", ErrInvalidGrant)
			return
		}
		if grant.RedirectURI != p.RedirectURI {
			issueErr = fmt.Errorf("%w: redirect_uri does not match authorize request", ErrInvalidGrant)
			return
		}
		if !verifyPKCE(grant.CodeChallengeMethod, grant.CodeChallenge, p.CodeVerifier) {
			issueErr = fmt.Errorf("%w: code_verifier does not match code_challenge", ErrInvalidGrant)
			return
		}

		token, tErr := s.issueToken(client.ID, grant.Scope)
		if tErr != nil {
			issueErr = tErr
			return
		}
		resp = tokenResponseOf(token)
	})
	return resp, issueErr
}

func (s *Service) exchangeRefreshToken(p TokenParams) (TokenResponse, error) {
	client, err := s.authenticateClient(p.ClientID, p.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	old, ok := s.tokens.TakeByRefreshToken(p.RefreshToken)
	if !ok {
		return TokenResponse{}, fmt.Errorf("%w: unknown refresh_token", ErrInvalidGrant)
	}
	if old.ClientID != client.ID {
		return TokenResponse{}, fmt.Errorf("%w: refresh_token was issued to a different client", ErrInvalidGrant)
	}

	token, err := s.issueToken(client.ID, old.Scope)
	if err != nil {
		return TokenResponse{}, err
	}
	return tokenResponseOf(token), nil
}

func (s *Service) authenticateClient(clientID, clientSecret string) (Client, error) {
	client, ok := s.clients.Get(clientID)
	if !ok {
		return Client{}, fmt.Errorf("%w: unknown client_id", ErrInvalidClient)
	}
	if client.IsConfidential() && client.Secret != clientSecret {
		return Client{}, fmt.Errorf("%w: client_secret mismatch", ErrInvalidClient)
	}
	return client, nil
}

func (s *Service) issueToken(clientID, scope string) (*Token, error) {
	access, err := newBearerSecret()
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	var refresh string
	if s.cfg.RefreshEnabled {
		refresh, err = newBearerSecret()
		if err != nil {
			return nil, fmt.Errorf("generating refresh token: %w", err)
		}
	}
	now := time.Now()
	token := &Token{
		Token: oauth2.Token{
			AccessToken:  access,
			TokenType:    "Bearer",
			RefreshToken: refresh,
			Expiry:       now.Add(s.cfg.tokenTTL()),
		},
		ClientID: clientID,
		Scope:    scope,
		IssuedAt: now,
	}
	s.tokens.Put(token)
	return token, nil
}

func tokenResponseOf(t *Token) TokenResponse {
	return TokenResponse{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		ExpiresIn:    int64(time.Until(t.Expiry).Seconds()),
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
	}
}

// ValidateBearer resolves a raw Authorization header bearer value into
// its Token, rejecting unknown or expired tokens. Called by
// internal/oauth's middleware on every request to the submission
// endpoint.
func (s *Service) ValidateBearer(value string) (*Token, error) {
	token, ok := s.tokens.GetByAccessToken(value)
	if !ok {
		return nil, ErrTokenExpiredOrUnknown
	}
	if token.Expired() {
		return nil, ErrTokenExpiredOrUnknown
	}
	return token, nil
}

// appendQuery adds params to a redirect URL's query string.
func appendQuery(rawURL string, params map[string]string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
