package oauth

import (
	"sync"
)

// ClientStore holds dynamically registered clients. Grounded on the
// teacher's in-memory map-plus-RWMutex pattern used throughout
// pkg/ for process-local registries with no persistence.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewClientStore returns an empty store.
func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]Client)}
}

// Put registers or replaces a client.
func (s *ClientStore) Put(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

// Get looks up a client by id.
func (s *ClientStore) Get(id string) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// GrantStore holds issued authorization codes pending exchange.
type GrantStore struct {
	mu     sync.Mutex
	grants map[string]*Grant
}

// NewGrantStore returns an empty store.
func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[string]*Grant)}
}

// Put records a freshly issued grant.
func (s *GrantStore) Put(g *Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.Code] = g
}

// Take returns the grant for code and removes it from the store,
// so a retried exchange for the same code never finds it again even
// if the caller races the in-grant Consume() flag. This is the
// second layer of spec §3's "consumed at most once" invariant — the
// first is Grant.Consume itself.
func (s *GrantStore) Take(code string) (*Grant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[code]
	if ok {
		delete(s.grants, code)
	}
	return g, ok
}

// sweepExpired deletes grants whose lifetime has elapsed. Called
// periodically by Service.RunJanitor so a client that never completes the
// exchange doesn't leak memory for the process lifetime.
func (s *GrantStore) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, g := range s.grants {
		if g.Expired() {
			delete(s.grants, code)
		}
	}
}

// TokenStore holds issued bearer tokens, indexed both by the access
// token value and by refresh token value for the refresh grant path.
type TokenStore struct {
	mu        sync.RWMutex
	byAccess  map[string]*Token
	byRefresh map[string]*Token
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		byAccess:  make(map[string]*Token),
		byRefresh: make(map[string]*Token),
	}
}

// Put records an issued token under both indices (the refresh index is
// skipped when RefreshToken is empty).
func (s *TokenStore) Put(t *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAccess[t.AccessToken] = t
	if t.RefreshToken != "" {
		s.byRefresh[t.RefreshToken] = t
	}
}

// GetByAccessToken looks up a token by its bearer value.
func (s *TokenStore) GetByAccessToken(value string) (*Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byAccess[value]
	return t, ok
}

// TakeByRefreshToken returns and invalidates the token associated with
// a refresh token, so each refresh token is usable exactly once (spec
// §4.5 refresh-token supplemental feature).
func (s *TokenStore) TakeByRefreshToken(value string) (*Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byRefresh[value]
	if !ok {
		return nil, false
	}
	delete(s.byRefresh, value)
	delete(s.byAccess, t.AccessToken)
	return t, true
}

// sweepExpired deletes tokens past their lifetime.
func (s *TokenStore) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for value, t := range s.byAccess {
		if t.Expired() {
			delete(s.byAccess, value)
			if t.RefreshToken != "" {
				delete(s.byRefresh, t.RefreshToken)
			}
		}
	}
}

// clientLocks serializes grant issuance and authorization-code exchange
// per client_id, so concurrent authorize or token calls for the same
// client run one at a time. Striped by
// client_id rather than a single global mutex to keep unrelated clients
// from blocking each other.
type clientLocks struct {
	mu   sync.Mutex
	byID map[string]*sync.Mutex
}

func newClientLocks() *clientLocks {
	return &clientLocks{byID: make(map[string]*sync.Mutex)}
}

func (c *clientLocks) lockFor(clientID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byID[clientID]
	if !ok {
		m = &sync.Mutex{}
		c.byID[clientID] = m
	}
	return m
}

// withClientLock runs fn while holding the per-client stripe, releasing
// it before returning.
func (c *clientLocks) withClientLock(clientID string, fn func()) {
	m := c.lockFor(clientID)
	m.Lock()
	defer m.Unlock()
	fn()
}
