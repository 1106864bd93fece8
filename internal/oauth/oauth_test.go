package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testService(t *testing.T, cfg Config) *Service {
	t.Helper()
	return NewService(cfg, zap.NewNop())
}

func pkcePair() (verifier, challenge string) {
	verifier = "a-fixed-test-verifier-string-that-is-long-enough"
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

func TestVerifyPKCE(t *testing.T) {
	verifier, challenge := pkcePair()
	require.True(t, verifyPKCE("S256", challenge, verifier))
	require.False(t, verifyPKCE("S256", challenge, "wrong-verifier"))
	require.False(t, verifyPKCE("plain", challenge, verifier))
}

func TestRegisterClient(t *testing.T) {
	svc := testService(t, Config{})
	resp, err := svc.RegisterClient(DCRRequest{
		RedirectURIs: []string{"http://127.0.0.1:4848/cb"},
		ClientName:   "test client",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ClientID)
	require.Equal(t, "none", resp.TokenEndpointAuthMethod)

	_, err = svc.RegisterClient(DCRRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

// TestFullAuthorizationCodeFlow walks spec §8's worked example: register
// a client, authorize with PKCE, exchange the code for a token, and
// confirm the code cannot be exchanged a second time.
func TestFullAuthorizationCodeFlow(t *testing.T) {
	svc := testService(t, Config{})
	verifier, challenge := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{
		RedirectURIs: []string{"http://127.0.0.1:4848/cb"},
		ClientName:   "assistant",
	})
	require.NoError(t, err)

	redirectURL, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	require.Empty(t, redirectURL)
	require.NotNil(t, consent)

	redirectURL, err = svc.Decide(consent.ID, true)
	require.NoError(t, err)
	require.Contains(t, redirectURL, "code=")
	require.Contains(t, redirectURL, "state=xyz")

	code := extractQueryParam(t, redirectURL, "code")

	tok, err := svc.ExchangeToken(TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:4848/cb",
		CodeVerifier: verifier,
		ClientID:     reg.ClientID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)

	validated, err := svc.ValidateBearer(tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, reg.ClientID, validated.ClientID)

	_, err = svc.ExchangeToken(TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:4848/cb",
		CodeVerifier: verifier,
		ClientID:     reg.ClientID,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorize_AutoApprovedSkipsConsent(t *testing.T) {
	svc := testService(t, Config{})
	_, challenge := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)
	svc.cfg.AutoApproveClients = []string{reg.ClientID}

	redirectURL, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	require.Nil(t, consent)
	require.Contains(t, redirectURL, "code=")
}

func TestAuthorize_RejectsUnknownRedirectURI(t *testing.T) {
	svc := testService(t, Config{})
	_, challenge := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)

	_, _, err = svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "https://evil.example/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExchangeToken_WrongVerifierFails(t *testing.T) {
	svc := testService(t, Config{})
	_, challenge := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)

	_, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	redirectURL, err := svc.Decide(consent.ID, true)
	require.NoError(t, err)
	code := extractQueryParam(t, redirectURL, "code")

	_, err = svc.ExchangeToken(TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:4848/cb",
		CodeVerifier: "totally-wrong",
		ClientID:     reg.ClientID,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestDecide_Deny(t *testing.T) {
	svc := testService(t, Config{})
	_, challenge := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)

	_, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	redirectURL, err := svc.Decide(consent.ID, false)
	require.NoError(t, err)
	require.Contains(t, redirectURL, "error=access_denied")
}

func TestRefreshTokenGrant(t *testing.T) {
	svc := testService(t, Config{RefreshEnabled: true})
	verifier, challenge := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)

	_, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	redirectURL, err := svc.Decide(consent.ID, true)
	require.NoError(t, err)
	code := extractQueryParam(t, redirectURL, "code")

	first, err := svc.ExchangeToken(TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:4848/cb",
		CodeVerifier: verifier,
		ClientID:     reg.ClientID,
	})
	require.NoError(t, err)

	second, err := svc.ExchangeToken(TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     reg.ClientID,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = svc.ValidateBearer(first.AccessToken)
	require.Error(t, err)
}

func TestIssueToken_UsesConfiguredTTL(t *testing.T) {
	svc := testService(t, Config{TokenTTL: 90 * time.Second})
	_, challenge := pkcePair()
	verifier, _ := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)

	_, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	redirectURL, err := svc.Decide(consent.ID, true)
	require.NoError(t, err)
	code := extractQueryParam(t, redirectURL, "code")

	tok, err := svc.ExchangeToken(TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:4848/cb",
		CodeVerifier: verifier,
		ClientID:     reg.ClientID,
	})
	require.NoError(t, err)
	require.InDelta(t, 90, tok.ExpiresIn, 5)
}

func TestIssueToken_DefaultsWhenTTLUnset(t *testing.T) {
	svc := testService(t, Config{})
	_, challenge := pkcePair()
	verifier, _ := pkcePair()

	reg, err := svc.RegisterClient(DCRRequest{RedirectURIs: []string{"http://127.0.0.1:4848/cb"}})
	require.NoError(t, err)

	_, consent, err := svc.Authorize(AuthorizeParams{
		ClientID:            reg.ClientID,
		RedirectURI:         "http://127.0.0.1:4848/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	redirectURL, err := svc.Decide(consent.ID, true)
	require.NoError(t, err)
	code := extractQueryParam(t, redirectURL, "code")

	tok, err := svc.ExchangeToken(TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:4848/cb",
		CodeVerifier: verifier,
		ClientID:     reg.ClientID,
	})
	require.NoError(t, err)
	require.InDelta(t, defaultTokenTTL.Seconds(), tok.ExpiresIn, 5)
}

func TestRefreshTokenGrant_DisabledByDefault(t *testing.T) {
	svc := testService(t, Config{})
	_, err := svc.ExchangeToken(TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: "anything",
		ClientID:     "whoever",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func extractQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query().Get(key)
}
