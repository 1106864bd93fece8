package httpapi

import (
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/corpusmcp/internal/oauth"
	"github.com/labstack/echo/v4"
)

func (s *Server) baseURL() string {
	return s.cfg.Server.PublicBaseURL
}

func (s *Server) handleAuthServerMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, oauth.NewAuthorizationServerMetadata(s.baseURL()))
}

func (s *Server) handleProtectedResourceMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, oauth.NewProtectedResourceMetadata(s.baseURL()))
}

// mcpResourceDescriptor is served at /.well-known/mcp/resource per spec
// §6: server identity, capabilities, and where to find the OAuth
// endpoints that gate the submission path.
type mcpResourceDescriptor struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Capabilities map[string]interface{} `json:"capabilities"`
	OAuth        mcpResourceOAuthLinks  `json:"oauth"`
}

type mcpResourceOAuthLinks struct {
	AuthorizationServer string `json:"authorization_server"`
	Registration        string `json:"registration_endpoint"`
}

func (s *Server) handleMCPResource(c echo.Context) error {
	return c.JSON(http.StatusOK, mcpResourceDescriptor{
		Name:    "corpusmcp",
		Version: Version,
		Capabilities: map[string]interface{}{
			"tools":   map[string]interface{}{},
			"prompts": map[string]interface{}{},
		},
		OAuth: mcpResourceOAuthLinks{
			AuthorizationServer: s.baseURL() + "/.well-known/oauth-authorization-server",
			Registration:        s.baseURL() + "/oauth/register",
		},
	})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req oauth.DCRRequest
	if err := c.Bind(&req); err != nil {
		return writeOAuthError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}

	resp, err := s.oauthSvc.RegisterClient(req)
	if err != nil {
		return oauthErrorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleAuthorize(c echo.Context) error {
	p := oauth.AuthorizeParams{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	}
	if c.QueryParam("response_type") != "code" {
		return writeOAuthError(c, http.StatusBadRequest, "unsupported_response_type", "only response_type=code is supported")
	}

	redirectURL, consent, err := s.oauthSvc.Authorize(p)
	if err != nil {
		return oauthErrorResponse(c, err)
	}
	if consent != nil {
		return c.HTML(http.StatusOK, oauth.RenderConsentPage(consent))
	}
	return c.Redirect(http.StatusFound, redirectURL)
}

func (s *Server) handleConsent(c echo.Context) error {
	consentID := c.FormValue("consent_id")
	approve := c.FormValue("decision") == "approve"

	redirectURL, err := s.oauthSvc.Decide(consentID, approve)
	if err != nil {
		return oauthErrorResponse(c, err)
	}
	return c.Redirect(http.StatusFound, redirectURL)
}

func (s *Server) handleToken(c echo.Context) error {
	p := oauth.TokenParams{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		CodeVerifier: c.FormValue("code_verifier"),
		ClientID:     c.FormValue("client_id"),
		ClientSecret: c.FormValue("client_secret"),
		RefreshToken: c.FormValue("refresh_token"),
	}
	if p.ClientID == "" {
		if id, secret, ok := c.Request().BasicAuth(); ok {
			p.ClientID, p.ClientSecret = id, secret
		}
	}

	resp, err := s.oauthSvc.ExchangeToken(p)
	if err != nil {
		return oauthErrorResponse(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
	return c.JSON(http.StatusOK, resp)
}

// callbackPageTemplate posts the authorize result back to the window
// that opened it via postMessage, then closes itself, per spec §6's
// "server-rendered page that posts the auth result back to an embedding
// window." Dependency-free, same reasoning as oauth.consentPageTemplate.
const callbackPageTemplate = `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<script>
  (function() {
    var params = new URLSearchParams(window.location.search);
    var result = { code: params.get("code"), state: params.get("state"), error: params.get("error") };
    if (window.opener) {
      window.opener.postMessage({ type: "mcp-oauth-callback", result: result }, "*");
    }
    window.close();
  })();
</script>
<p>Authorization complete. You may close this window.</p>
</body>
</html>
`

func (s *Server) handleCallback(c echo.Context) error {
	return c.HTML(http.StatusOK, callbackPageTemplate)
}

// startAuthResponse is returned by GET /oauth/start-auth under
// simplified mode (spec §4.5): the client is told no interactive
// authorization is required and may connect to /sse and /messages
// without a bearer token.
type startAuthResponse struct {
	Status          string `json:"status"`
	AuthNotRequired bool   `json:"auth_not_required"`
}

func (s *Server) handleStartAuth(c echo.Context) error {
	if !s.cfg.OAuth.Simplified {
		return writeOAuthError(c, http.StatusNotFound, "not_found", "simplified authorization is not enabled")
	}
	return c.JSON(http.StatusOK, startAuthResponse{Status: "success", AuthNotRequired: true})
}

func writeOAuthError(c echo.Context, status int, code, description string) error {
	return c.JSON(status, oauth.ErrorResponse{Error: code, ErrorDescription: description})
}

// oauthErrorResponse maps a Service error to its OAuth-standard error
// code and HTTP status per spec §4.5's state machine.
func oauthErrorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, oauth.ErrInvalidClient):
		return writeOAuthError(c, http.StatusUnauthorized, "invalid_client", err.Error())
	case errors.Is(err, oauth.ErrInvalidGrant):
		return writeOAuthError(c, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, oauth.ErrUnauthorizedClient):
		return writeOAuthError(c, http.StatusForbidden, "unauthorized_client", err.Error())
	case errors.Is(err, oauth.ErrAccessDenied):
		return writeOAuthError(c, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, oauth.ErrInvalidRequest):
		return writeOAuthError(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		return writeOAuthError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}
}
