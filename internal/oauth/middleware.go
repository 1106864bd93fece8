package oauth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// contextKey is the type for context keys to avoid collisions, mirroring
// the teacher's pkg/auth/middleware.go pattern.
type contextKey string

const tokenContextKey contextKey = "oauth_token"

// TokenFromContext returns the validated Token a request was
// authenticated with, if BearerAuthMiddleware ran for it.
func TokenFromContext(c echo.Context) (*Token, bool) {
	v := c.Get(string(tokenContextKey))
	if v == nil {
		return nil, false
	}
	t, ok := v.(*Token)
	return t, ok
}

// BearerAuthMiddleware enforces that every request carries a valid
// bearer access token issued by svc, storing the resolved Token in the
// Echo context for handlers to read via TokenFromContext.
// resourceMetadataURL is advertised in the 401's WWW-Authenticate resource_metadata
// parameter so clients can locate the protected-resource document per
// spec §4.5. Modeled on the teacher's OwnerAuthMiddleware, replacing
// OS-user derivation with bearer token validation.
func BearerAuthMiddleware(svc *Service, resourceMetadataURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			value, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || value == "" {
				return unauthorized(c, resourceMetadataURL, "invalid_request", "missing bearer token")
			}

			token, err := svc.ValidateBearer(value)
			if err != nil {
				return unauthorized(c, resourceMetadataURL, "invalid_token", err.Error())
			}

			c.Set(string(tokenContextKey), token)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, resourceMetadataURL, errCode, detail string) error {
	challenge := WWWAuthenticateChallenge{
		Scheme: "Bearer",
		Parameters: map[string]string{
			"realm":             "corpus",
			"error":             errCode,
			"resource_metadata": resourceMetadataURL,
		},
	}
	c.Response().Header().Set("WWW-Authenticate", challenge.String())
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    -32005,
			"message": "authentication failed",
			"data": map[string]interface{}{
				"details": detail,
			},
		},
	})
}
