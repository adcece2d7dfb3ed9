package helpers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/ranked-posts/internal/core/domain/auth"
)

const principalKey = "ranked-posts.principal"

const bearerPrefix = "Bearer "

// SetPrincipal records the verified caller on the request context.
func SetPrincipal(c echo.Context, p auth.Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal returns the caller set by the JWT middleware, or the anonymous principal.
func GetPrincipal(c echo.Context) auth.Principal {
	if p, ok := c.Get(principalKey).(auth.Principal); ok {
		return p
	}
	return auth.Anonymous()
}

// GetAuthenticatedPrincipal fails with 401 for anonymous callers.
func GetAuthenticatedPrincipal(c echo.Context) (auth.Principal, error) {
	p := GetPrincipal(c)
	if p.IsAnonymous() {
		return p, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return p, nil
}

// HasBearerToken reports whether the request carries an Authorization header at all.
func HasBearerToken(c echo.Context) bool {
	return c.Request().Header.Get(echo.HeaderAuthorization) != ""
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authorization header must be a bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "empty bearer token")
	}
	return token, nil
}
