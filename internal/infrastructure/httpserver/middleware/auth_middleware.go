package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/httpserver/helpers"
)

type JWTMiddleware struct {
	verifier ports.TokenVerifier
	logger   *logrus.Logger
}

func NewJWTMiddleware(verifier ports.TokenVerifier, logger *logrus.Logger) *JWTMiddleware {
	return &JWTMiddleware{verifier: verifier, logger: logger}
}

// ResolvePrincipal sets the principal from a bearer token when one is sent. Requests
// without a token continue as anonymous; a bad token is rejected.
func (m *JWTMiddleware) ResolvePrincipal() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !helpers.HasBearerToken(c) {
				return next(c)
			}
			tokenString, err := helpers.BearerToken(c)
			if err != nil {
				return err
			}

			principal, err := m.verifier.Verify(c.Request().Context(), tokenString)
			if err != nil {
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"ip": c.RealIP(), "path": c.Request().URL.Path, "error": err.Error()}).Warn("JWT validation failed")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			helpers.SetPrincipal(c, principal)
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{"user_id": principal.UserID, "role": principal.Role}).Debug("jwt validated and principal set")
			}
			return next(c)
		}
	}
}

// RequireJWT rejects anonymous callers; use after ResolvePrincipal.
func (m *JWTMiddleware) RequireJWT() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := helpers.GetAuthenticatedPrincipal(c); err != nil {
				return err
			}
			return next(c)
		}
	}
}
