// Package auth guards the dispatcher HTTP surface with a shared API key.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// HeaderAPIKey is the header dispatcher clients send the key in.
const HeaderAPIKey = "X-API-Key"

// APIKeyMiddleware validates the request key against the configured key.
// The key is read from the X-API-Key header, then an "Authorization: Bearer"
// header, then the api_key query parameter. Paths in public are always
// allowed. If the configured key is empty, authentication is disabled
// (development mode).
func APIKeyMiddleware(apiKey string, public ...string) echo.MiddlewareFunc {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" || open[c.Path()] {
				return next(c)
			}

			provided := ProvidedKey(c.Request())
			if provided == "" {
				provided = c.QueryParam("api_key")
			}

			if provided == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing API key",
				})
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				logrus.WithFields(logrus.Fields{
					"path":   c.Path(),
					"remote": c.RealIP(),
				}).Warn("auth: rejected request with invalid API key")
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid API key",
				})
			}

			return next(c)
		}
	}
}

// ProvidedKey returns the key carried in the request headers, if any.
func ProvidedKey(r *http.Request) string {
	if k := r.Header.Get(HeaderAPIKey); k != "" {
		return k
	}
	if h := r.Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
