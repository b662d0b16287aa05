package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// ErrWildcardOrigin is returned by CORS for a "*" origin. The API
// authenticates with the jwtToken cookie, and browsers refuse credentialed
// responses to a wildcard.
var ErrWildcardOrigin = errors.New("CORS origin \"*\" cannot be used with cookie sessions")

// CORS lets the listed browser origins call the JSON API with the session
// cookie attached. Each origin must be a bare scheme://host[:port]. With no
// origins the middleware is a pass-through and only same-origin callers work.
func CORS(origins []string) (echo.MiddlewareFunc, error) {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if origin == "*" {
			return nil, ErrWildcardOrigin
		}
		if err := checkOrigin(origin); err != nil {
			return nil, err
		}
		allowed = append(allowed, origin)
	}

	if len(allowed) == 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }, nil
	}

	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: allowed,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			echo.HeaderXRequestID,
		},
		ExposeHeaders:    []string{echo.HeaderXRequestID, echo.HeaderRetryAfter},
		AllowCredentials: true,
		MaxAge:           3600,
	}), nil
}

func checkOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" ||
		u.Path != "" || u.RawQuery != "" || u.User != nil {
		return fmt.Errorf("invalid CORS origin %q: want scheme://host[:port]", origin)
	}
	return nil
}
