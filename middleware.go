package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.elastic.co/apm"
)

const (
	// Utilizes a non-standard nginx code
	statusClosedConnection int = 499
)

func filterError(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := c.Response()
		// Process the request
		err := next(c)
		// The below is executed after the request and subsequent middleware
		if err != nil {
			// Check for a broken pipe, modify response status, and create an error
			if errors.Is(err, syscall.EPIPE) {
				logger(c.Request().Context(), err)
				resp.Status = statusClosedConnection
				return nil
			}
		}
		return err
	}
}

// openId rejects requests without a bearer token the auth service accepts.
// Without an auth host the token must be signed with the configured key.
func (s *server) openId(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Obtains raw http request
		r := c.Request()
		ctx := r.Context()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			logger(ctx, errors.New("authorization header not found"))
			return c.NoContent(http.StatusUnauthorized)
		}

		if s.config.AuthHost != "" {
			if err := sendAuth(ctx, s.config.AuthHost, "openid", authHeader); err != nil {
				logger(ctx, err)
				return c.NoContent(http.StatusUnauthorized)
			}
		}

		// Convert auth header to token and store on request object. The
		// signature is checked here unless the auth service already did.
		var token *jwt.Token
		var err error
		switch {
		case s.config.AuthSigningKey != "":
			token, err = parseSignedToken(authHeader, []byte(s.config.AuthSigningKey))
		case s.config.AuthHost != "":
			token, err = parseToken(authHeader)
		default:
			err = errors.New("no auth host or signing key configured to verify tokens")
		}
		if err != nil {
			logger(ctx, err)
			return c.NoContent(http.StatusUnauthorized)
		}

		if err := checkToken(token, s.config.AuthIssuer, time.Now()); err != nil {
			logger(ctx, err)
			return c.NoContent(http.StatusUnauthorized)
		}

		// Set token on context struct
		c.Set("user", token)

		// Otherwise return
		return next(c)
	}
}

func sendAuth(ctx context.Context, authHost string, api string, authHeader string) error {
	// Create span
	span, ctx := apm.StartSpan(ctx, "Authorize Request", "OpenId")
	defer span.End()

	// Send http request to auth service
	// If it fails, fail the request
	client := http.Client{
		Timeout: time.Duration(5 * time.Second),
	}

	// Create new request
	req, err := http.NewRequestWithContext(ctx, "POST", authHost+api, nil)
	if err != nil {
		return err
	}

	// Add headers
	req.Header.Set("Authorization", authHeader)

	// Send request
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %v", err)
	}
	defer resp.Body.Close()

	// Verify status code
	// If this succeeds, the token is likely valid
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}

	// Otherwise return
	return nil
}
