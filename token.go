package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func parseToken(authHeader string) (*jwt.Token, error) {
	index := strings.Index(authHeader, "Bearer ")
	if index == 0 {
		authHeader = authHeader[len("Bearer "):]
	}

	// Parse the auth token
	token, _, err := new(jwt.Parser).ParseUnverified(authHeader, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// parseSignedToken parses a bearer token and verifies its HMAC signature and
// time-based claims against key.
func parseSignedToken(authHeader string, key []byte) (*jwt.Token, error) {
	authHeader = strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(authHeader, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return token, nil
}

func getIssuer(token *jwt.Token) (string, error) {
	var host string
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		// Extract the "iss" claim from the token payload
		iss := claims["iss"]
		if iss != nil {
			host, ok = iss.(string)
			if !ok {
				return "", fmt.Errorf("issuer (iss) not a valid string")
			}
		} else {
			return "", fmt.Errorf("invalid issuer (iss) value")
		}
	} else {
		return "", fmt.Errorf("issuer (iss) claim not found")
	}
	return host, nil
}

// checkToken verifies the claims the auth service does not: the issuer, when
// one is configured, and the expiry.
func checkToken(token *jwt.Token, issuer string, now time.Time) error {
	if issuer != "" {
		iss, err := getIssuer(token)
		if err != nil {
			return err
		}
		if strings.TrimRight(iss, "/") != strings.TrimRight(issuer, "/") {
			return fmt.Errorf("unexpected token issuer %q", iss)
		}
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("invalid expiration (exp) claim: %w", err)
	}
	if exp != nil && !now.Before(exp.Time) {
		return errors.New("token has expired")
	}

	return nil
}
