package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToken(t *testing.T) {
	raw := signedToken(t, jwt.MapClaims{"iss": "https://auth.test"})

	for _, header := range []string{"Bearer " + raw, raw} {
		token, err := parseToken(header)
		require.NoError(t, err)

		iss, err := getIssuer(token)
		require.NoError(t, err)
		assert.Equal(t, "https://auth.test", iss)
	}

	_, err := parseToken("Bearer garbage")
	assert.Error(t, err)
}

func TestGetIssuerErrors(t *testing.T) {
	token, err := parseToken(signedToken(t, jwt.MapClaims{"sub": "user"}))
	require.NoError(t, err)
	_, err = getIssuer(token)
	assert.Error(t, err)

	token, err = parseToken(signedToken(t, jwt.MapClaims{"iss": 42}))
	require.NoError(t, err)
	_, err = getIssuer(token)
	assert.Error(t, err)
}

func TestCheckToken(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		claims  jwt.MapClaims
		issuer  string
		wantErr bool
	}{
		{"no expiry, no issuer check", jwt.MapClaims{}, "", false},
		{"issuer matches ignoring slash", jwt.MapClaims{"iss": "https://auth.test/"}, "https://auth.test", false},
		{"issuer differs", jwt.MapClaims{"iss": "https://other.test"}, "https://auth.test", true},
		{"issuer missing", jwt.MapClaims{}, "https://auth.test", true},
		{"not yet expired", jwt.MapClaims{"exp": now.Add(time.Minute).Unix()}, "", false},
		{"expired", jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := parseToken(signedToken(t, tt.claims))
			require.NoError(t, err)

			err = checkToken(token, tt.issuer, now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSignedToken(t *testing.T) {
	key := []byte(testSigningKey)

	token, err := parseSignedToken("Bearer "+signedToken(t, jwt.MapClaims{"iss": "https://auth.test"}), key)
	require.NoError(t, err)
	iss, err := getIssuer(token)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.test", iss)

	_, err = parseSignedToken(signedTokenWithKey(t, jwt.MapClaims{"iss": "https://auth.test"}, "other-key"), key)
	assert.Error(t, err)

	_, err = parseSignedToken(signedToken(t, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}), key)
	assert.Error(t, err)

	// Unsigned tokens are refused
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"iss": "https://auth.test"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = parseSignedToken(unsigned, key)
	assert.Error(t, err)
}
