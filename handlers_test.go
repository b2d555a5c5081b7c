package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error {
	return fmt.Errorf("%w: connection refused", ErrRepositoryUnavailable)
}

func newTestServer(repo *fakeRepository, config *Config) *echo.Echo {
	return newServer(config, newTestEvaluator(repo, config), repo).routes()
}

func serve(e *echo.Echo, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatAndHealth(t *testing.T) {
	config := testConfig()
	e := newTestServer(newFakeRepository(), config)

	rec := serve(e, http.MethodGet, "/heartbeat", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "up", health["status"])
	assert.Equal(t, "up", health["fhir_server"])
	assert.NotContains(t, health, "error")

	// A down record store does not take the service down
	down := newServer(config, newTestEvaluator(newFakeRepository(), config), downPinger{}).routes()
	rec = serve(down, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	health = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "up", health["status"])
	assert.Equal(t, "down", health["fhir_server"])
	assert.Contains(t, health["error"], "connection refused")
}

func TestListMeasures(t *testing.T) {
	e := newTestServer(newFakeRepository(), testConfig())

	rec := serve(e, http.MethodGet, "/api/measures", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Measures []measureInfo `json:"measures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Measures, 4)
	assert.Equal(t, "BCS", body.Measures[0].Code)
	assert.Equal(t, "27 months", body.Measures[0].Evidence[0].Lookback)
	assert.Equal(t, []string{"Z90.13", "Z90.11", "Z90.12"}, body.Measures[0].Exclusions)
}

func TestEvaluateMeasureEndpoint(t *testing.T) {
	e := newTestServer(breastScreeningPopulation(), testConfig())

	rec := serve(e, http.MethodGet, "/api/hedis/bcs?max_members=500&measurement_end=2025-06-30", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result EvaluationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "HEDIS Breast Cancer Screening (BCS)", result.MeasureName)
	assert.Equal(t, 3, result.Denominator)
	assert.Equal(t, 2, result.Numerator)
	assert.Equal(t, "66.67%", result.RateDisplay)
	assert.Equal(t, "2025-06-30", result.MeasurementPeriod.End)
}

func TestEvaluateMeasureEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		setup  func(*fakeRepository)
		status int
	}{
		{"unknown measure", "/api/hedis/XYZ", nil, http.StatusNotFound},
		{"non numeric max_members", "/api/hedis/BCS?max_members=lots", nil, http.StatusBadRequest},
		{"negative max_members", "/api/hedis/BCS?max_members=-4", nil, http.StatusBadRequest},
		{"bad measurement_end", "/api/hedis/BCS?measurement_end=06/30/2025", nil, http.StatusBadRequest},
		{"repository down", "/api/hedis/BCS", func(r *fakeRepository) { r.failPage = 1 }, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := breastScreeningPopulation()
			if tt.setup != nil {
				tt.setup(repo)
			}
			rec := serve(newTestServer(repo, testConfig()), http.MethodGet, tt.target, "", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForError(fmt.Errorf("x: %w", ErrUnknownMeasure)))
	assert.Equal(t, http.StatusBadGateway, statusForError(fmt.Errorf("x: %w", ErrRepositoryUnavailable)))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, statusClosedConnection, statusForError(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("other")))
}

func TestHedisSummaryEndpoint(t *testing.T) {
	e := newTestServer(breastScreeningPopulation(), testConfig())

	rec := serve(e, http.MethodGet, "/api/hedis-summary?max_patients=100", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary MeasureSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.Measures, 4)
	assert.Contains(t, summary.Measures, "breast_cancer_screening")
}

func TestCareGapsHook(t *testing.T) {
	repo := newFakeRepository(testPatient("p1", "female", "1965-01-01"))
	e := newTestServer(repo, testConfig())

	rec := serve(e, http.MethodGet, "/cds-services", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"care-gaps"`)

	rec = serve(e, http.MethodPost, "/cds-services/care-gaps", `{"hook":"patient-view","context":{"patientId":"p1"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hook Hook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hook))
	// BCS and COL are open; CDC and CBP do not apply
	assert.Len(t, hook.Cards, 2)

	rec = serve(e, http.MethodPost, "/cds-services/care-gaps", `{"hook":"patient-view","context":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodPost, "/cds-services/care-gaps", `{"hook":"patient-view","context":{"patientId":"missing"}}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

const testSigningKey = "test-secret"

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return signedTokenWithKey(t, claims, testSigningKey)
}

func signedTokenWithKey(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestAPIRequiresTokenWhenIssuerConfigured(t *testing.T) {
	config := testConfig()
	config.AuthIssuer = "https://auth.test/"
	config.AuthSigningKey = testSigningKey
	e := newTestServer(newFakeRepository(), config)

	rec := serve(e, http.MethodGet, "/api/measures", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrongIssuer := signedToken(t, jwt.MapClaims{"iss": "https://elsewhere.test", "exp": time.Now().Add(time.Hour).Unix()})
	rec = serve(e, http.MethodGet, "/api/measures", "", map[string]string{"Authorization": "Bearer " + wrongIssuer})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged := signedTokenWithKey(t, jwt.MapClaims{"iss": "https://auth.test", "exp": time.Now().Add(time.Hour).Unix()}, "someone-elses-key")
	rec = serve(e, http.MethodGet, "/api/hedis/BCS", "", map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = serve(e, http.MethodPost, "/cds-services/care-gaps", `{"hook":"patient-view","context":{"patientId":"p1"}}`, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := signedToken(t, jwt.MapClaims{"iss": "https://auth.test", "exp": time.Now().Add(-time.Hour).Unix()})
	rec = serve(e, http.MethodGet, "/api/measures", "", map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	valid := signedToken(t, jwt.MapClaims{"iss": "https://auth.test", "exp": time.Now().Add(time.Hour).Unix()})
	rec = serve(e, http.MethodGet, "/api/measures", "", map[string]string{"Authorization": "Bearer " + valid})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Discovery and liveness stay open
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/heartbeat", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/cds-services", "", nil).Code)
}

func TestAPIRejectsTokensItCannotVerify(t *testing.T) {
	// An issuer alone gives nothing to check the signature with
	config := testConfig()
	config.AuthIssuer = "https://auth.test"
	e := newTestServer(newFakeRepository(), config)

	token := signedToken(t, jwt.MapClaims{"iss": "https://auth.test", "exp": time.Now().Add(time.Hour).Unix()})
	rec := serve(e, http.MethodGet, "/api/hedis/BCS", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIConsultsAuthHost(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openid", r.URL.Path)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer authSrv.Close()

	config := testConfig()
	config.AuthHost = authSrv.URL + "/"
	e := newTestServer(newFakeRepository(), config)

	token := signedToken(t, jwt.MapClaims{"iss": "https://auth.test"})
	rec := serve(e, http.MethodGet, "/api/measures", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/api/measures", "", map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
