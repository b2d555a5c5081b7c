package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// fhirClient sends requests to the record store. Each GET is rate limited per
// host and retried with exponential backoff on transport errors, 429 and 5xx.
type fhirClient struct {
	baseURL         string
	headers         map[string]string
	timeout         time.Duration
	attempts        int
	initialInterval time.Duration
	limiter         *Limiter
	httpClient      *http.Client
}

func newFHIRClient(config *Config) *fhirClient {
	headers := map[string]string{
		"Accept":          "application/fhir+json, application/json",
		"Accept-Encoding": "gzip",
	}
	if config.FHIRAccessToken != "" {
		headers["Authorization"] = "Bearer " + config.FHIRAccessToken
	}

	return &fhirClient{
		baseURL:         strings.TrimRight(config.FHIRBaseURL, "/"),
		headers:         headers,
		timeout:         time.Duration(config.Timeout) * time.Second,
		attempts:        config.FetchAttempts,
		initialInterval: config.RetryInitialInterval,
		limiter:         NewLimiter(config.RateLimitRPS, config.RateLimitBurst),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}
}

func (fc *fhirClient) client() *http.Client {
	if fc.httpClient != nil {
		return fc.httpClient
	}

	// Create new HTTP client with timeout
	return &http.Client{
		Timeout: fc.timeout,
	}
}

func (fc *fhirClient) sendRequest(ctx context.Context, method, url string, queryParams url.Values, headers map[string]string, body io.Reader) (*http.Response, error) {
	// Wait for rate limit clearance
	if fc.limiter != nil {
		if err := fc.limiter.Wait(ctx, url); err != nil {
			return nil, err
		}
	}

	// Create a new request
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	// Set query parameters if provided
	if queryParams != nil {
		req.URL.RawQuery = queryParams.Encode()
	}

	// Set headers if provided
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// Initiate request
	resp, err := fc.client().Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	// Initialize re-used variables
	var respBody []byte
	var err error

	// Read the body and set up a defer to close the body to avoid
	// leaking resources.
	defer resp.Body.Close()

	// Check for gzipped "Content-Encoding" header
	if resp.Header.Get("Content-Encoding") == "gzip" {
		// Decompress response body
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error creating gzip reader: %s", err)
		}
		defer gzipReader.Close()

		// Read decompressed content
		respBody, err = io.ReadAll(gzipReader)
		if err != nil {
			return nil, fmt.Errorf("error reading decompressed data: %s", err)
		}
	} else {
		// Assume decompressed data
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %s", err)
		}
	}
	return respBody, nil
}

func (fc *fhirClient) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if fc.initialInterval > 0 {
		b.InitialInterval = fc.initialInterval
	}
	b.MaxInterval = 5 * time.Second
	// Attempts are bounded by count, not by elapsed time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// get fetches a URL and returns the body of a 2xx response. Failures after the
// last attempt are wrapped in ErrRepositoryUnavailable.
func (fc *fhirClient) get(ctx context.Context, rawURL string, queryParams url.Values) ([]byte, error) {
	attempts := fc.attempts
	if attempts <= 0 {
		attempts = 1
	}

	var body []byte
	operation := func() error {
		resp, err := fc.sendRequest(ctx, http.MethodGet, rawURL, queryParams, fc.headers, nil)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		respBody, err := readBody(resp)
		if err != nil {
			return err
		}

		// Verify status code. Throttling and server errors are worth another try
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("request %s failed (%d): %s", resp.Request.URL, resp.StatusCode, truncate(respBody, 512))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("request %s failed (%d): %s", resp.Request.URL, resp.StatusCode, truncate(respBody, 512)))
		}

		body = respBody
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(fc.newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}

	return body, nil
}

func (fc *fhirClient) resourceURL(resourceType string) string {
	return fc.baseURL + "/" + resourceType
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
