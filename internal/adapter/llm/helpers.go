package llm

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"gloss/internal/domain"
	"gloss/internal/infra/config"
)

// maxResponseBody caps how much of a response body is retained for the
// non-streaming fallback parse and for error extraction.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// openaiErrorBody is the structured error shape returned on non-2xx statuses.
type openaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// serviceError maps an HTTP status code plus response body to a domain error.
// The message is taken from the structured error body when it parses, then
// from the raw body text, then from the status's standard phrase.
func serviceError(statusCode int, body []byte) error {
	msg := extractErrorMessage(statusCode, body)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrService, msg)
	}
}

func extractErrorMessage(statusCode int, body []byte) string {
	var structured openaiErrorBody
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error.Message != "" {
		return structured.Error.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Sprintf("API error %d: %s", statusCode, text)
	}
	return fmt.Sprintf("API error %d: %s", statusCode, http.StatusText(statusCode))
}

// Default connection pool settings: one host, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// newPooledTransport creates an http.Transport with connection pooling
// suited to completion API calls. ResponseHeaderTimeout bounds the wait for
// headers; body read deadlines come from the per-request context so that a
// fired timeout interrupts an in-progress read.
func newPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client with pooled transport for the
// streaming client. No client-level timeout: streams are long-lived and the
// per-request timeout is composed into the context instead.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Transport: newPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}
