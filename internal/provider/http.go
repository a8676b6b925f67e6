package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"marketdata/internal/domain"
	"marketdata/internal/util"
)

// maxErrBody caps how much of an upstream error body is carried in a
// provider failure, after redaction.
const maxErrBody = 512

// httpClient wraps net/http with the adapter retry policy: up to attempts
// tries with exponential backoff on transient statuses (429, 500, 502, 503,
// 504) and network errors. Everything it reports is redacted first.
type httpClient struct {
	client      *http.Client
	provider    domain.Provider
	redactor    *util.Redactor
	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	// staleOnAuth maps 401/403 to CredentialStaleError (cookie-session
	// providers); otherwise they surface as plain provider failures.
	staleOnAuth bool
	log         *slog.Logger
}

func newHTTPClient(provider domain.Provider, timeout time.Duration, attempts int, backoffBase, backoffCap time.Duration, staleOnAuth bool, redactor *util.Redactor, log *slog.Logger) *httpClient {
	if log == nil {
		log = slog.Default()
	}
	return &httpClient{
		client:      &http.Client{Timeout: timeout},
		provider:    provider,
		redactor:    redactor,
		attempts:    attempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		staleOnAuth: staleOnAuth,
		log:         log.With("provider", string(provider)),
	}
}

// get issues a GET for url with the given headers, retrying transient
// failures, and returns the response body.
func (h *httpClient) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var body []byte

	err := util.Retry(ctx, h.attempts, h.backoffBase, h.backoffCap, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Errorf("building request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			h.log.Debug("request failed, will retry", "err", err)
			return true, &domain.ProviderFailureError{
				Provider: h.provider,
				Msg:      h.redactor.Redact(err.Error()),
			}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return true, &domain.ProviderFailureError{
				Provider: h.provider,
				Msg:      h.redactor.Redact("reading response: " + err.Error()),
			}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body = data
			return false, nil

		case isTransient(resp.StatusCode):
			h.log.Debug("transient upstream status, will retry", "status", resp.StatusCode)
			return true, h.failure(resp.StatusCode, data, "transient upstream error")

		case h.staleOnAuth && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
			return false, &domain.CredentialStaleError{ProviderFailureError: domain.ProviderFailureError{
				Provider:   h.provider,
				StatusCode: resp.StatusCode,
				Body:       h.truncated(data),
				Msg:        "session credentials rejected",
			}}

		default:
			return false, h.failure(resp.StatusCode, data, "upstream error")
		}
	})

	if err != nil {
		return nil, err
	}
	return body, nil
}

func (h *httpClient) failure(status int, body []byte, msg string) error {
	return &domain.ProviderFailureError{
		Provider:   h.provider,
		StatusCode: status,
		Body:       h.truncated(body),
		Msg:        msg,
	}
}

func (h *httpClient) truncated(body []byte) string {
	s := h.redactor.Redact(string(body))
	if len(s) > maxErrBody {
		s = s[:maxErrBody]
	}
	return s
}

func isTransient(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
