package domain

import (
	"fmt"
	"strings"
)

// InvalidInputError reports malformed request arguments: bad symbol, reversed
// or out-of-range dates, unsupported frequency. It is raised before any store
// or network activity and is never retried.
type InvalidInputError struct {
	Reasons []string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + strings.Join(e.Reasons, "; ")
}

// CredentialMissingError reports that the selected provider requires a
// credential absent from the credential bundle.
type CredentialMissingError struct {
	Provider Provider
	Field    string
	Path     string // file where the credential was expected
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("%s: missing credential %q (expected in %s)", e.Provider, e.Field, e.Path)
}

// ProviderFailureError reports a non-transient upstream failure after retries
// are exhausted. Body is redacted before the error is constructed.
type ProviderFailureError struct {
	Provider   Provider
	StatusCode int
	Body       string
	Msg        string
}

func (e *ProviderFailureError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

// CredentialStaleError reports that cookie-session authentication was
// rejected upstream (401/403). It unwraps to a ProviderFailureError so
// callers treating it as a generic provider failure still match; the engine
// matches it specifically to drive AUTO fallback.
type CredentialStaleError struct {
	ProviderFailureError
}

func (e *CredentialStaleError) Error() string {
	return fmt.Sprintf("%s: session credentials rejected (status %d); run cookie capture to refresh",
		e.Provider, e.StatusCode)
}

func (e *CredentialStaleError) Unwrap() error {
	return &e.ProviderFailureError
}

// ParseFailureError reports an upstream response that could not be decoded.
type ParseFailureError struct {
	Provider Provider
	Diag     string
}

func (e *ParseFailureError) Error() string {
	return fmt.Sprintf("%s: cannot parse response: %s", e.Provider, e.Diag)
}

// StoreCorruptionError reports that the bar store file failed integrity
// checks at open or during an operation.
type StoreCorruptionError struct {
	Path string
	Hint string
	Err  error
}

func (e *StoreCorruptionError) Error() string {
	return fmt.Sprintf("store corrupted at %s: %v (%s)", e.Path, e.Err, e.Hint)
}

func (e *StoreCorruptionError) Unwrap() error {
	return e.Err
}
