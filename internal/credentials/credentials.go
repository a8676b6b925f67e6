// Package credentials loads the credential collaborator files from the
// config directory. The files are produced externally (the cookie-capture
// tool replaces barchart_cookies.json atomically); this package only ever
// reads each file in a single pass and treats absence as "not configured",
// never as an error.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	credentialsFile = "credentials.json"
	cookiesFile     = "barchart_cookies.json"

	// CookieFreshFor is how long a captured session is considered fresh.
	// Older sessions are a warning for AUTO selection, not a veto.
	CookieFreshFor = 24 * time.Hour
)

// Credentials mirrors credentials.json. All keys are optional; a provider
// validates presence only when it is actually invoked.
type Credentials struct {
	TiingoAPIKey        string `json:"tiingo_api_key"`
	BarchartUsername    string `json:"barchart_username"`
	BarchartPasswordEnv string `json:"barchart_password_env"`
}

// CookieSession mirrors barchart_cookies.json, written by the external
// cookie-capture tool.
type CookieSession struct {
	CookieString string    `json:"cookie_string"`
	XSRFToken    string    `json:"xsrf_token"`
	UserAgent    string    `json:"user_agent"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Age returns how long ago the session was captured.
func (c *CookieSession) Age(now time.Time) time.Duration {
	return now.Sub(c.CapturedAt)
}

// Fresh reports whether the session was captured within CookieFreshFor.
func (c *CookieSession) Fresh(now time.Time) bool {
	return c.Age(now) <= CookieFreshFor
}

// Bundle is an immutable snapshot of both credential files, taken once per
// top-level request.
type Bundle struct {
	Credentials Credentials
	Cookies     *CookieSession // nil when the cookie file is absent
	ConfigDir   string
}

// Load reads both credential files under configDir. Missing files yield an
// empty section; malformed files are errors.
func Load(configDir string) (*Bundle, error) {
	b := &Bundle{ConfigDir: configDir}

	credPath := filepath.Join(configDir, credentialsFile)
	data, err := os.ReadFile(credPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &b.Credentials); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", credPath, err)
		}
	case os.IsNotExist(err):
		// Not configured yet; providers will report what is missing.
	default:
		return nil, fmt.Errorf("reading %s: %w", credPath, err)
	}

	cookiePath := filepath.Join(configDir, cookiesFile)
	data, err = os.ReadFile(cookiePath)
	switch {
	case err == nil:
		var cs CookieSession
		if err := json.Unmarshal(data, &cs); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", cookiePath, err)
		}
		b.Cookies = &cs
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", cookiePath, err)
	}

	return b, nil
}

// CredentialsPath returns the expected location of credentials.json.
func (b *Bundle) CredentialsPath() string {
	return filepath.Join(b.ConfigDir, credentialsFile)
}

// CookiesPath returns the expected location of barchart_cookies.json.
func (b *Bundle) CookiesPath() string {
	return filepath.Join(b.ConfigDir, cookiesFile)
}

// Secrets lists every secret value in the bundle, for registration with the
// logging redactor.
func (b *Bundle) Secrets() []string {
	secrets := []string{b.Credentials.TiingoAPIKey}
	if b.Cookies != nil {
		secrets = append(secrets, b.Cookies.CookieString, b.Cookies.XSRFToken)
	}
	return secrets
}
