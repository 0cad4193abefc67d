// Package auth manages the OAuth2 bearer token used for appliance calls.
// The appliance issues tokens through a password-grant exchange; the manager
// caches the token and re-acquires it shortly before the appliance would
// reject it.
package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	gdpmcp "github.com/IBM/gdp-mcp-server"
	"github.com/IBM/gdp-mcp-server/internal/logging"
	"github.com/IBM/gdp-mcp-server/internal/metrics"
)

const (
	// refreshSkew is subtracted from the reported expiry so the token is
	// re-acquired before the appliance invalidates it.
	refreshSkew = 30 * time.Second

	// defaultExpiry applies when the token response omits expires_in.
	defaultExpiry = 300 * time.Second

	// acquireTimeout bounds the token exchange. Deliberately shorter than
	// the timeout for ordinary appliance calls.
	acquireTimeout = 30 * time.Second
)

// Manager acquires and caches an OAuth2 bearer token for the appliance.
// Acquisition is serialized: concurrent callers observing an expired token
// wait for a single exchange instead of stampeding the token endpoint.
type Manager struct {
	oauth    oauth2.Config
	username string
	password string
	client   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewManager creates a token manager for the given appliance.
func NewManager(app gdpmcp.ApplianceConfig) *Manager {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !app.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Manager{
		oauth: oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  app.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: app.Username,
		password: app.Password,
		client: &http.Client{
			Transport: transport,
			Timeout:   acquireTimeout,
		},
		now: time.Now,
	}
}

// Token returns a valid bearer token, acquiring a new one if the cached
// token is absent or past its refresh deadline. An acquisition failure is
// returned as-is; this layer never retries.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.expiresAt) {
		return m.token, nil
	}
	return m.acquireLocked(ctx)
}

// acquireLocked performs the password-grant exchange. Caller must hold m.mu.
func (m *Manager) acquireLocked(ctx context.Context) (string, error) {
	logging.FromContext(ctx).Info("requesting OAuth token",
		"token_url", m.oauth.Endpoint.TokenURL)

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	tok, err := m.oauth.PasswordCredentialsToken(ctx, m.username, m.password)
	if err != nil {
		metrics.TokenAcquisitions.WithLabelValues("error").Inc()
		return "", fmt.Errorf("acquiring OAuth token: %w", err)
	}
	if tok.AccessToken == "" {
		metrics.TokenAcquisitions.WithLabelValues("error").Inc()
		return "", fmt.Errorf("token response missing access_token")
	}

	expiresIn := defaultExpiry
	if !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry)
	}

	m.token = tok.AccessToken
	m.expiresAt = m.now().Add(expiresIn - refreshSkew)

	metrics.TokenAcquisitions.WithLabelValues("success").Inc()
	logging.FromContext(ctx).Info("OAuth token acquired",
		"expires_in", expiresIn.Round(time.Second).String())
	return m.token, nil
}

// Invalidate clears the cached token so the next Token call re-acquires.
// Idempotent; does not itself trigger acquisition.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
}
