package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/pulseloop/wearsync/internal/config"
)

// oauthSession holds the OAuth2 state shared by the Google Fit and Fitbit
// connectors. Token refresh is handled by the oauth2 token source; a
// refreshed token is written back so IsAuthorized stays accurate.
type oauthSession struct {
	mu    sync.Mutex
	oauth *oauth2.Config
	token *oauth2.Token
}

// configure builds the oauth2 config from platform settings
func (s *oauthSession) configure(cfg config.PlatformConfig) error {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return fmt.Errorf("client id and client secret are required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return fmt.Errorf("auth url and token url are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       append([]string(nil), cfg.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
	return nil
}

func (s *oauthSession) initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oauth != nil
}

func (s *oauthSession) authCodeURL(state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.oauth == nil {
		return "", ErrNotInitialized
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// exchange trades an authorization code for a token
func (s *oauthSession) exchange(ctx context.Context, code string) error {
	s.mu.Lock()
	oauthCfg := s.oauth
	s.mu.Unlock()

	if oauthCfg == nil {
		return ErrNotInitialized
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *oauthSession) authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		return false
	}
	// a refresh token keeps the session usable after the access token expires
	return s.token.Valid() || s.token.RefreshToken != ""
}

// client returns an http client that injects and refreshes the token
func (s *oauthSession) client(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.oauth == nil {
		return nil, ErrNotInitialized
	}
	if s.token == nil {
		return nil, ErrNotAuthorized
	}

	source := s.oauth.TokenSource(ctx, s.token)
	// keep the stored token current when the source refreshes it
	return oauth2.NewClient(ctx, &savingTokenSource{session: s, source: source}), nil
}

// revoke clears the stored token and, when a revocation endpoint is known,
// notifies the platform.
func (s *oauthSession) revoke(ctx context.Context, revokeURL string) error {
	s.mu.Lock()
	token := s.token
	s.token = nil
	s.mu.Unlock()

	if token == nil || revokeURL == "" {
		return nil
	}

	form := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}
	return nil
}

// setToken installs a token directly, used by tests and token restore
func (s *oauthSession) setToken(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// savingTokenSource writes refreshed tokens back into the session
type savingTokenSource struct {
	session *oauthSession
	source  oauth2.TokenSource
}

func (t *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	t.session.setToken(token)
	return token, nil
}
