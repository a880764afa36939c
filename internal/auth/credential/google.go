package credential

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	apperrors "github.com/everwith/appcore/internal/platform/errors"
	"github.com/everwith/appcore/internal/platform/id"
)

// ErrCancelled is returned by presentation hooks when the user abandons
// the provider's sign-in flow. It carries no message because cancellation
// is never rendered as an error.
var ErrCancelled = apperrors.New(apperrors.CodeSignInCancelled, "")

// GoogleSignIn is the adapter contract the orchestrator consumes for the
// third-party OAuth flow: produce a verified identity token, or tear down
// local SDK state on sign-out.
type GoogleSignIn interface {
	SignIn(ctx context.Context) (idToken string, err error)
	SignOut(ctx context.Context) error
}

// AuthorizeFunc presents the provider's consent flow for authCodeURL and
// returns the resulting authorization code. Implementations return
// ErrCancelled when the user dismisses the flow.
type AuthorizeFunc func(ctx context.Context, authCodeURL string) (code string, err error)

const (
	defaultGoogleAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL  = "https://oauth2.googleapis.com/token"
	defaultGoogleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// GoogleConfig describes the Google OAuth client.
type GoogleConfig struct {
	ClientID     string `env:"EVERWITH_GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"EVERWITH_GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `env:"EVERWITH_GOOGLE_REDIRECT_URL" envDefault:"com.everwith.app:/oauth2redirect"`

	// Endpoint overrides for tests.
	AuthURL   string
	TokenURL  string
	RevokeURL string
}

// GoogleSDK implements GoogleSignIn over the oauth2 authorization-code
// flow, extracting the id_token the backend verifies.
type GoogleSDK struct {
	oauth     oauth2.Config
	revokeURL string
	authorize AuthorizeFunc
	client    *http.Client
	logger    *slog.Logger

	mu        sync.Mutex
	lastToken *oauth2.Token
}

// GoogleOption customizes a GoogleSDK.
type GoogleOption func(*GoogleSDK)

// WithGoogleHTTPClient overrides the HTTP client used for token exchange
// and revocation, mainly for tests.
func WithGoogleHTTPClient(client *http.Client) GoogleOption {
	return func(g *GoogleSDK) {
		if client != nil {
			g.client = client
		}
	}
}

// WithGoogleLogger overrides the default logger.
func WithGoogleLogger(logger *slog.Logger) GoogleOption {
	return func(g *GoogleSDK) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGoogleSDK creates the Google sign-in adapter. The authorize hook is
// the presentation context: it is nil in headless environments, which
// surfaces as a presentation failure at sign-in time rather than at
// construction.
func NewGoogleSDK(cfg GoogleConfig, authorize AuthorizeFunc, opts ...GoogleOption) *GoogleSDK {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultGoogleAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultGoogleTokenURL
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultGoogleRevokeURL
	}

	g := &GoogleSDK{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		revokeURL: revokeURL,
		authorize: authorize,
		client:    http.DefaultClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn runs the consent flow and returns the Google identity token.
func (g *GoogleSDK) SignIn(ctx context.Context) (string, error) {
	if strings.TrimSpace(g.oauth.ClientID) == "" {
		return "", apperrors.New(apperrors.CodeProviderMisconfigured, "Google sign-in is not configured")
	}
	if g.authorize == nil {
		return "", apperrors.New(apperrors.CodePresentationUnavailable, "No presentation context available for Google sign-in")
	}

	state, err := id.NewID()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "Sign in with Google failed", err)
	}

	code, err := g.authorize(ctx, g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline))
	if err != nil {
		// Cancellation propagates untouched so the orchestrator can
		// distinguish it from failures.
		if apperrors.CodeOf(err) == apperrors.CodeSignInCancelled {
			return "", err
		}
		return "", apperrors.Wrap(apperrors.CodeCredentialMissing, "Google sign-in did not return an authorization code", err)
	}

	token, err := g.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, g.client), code)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeNetworkUnavailable, "Network connection failed", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if strings.TrimSpace(idToken) == "" {
		return "", apperrors.New(apperrors.CodeCredentialMissing, "Google returned no identity token")
	}

	g.mu.Lock()
	g.lastToken = token
	g.mu.Unlock()

	return idToken, nil
}

// SignOut clears local SDK state and best-effort revokes the last issued
// token. The returned error is for logging only: local state is cleared
// regardless.
func (g *GoogleSDK) SignOut(ctx context.Context) error {
	g.mu.Lock()
	token := g.lastToken
	g.lastToken = nil
	g.mu.Unlock()

	if token == nil || token.AccessToken == "" {
		return nil
	}

	form := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkUnavailable, "Network connection failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkUnavailable, "Network connection failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Debug("google token revocation rejected", "status", resp.StatusCode)
	}
	return nil
}

var _ GoogleSignIn = (*GoogleSDK)(nil)
