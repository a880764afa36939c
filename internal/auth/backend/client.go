// Package backend implements the typed HTTP client for the EverWith auth API.
//
// Every call makes exactly one network attempt: retry policy belongs to the
// caller. A non-200 status decodes the server's {detail} error shape; a
// transport-level failure surfaces as a network error, never as a panic or
// a raw *url.Error escaping to the UI.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/everwith/appcore/internal/auth/user"
	apperrors "github.com/everwith/appcore/internal/platform/errors"
	"github.com/everwith/appcore/internal/platform/jsonvalue"
	"github.com/everwith/appcore/internal/platform/timeouts"
)

const (
	registerPath = "/api/auth/register"
	loginPath    = "/api/auth/login"
	googlePath   = "/api/auth/google"
	logoutPath   = "/api/auth/logout"
	mePath       = "/api/auth/me"
	refreshPath  = "/api/auth/refresh"
)

// fallbackErrorMessage is returned when a non-200 response carries no
// decodable {detail} payload.
const fallbackErrorMessage = "Authentication failed"

// networkErrorMessage is the fixed user-facing text for transport failures.
const networkErrorMessage = "Network connection failed"

const defaultTimeout = timeouts.APIRequest

// Config describes the backend endpoint.
type Config struct {
	BaseURL string        `env:"EVERWITH_API_URL" envDefault:"https://api.everwith.app"`
	Timeout time.Duration `env:"EVERWITH_API_TIMEOUT" envDefault:"30s"`
}

// TokenSource supplies the current bearer token, or empty when signed out.
type TokenSource func() string

type tokenContextKey struct{}

// WithBearerToken returns a context carrying a fixed bearer token that
// overrides the client's TokenSource for requests issued with it. Callers
// that clear local credentials before a best-effort request (logout) use
// it so the request still authenticates.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// Client issues typed requests against the EverWith auth API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTokenSource installs the bearer-token supplier used on
// authenticated endpoints.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) {
		c.token = source
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a backend client for the configured base URL.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		tracer:     otel.Tracer("everwith.appcore/auth/backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one request against path and decodes a typed 200 payload.
func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	ctx, span := c.tracer.Start(ctx, "auth.backend"+path,
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			span.SetStatus(codes.Error, "encode request")
			return zero, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		span.SetStatus(codes.Error, "build request")
		return zero, apperrors.Wrap(apperrors.CodeNetworkUnavailable, networkErrorMessage, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok && c.token != nil {
		bearer = c.token()
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Debug("backend request failed", "path", path, "error", err)
		return zero, apperrors.Wrap(apperrors.CodeNetworkUnavailable, networkErrorMessage, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, "read response")
		return zero, apperrors.Wrap(apperrors.CodeNetworkUnavailable, networkErrorMessage, err)
	}

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "backend error")
		return zero, decodeError(resp.StatusCode, payload)
	}

	var decoded T
	if err := json.Unmarshal(payload, &decoded); err != nil {
		span.SetStatus(codes.Error, "decode response")
		return zero, apperrors.Wrap(apperrors.CodeBackendFailure, fallbackErrorMessage, err)
	}
	return decoded, nil
}

// decodeError maps a non-200 response to a backend failure carrying the
// server's literal detail message when one is present. The detail field is
// either a plain string or, on validation failures, an array of objects
// with a msg field; anything else falls back to the generic message.
func decodeError(status int, payload []byte) error {
	return apperrors.WithMetadata(apperrors.CodeBackendFailure, detailMessage(payload), map[string]string{
		"status": fmt.Sprintf("%d", status),
	})
}

func detailMessage(payload []byte) string {
	var body jsonvalue.Value
	if err := json.Unmarshal(payload, &body); err != nil {
		return fallbackErrorMessage
	}
	fields, ok := body.ObjectValue()
	if !ok {
		return fallbackErrorMessage
	}
	detail, ok := fields["detail"]
	if !ok {
		return fallbackErrorMessage
	}

	if msg, ok := detail.StringValue(); ok && strings.TrimSpace(msg) != "" {
		return msg
	}
	if items, ok := detail.ArrayValue(); ok && len(items) > 0 {
		if entry, ok := items[0].ObjectValue(); ok {
			if msg, ok := entry["msg"].StringValue(); ok && strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	return fallbackErrorMessage
}

// Register creates a new email/password account.
func (c *Client) Register(ctx context.Context, email, password, name string) (user.User, string, error) {
	resp, err := call[authResponse](ctx, c, http.MethodPost, registerPath, registerRequest{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		return user.User{}, "", err
	}
	return domainSession(resp, user.ProviderEmail)
}

// Login authenticates an existing email/password account.
func (c *Client) Login(ctx context.Context, email, password string) (user.User, string, error) {
	resp, err := call[authResponse](ctx, c, http.MethodPost, loginPath, loginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return user.User{}, "", err
	}
	return domainSession(resp, user.ProviderEmail)
}

// VerifyGoogleToken exchanges a Google identity token for a server session.
func (c *Client) VerifyGoogleToken(ctx context.Context, idToken string) (user.User, string, error) {
	resp, err := call[authResponse](ctx, c, http.MethodPost, googlePath, googleAuthRequest{
		IDToken: idToken,
	})
	if err != nil {
		return user.User{}, "", err
	}
	return domainSession(resp, user.ProviderGoogle)
}

// Logout invalidates the server session. Callers treat failures as
// best-effort: the local session clear proceeds regardless.
func (c *Client) Logout(ctx context.Context) error {
	_, err := call[messageResponse](ctx, c, http.MethodPost, logoutPath, nil)
	return err
}

// CurrentUser validates the stored token against the server and returns
// the canonical user record.
func (c *Client) CurrentUser(ctx context.Context) (user.User, error) {
	resp, err := call[userPayload](ctx, c, http.MethodGet, mePath, nil)
	if err != nil {
		return user.User{}, err
	}
	return resp.toDomain("")
}

// Refresh exchanges the stored token for a fresh one.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	resp, err := call[refreshResponse](ctx, c, http.MethodPost, refreshPath, nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", apperrors.New(apperrors.CodeBackendFailure, fallbackErrorMessage)
	}
	return resp.AccessToken, nil
}

func domainSession(resp authResponse, provider user.Provider) (user.User, string, error) {
	u, err := resp.User.toDomain(provider)
	if err != nil {
		return user.User{}, "", err
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return user.User{}, "", apperrors.New(apperrors.CodeBackendFailure, fallbackErrorMessage)
	}
	return u, resp.AccessToken, nil
}
