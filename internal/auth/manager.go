package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/everwith/appcore/internal/auth/backend"
	"github.com/everwith/appcore/internal/auth/credential"
	"github.com/everwith/appcore/internal/auth/session"
	"github.com/everwith/appcore/internal/auth/user"
	apperrors "github.com/everwith/appcore/internal/platform/errors"
	"github.com/everwith/appcore/internal/platform/id"
	"github.com/everwith/appcore/internal/platform/timeouts"
)

// Backend is the server-verified slice of the auth API the manager uses.
// *backend.Client satisfies it.
type Backend interface {
	Register(ctx context.Context, email, password, name string) (user.User, string, error)
	Login(ctx context.Context, email, password string) (user.User, string, error)
	VerifyGoogleToken(ctx context.Context, idToken string) (user.User, string, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (user.User, error)
	Refresh(ctx context.Context) (string, error)
}

// SessionStore persists the current session. *session.Store satisfies it.
type SessionStore interface {
	Save(u user.User, token string) error
	Load() (u user.User, token string, ok bool)
	SetToken(token string) error
	Clear() error
}

// Deps wires the manager's collaborators. Backend and Store are required;
// the provider adapters are optional and their absence surfaces as a
// configuration failure when the corresponding flow is requested.
type Deps struct {
	Backend Backend
	Store   SessionStore
	Apple   credential.AppleAuthorizer
	Google  credential.GoogleSignIn

	Logger      *slog.Logger
	Clock       func() time.Time
	IDGenerator func() (string, error)
}

// Manager owns the authentication state and coordinates every sign-in
// mechanism behind one persisted session.
//
// The Apple flow deliberately trusts the locally returned identity and
// performs no backend verification round-trip, unlike the Google flow.
// This mirrors the shipped app behavior and is a security-relevant trade,
// not a best practice: anyone changing it should route the identity token
// through the backend instead.
type Manager struct {
	backend Backend
	store   SessionStore
	apple   credential.AppleAuthorizer
	google  credential.GoogleSignIn
	bridge  *credential.Bridge

	logger      *slog.Logger
	tracer      trace.Tracer
	clock       func() time.Time
	idGenerator func() (string, error)

	// mu serializes every state transition and guards the subscriber
	// set, so observers never see a partial update and transitions
	// apply in completion order.
	mu          sync.Mutex
	state       AuthState
	subscribers map[int]chan AuthState
	nextSubID   int

	// wg tracks the fire-and-forget logout call for clean shutdown.
	wg sync.WaitGroup
}

// New creates a manager and seeds its state from the persisted session.
// The state is never observably loading after New returns.
func New(deps Deps) *Manager {
	m := &Manager{
		backend:     deps.Backend,
		store:       deps.Store,
		apple:       deps.Apple,
		google:      deps.Google,
		bridge:      credential.NewBridge(),
		logger:      deps.Logger,
		tracer:      otel.Tracer("everwith.appcore/auth"),
		clock:       deps.Clock,
		idGenerator: deps.IDGenerator,
		state:       Loading(),
		subscribers: make(map[int]chan AuthState),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.idGenerator == nil {
		m.idGenerator = id.NewID
	}

	m.state = m.restore()
	return m
}

// restore seeds the startup state from the session store.
func (m *Manager) restore() AuthState {
	if m.store == nil {
		return Unauthenticated()
	}
	restored, _, ok := m.store.Load()
	if !ok {
		return Unauthenticated()
	}
	m.logger.Info("session restored", "user_id", restored.ID, "provider", restored.Provider)
	return Authenticated(restored)
}

// State returns the current authentication state.
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers an observer. The current state is delivered
// immediately, followed by every subsequent transition in order. The
// returned cancel function must be called when the observer goes away.
// A subscriber that stops draining loses its oldest pending states
// rather than blocking sign-in.
func (m *Manager) Subscribe() (<-chan AuthState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan AuthState, 8)
	ch <- m.state
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[subID] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[subID]; ok {
			delete(m.subscribers, subID)
			close(sub)
		}
	}
	return ch, cancel
}

// setState applies a transition and publishes it. Transitions to a state
// equal to the current one (same user id, same message) are absorbed so
// repeated sign-outs stay observably idempotent.
func (m *Manager) setState(next AuthState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Equal(next) {
		m.state = next
		return
	}
	m.state = next

	for _, sub := range m.subscribers {
		select {
		case sub <- next:
		default:
			// Drop the oldest pending state to make room.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- next:
			default:
			}
		}
	}
}

// SignInWithApple requests the OS identity sheet and awaits its delegate.
// At most one invocation may be in flight: a concurrent call fails with a
// sign-in-in-progress error instead of overwriting the pending waiter.
func (m *Manager) SignInWithApple(ctx context.Context) SignInResult {
	ctx, span := m.tracer.Start(ctx, "auth.SignInWithApple")
	defer span.End()

	if m.apple == nil {
		return m.failure(span, apperrors.New(apperrors.CodeProviderMisconfigured, "Sign in with Apple is not available"))
	}

	waiter, err := m.bridge.Begin()
	if err != nil {
		return m.failure(span, err)
	}

	if err := m.apple.RequestSignIn(ctx, m.bridge); err != nil {
		// The sheet never appeared; resolve our own waiter so the
		// slot is freed for the next attempt.
		m.bridge.ResolveFor(waiter, credential.Outcome{
			Err: apperrors.Wrap(apperrors.CodePresentationUnavailable, "Unable to present Sign in with Apple", err),
		})
	}

	var outcome credential.Outcome
	select {
	case outcome = <-waiter:
	case <-ctx.Done():
		// Free the slot. Bound to our own waiter so a delegate that
		// resolved concurrently, followed by a new sign-in installing
		// a fresh slot, cannot receive this stale cancellation.
		m.bridge.ResolveFor(waiter, credential.Outcome{Cancelled: true})
		outcome = <-waiter
	}

	switch {
	case outcome.Cancelled:
		span.SetAttributes(attribute.String("auth.result", "cancelled"))
		return Cancelled()
	case outcome.Err != nil:
		return m.failure(span, outcome.Err)
	}

	// Trusted locally: no backend round-trip for the Apple identity.
	signedIn, err := user.New(user.Input{
		ID:       outcome.Credential.UserID,
		Email:    outcome.Credential.Email,
		Name:     outcome.Credential.FullName,
		Provider: user.ProviderApple,
	}, m.clock)
	if err != nil {
		return m.failure(span, err)
	}

	return m.completeSignIn(span, signedIn, "")
}

// SignInWithGoogle runs the OAuth SDK flow and verifies the identity
// token with the backend.
func (m *Manager) SignInWithGoogle(ctx context.Context) SignInResult {
	ctx, span := m.tracer.Start(ctx, "auth.SignInWithGoogle")
	defer span.End()

	if m.google == nil {
		return m.failure(span, apperrors.New(apperrors.CodeProviderMisconfigured, "Google sign-in is not available"))
	}

	idToken, err := m.google.SignIn(ctx)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeSignInCancelled {
			span.SetAttributes(attribute.String("auth.result", "cancelled"))
			return Cancelled()
		}
		return m.failure(span, err)
	}

	verified, token, err := m.backend.VerifyGoogleToken(ctx, idToken)
	if err != nil {
		return m.failure(span, err)
	}
	return m.completeSignIn(span, verified, token)
}

// SignUpWithEmail registers a new account with the backend.
func (m *Manager) SignUpWithEmail(ctx context.Context, email, password, name string) SignInResult {
	ctx, span := m.tracer.Start(ctx, "auth.SignUpWithEmail")
	defer span.End()

	email = normalizeEmail(email)
	switch {
	case email == "":
		return m.failure(span, apperrors.New(apperrors.CodeEmailRequired, "Email is required"))
	case password == "":
		return m.failure(span, apperrors.New(apperrors.CodePasswordRequired, "Password is required"))
	case strings.TrimSpace(name) == "":
		return m.failure(span, apperrors.New(apperrors.CodeNameRequired, "Name is required"))
	}

	registered, token, err := m.backend.Register(ctx, email, password, strings.TrimSpace(name))
	if err != nil {
		return m.failure(span, err)
	}
	return m.completeSignIn(span, registered, token)
}

// SignInWithEmail authenticates an existing account with the backend.
func (m *Manager) SignInWithEmail(ctx context.Context, email, password string) SignInResult {
	ctx, span := m.tracer.Start(ctx, "auth.SignInWithEmail")
	defer span.End()

	email = normalizeEmail(email)
	switch {
	case email == "":
		return m.failure(span, apperrors.New(apperrors.CodeEmailRequired, "Email is required"))
	case password == "":
		return m.failure(span, apperrors.New(apperrors.CodePasswordRequired, "Password is required"))
	}

	signedIn, token, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return m.failure(span, err)
	}
	return m.completeSignIn(span, signedIn, token)
}

// SignInAsGuest synthesizes a local guest identity. It performs no
// network call and always succeeds.
func (m *Manager) SignInAsGuest(ctx context.Context) SignInResult {
	_, span := m.tracer.Start(ctx, "auth.SignInAsGuest")
	defer span.End()

	guest, err := user.NewGuest(m.clock, m.idGenerator)
	if err != nil {
		return m.failure(span, err)
	}
	return m.completeSignIn(span, guest, "")
}

// SignOut tears down the session: provider-local sign-out for Google
// sessions, a best-effort backend logout that never blocks, the store
// clear, and the transition to unauthenticated. Calling it while already
// signed out is a no-op from the state's perspective.
func (m *Manager) SignOut(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "auth.SignOut")
	defer span.End()

	current := m.State()
	if current.Phase == PhaseAuthenticated && current.User.Provider == user.ProviderGoogle && m.google != nil {
		if err := m.google.SignOut(ctx); err != nil {
			m.logger.Warn("google sign-out failed", "error", err)
		}
	}

	if m.backend != nil {
		// Best-effort: the local session clear proceeds regardless of
		// whether the server heard about the logout. The token is
		// snapshotted here because the store is cleared below, before
		// the request goes out.
		var token string
		if m.store != nil {
			_, token, _ = m.store.Load()
		}
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Logout)
		logoutCtx = backend.WithBearerToken(logoutCtx, token)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer cancel()
			if err := m.backend.Logout(logoutCtx); err != nil {
				m.logger.Warn("backend logout failed", "error", err)
			}
		}()
	}

	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("session clear failed", "error", err)
		}
	}

	m.setState(Unauthenticated())
}

// ValidateSession confirms the restored session against the backend.
// A definitive server rejection clears the session; a network failure
// keeps it so the app stays usable offline. Sessions without a token
// (Apple, guest) are local-only and validate trivially.
func (m *Manager) ValidateSession(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "auth.ValidateSession")
	defer span.End()

	current := m.State()
	if current.Phase != PhaseAuthenticated || m.store == nil {
		return nil
	}
	_, token, ok := m.store.Load()
	if !ok || token == "" {
		return nil
	}

	if session.TokenExpired(token, m.clock()) {
		m.logger.Info("stored token expired, signing out", "user_id", current.User.ID)
		m.clearSession()
		return nil
	}

	refreshed, err := m.backend.CurrentUser(ctx)
	if err != nil {
		if sessionRejected(err) {
			m.logger.Info("server rejected stored session, signing out", "user_id", current.User.ID)
			m.clearSession()
			return nil
		}
		// Offline or transient server failure: keep the local session.
		return err
	}

	// Keep the original provider tag; /me derives it from
	// is_google_user and cannot distinguish apple from email.
	refreshed.Provider = current.User.Provider
	if err := m.store.Save(refreshed, ""); err != nil {
		m.logger.Warn("session refresh persist failed", "error", err)
	}
	m.setState(Authenticated(refreshed))
	return nil
}

// RefreshToken replaces the stored access token with a fresh one.
func (m *Manager) RefreshToken(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "auth.RefreshToken")
	defer span.End()

	if m.State().Phase != PhaseAuthenticated {
		return apperrors.New(apperrors.CodeUnknown, "no active session to refresh")
	}

	token, err := m.backend.Refresh(ctx)
	if err != nil {
		return err
	}
	return m.store.SetToken(token)
}

// SetError moves an authenticated session into the error state. It is
// the hook for unrecoverable local validation failures surfaced by the
// UI layer; the orchestrator itself never enters this state.
func (m *Manager) SetError(message string) {
	m.mu.Lock()
	phase := m.state.Phase
	m.mu.Unlock()

	if phase != PhaseAuthenticated {
		return
	}
	m.setState(ErrorState(message))
}

// ClearError is the only recovery transition out of the error state,
// driven by the user acknowledging the failure.
func (m *Manager) ClearError() {
	m.mu.Lock()
	phase := m.state.Phase
	m.mu.Unlock()

	if phase != PhaseError {
		return
	}
	m.setState(Unauthenticated())
}

// Close waits for in-flight best-effort calls to finish.
func (m *Manager) Close() {
	m.wg.Wait()
}

func (m *Manager) completeSignIn(span trace.Span, signedIn user.User, token string) SignInResult {
	if m.store != nil {
		if err := m.store.Save(signedIn, token); err != nil {
			// The in-memory session still stands; only restart
			// persistence is lost.
			m.logger.Warn("session persist failed", "error", err)
		}
	}
	m.setState(Authenticated(signedIn))
	span.SetAttributes(
		attribute.String("auth.result", "success"),
		attribute.String("auth.provider", string(signedIn.Provider)),
	)
	m.logger.Info("sign-in succeeded", "user_id", signedIn.ID, "provider", signedIn.Provider)
	return Success(signedIn)
}

func (m *Manager) failure(span trace.Span, err error) SignInResult {
	span.SetAttributes(
		attribute.String("auth.result", "failure"),
		attribute.String("auth.error_code", string(apperrors.CodeOf(err))),
	)
	m.logger.Warn("sign-in failed", "error", err, "code", apperrors.CodeOf(err))
	return Failure(err)
}

func (m *Manager) clearSession() {
	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("session clear failed", "error", err)
		}
	}
	m.setState(Unauthenticated())
}

// sessionRejected reports whether err is a definitive credential
// rejection. Only a 401 or 403 response destroys the persisted session;
// 5xx responses and network failures keep it so a backend outage cannot
// sign the user out.
func sessionRejected(err error) bool {
	if apperrors.CodeOf(err) != apperrors.CodeBackendFailure {
		return false
	}
	status, ok := apperrors.MetadataValue(err, "status")
	return ok && (status == "401" || status == "403")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
