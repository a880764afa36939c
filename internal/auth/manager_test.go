package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/everwith/appcore/internal/auth/backend"
	"github.com/everwith/appcore/internal/auth/credential"
	"github.com/everwith/appcore/internal/auth/session"
	"github.com/everwith/appcore/internal/auth/user"
	apperrors "github.com/everwith/appcore/internal/platform/errors"
)

// fakeBackend implements Backend with per-call hooks and a request counter.
type fakeBackend struct {
	calls atomic.Int64

	registerFn    func(email, password, name string) (user.User, string, error)
	loginFn       func(email, password string) (user.User, string, error)
	verifyFn      func(idToken string) (user.User, string, error)
	logoutFn      func() error
	currentUserFn func() (user.User, error)
	refreshFn     func() (string, error)
}

func (f *fakeBackend) Register(_ context.Context, email, password, name string) (user.User, string, error) {
	f.calls.Add(1)
	if f.registerFn == nil {
		return user.User{}, "", errors.New("register not stubbed")
	}
	return f.registerFn(email, password, name)
}

func (f *fakeBackend) Login(_ context.Context, email, password string) (user.User, string, error) {
	f.calls.Add(1)
	if f.loginFn == nil {
		return user.User{}, "", errors.New("login not stubbed")
	}
	return f.loginFn(email, password)
}

func (f *fakeBackend) VerifyGoogleToken(_ context.Context, idToken string) (user.User, string, error) {
	f.calls.Add(1)
	if f.verifyFn == nil {
		return user.User{}, "", errors.New("verify not stubbed")
	}
	return f.verifyFn(idToken)
}

func (f *fakeBackend) Logout(context.Context) error {
	f.calls.Add(1)
	if f.logoutFn == nil {
		return nil
	}
	return f.logoutFn()
}

func (f *fakeBackend) CurrentUser(context.Context) (user.User, error) {
	f.calls.Add(1)
	if f.currentUserFn == nil {
		return user.User{}, errors.New("current user not stubbed")
	}
	return f.currentUserFn()
}

func (f *fakeBackend) Refresh(context.Context) (string, error) {
	f.calls.Add(1)
	if f.refreshFn == nil {
		return "", errors.New("refresh not stubbed")
	}
	return f.refreshFn()
}

// fakeAppleSheet drives the delegate from a background goroutine the way
// the real platform sheet does.
type fakeAppleSheet struct {
	respond func(d credential.Delegate)
}

func (f *fakeAppleSheet) RequestSignIn(_ context.Context, d credential.Delegate) error {
	if f.respond == nil {
		return errors.New("no sheet available")
	}
	go f.respond(d)
	return nil
}

// fakeGoogle implements credential.GoogleSignIn.
type fakeGoogle struct {
	signInFn  func() (string, error)
	signOuts  atomic.Int64
	signOutFn func() error
}

func (f *fakeGoogle) SignIn(context.Context) (string, error) {
	if f.signInFn == nil {
		return "", errors.New("google sign-in not stubbed")
	}
	return f.signInFn()
}

func (f *fakeGoogle) SignOut(context.Context) error {
	f.signOuts.Add(1)
	if f.signOutFn == nil {
		return nil
	}
	return f.signOutFn()
}

func memoryStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func backendUser(id string, provider user.Provider) user.User {
	return user.User{ID: id, Email: "a@example.com", Name: "Alice", Provider: provider, CreatedAt: time.Now().UTC()}
}

func TestSignInSuccessPerProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider user.Provider
		signIn   func(t *testing.T, m *Manager) SignInResult
		deps     func(backend *fakeBackend) Deps
	}{
		{
			name:     "apple",
			provider: user.ProviderApple,
			deps: func(b *fakeBackend) Deps {
				return Deps{Backend: b, Apple: &fakeAppleSheet{respond: func(d credential.Delegate) {
					d.AuthorizationCompleted(credential.AppleCredential{UserID: "apple-1", Email: "a@example.com", FullName: "Alice"})
				}}}
			},
			signIn: func(t *testing.T, m *Manager) SignInResult { return m.SignInWithApple(context.Background()) },
		},
		{
			name:     "google",
			provider: user.ProviderGoogle,
			deps: func(b *fakeBackend) Deps {
				b.verifyFn = func(idToken string) (user.User, string, error) {
					if idToken != "id-token-1" {
						t.Errorf("expected identity token forwarded, got %q", idToken)
					}
					return backendUser("google-1", user.ProviderGoogle), "token-g", nil
				}
				return Deps{Backend: b, Google: &fakeGoogle{signInFn: func() (string, error) { return "id-token-1", nil }}}
			},
			signIn: func(t *testing.T, m *Manager) SignInResult { return m.SignInWithGoogle(context.Background()) },
		},
		{
			name:     "email",
			provider: user.ProviderEmail,
			deps: func(b *fakeBackend) Deps {
				b.loginFn = func(email, password string) (user.User, string, error) {
					return backendUser("email-1", user.ProviderEmail), "token-e", nil
				}
				return Deps{Backend: b}
			},
			signIn: func(t *testing.T, m *Manager) SignInResult {
				return m.SignInWithEmail(context.Background(), "a@example.com", "secret")
			},
		},
		{
			name:     "guest",
			provider: user.ProviderGuest,
			deps:     func(b *fakeBackend) Deps { return Deps{Backend: b} },
			signIn:   func(t *testing.T, m *Manager) SignInResult { return m.SignInAsGuest(context.Background()) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{}
			deps := tc.deps(backend)
			deps.Store = memoryStore(t)
			m := New(deps)

			result := tc.signIn(t, m)
			if result.Status != SignInSuccess {
				t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
			}
			if result.User.Provider != tc.provider {
				t.Fatalf("expected provider %q, got %q", tc.provider, result.User.Provider)
			}

			state := m.State()
			if state.Phase != PhaseAuthenticated {
				t.Fatalf("expected authenticated state, got %s", state.Phase)
			}
			if !state.User.Equal(result.User) {
				t.Fatalf("expected state user %q, got %q", result.User.ID, state.User.ID)
			}
		})
	}
}

func TestGuestSignInNeverTouchesNetwork(t *testing.T) {
	backend := &fakeBackend{}
	m := New(Deps{Backend: backend, Store: memoryStore(t)})

	result := m.SignInAsGuest(context.Background())
	if result.Status != SignInSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}
	if got := backend.calls.Load(); got != 0 {
		t.Fatalf("expected no backend calls, got %d", got)
	}
}

func TestSignUpWithEmail(t *testing.T) {
	backend := &fakeBackend{registerFn: func(email, password, name string) (user.User, string, error) {
		if email != "new@example.com" {
			t.Errorf("expected normalized email, got %q", email)
		}
		if name != "New User" {
			t.Errorf("expected trimmed name, got %q", name)
		}
		return backendUser("email-2", user.ProviderEmail), "token-n", nil
	}}
	m := New(Deps{Backend: backend, Store: memoryStore(t)})

	result := m.SignUpWithEmail(context.Background(), "  New@Example.com ", "secret", " New User ")
	if result.Status != SignInSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}
}

func TestEmailValidationFailsLocally(t *testing.T) {
	tests := []struct {
		name string
		run  func(m *Manager) SignInResult
		code apperrors.Code
	}{
		{
			name: "sign in empty email",
			run: func(m *Manager) SignInResult {
				return m.SignInWithEmail(context.Background(), "   ", "secret")
			},
			code: apperrors.CodeEmailRequired,
		},
		{
			name: "sign in empty password",
			run: func(m *Manager) SignInResult {
				return m.SignInWithEmail(context.Background(), "a@example.com", "")
			},
			code: apperrors.CodePasswordRequired,
		},
		{
			name: "sign up empty name",
			run: func(m *Manager) SignInResult {
				return m.SignUpWithEmail(context.Background(), "a@example.com", "secret", "  ")
			},
			code: apperrors.CodeNameRequired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{}
			m := New(Deps{Backend: backend, Store: memoryStore(t)})

			result := tc.run(m)
			if result.Status != SignInFailure {
				t.Fatalf("expected failure, got %s", result.Status)
			}
			if got := apperrors.CodeOf(result.Err); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
			if backend.calls.Load() != 0 {
				t.Fatal("validation failures must not reach the backend")
			}
		})
	}
}

func TestLoginFailureSurfacesServerDetail(t *testing.T) {
	backend := &fakeBackend{loginFn: func(email, password string) (user.User, string, error) {
		return user.User{}, "", apperrors.New(apperrors.CodeBackendFailure, "Invalid credentials")
	}}
	m := New(Deps{Backend: backend, Store: memoryStore(t)})

	result := m.SignInWithEmail(context.Background(), "a@example.com", "wrong")
	if result.Status != SignInFailure {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if result.Message() != "Invalid credentials" {
		t.Fatalf("expected literal server message, got %q", result.Message())
	}
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated state, got %s", m.State().Phase)
	}
}

func TestPersistRestartRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	store, err := session.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	backend := &fakeBackend{loginFn: func(email, password string) (user.User, string, error) {
		return backendUser("email-1", user.ProviderEmail), "token-e", nil
	}}
	m := New(Deps{Backend: backend, Store: store})
	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}
	store.Close()

	// A fresh orchestrator over the same file restores the session.
	reopened, err := session.Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	restarted := New(Deps{Backend: &fakeBackend{}, Store: reopened})
	state := restarted.State()
	if state.Phase != PhaseAuthenticated {
		t.Fatalf("expected authenticated startup state, got %s", state.Phase)
	}
	if state.User.ID != "email-1" {
		t.Fatalf("expected restored user id, got %q", state.User.ID)
	}
}

func TestFreshStoreStartsUnauthenticated(t *testing.T) {
	m := New(Deps{Backend: &fakeBackend{}, Store: memoryStore(t)})
	if got := m.State().Phase; got != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated startup, got %s", got)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	backend := &fakeBackend{loginFn: func(email, password string) (user.User, string, error) {
		return backendUser("email-1", user.ProviderEmail), "token-e", nil
	}}
	store := memoryStore(t)
	m := New(Deps{Backend: backend, Store: store})
	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}

	states, cancel := m.Subscribe()
	defer cancel()
	<-states // current snapshot

	m.SignOut(context.Background())
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", m.State().Phase)
	}
	if _, _, ok := store.Load(); ok {
		t.Fatal("expected session cleared")
	}

	// Second sign-out: still unauthenticated, no error, no extra
	// transition published.
	m.SignOut(context.Background())
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated after second sign-out, got %s", m.State().Phase)
	}

	if got := <-states; got.Phase != PhaseUnauthenticated {
		t.Fatalf("expected one unauthenticated transition, got %s", got.Phase)
	}
	select {
	case extra := <-states:
		t.Fatalf("unexpected extra transition: %s", extra.Phase)
	default:
	}

	m.Close()
}

func TestSignOutCallsGoogleSDKForGoogleSessions(t *testing.T) {
	google := &fakeGoogle{signInFn: func() (string, error) { return "id-token-1", nil }}
	backend := &fakeBackend{verifyFn: func(string) (user.User, string, error) {
		return backendUser("google-1", user.ProviderGoogle), "token-g", nil
	}}
	m := New(Deps{Backend: backend, Store: memoryStore(t), Google: google})

	if result := m.SignInWithGoogle(context.Background()); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}
	m.SignOut(context.Background())
	m.Close()

	if got := google.signOuts.Load(); got != 1 {
		t.Fatalf("expected one google sign-out, got %d", got)
	}
}

func TestSignOutSendsBearerTokenAfterClear(t *testing.T) {
	var mu sync.Mutex
	var logoutAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			w.Write([]byte(`{
				"message": "Login successful",
				"user": {"id": "u-1", "email": "a@example.com", "name": "Alice"},
				"access_token": "tok-123",
				"token_type": "bearer"
			}`))
		case "/api/auth/logout":
			mu.Lock()
			logoutAuth = r.Header.Get("Authorization")
			mu.Unlock()
			w.Write([]byte(`{"message": "Logout successful"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	store := memoryStore(t)
	client := backend.New(backend.Config{BaseURL: srv.URL}, backend.WithTokenSource(store.Token))
	m := New(Deps{Backend: client, Store: store})

	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}

	// The local clear runs before the logout request goes out; the
	// request must still carry the token the session held.
	m.SignOut(context.Background())
	m.Close()

	mu.Lock()
	defer mu.Unlock()
	if logoutAuth != "Bearer tok-123" {
		t.Fatalf("expected logout to carry the cleared session's token, got %q", logoutAuth)
	}
}

func TestSignOutProceedsWhenBackendLogoutFails(t *testing.T) {
	backend := &fakeBackend{
		loginFn: func(email, password string) (user.User, string, error) {
			return backendUser("email-1", user.ProviderEmail), "token-e", nil
		},
		logoutFn: func() error {
			return apperrors.New(apperrors.CodeNetworkUnavailable, "Network connection failed")
		},
	}
	store := memoryStore(t)
	m := New(Deps{Backend: backend, Store: store})
	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}

	m.SignOut(context.Background())
	m.Close()

	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated despite logout failure, got %s", m.State().Phase)
	}
	if _, _, ok := store.Load(); ok {
		t.Fatal("expected local session cleared despite logout failure")
	}
}

func TestAppleCancellationIsDistinguishable(t *testing.T) {
	m := New(Deps{
		Backend: &fakeBackend{},
		Store:   memoryStore(t),
		Apple: &fakeAppleSheet{respond: func(d credential.Delegate) {
			d.AuthorizationFailed(&credential.AppleError{Code: credential.AppleErrorCanceled})
		}},
	})

	result := m.SignInWithApple(context.Background())
	if result.Status != SignInCancelled {
		t.Fatalf("expected cancelled, got %s (%v)", result.Status, result.Err)
	}
	if result.Message() != "" {
		t.Fatalf("cancellation must not produce an error message, got %q", result.Message())
	}
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated after cancellation, got %s", m.State().Phase)
	}
}

func TestGoogleCancellationIsDistinguishable(t *testing.T) {
	m := New(Deps{
		Backend: &fakeBackend{},
		Store:   memoryStore(t),
		Google:  &fakeGoogle{signInFn: func() (string, error) { return "", credential.ErrCancelled }},
	})

	result := m.SignInWithGoogle(context.Background())
	if result.Status != SignInCancelled {
		t.Fatalf("expected cancelled, got %s (%v)", result.Status, result.Err)
	}
	if result.Message() != "" {
		t.Fatalf("cancellation must not produce an error message, got %q", result.Message())
	}
}

func TestConcurrentAppleSignInRejectsSecondCall(t *testing.T) {
	release := make(chan struct{})
	m := New(Deps{
		Backend: &fakeBackend{},
		Store:   memoryStore(t),
		Apple: &fakeAppleSheet{respond: func(d credential.Delegate) {
			<-release
			d.AuthorizationCompleted(credential.AppleCredential{UserID: "apple-1"})
		}},
	})

	firstDone := make(chan SignInResult, 1)
	go func() { firstDone <- m.SignInWithApple(context.Background()) }()

	// Wait for the first call to install its waiter.
	deadline := time.After(2 * time.Second)
	for !m.bridge.Pending() {
		select {
		case <-deadline:
			t.Fatal("first sign-in never became pending")
		case <-time.After(time.Millisecond):
		}
	}

	second := m.SignInWithApple(context.Background())
	if second.Status != SignInFailure {
		t.Fatalf("expected second call rejected, got %s", second.Status)
	}
	if apperrors.CodeOf(second.Err) != apperrors.CodeSignInInProgress {
		t.Fatalf("expected sign-in-in-progress code, got %v", second.Err)
	}

	// The first caller's eventual result is intact.
	close(release)
	select {
	case first := <-firstDone:
		if first.Status != SignInSuccess {
			t.Fatalf("first caller lost its result: %s (%v)", first.Status, first.Err)
		}
		if first.User.ID != "apple-1" {
			t.Fatalf("expected first caller's credential, got %q", first.User.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first caller never resolved")
	}
}

func TestApplePresentationFailure(t *testing.T) {
	m := New(Deps{
		Backend: &fakeBackend{},
		Store:   memoryStore(t),
		Apple:   &fakeAppleSheet{}, // respond unset: RequestSignIn errors
	})

	result := m.SignInWithApple(context.Background())
	if result.Status != SignInFailure {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if apperrors.CodeOf(result.Err) != apperrors.CodePresentationUnavailable {
		t.Fatalf("expected presentation failure, got %v", result.Err)
	}

	// The slot is free again for the next attempt.
	if m.bridge.Pending() {
		t.Fatal("expected bridge slot cleared after presentation failure")
	}
}

func TestApplePlaceholderNameFallback(t *testing.T) {
	m := New(Deps{
		Backend: &fakeBackend{},
		Store:   memoryStore(t),
		Apple: &fakeAppleSheet{respond: func(d credential.Delegate) {
			// Repeat authorizations omit name and email.
			d.AuthorizationCompleted(credential.AppleCredential{UserID: "apple-1"})
		}},
	})

	result := m.SignInWithApple(context.Background())
	if result.Status != SignInSuccess {
		t.Fatalf("expected success, got %s (%v)", result.Status, result.Err)
	}
	if result.User.Name != user.PlaceholderName {
		t.Fatalf("expected placeholder name, got %q", result.User.Name)
	}
}

func TestMissingProviderAdaptersFailGracefully(t *testing.T) {
	m := New(Deps{Backend: &fakeBackend{}, Store: memoryStore(t)})

	if result := m.SignInWithApple(context.Background()); apperrors.CodeOf(result.Err) != apperrors.CodeProviderMisconfigured {
		t.Fatalf("expected apple misconfiguration failure, got %v", result.Err)
	}
	if result := m.SignInWithGoogle(context.Background()); apperrors.CodeOf(result.Err) != apperrors.CodeProviderMisconfigured {
		t.Fatalf("expected google misconfiguration failure, got %v", result.Err)
	}
}

func validToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a@example.com",
		"exp": expiry.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestValidateSessionOutcomes(t *testing.T) {
	now := time.Now()

	t.Run("expired token clears the session", func(t *testing.T) {
		store := memoryStore(t)
		if err := store.Save(backendUser("email-1", user.ProviderEmail), validToken(t, now.Add(-time.Hour))); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		m := New(Deps{Backend: &fakeBackend{}, Store: store})

		if err := m.ValidateSession(context.Background()); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if m.State().Phase != PhaseUnauthenticated {
			t.Fatalf("expected unauthenticated, got %s", m.State().Phase)
		}
	})

	t.Run("server rejection clears the session", func(t *testing.T) {
		store := memoryStore(t)
		if err := store.Save(backendUser("email-1", user.ProviderEmail), validToken(t, now.Add(time.Hour))); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		backend := &fakeBackend{currentUserFn: func() (user.User, error) {
			return user.User{}, apperrors.WithMetadata(apperrors.CodeBackendFailure, "Could not validate credentials", map[string]string{"status": "401"})
		}}
		m := New(Deps{Backend: backend, Store: store})

		if err := m.ValidateSession(context.Background()); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if m.State().Phase != PhaseUnauthenticated {
			t.Fatalf("expected unauthenticated, got %s", m.State().Phase)
		}
	})

	t.Run("transient server failure keeps the session", func(t *testing.T) {
		store := memoryStore(t)
		if err := store.Save(backendUser("email-1", user.ProviderEmail), validToken(t, now.Add(time.Hour))); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		backend := &fakeBackend{currentUserFn: func() (user.User, error) {
			return user.User{}, apperrors.WithMetadata(apperrors.CodeBackendFailure, "Service temporarily unavailable", map[string]string{"status": "503"})
		}}
		m := New(Deps{Backend: backend, Store: store})

		if err := m.ValidateSession(context.Background()); err == nil {
			t.Fatal("expected transient failure reported")
		}
		if m.State().Phase != PhaseAuthenticated {
			t.Fatalf("expected session kept through outage, got %s", m.State().Phase)
		}
		if _, _, ok := store.Load(); !ok {
			t.Fatal("expected persisted session kept through outage")
		}
	})

	t.Run("network failure keeps the session", func(t *testing.T) {
		store := memoryStore(t)
		if err := store.Save(backendUser("email-1", user.ProviderEmail), validToken(t, now.Add(time.Hour))); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		backend := &fakeBackend{currentUserFn: func() (user.User, error) {
			return user.User{}, apperrors.New(apperrors.CodeNetworkUnavailable, "Network connection failed")
		}}
		m := New(Deps{Backend: backend, Store: store})

		if err := m.ValidateSession(context.Background()); err == nil {
			t.Fatal("expected network error reported")
		}
		if m.State().Phase != PhaseAuthenticated {
			t.Fatalf("expected session kept offline, got %s", m.State().Phase)
		}
	})

	t.Run("success refreshes metadata and keeps provider", func(t *testing.T) {
		store := memoryStore(t)
		if err := store.Save(backendUser("email-1", user.ProviderEmail), validToken(t, now.Add(time.Hour))); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		backend := &fakeBackend{currentUserFn: func() (user.User, error) {
			refreshed := backendUser("email-1", user.ProviderGoogle)
			refreshed.Name = "Renamed"
			return refreshed, nil
		}}
		m := New(Deps{Backend: backend, Store: store})

		if err := m.ValidateSession(context.Background()); err != nil {
			t.Fatalf("validate: %v", err)
		}
		state := m.State()
		if state.User.Name != "Renamed" {
			t.Fatalf("expected refreshed name, got %q", state.User.Name)
		}
		if state.User.Provider != user.ProviderEmail {
			t.Fatalf("expected original provider kept, got %q", state.User.Provider)
		}
	})

	t.Run("tokenless session validates trivially", func(t *testing.T) {
		store := memoryStore(t)
		if err := store.Save(backendUser("apple-1", user.ProviderApple), ""); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		backend := &fakeBackend{}
		m := New(Deps{Backend: backend, Store: store})

		if err := m.ValidateSession(context.Background()); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if backend.calls.Load() != 0 {
			t.Fatal("local-only sessions must not hit the backend")
		}
		if m.State().Phase != PhaseAuthenticated {
			t.Fatalf("expected session kept, got %s", m.State().Phase)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	store := memoryStore(t)
	backend := &fakeBackend{
		loginFn: func(email, password string) (user.User, string, error) {
			return backendUser("email-1", user.ProviderEmail), "token-old", nil
		},
		refreshFn: func() (string, error) { return "token-new", nil },
	}
	m := New(Deps{Backend: backend, Store: store})
	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}

	if err := m.RefreshToken(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := store.Token(); got != "token-new" {
		t.Fatalf("expected replaced token, got %q", got)
	}

	m.SignOut(context.Background())
	m.Close()
	if err := m.RefreshToken(context.Background()); err == nil {
		t.Fatal("expected refresh to fail when signed out")
	}
}

func TestSubscribePublishesTransitionsInOrder(t *testing.T) {
	backend := &fakeBackend{loginFn: func(email, password string) (user.User, string, error) {
		return backendUser("email-1", user.ProviderEmail), "token-e", nil
	}}
	m := New(Deps{Backend: backend, Store: memoryStore(t)})

	states, cancel := m.Subscribe()
	defer cancel()

	if got := <-states; got.Phase != PhaseUnauthenticated {
		t.Fatalf("expected current snapshot first, got %s", got.Phase)
	}

	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}
	m.SignOut(context.Background())
	m.Close()

	if got := <-states; got.Phase != PhaseAuthenticated || got.User.ID != "email-1" {
		t.Fatalf("expected authenticated transition, got %+v", got)
	}
	if got := <-states; got.Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated transition, got %s", got.Phase)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	m := New(Deps{Backend: &fakeBackend{}, Store: memoryStore(t)})

	states, cancel := m.Subscribe()
	<-states
	cancel()

	if _, open := <-states; open {
		t.Fatal("expected channel closed after cancel")
	}
	// Cancelling twice is safe.
	cancel()
}

func TestErrorStateTransitions(t *testing.T) {
	backend := &fakeBackend{loginFn: func(email, password string) (user.User, string, error) {
		return backendUser("email-1", user.ProviderEmail), "token-e", nil
	}}
	m := New(Deps{Backend: backend, Store: memoryStore(t)})

	// SetError outside the authenticated phase is a no-op.
	m.SetError("broken profile")
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected no-op from unauthenticated, got %s", m.State().Phase)
	}

	if result := m.SignInWithEmail(context.Background(), "a@example.com", "secret"); result.Status != SignInSuccess {
		t.Fatalf("sign in: %v", result.Err)
	}

	m.SetError("broken profile")
	state := m.State()
	if state.Phase != PhaseError || state.Message != "broken profile" {
		t.Fatalf("expected error state with message, got %+v", state)
	}

	// The only way out of error is user acknowledgement.
	m.ClearError()
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated after clear, got %s", m.State().Phase)
	}

	// ClearError outside the error phase is a no-op.
	m.ClearError()
	if m.State().Phase != PhaseUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", m.State().Phase)
	}
}
