package auth

import (
	"fmt"

	"github.com/everwith/appcore/internal/auth/user"
)

// Phase identifies which authentication state is active.
type Phase int

const (
	// PhaseLoading is the initial state before session restore completes.
	PhaseLoading Phase = iota
	// PhaseAuthenticated indicates a signed-in user.
	PhaseAuthenticated
	// PhaseUnauthenticated indicates no active session.
	PhaseUnauthenticated
	// PhaseError indicates an unrecoverable local validation failure
	// surfaced by the UI layer.
	PhaseError
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// AuthState is the single source of truth the UI observes. Exactly one
// phase is active at a time; User is meaningful only when authenticated
// and Message only in the error phase.
type AuthState struct {
	Phase   Phase
	User    user.User
	Message string
}

// Loading is the pre-restore state.
func Loading() AuthState {
	return AuthState{Phase: PhaseLoading}
}

// Authenticated wraps a signed-in user.
func Authenticated(u user.User) AuthState {
	return AuthState{Phase: PhaseAuthenticated, User: u}
}

// Unauthenticated is the signed-out state.
func Unauthenticated() AuthState {
	return AuthState{Phase: PhaseUnauthenticated}
}

// ErrorState wraps a user-facing error message.
func ErrorState(message string) AuthState {
	return AuthState{Phase: PhaseError, Message: message}
}

// Equal reports state equality as the UI perceives it: authenticated
// states compare by user ID only, error states by message text, and the
// remaining phases carry no payload.
func (s AuthState) Equal(other AuthState) bool {
	if s.Phase != other.Phase {
		return false
	}
	switch s.Phase {
	case PhaseAuthenticated:
		return s.User.Equal(other.User)
	case PhaseError:
		return s.Message == other.Message
	}
	return true
}
