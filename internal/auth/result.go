package auth

import (
	"fmt"

	"github.com/everwith/appcore/internal/auth/user"
)

// SignInStatus identifies the outcome class of a sign-in attempt.
type SignInStatus int

const (
	// SignInSuccess carries the authenticated user.
	SignInSuccess SignInStatus = iota
	// SignInFailure carries a user-presentable error.
	SignInFailure
	// SignInCancelled signals user-initiated abandonment. It is not a
	// failure and must never surface as an error banner.
	SignInCancelled
)

// String returns the status name for logging.
func (s SignInStatus) String() string {
	switch s {
	case SignInSuccess:
		return "success"
	case SignInFailure:
		return "failure"
	case SignInCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// SignInResult is the outcome of any sign-in attempt. Operations never
// return a bare error: every failure path is encoded here.
type SignInResult struct {
	Status SignInStatus
	User   user.User
	Err    error
}

// Success wraps an authenticated user.
func Success(u user.User) SignInResult {
	return SignInResult{Status: SignInSuccess, User: u}
}

// Failure wraps a sign-in error.
func Failure(err error) SignInResult {
	return SignInResult{Status: SignInFailure, Err: err}
}

// Cancelled is the user-abandoned outcome.
func Cancelled() SignInResult {
	return SignInResult{Status: SignInCancelled}
}

// Message returns the text an error banner would show: the failure's
// message, or empty for success and cancellation.
func (r SignInResult) Message() string {
	if r.Status != SignInFailure || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
