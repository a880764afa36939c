package credential

import (
	"sync"

	apperrors "github.com/everwith/appcore/internal/platform/errors"
)

// ErrSignInInProgress is returned when a native sign-in is requested while
// another one is still awaiting its delegate callback.
var ErrSignInInProgress = apperrors.New(apperrors.CodeSignInInProgress, "another sign-in is already in progress")

// Outcome is the resolved result of one native sign-in interaction.
// Exactly one of Credential, Err, or Cancelled is meaningful.
type Outcome struct {
	Credential AppleCredential
	Err        error
	Cancelled  bool
}

// Bridge converts the platform's delegate callbacks into one awaited result.
//
// It holds at most one pending waiter. The waiter is installed immediately
// before the platform sheet is requested and cleared on resolution, so a
// delegate that fires late or spuriously can never crash the app or deliver
// a result to the wrong caller. A second Begin while one interaction is
// pending is rejected rather than queued: the platform sheet is modal, so
// overlapping requests indicate a UI bug, and silently replacing the waiter
// would lose the first caller's result.
type Bridge struct {
	mu     sync.Mutex
	waiter chan Outcome
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Begin installs the single waiter slot and returns the channel the
// eventual outcome arrives on. It fails with ErrSignInInProgress when a
// previous interaction has not resolved yet.
func (b *Bridge) Begin() (<-chan Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.waiter != nil {
		return nil, ErrSignInInProgress
	}

	// Buffered so Resolve never blocks on a caller that has not reached
	// its receive yet.
	b.waiter = make(chan Outcome, 1)
	return b.waiter, nil
}

// Resolve delivers the outcome to the pending waiter exactly once and
// clears the slot. Resolving with no waiter installed is a no-op: this
// should not occur in correct usage, but a stray delegate callback must
// not crash.
func (b *Bridge) Resolve(outcome Outcome) {
	b.mu.Lock()
	waiter := b.waiter
	b.waiter = nil
	b.mu.Unlock()

	if waiter == nil {
		return
	}
	waiter <- outcome
}

// ResolveFor delivers the outcome only while waiter is still the pending
// slot. A caller abandoning its own interaction uses this instead of
// Resolve so that, if the delegate resolved concurrently and a new
// interaction began in between, the stale resolution cannot reach the new
// caller's waiter.
func (b *Bridge) ResolveFor(waiter <-chan Outcome, outcome Outcome) {
	b.mu.Lock()
	if b.waiter == nil || (<-chan Outcome)(b.waiter) != waiter {
		b.mu.Unlock()
		return
	}
	owned := b.waiter
	b.waiter = nil
	b.mu.Unlock()

	owned <- outcome
}

// Pending reports whether an interaction is currently awaiting resolution.
func (b *Bridge) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiter != nil
}

// AuthorizationCompleted implements Delegate: the platform reported a
// successful credential.
func (b *Bridge) AuthorizationCompleted(cred AppleCredential) {
	b.Resolve(Outcome{Credential: cred})
}

// AuthorizationFailed implements Delegate: the platform reported an error.
// User cancellation is detected here and resolved as a cancelled outcome
// rather than a failure.
func (b *Bridge) AuthorizationFailed(err error) {
	if IsAppleCancellation(err) {
		b.Resolve(Outcome{Cancelled: true})
		return
	}
	b.Resolve(Outcome{Err: MapAppleError(err)})
}
