// Package credential contains the provider adapters that produce a
// normalized credential or user record for each sign-in mechanism.
package credential

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/everwith/appcore/internal/platform/errors"
)

// AppleCredential is the normalized result of a platform sign-in sheet.
// Email and FullName are only present on the first authorization for an
// app; subsequent sheets return just the stable user identifier.
type AppleCredential struct {
	UserID        string
	Email         string
	FullName      string
	IdentityToken string
}

// Delegate receives the platform's authorization callbacks.
type Delegate interface {
	AuthorizationCompleted(AppleCredential)
	AuthorizationFailed(err error)
}

// AppleAuthorizer requests the OS-level identity sheet with full-name and
// email scopes. Concrete implementations are platform glue supplied by the
// app shell; the returned error covers failures before the sheet is shown
// (no presentation context, missing entitlement); everything after arrives
// through the delegate.
type AppleAuthorizer interface {
	RequestSignIn(ctx context.Context, delegate Delegate) error
}

// AppleErrorCode is the closed set of authorization error codes the
// platform delegate can report.
type AppleErrorCode int

const (
	AppleErrorUnknown                   AppleErrorCode = 1000
	AppleErrorCanceled                  AppleErrorCode = 1001
	AppleErrorInvalidResponse           AppleErrorCode = 1002
	AppleErrorNotHandled                AppleErrorCode = 1003
	AppleErrorFailed                    AppleErrorCode = 1004
	AppleErrorNotInteractive            AppleErrorCode = 1005
	AppleErrorMatchedExcludedCredential AppleErrorCode = 1006
)

// AppleError wraps a raw delegate error code.
type AppleError struct {
	Code AppleErrorCode
}

// Error implements the error interface.
func (e *AppleError) Error() string {
	return fmt.Sprintf("apple authorization error %d", int(e.Code))
}

// appleErrorTaxonomy is the explicit mapping from delegate error codes to
// the app error taxonomy. Cancellation is intentionally absent: it is not
// a failure and is handled before this table is consulted.
var appleErrorTaxonomy = map[AppleErrorCode]*apperrors.Error{
	AppleErrorUnknown:                   apperrors.New(apperrors.CodePlatformUnknown, "Sign in with Apple failed for an unknown reason"),
	AppleErrorInvalidResponse:           apperrors.New(apperrors.CodePlatformInvalidResponse, "Apple returned an invalid response"),
	AppleErrorNotHandled:                apperrors.New(apperrors.CodePlatformNotHandled, "The sign-in request was not handled"),
	AppleErrorFailed:                    apperrors.New(apperrors.CodePlatformFailed, "Sign in with Apple failed"),
	AppleErrorNotInteractive:            apperrors.New(apperrors.CodePlatformNotInteractive, "Sign in with Apple requires an interactive session"),
	AppleErrorMatchedExcludedCredential: apperrors.New(apperrors.CodePlatformMisconfigured, "Sign in with Apple is misconfigured for this app"),
}

// IsAppleCancellation reports whether err is the user dismissing the sheet.
func IsAppleCancellation(err error) bool {
	var appleErr *AppleError
	if errors.As(err, &appleErr) {
		return appleErr.Code == AppleErrorCanceled
	}
	return false
}

// MapAppleError converts a delegate error into a domain error with a fixed
// user-facing message. Unrecognized codes and non-Apple errors map to the
// unknown platform failure.
func MapAppleError(err error) error {
	var appleErr *AppleError
	if errors.As(err, &appleErr) {
		if mapped, ok := appleErrorTaxonomy[appleErr.Code]; ok {
			return apperrors.Wrap(mapped.Code, mapped.Message, err)
		}
	}
	return apperrors.Wrap(apperrors.CodePlatformUnknown, "Sign in with Apple failed for an unknown reason", err)
}
