// Package errors provides structured error handling for the app core.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Sign-in flow errors
	CodeSignInInProgress        Code = "SIGN_IN_IN_PROGRESS"
	CodePresentationUnavailable Code = "PRESENTATION_UNAVAILABLE"
	CodeProviderMisconfigured   Code = "PROVIDER_MISCONFIGURED"
	CodeCredentialMissing       Code = "CREDENTIAL_MISSING"
	CodeSignInCancelled         Code = "SIGN_IN_CANCELLED"

	// Platform provider errors, one per delegate failure code
	CodePlatformFailed          Code = "PLATFORM_FAILED"
	CodePlatformInvalidResponse Code = "PLATFORM_INVALID_RESPONSE"
	CodePlatformNotHandled      Code = "PLATFORM_NOT_HANDLED"
	CodePlatformUnknown         Code = "PLATFORM_UNKNOWN"
	CodePlatformNotInteractive  Code = "PLATFORM_NOT_INTERACTIVE"
	CodePlatformMisconfigured   Code = "PLATFORM_MISCONFIGURED"

	// Transport errors
	CodeNetworkUnavailable Code = "NETWORK_UNAVAILABLE"
	CodeBackendFailure     Code = "BACKEND_FAILURE"

	// Validation errors
	CodeEmailRequired    Code = "EMAIL_REQUIRED"
	CodePasswordRequired Code = "PASSWORD_REQUIRED"
	CodeNameRequired     Code = "NAME_REQUIRED"

	// Storage errors
	CodeStorageFailure Code = "STORAGE_FAILURE"
)
