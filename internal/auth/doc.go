// Package auth is the client-side authentication orchestrator for the
// EverWith mobile app.
//
// It unifies four sign-in mechanisms (the platform identity sheet, the
// Google OAuth SDK, email/password accounts, and an anonymous guest mode)
// behind one state machine and one persisted session.
//
// Subpackages:
//   - user: identity model and provider tag set
//   - backend: typed HTTP client for the EverWith auth API
//   - credential: provider adapters and the delegate-to-await bridge
//   - session: persisted session store and token expiry checks
//
// The Manager in this package owns the AuthState the UI observes, drives
// each provider flow, and serializes every state transition so observers
// never see a partial update.
package auth
