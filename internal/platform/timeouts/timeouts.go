// Package timeouts defines shared timeout constants used across the app
// core. Centralizing these values prevents drift between components and
// makes the durations discoverable.
package timeouts

import "time"

// APIRequest caps a single HTTP request to the auth backend.
const APIRequest = 30 * time.Second

// Logout caps the fire-and-forget backend logout that runs after the
// local session has already been cleared.
const Logout = 10 * time.Second
