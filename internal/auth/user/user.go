// Package user provides the authenticated identity model.
package user

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/everwith/appcore/internal/platform/errors"
	"github.com/everwith/appcore/internal/platform/id"
)

// PlaceholderName is used when a provider returns no display name.
// The Apple sheet only supplies the full name on first authorization.
const PlaceholderName = "EverWith User"

var (
	// ErrEmptyID indicates a provider credential without a subject identifier.
	ErrEmptyID = apperrors.New(apperrors.CodeCredentialMissing, "provider returned no user identifier")
	// ErrInvalidProvider indicates a provider tag outside the closed set.
	ErrInvalidProvider = apperrors.New(apperrors.CodeUnknown, "unknown auth provider")
)

// Provider identifies which sign-in mechanism produced a user.
type Provider string

const (
	ProviderApple  Provider = "apple"
	ProviderGoogle Provider = "google"
	ProviderEmail  Provider = "email"
	ProviderGuest  Provider = "guest"
)

// Valid reports whether the provider is part of the closed tag set.
func (p Provider) Valid() bool {
	switch p {
	case ProviderApple, ProviderGoogle, ProviderEmail, ProviderGuest:
		return true
	}
	return false
}

// Label returns the user-facing provider name.
func (p Provider) Label() string {
	switch p {
	case ProviderApple:
		return "Apple"
	case ProviderGoogle:
		return "Google"
	case ProviderEmail:
		return "Email"
	case ProviderGuest:
		return "Guest"
	}
	return "Unknown"
}

// User represents an authenticated identity record.
//
// Users are value objects: once constructed they are never mutated, and
// identity comparisons use the ID only.
type User struct {
	ID              string
	Email           string
	Name            string
	ProfileImageURL string
	Provider        Provider
	CreatedAt       time.Time
}

// Equal reports identity equality. Two users are the same identity when
// their IDs match, regardless of metadata differences.
func (u User) Equal(other User) bool {
	return u.ID == other.ID
}

// Input describes the fields needed to construct a user from a provider
// credential or backend payload.
type Input struct {
	ID              string
	Email           string
	Name            string
	ProfileImageURL string
	Provider        Provider
	CreatedAt       time.Time
}

// New builds a user from provider-supplied fields.
//
// Email and name are optional: providers like the Apple sheet only return
// them on first authorization, so an absent name falls back to
// PlaceholderName. A missing ID or an unknown provider tag is an error.
func New(input Input, now func() time.Time) (User, error) {
	if now == nil {
		now = time.Now
	}

	input.ID = strings.TrimSpace(input.ID)
	if input.ID == "" {
		return User{}, ErrEmptyID
	}
	if !input.Provider.Valid() {
		return User{}, ErrInvalidProvider
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = PlaceholderName
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	return User{
		ID:              input.ID,
		Email:           strings.TrimSpace(input.Email),
		Name:            name,
		ProfileImageURL: strings.TrimSpace(input.ProfileImageURL),
		Provider:        input.Provider,
		CreatedAt:       createdAt.UTC(),
	}, nil
}

// NewGuest synthesizes a local guest identity with a generated ID.
// It never touches the network.
func NewGuest(now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	guestID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate guest id: %w", err)
	}

	return New(Input{
		ID:       "guest-" + guestID,
		Name:     "Guest",
		Provider: ProviderGuest,
	}, now)
}
