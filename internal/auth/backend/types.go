package backend

import (
	"time"

	"github.com/everwith/appcore/internal/auth/user"
)

// Wire shapes for the EverWith auth API. Field names follow the server's
// JSON contract exactly.

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleAuthRequest struct {
	IDToken string `json:"id_token"`
}

type userPayload struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
	IsGoogleUser    bool   `json:"is_google_user"`
	IsActive        bool   `json:"is_active"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type authResponse struct {
	Message     string      `json:"message"`
	User        userPayload `json:"user"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
}

type refreshResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// toDomain maps a server user payload onto the identity model. The provider
// tag is derived from is_google_user unless the caller overrides it.
func (p userPayload) toDomain(provider user.Provider) (user.User, error) {
	if provider == "" {
		provider = user.ProviderEmail
		if p.IsGoogleUser {
			provider = user.ProviderGoogle
		}
	}

	return user.New(user.Input{
		ID:              p.ID,
		Email:           p.Email,
		Name:            p.Name,
		ProfileImageURL: p.ProfileImageURL,
		Provider:        provider,
		CreatedAt:       parseServerTime(p.CreatedAt),
	}, nil)
}

// parseServerTime decodes the server's ISO-8601 timestamps. Absent or
// unparseable values yield the zero time; the identity model fills in a
// local timestamp in that case.
func parseServerTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}
