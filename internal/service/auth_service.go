package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// User is the caller as reported by the external auth service.
type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Enabled     *bool    `json:"enabled,omitempty"`
}

func (u User) IsAdmin() bool {
	return u.Role == "admin" || slices.Contains(u.Permissions, "admin")
}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*User, error)
}

// AuthService resolves bearer tokens against {authURL}/users/current.
type AuthService struct {
	authURL string
	client  *http.Client
}

func NewAuthService(authURL string, timeout time.Duration) *AuthService {
	return &AuthService{
		authURL: authURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *AuthService) ValidateToken(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/current", a.authURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if user.ID == "" {
		return nil, ErrInvalidToken
	}
	if user.Enabled != nil && !*user.Enabled {
		return nil, errors.New("user disabled")
	}
	return &user, nil
}
