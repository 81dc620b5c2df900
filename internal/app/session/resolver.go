// Package session turns session tokens into forum users for the websocket
// auth frame and the HTTP identity endpoints.
package session

import (
	"context"
	"errors"
	"fmt"

	"forumdm/internal/app/store"
	"forumdm/internal/app/user"
	"forumdm/internal/pkg/auth/jwt"
)

// ErrUnknownUser is returned for a valid token whose user no longer exists.
var ErrUnknownUser = errors.New("session: token user not found")

// Resolver validates tokens signed with secret and loads their user.
type Resolver struct {
	secret string
	users  store.UserDirectory
}

// NewResolver checks tokens signed with secret against users.
func NewResolver(secret string, users store.UserDirectory) *Resolver {
	return &Resolver{secret: secret, users: users}
}

// Authenticate implements chat.Authenticator.
func (r *Resolver) Authenticate(ctx context.Context, token string) (user.User, error) {
	if token == "" {
		return user.User{}, jwt.ErrInvalidToken
	}

	payload, err := jwt.ParseToken(token, r.secret)
	if err != nil {
		return user.User{}, err
	}

	u, err := r.users.GetUser(ctx, payload.UserID)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return user.User{}, ErrUnknownUser
	case err != nil:
		return user.User{}, fmt.Errorf("session: load user %d: %w", payload.UserID, err)
	}
	return u, nil
}

// Issue signs a session token for u.
func (r *Resolver) Issue(u user.User) (string, error) {
	return jwt.GenerateToken(&jwt.Payload{UserID: u.ID, DisplayName: u.DisplayName}, r.secret, jwt.SessionExpiration)
}
