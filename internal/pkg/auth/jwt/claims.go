package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a forum session token.
type Payload struct {
	jwt.StandardClaims `json:"standard_claims"`

	// UserID is the forum account the session belongs to.
	UserID int64 `json:"uid"`

	// DisplayName is the account's nickname at the time the token was issued.
	DisplayName string `json:"name"`
}
