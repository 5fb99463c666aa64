package auth

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the JWT session payload issued after a successful
// Microsoft login. It embeds jwt.RegisteredClaims for the standard fields
// (exp, iat) and carries the identity the rest of the service needs: display
// name for attribution, email for whitelist/presence semantics, and the
// admin flag.
type SessionClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
	Admin bool   `json:"admin,omitempty"`
}
