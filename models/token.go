package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of an identity provider access token.
// The user id travels in the standard "sub" claim.
type TokenClaims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}
