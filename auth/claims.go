package auth

import "github.com/golang-jwt/jwt/v5"

// AdminClaims is the JWT claims structure for the server's single admin
// principal. There is no multi-user identity system: a valid token simply
// proves the bearer holds the admin secret, gating write endpoints
// (ingest, delete, rule/policy CRUD, compact/upgrade/truncate).
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}
