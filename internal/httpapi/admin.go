package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/outbackwave/cdxindex/auth"
	"github.com/outbackwave/cdxindex/internal/apierr"
)

// adminTokenTTL bounds how long a minted admin bearer token is valid.
const adminTokenTTL = 12 * time.Hour

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login implements "POST /api/admin/login": exchanges the bootstrap admin
// password for a bearer token. There is one admin principal per server,
// so this checks a single bcrypt hash rather than looking anything up by
// username.
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if len(h.deps.JWTSecret) == 0 || len(h.deps.AdminPasswordHash) == 0 {
		writeError(w, apierr.Forbidden("admin login is not configured"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.BadRequest("decode login request: %v", err))
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.deps.AdminPasswordHash, []byte(req.Password)); err != nil {
		writeError(w, apierr.Forbidden("invalid credentials"))
		return
	}

	claims := &auth.AdminClaims{Role: "admin"}
	token, err := auth.GenerateToken(h.deps.JWTSecret, claims, adminTokenTTL)
	if err != nil {
		writeError(w, apierr.Storage("mint admin token", err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}
