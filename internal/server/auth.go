package server

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/aptiscout/aptiscout/internal/common"
)

// loginRequest is the POST /api/auth/login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin checks a password against the configured admin bcrypt hash and,
// on success, mints the bearer token the SourceConfig admin write path expects.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		WriteProblem(w, r, http.StatusBadRequest, common.KindValidation, "username and password are required", nil)
		return
	}

	hash := s.app.Config.Auth.AdminPasswordHash
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, common.KindValidation, "invalid credentials", nil)
		return
	}

	token, err := signAdminJWT(req.Username, s.app.Config)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, common.KindInvariant, "failed to sign token", nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.app.Config.Auth.GetTokenExpiry().Seconds()),
		"request_id":   requestID(w),
	})
}
