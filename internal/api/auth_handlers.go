package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/leadline/leadline/internal/api/middleware"
	"github.com/leadline/leadline/internal/database"
	"github.com/leadline/leadline/internal/database/models"
)

// setupRequest is the body for the first-boot setup endpoint.
type setupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// handleSetup creates the first dashboard user. It only works while no
// users exist; afterwards it always returns 409.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	count, err := s.users.Count(r.Context())
	if err != nil {
		slog.Error("setup: failed to count users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if count > 0 {
		writeError(w, http.StatusConflict, "setup already completed")
		return
	}

	var req setupRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if msg := validateRequiredStringLen("username", req.Username, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if msg := validateStringLen("password", req.Password, maxPasswordLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("display_name", req.DisplayName, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		slog.Error("setup: failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &models.AdminUser{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		slog.Error("setup: failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("initial admin user created", "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// loginRequest is the body for the login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin verifies credentials and issues a session cookie pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("login: failed to query user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	ok, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		slog.Warn("login failed", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess, err := s.sessions.Create(user.ID, user.Username)
	if err != nil {
		slog.Error("login: failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	middleware.SetSessionCookie(w, sess, s.cfg.TLSEnabled())
	slog.Info("user logged in", "username", user.Username)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"csrf_token":   sess.CSRFToken,
	})
}

// handleLogout tears down the current session and clears the cookies.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := middleware.SessionIDFromContext(r.Context()); id != "" {
		s.sessions.Delete(id)
	}
	middleware.ClearSessionCookie(w, s.cfg.TLSEnabled())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if u := middleware.AdminUserFromContext(r.Context()); u != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       u.ID,
			"username": u.Username,
		})
		return
	}
	// Bearer-token requests carry only the user id claim.
	if uid := middleware.TokenUserIDFromContext(r.Context()); uid != 0 {
		user, err := s.users.GetByID(r.Context(), uid)
		if err != nil || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       user.ID,
			"username": user.Username,
		})
		return
	}
	writeError(w, http.StatusUnauthorized, "authentication required")
}

// handleIssueToken mints a bearer token for API clients, tied to the
// session's user.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	u := middleware.AdminUserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusForbidden, "tokens can only be issued from a browser session")
		return
	}

	token, expiresAt, err := middleware.GenerateAPIToken(s.jwtSecret, u.ID, u.Username)
	if err != nil {
		slog.Error("issue token: failed to sign", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}
