package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/metrics"
	"github.com/alexedwards/scs/v2"
	"gorm.io/gorm"
)

const minPasswordLength = 8

type AuthHandler struct {
	db             *gorm.DB
	cfg            *config.Config
	sessionManager *scs.SessionManager
	drive          *drive.Service
}

// NewAuthHandler creates a handler for registration, login and the account endpoints.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, sessionManager *scs.SessionManager, svc *drive.Service) *AuthHandler {
	return &AuthHandler{
		db:             db,
		cfg:            cfg,
		sessionManager: sessionManager,
		drive:          svc,
	}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type userResponse struct {
	ID       uint        `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Usage    drive.Usage `json:"usage"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Usage:    drive.Usage{Used: u.StorageUsed, Limit: u.StorageQuota},
	}
}

func (req *RegisterRequest) validate() error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case len(req.Username) < 3 || len(req.Username) > 50:
		return fmt.Errorf("%w: username must be 3 to 50 characters", drive.ErrInvalidInput)
	case !strings.Contains(req.Email, "@"):
		return fmt.Errorf("%w: invalid email address", drive.ErrInvalidInput)
	case len(req.Password) < minPasswordLength:
		return fmt.Errorf("%w: password must be at least %d characters", drive.ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.EnableRegistration {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "registration is disabled"})
		return
	}

	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password, h.cfg.BcryptCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		StorageQuota: h.cfg.DefaultUserQuota,
	}
	if err := h.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "username or email already exists"})
			return
		}
		writeError(w, r, err)
		return
	}

	if err := auth.Login(r.Context(), h.sessionManager, user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, toUserResponse(&user))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var user models.User
	err := h.db.WithContext(r.Context()).Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, r, err)
		return
	}
	if err != nil || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		metrics.RecordLogin(false)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	if err := auth.Login(r.Context(), h.sessionManager, user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	metrics.RecordLogin(true)
	writeJSON(w, http.StatusOK, toUserResponse(&user))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := auth.Logout(r.Context(), h.sessionManager); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the signed-in user with fresh storage usage.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	usage, err := h.drive.Usage(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := toUserResponse(user)
	resp.Usage = usage
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, req.CurrentPassword) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "current password is incorrect"})
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, r, fmt.Errorf("%w: password must be at least %d characters", drive.ErrInvalidInput, minPasswordLength))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword, h.cfg.BcryptCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.db.WithContext(r.Context()).Model(user).Update("password_hash", hash).Error; err != nil {
		writeError(w, r, err)
		return
	}
	// Rotate the session token so a stolen cookie does not survive the change.
	if err := auth.Login(r.Context(), h.sessionManager, user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
