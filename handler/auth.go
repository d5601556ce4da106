package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/middleware"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/session"
)

type AuthHandler struct {
	config   *config.Config
	sessions *session.Manager
}

func NewAuthHandler(cfg *config.Config, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{config: cfg, sessions: sessions}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      session.User `json:"user"`
	View      session.View `json:"view"`
}

// Login checks the credentials, issues a token and opens the workspace
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	user := h.config.FindUser(req.Email)
	if user == nil || !user.CheckPassword(req.Password) {
		respondError(c, apperr.New(apperr.CodeUnauthorized, "Invalid email or password"))
		return
	}

	token, expiresAt, err := middleware.GenerateToken(user.UserID(), user.Email, &h.config.Auth)
	if err != nil {
		respondError(c, apperr.Wrap(err, apperr.CodeInternal, "failed to generate token"))
		return
	}

	u := session.User{ID: user.UserID(), Email: user.Email, Name: user.Name}
	ctx := logger.WithUser(c.Request.Context(), u.ID)
	w, err := h.sessions.Login(ctx, u)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Info(ctx, "user logged in", "view", w.View())

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      u,
		View:      w.View(),
	})
}

// GetCurrentUser returns the token identity and the workspace view
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID := middleware.GetUserID(c)
	w, err := h.sessions.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"email":  middleware.GetEmail(c),
		"view":   w.View(),
	})
}

// Logout closes the workspace. Tokens are stateless and expire on their own.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
