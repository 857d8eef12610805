package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailwatch/contracts/db"
)

type SettingsStore interface {
	Get(ctx context.Context, userID string) (*db.UserSettings, error)
	Upsert(ctx context.Context, s *db.UserSettings) error
}

// Encrypter seals secrets before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

type SettingsHandler struct {
	settings SettingsStore
	vault    Encrypter
	logger   *zap.Logger
}

func NewSettingsHandler(settings SettingsStore, vault Encrypter, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, vault: vault, logger: logger}
}

type saveSettingsRequest struct {
	IMAPHost     string `json:"imap_host" binding:"required"`
	IMAPPort     int    `json:"imap_port" binding:"required,min=1,max=65535"`
	IMAPUser     string `json:"imap_user" binding:"required"`
	IMAPPassword string `json:"imap_password" binding:"required"`
	SMSRecipient string `json:"sms_recipient"`
	SMSToken     string `json:"sms_token"`
}

// GetMine handles GET /settings/me. Secrets are never returned.
func (h *SettingsHandler) GetMine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	s, err := h.settings.Get(c.Request.Context(), userID)
	if errors.Is(err, db.ErrSettingsNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "settings not found", "setup_required": true})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load settings", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"settings":          s,
		"sms_token_present": s.SMSTokenEncrypted != "",
	})
}

// Save handles POST /settings. A running listener picks the new credentials
// up on its next reconnect.
func (h *SettingsHandler) Save(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req saveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "required fields: imap_host, imap_port, imap_user, imap_password"})
		return
	}

	s := &db.UserSettings{
		UserID:       userID,
		IMAPHost:     strings.TrimSpace(req.IMAPHost),
		IMAPPort:     req.IMAPPort,
		IMAPUser:     strings.TrimSpace(req.IMAPUser),
		SMSRecipient: strings.TrimSpace(req.SMSRecipient),
	}

	var err error
	if s.IMAPPasswordEncrypted, err = h.vault.Encrypt(req.IMAPPassword); err != nil {
		h.logger.Error("Failed to encrypt imap password", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}
	if req.SMSToken != "" {
		if s.SMSTokenEncrypted, err = h.vault.Encrypt(req.SMSToken); err != nil {
			h.logger.Error("Failed to encrypt sms token", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
			return
		}
	}

	if err := h.settings.Upsert(c.Request.Context(), s); err != nil {
		h.logger.Error("Failed to save settings", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": s})
}
