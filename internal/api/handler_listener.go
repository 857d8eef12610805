package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailwatch/internal/listener"
	"mailwatch/internal/sms"
	"mailwatch/pkg/logger"
)

// ListenerService is the registry as seen by the HTTP layer.
type ListenerService interface {
	StartForUser(ctx context.Context, userID string) (listener.Status, error)
	StopForUser(userID string) listener.Status
	StatusForUser(userID string) listener.Status
	TestForUser(ctx context.Context, userID string) error
	MailboxStatsForUser(ctx context.Context, userID string) (listener.MailboxStats, error)
}

// AlertService is the SMS gateway as seen by the HTTP layer.
type AlertService interface {
	SendTest(ctx context.Context, userID string) sms.Result
	IsConfigured(ctx context.Context, userID string) bool
	Recipients(ctx context.Context, userID string) []string
}

type ListenerHandler struct {
	listeners ListenerService
	alerts    AlertService
	logger    *zap.Logger
}

func NewListenerHandler(listeners ListenerService, alerts AlertService, logger *zap.Logger) *ListenerHandler {
	return &ListenerHandler{listeners: listeners, alerts: alerts, logger: logger}
}

// Start godoc
// POST /listener/start
func (h *ListenerHandler) Start(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	status, err := h.listeners.StartForUser(c.Request.Context(), userID)
	if err != nil {
		var cfgErr *listener.ConfigError
		if errors.As(err, &cfgErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": cfgErr.Error(), "status": status})
			return
		}
		h.logger.Error("Failed to start listener", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start listener", "status": status})
		return
	}

	c.JSON(http.StatusOK, status)
}

// POST /listener/stop
func (h *ListenerHandler) Stop(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	c.JSON(http.StatusOK, h.listeners.StopForUser(userID))
}

// GET /listener/status
func (h *ListenerHandler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	c.JSON(http.StatusOK, h.listeners.StatusForUser(userID))
}

// POST /listener/test
func (h *ListenerHandler) Test(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	if err := h.listeners.TestForUser(c.Request.Context(), userID); err != nil {
		code := http.StatusBadGateway
		if listener.IsConfigError(err) {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /listener/mailbox
func (h *ListenerHandler) Mailbox(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	stats, err := h.listeners.MailboxStatsForUser(c.Request.Context(), userID)
	if err != nil {
		code := http.StatusBadGateway
		if listener.IsConfigError(err) {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /sms/test
func (h *ListenerHandler) TestSMS(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	res := h.alerts.SendTest(c.Request.Context(), userID)
	if !res.Success {
		code := http.StatusBadGateway
		if res.Kind == sms.KindNotConfigured || res.Kind == sms.KindSettings {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /sms/status
func (h *ListenerHandler) SMSStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	ctx := c.Request.Context()
	recipients := h.alerts.Recipients(ctx, userID)
	masked := make([]string, 0, len(recipients))
	for _, r := range recipients {
		masked = append(masked, logger.MaskPhone(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"configured": h.alerts.IsConfigured(ctx, userID),
		"recipients": masked,
	})
}
