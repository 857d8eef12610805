package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailwatch/contracts/db"
)

type EmailLister interface {
	List(ctx context.Context, filter db.EmailFilter) ([]db.ProcessedEmail, error)
}

type StatsReader interface {
	DailyStats(ctx context.Context, userID string, days int) ([]db.DailyStats, error)
	GeneralStats(ctx context.Context, userID string) (*db.GeneralStats, error)
}

type EmailQueryHandler struct {
	emails EmailLister
	stats  StatsReader
	logger *zap.Logger
}

func NewEmailQueryHandler(emails EmailLister, stats StatsReader, logger *zap.Logger) *EmailQueryHandler {
	return &EmailQueryHandler{
		emails: emails,
		stats:  stats,
		logger: logger,
	}
}

// GetEmails handles GET /emails
func (h *EmailQueryHandler) GetEmails(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	filter, err := parseEmailFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.UserID = userID

	emails, err := h.emails.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list emails", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emails"})
		return
	}
	if emails == nil {
		emails = []db.ProcessedEmail{}
	}

	c.JSON(http.StatusOK, gin.H{
		"emails": emails,
		"count":  len(emails),
	})
}

// GetDailyStats handles GET /stats/daily?days=N
func (h *EmailQueryHandler) GetDailyStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		days = n
	}

	stats, err := h.stats.DailyStats(c.Request.Context(), userID, days)
	if err != nil {
		h.logger.Error("Failed to load daily stats", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	if stats == nil {
		stats = []db.DailyStats{}
	}
	c.JSON(http.StatusOK, gin.H{"days": stats})
}

// GetSummary handles GET /stats/summary
func (h *EmailQueryHandler) GetSummary(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	stats, err := h.stats.GeneralStats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load summary", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func parseEmailFilter(c *gin.Context) (db.EmailFilter, error) {
	var f db.EmailFilter

	if imp := strings.ToLower(strings.TrimSpace(c.Query("importance"))); imp != "" {
		switch imp {
		case db.ImportanceHigh, db.ImportanceMedium, db.ImportanceLow:
			f.Importance = imp
		default:
			return f, badRequest("importance must be high, medium or low")
		}
	}
	f.From = strings.TrimSpace(c.Query("from"))

	var err error
	if f.DateFrom, err = parseDateParam(c.Query("date_from")); err != nil {
		return f, badRequest("invalid date_from")
	}
	if f.DateTo, err = parseDateParam(c.Query("date_to")); err != nil {
		return f, badRequest("invalid date_to")
	}

	if raw := c.Query("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			return f, badRequest("invalid limit")
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if f.Offset, err = strconv.Atoi(raw); err != nil {
			return f, badRequest("invalid offset")
		}
	}
	return f, nil
}

// parseDateParam accepts RFC 3339 or a bare YYYY-MM-DD date.
func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
