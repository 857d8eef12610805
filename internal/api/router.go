// Package api exposes listener control and processed email queries over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(listenerHandler *ListenerHandler, emailQueryHandler *EmailQueryHandler, settingsHandler *SettingsHandler, db Pinger, jwtSecret string, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware(), LoggerMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db not ready"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/listener/start", listenerHandler.Start)
		auth.POST("/listener/stop", listenerHandler.Stop)
		auth.GET("/listener/status", listenerHandler.Status)
		auth.POST("/listener/test", listenerHandler.Test)
		auth.GET("/listener/mailbox", listenerHandler.Mailbox)
		auth.POST("/sms/test", listenerHandler.TestSMS)
		auth.GET("/sms/status", listenerHandler.SMSStatus)

		auth.GET("/emails", emailQueryHandler.GetEmails)
		auth.GET("/stats/daily", emailQueryHandler.GetDailyStats)
		auth.GET("/stats/summary", emailQueryHandler.GetSummary)

		auth.GET("/settings/me", settingsHandler.GetMine)
		auth.POST("/settings", settingsHandler.Save)
	}

	return &Router{Engine: r}
}
