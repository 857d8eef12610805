package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailwatch/internal/api"
	"mailwatch/internal/classifier"
	"mailwatch/internal/config"
	"mailwatch/internal/listener"
	"mailwatch/internal/processor"
	"mailwatch/internal/registry"
	"mailwatch/internal/repository"
	"mailwatch/internal/sms"
	"mailwatch/internal/vault"
	"mailwatch/pkg/db"
	"mailwatch/pkg/logger"
	"mailwatch/pkg/mq"
	"mailwatch/pkg/outbox"
	"mailwatch/pkg/redis"
	"mailwatch/pkg/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the mailbox listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting mailwatch", zap.String("env", configEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn, log); err != nil {
		log.Fatal("DB migration failed", zap.Error(err))
	}

	// Vault
	v, err := vault.New(cfg.Vault.Passphrase, log)
	if err != nil {
		log.Fatal("Vault initialization failed", zap.Error(err))
	}

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	settingsRepo := repository.NewSettingsRepository(dbConn)
	emailRepo := repository.NewProcessedEmailRepository(dbConn, outboxRepo)
	statsRepo := repository.NewStatsRepository(dbConn)

	// Classifier
	var provider classifier.Provider
	if classifier.IsPlaceholderKey(cfg.Classifier.APIKey) {
		log.Warn("Classifier API key not configured, every email gets the default verdict")
	} else {
		provider = classifier.NewGeminiProvider(cfg.Classifier.APIKey, cfg.Classifier.Model, cfg.Classifier.BaseURL, cfg.Classifier.Timeout)
	}
	classifierClient := classifier.NewClient(provider, cfg.Classifier.MaxAttempts, log)

	// SMS
	smsClient := sms.NewClient(cfg.SMS, settingsRepo, v, log)

	// Alert dedup is best effort; without Redis every alert goes out.
	var dedup processor.Deduper
	if rdb, err := redis.NewRedisClient(cfg.Redis, log); err != nil {
		log.Warn("Redis unavailable, alert dedup disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		dedup = util.NewDeduperWithLogger(rdb, cfg.SMS.DedupTTL, log)
	}

	proc := processor.New(classifierClient, smsClient, emailRepo, dedup, log)

	// Outbox dispatcher, only when a broker is configured
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("MQ publisher unavailable, outbox events stay pending", zap.Error(err))
		} else {
			defer publisher.Close()
			dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
			go dispatcher.Start(ctx)
		}
	}

	// Listeners
	resolver := listener.NewCredentialResolver(settingsRepo, v, cfg.IMAP)
	listeners := registry.New(func(userID string) registry.Watcher {
		return listener.New(userID, cfg.Listener, resolver, proc, log)
	}, log)

	if cfg.Listener.Autostart {
		autostart(ctx, listeners, settingsRepo, log)
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(
		api.NewListenerHandler(listeners, smsClient, log),
		api.NewEmailQueryHandler(emailRepo, statsRepo, log),
		api.NewSettingsHandler(settingsRepo, v, log),
		dbConn,
		cfg.JWT.Secret,
		log,
	)
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	listeners.StopAll()
	cancel()

	log.Info("Shutdown complete")
	return nil
}

type userLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// autostart starts a listener for every user with stored settings. Users whose
// settings are incomplete are logged and skipped.
func autostart(ctx context.Context, listeners *registry.Registry, users userLister, log *zap.Logger) {
	ids, err := users.ListUserIDs(ctx)
	if err != nil {
		log.Error("Failed to list users for autostart", zap.Error(err))
		return
	}

	for _, id := range ids {
		if _, err := listeners.StartForUser(ctx, id); err != nil {
			log.Warn("Listener autostart skipped", zap.String("user_id", id), zap.Error(err))
		}
	}
	log.Info("Listeners autostarted", zap.Int("users", len(ids)))
}
