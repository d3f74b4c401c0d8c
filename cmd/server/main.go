package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/httpserver"
	"chatsync/internal/logging"
	"chatsync/internal/security"
	"chatsync/internal/service"
	"chatsync/internal/store/postgres"
	"chatsync/internal/store/sqlite"
	"chatsync/internal/ws"
)

type repositories struct {
	db           *sql.DB
	chats        domain.ChatRepository
	participants domain.ParticipantRepository
	messages     domain.MessageRepository
	profiles     domain.ProfileRepository
}

func openStore(cfg *config.Config) (*repositories, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.DatabaseURL())
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		return &repositories{
			db:           db,
			chats:        postgres.NewChatRepo(db),
			participants: postgres.NewParticipantRepo(db),
			messages:     postgres.NewMessageRepo(db),
			profiles:     postgres.NewProfileRepo(db),
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		return &repositories{
			db:           db,
			chats:        sqlite.NewChatRepo(db),
			participants: sqlite.NewParticipantRepo(db),
			messages:     sqlite.NewMessageRepo(db),
			profiles:     sqlite.NewProfileRepo(db),
		}, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.DBDriver)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env == "development")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	repos, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer repos.db.Close()

	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	hub := ws.NewHub(logger)

	router := httpserver.NewRouter(httpserver.Deps{
		Chats:          service.NewChatService(repos.chats, repos.participants, hub, logger),
		Messages:       service.NewMessageService(repos.chats, repos.participants, repos.messages, hub, logger),
		Profiles:       service.NewProfileService(repos.profiles, hub, logger),
		Hub:            hub,
		Tokens:         tokens,
		AllowedOrigins: cfg.AllowedOrigins(),
		Log:            logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("app", cfg.AppName), zap.String("addr", cfg.HTTPAddr()), zap.String("driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
