package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/filipjov/askoro/internal/config"
	"github.com/filipjov/askoro/internal/handler"
	"github.com/filipjov/askoro/internal/pkg/confluence"
	"github.com/filipjov/askoro/internal/pkg/github"
	"github.com/filipjov/askoro/internal/pkg/googledrive"
	"github.com/filipjov/askoro/internal/pkg/logger"
	"github.com/filipjov/askoro/internal/pkg/notion"
	"github.com/filipjov/askoro/internal/repository"
	"github.com/filipjov/askoro/internal/server"
	"github.com/filipjov/askoro/internal/server/middleware"
	"github.com/filipjov/askoro/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.OpenDB(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewConnectionRepository(db)
	if err := repo.Init(ctx); err != nil {
		return err
	}

	awsCfg, err := repository.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	store := repository.NewS3Store(awsCfg, cfg.AWS.Bucket)
	retrieval := repository.NewRetrievalClient(awsCfg)

	githubClient := github.NewClient()
	confluenceClient := confluence.NewClient()
	notionClient := notion.NewClient()
	driveClient := googledrive.NewClient(&oauth2.Config{
		ClientID:     cfg.OAuth.Google.ClientID,
		ClientSecret: cfg.OAuth.Google.ClientSecret,
		RedirectURL:  cfg.OAuth.Google.RedirectURI,
		Scopes:       strings.Fields(cfg.OAuth.Google.Scopes),
		Endpoint:     google.Endpoint,
	})

	syncService := service.NewSyncService(cfg, repo, store, githubClient, confluenceClient, notionClient, driveClient)
	oauthService := service.NewOAuthService(cfg, repo, syncService, githubClient, confluenceClient, notionClient, driveClient)
	connectionService := service.NewConnectionService(repo, driveClient)
	kbService := service.NewKnowledgeBaseService(cfg, retrieval, store)
	slackService := service.NewSlackService(cfg, kbService)

	var limiter *middleware.RateLimiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = middleware.NewRateLimiter(rdb)
	}

	router := server.NewRouter(cfg, server.Handlers{
		OAuth:         handler.NewOAuthHandler(oauthService),
		Sync:          handler.NewSyncHandler(syncService),
		DataSource:    handler.NewDataSourceHandler(connectionService),
		KnowledgeBase: handler.NewKnowledgeBaseHandler(kbService),
		Slack:         handler.NewSlackHandler(slackService),
	}, limiter)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
