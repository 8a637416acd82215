package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"aria2bot/internal/aria2"
	"aria2bot/internal/cloud"
	"aria2bot/internal/config"
	apphttp "aria2bot/internal/http"
	"aria2bot/internal/monitor"
	"aria2bot/internal/notify"
	"aria2bot/internal/repository"
	"aria2bot/internal/repository/sqlite"
	"aria2bot/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.RegisterPassword) == "" {
		logger.Fatalf("auth registration password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	settingsRepo := sqlite.NewSettingsRepository(db)
	userRepo := sqlite.NewUserRepository(db)

	if err := settingsRepo.Init(ctx); err != nil {
		logger.Fatalf("init settings repository: %v", err)
	}
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	settingsSvc, err := service.NewSettingsService(ctx, settingsRepo,
		repository.BackendSettings{
			Enabled:           cfg.Storage.Enabled,
			AutoUpload:        cfg.Storage.AutoUpload,
			DeleteAfterUpload: cfg.Storage.DeleteAfterUpload,
			Destination:       cfg.Storage.Bucket,
		},
		repository.BackendSettings{
			Enabled:           cfg.Channel.Enabled,
			AutoUpload:        cfg.Channel.AutoUpload,
			DeleteAfterUpload: cfg.Channel.DeleteAfterUpload,
			Destination:       cfg.Channel.ID,
		},
	)
	if err != nil {
		logger.Fatalf("setup settings service: %v", err)
	}
	userService := service.NewUserService(userRepo, cfg.Auth.RegisterPassword)

	sink := notify.NewLogSink(logger)

	// Backends are built whenever they are buildable; whether they act is
	// decided by the merged settings flags at invocation time, so a toggle
	// persisted through the API works immediately and after a restart.
	var remote cloud.Backend
	if cfg.Storage.Bucket != "" {
		remote, err = buildS3Backend(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup s3 backend: %v", err)
		}
	}
	channel := cloud.NewChannelBackend(sink, settingsSvc.ChannelDestination, cfg.Channel.SelfHostedAPI, logger)

	coordinator := cloud.NewCoordinator(remote, channel, settingsSvc, sink, cfg.Aria2.DownloadDir, logger)

	rpc := aria2.NewClient(cfg.Aria2.RPCURL, cfg.Aria2.Secret)
	supervisor := aria2.NewSupervisor(cfg.Aria2.BinPath, cfg.Aria2.ConfPath, cfg.Aria2.UnitPath, logger)

	guards := monitor.NewGuards()
	watcher := monitor.NewWatcher(rpc, sink, guards, logger)
	refresher := monitor.NewRefresher(rpc, sink, guards, coordinator, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	auth := apphttp.NewAuthHandler(userService, cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	handler := apphttp.NewHandler(
		ctx,
		rpc,
		supervisor,
		coordinator,
		watcher,
		refresher,
		settingsSvc,
		auth,
		cfg.Aria2.LogPath,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	refresher.StopAll()
	watcher.Wait()

	logger.Info("bye")
}

func buildS3Backend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*cloud.S3Backend, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return cloud.NewS3Backend(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix), nil
}
