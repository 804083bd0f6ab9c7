package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"customer-auth/internal/admin"
	"customer-auth/internal/config"
	"customer-auth/internal/exporter"
	apphttp "customer-auth/internal/http"
	"customer-auth/internal/repository/sqlite"
	"customer-auth/internal/service"
	"customer-auth/internal/storage"
	"customer-auth/internal/users"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	exportRepo := sqlite.NewExportJobRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := exportRepo.Init(ctx); err != nil {
		logger.Fatalf("init export repository: %v", err)
	}

	userService := service.NewUserService(userRepo, cfg.Auth.BcryptCost)
	exportService := service.NewExportService(exportRepo)

	if cfg.Admin.Email != "" {
		user, created, err := userService.EnsureSuperuser(ctx, cfg.Admin.Email, cfg.Admin.Username, cfg.Admin.Password)
		if err != nil {
			logger.Fatalf("bootstrap admin account: %v", err)
		}
		if created {
			logger.Infof("created admin account %s", user.Email)
		}
	}

	site := admin.NewSite("User administration")
	if err := users.Register(site, userService); err != nil {
		logger.Fatalf("register user admin: %v", err)
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	manager := exporter.NewManager(exporter.Config{
		Bucket:        cfg.Export.Bucket,
		KeyPrefix:     cfg.Export.KeyPrefix,
		MaxConcurrent: cfg.Export.MaxConcurrent,
		Logger:        logger,
	}, site, exportService, storageSvc)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start export manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume exports: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := apphttp.NewEngine(logger, cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatalf("configure router: %v", err)
	}
	handler := apphttp.NewHandler(apphttp.Options{
		Site:           site,
		Users:          userService,
		Exports:        exportService,
		Exporter:       manager,
		Storage:        storageSvc,
		Bucket:         cfg.Export.Bucket,
		JWTSecret:      cfg.Auth.JWTSecret,
		TokenTTL:       time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
		LoginRateLimit: cfg.Auth.LoginRateLimit,
		Logger:         logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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
	manager.Shutdown()

	logger.Info("bye")
}

// buildStorage returns nil when no export bucket is configured; exports are
// then refused rather than failing startup.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Export.Bucket == "" {
		logger.Warn("no export bucket configured, changelist exports disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Export.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Export.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Export.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Export.Bucket, cfg.Export.Region)
	return storage.NewS3Service(client), nil
}
