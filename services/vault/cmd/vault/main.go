package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"photovault/internal/util"
	"photovault/pkg/storage"
	"photovault/pkg/store"
	"photovault/services/vault/internal/app"
	"photovault/services/vault/internal/config"
	"photovault/services/vault/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCore, err := app.New(ctx, app.Config{
		StoreDriver:   cfg.StoreDriver,
		SQLitePath:    cfg.SQLitePath,
		DatabaseURL:   cfg.DatabaseURL,
		AdminSeed:     store.AdminSeed{Email: cfg.AdminEmail, Name: cfg.AdminName},
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RemotePrefix:  cfg.RemotePrefix,
		QueueStream:   cfg.QueueStream,
		ObjectDriver:  cfg.ObjectDriver,
		Minio: storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		},
		VisionBaseURL: cfg.VisionBaseURL,
		VisionAPIKey:  cfg.VisionAPIKey,
		StageTTL:      time.Duration(cfg.StageTTLSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if err := appCore.Init(ctx); err != nil {
		log.Fatalf("failed to seed administrator: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		AnnotateRateLimitPerMinute: cfg.AnnotateRateLimitPerMinute,
		TrustedProxies:             cfg.TrustedProxies,
		MaxImportBytes:             cfg.MaxImportBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("vault server listening", "addr", addr, "store", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
