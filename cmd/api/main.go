package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"civicgate/api/internal/app"
	"civicgate/api/internal/authpw"
	"civicgate/api/internal/config"
	"civicgate/api/internal/docstore"
	"civicgate/api/internal/email"
	"civicgate/api/internal/ledger"
	"civicgate/api/internal/payments"
	"civicgate/api/internal/search"
	"civicgate/api/internal/session"
	"civicgate/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.LedgerDir, 0o755); err != nil {
		log.Fatalf("failed to create ledger dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	auditLedger := ledger.New(cfg.LedgerDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	var sessions interface {
		SaveRefreshSession(context.Context, string, store.Profile, time.Time) error
		LookupRefreshSession(context.Context, string) (store.Profile, error)
		RevokeRefreshSession(context.Context, string) error
	} = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	service := app.New(cfg, dataStore, sessions, auditLedger).
		WithSearch(searchService).
		WithAuthPassword(authpw.NewService(dataStore))

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	service.WithEmail(emailService)
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured; verification and reset tokens are returned in API responses")
	}

	if cfg.FinixUsername != "" {
		service.WithPaymentGateway(payments.NewClient(payments.Config{
			BaseURL:  cfg.FinixURL,
			Username: cfg.FinixUsername,
			Password: cfg.FinixPassword,
		}))
	} else {
		log.Printf("Finix credentials not set; payments disabled")
	}

	if cfg.MinioEndpoint != "" {
		docs, err := docstore.New(ctx, docstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		service.WithDocstore(docs)
	} else {
		log.Printf("Minio endpoint not set; document storage disabled")
	}

	// Catch anything that went overdue while the API was down. The admin
	// endpoint handles the steady state.
	if expired, err := service.ExpireOverdueApplications(ctx); err != nil {
		log.Printf("startup expiry sweep failed: %v", err)
	} else if expired > 0 {
		log.Printf("startup expiry sweep expired %d overdue applications", expired)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CivicGate API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
