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

	"atelier/api/internal/app"
	"atelier/api/internal/authpw"
	"atelier/api/internal/blob"
	"atelier/api/internal/config"
	"atelier/api/internal/email"
	"atelier/api/internal/export"
	"atelier/api/internal/gallery"
	"atelier/api/internal/identity"
	"atelier/api/internal/search"
	"atelier/api/internal/session"
	"atelier/api/internal/store"
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

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured, new accounts auto-verify")
	}
	accounts := authpw.NewService(dataStore, !emailService.IsConfigured())

	policy := adminPolicy(cfg)
	resolver := identity.NewResolver(accounts, policy,
		identity.TokenBootstrap([]byte(cfg.JWTSecret), dataStore))

	// Redis backs both refresh sessions and the live gallery feed; without
	// it, sessions live in Postgres and the feed stays in-process.
	var feed gallery.Feed
	deps := app.Deps{
		Store:    dataStore,
		Sessions: dataStore,
		Resolver: resolver,
		Accounts: accounts,
		Search:   searchService,
		Email:    emailService,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage and the gallery feed")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore

		redisFeed, err := gallery.NewRedisFeed(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis feed failed: %v", err)
		}
		defer redisFeed.Close()
		feed = redisFeed
	} else {
		log.Printf("Using PostgreSQL for refresh token storage and an in-process gallery feed")
		feed = gallery.NewMemoryFeed()
	}

	var blobStore gallery.BlobStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := blob.NewMinioStore(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			PublicURL: cfg.MinioPublicURL,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		log.Printf("Storing uploaded images in MinIO bucket %s", cfg.MinioBucket)
		blobStore = minioStore
	} else {
		log.Printf("No object storage configured, uploads embed as data URLs")
	}

	gateway := gallery.NewGateway(dataStore, feed, policy, blobStore, cfg.MaxUploadBytes())
	sync := gallery.NewSynchronizer(dataStore, feed, gateway)

	deps.Sync = sync
	deps.Gateway = gateway
	deps.Export = export.NewService(cfg.ArtistName)

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: the artwork feed holds event-stream
		// connections open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Atelier API listening on %s", cfg.Addr)
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

func adminPolicy(cfg config.Config) identity.Policy {
	switch cfg.AdminPolicy {
	case "any-authenticated":
		return identity.AnyAuthenticated()
	default:
		if cfg.AdminEmail == "" {
			log.Printf("WARNING: ATELIER_ADMIN_EMAIL unset, no account can administer the gallery")
		}
		return identity.AdminEmail(cfg.AdminEmail)
	}
}
