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

	"docforge/api/internal/app"
	"docforge/api/internal/artifacts"
	"docforge/api/internal/config"
	"docforge/api/internal/email"
	"docforge/api/internal/generate"
	"docforge/api/internal/keyring"
	"docforge/api/internal/notify"
	"docforge/api/internal/search"
	"docforge/api/internal/sharing"
	"docforge/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, time.Minute)
	db, err := store.Open(openCtx, cfg.DatabaseURL)
	cancelOpen()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	cursor := keyring.Cursor(keyring.NewMemoryCursor(cfg.KeyCursorTTL))
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err := keyring.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
		if cfg.KeyRotationAtomic {
			log.Printf("Using Redis for key rotation (atomic increment)")
			cursor = keyring.NewAtomicRedisCursor(redisClient, keyring.DefaultCursorKey, cfg.KeyCursorTTL)
		} else {
			log.Printf("Using Redis for key rotation")
			cursor = keyring.NewRedisCursor(redisClient, keyring.DefaultCursorKey, cfg.KeyCursorTTL)
		}
	} else {
		log.Printf("Using in-process key rotation cursor")
	}
	rotator := keyring.New(cfg.GeminiKeys, cursor)
	if rotator.Size() == 0 {
		log.Printf("WARNING: GEMINI_API_KEYS is empty, generation requests will fail")
	}
	generator := generate.NewGenerator(rotator, generate.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiModel))

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var notifier sharing.Notifier
	switch {
	case strings.TrimSpace(cfg.RabbitMQURL) != "":
		log.Printf("Delivering invitations through RabbitMQ")
		notifier = notify.NewPublisher(cfg.RabbitMQURL)
		if mailer.IsConfigured() {
			consumer := notify.NewConsumer(cfg.RabbitMQURL, mailer)
			go func() {
				if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
					log.Printf("invitation consumer stopped: %v", err)
				}
			}()
		} else {
			log.Printf("WARNING: SMTP is not configured, queued invitations will not be mailed by this process")
		}
	case mailer.IsConfigured():
		log.Printf("Delivering invitations over SMTP")
		notifier = notify.NewDirect(mailer)
	default:
		log.Printf("No mail transport configured, invitations are not delivered")
		notifier = notify.Discard{LogLinks: cfg.LogInviteLinks}
	}

	artifactClient, err := artifacts.NewClient(artifacts.Config{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
		UseSSL:          cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("artifact storage failed: %v", err)
	}
	if !artifactClient.Enabled() {
		log.Printf("MINIO_ENDPOINT is empty, exports are disabled")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	service, err := app.New(cfg, dataStore, app.Options{
		Generator: generator,
		Notifier:  notifier,
		Artifacts: artifactClient,
		Search:    searchService,
	})
	if err != nil {
		log.Fatalf("service setup failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Docforge API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
