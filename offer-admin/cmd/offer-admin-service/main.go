package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/auth"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/billing"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/ci"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/configsvc"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/config"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/configsync"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/db"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/events"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/export"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/httpserver"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/lock"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/pending"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/promotion"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

const remoteTimeout = 15 * time.Second

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}
	defer conn.Close()
	st := store.NewPGStore(conn)

	storeRetrier := cfg.Retry.Retrier("store", logger)
	mutex := lock.New(st, storeRetrier, lock.Config{StaleAfter: cfg.LockStaleAfter, Owner: cfg.InstanceID}, logger)
	tracker := pending.NewTracker(st, storeRetrier, cfg.PendingTTL, logger)

	deps := promotion.Deps{
		Store:        st,
		Locker:       mutex,
		Tracker:      tracker,
		Retrier:      storeRetrier,
		Logger:       logger,
		AutoValidate: cfg.AutoValidate,
	}
	if len(cfg.Billing) > 0 {
		deps.Billing = newBilling(cfg, logger)
	} else {
		logger.Printf("[startup] billing not configured; entities only update local state")
	}
	if cfg.CI.BaseURL != "" {
		client, err := ci.New(ci.Config{
			BaseURL: cfg.CI.BaseURL,
			Token:   cfg.CI.Token,
			Plans:   cfg.CI.Plans,
			Timeout: remoteTimeout,
		}, cfg.Retry.Retrier(ci.System, logger))
		if err != nil {
			logger.Fatalf("ci client init: %v", err)
		}
		deps.CI = client
	} else {
		logger.Printf("[startup] CI not configured; validation requests will be rejected")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewProducer(events.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			logger.Fatalf("kafka producer init: %v", err)
		}
		defer producer.Close()
		deps.Events = events.NewPublisher(producer, cfg.Kafka.TransitionTopic, cfg.Kafka.CacheTopic)
	} else {
		deps.Events = events.LogPublisher{Logger: logger}
	}
	svc := promotion.New(deps)

	var configs *configsync.Service
	if len(cfg.ConfigService) > 0 {
		configs = newConfigSync(ctx, cfg, st, logger)
	}

	var exporter *export.Exporter
	if artifacts := newArtifactStore(ctx, cfg.Export, logger); artifacts != nil {
		exporter = export.New(st, tracker, artifacts, logger)
	}

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		PublicKeysFile: cfg.Auth.PublicKeysFile,
		Issuer:         cfg.Auth.Issuer,
		RequiredRole:   cfg.Auth.RequiredRole,
		OIDCIssuerURL:  cfg.Auth.OIDCIssuerURL,
		OIDCClientID:   cfg.Auth.OIDCClientID,
		DevAllowLocal:  cfg.Auth.DevAllowLocal,
	})
	if err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	server := httpserver.New(httpserver.Deps{
		Store:                st,
		Promotion:            svc,
		Configs:              configs,
		Locks:                mutex,
		Exports:              exporter,
		Auth:                 verifier,
		WebhookSecret:        cfg.CI.WebhookSecret,
		WebhookSkew:          cfg.CI.WebhookSkew,
		AllowUnsignedWebhook: cfg.Auth.DevAllowLocal,
		Logger:               logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("offer admin service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer, logger)
}

func newBilling(cfg config.Config, logger *log.Logger) *billing.Client {
	sites := make(map[models.Env]billing.Site, len(cfg.Billing))
	for env, s := range cfg.Billing {
		sites[env] = billing.Site{BaseURL: s.BaseURL, APIKey: s.APIKey}
	}
	client, err := billing.New(billing.Config{Sites: sites, Timeout: remoteTimeout}, cfg.Retry.Retrier(billing.System, logger))
	if err != nil {
		logger.Fatalf("billing client init: %v", err)
	}
	return client
}

func newConfigSync(ctx context.Context, cfg config.Config, st store.ConfigStore, logger *log.Logger) *configsync.Service {
	endpoints := make(map[models.Env]configsvc.Endpoint, len(cfg.ConfigService))
	for env, e := range cfg.ConfigService {
		endpoints[env] = configsvc.Endpoint{
			BaseURL:      e.BaseURL,
			TokenURL:     e.TokenURL,
			ClientID:     e.ClientID,
			ClientSecret: e.ClientSecret,
			Scopes:       e.Scopes,
		}
	}
	client, err := configsvc.New(ctx, configsvc.Config{Endpoints: endpoints, Timeout: remoteTimeout}, cfg.Retry.Retrier(configsvc.System, logger))
	if err != nil {
		logger.Fatalf("config service client init: %v", err)
	}
	return configsync.New(st, client, logger)
}

// newArtifactStore returns nil when exports are disabled.
func newArtifactStore(ctx context.Context, cfg config.ExportConfig, logger *log.Logger) export.ArtifactStore {
	switch cfg.Backend {
	case "s3":
		s, err := export.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			logger.Fatalf("s3 export store init: %v", err)
		}
		return s
	case "minio":
		s, err := export.NewMinIOStore(ctx, export.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Region:    cfg.MinIORegion,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
		})
		if err != nil {
			logger.Fatalf("minio export store init: %v", err)
		}
		return s
	}
	logger.Printf("[startup] EXPORT_BACKEND not set; exports disabled")
	return nil
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server, logger *log.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
