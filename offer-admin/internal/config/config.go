package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
)

type Config struct {
	Addr           string
	DatabaseURL    string
	DatabaseDriver string
	DBMaxOpenConns int
	InstanceID     string
	Production     bool

	LockStaleAfter time.Duration
	PendingTTL     time.Duration
	AutoValidate   bool
	Retry          retry.Set

	Billing       map[models.Env]BillingSite
	CI            CIConfig
	ConfigService map[models.Env]ConfigEndpoint
	Kafka         KafkaConfig
	Export        ExportConfig
	Auth          AuthConfig
}

type BillingSite struct {
	BaseURL string
	APIKey  string
}

type CIConfig struct {
	BaseURL       string
	Token         string
	Plans         map[models.Env]string
	WebhookSecret string
	WebhookSkew   time.Duration
}

type ConfigEndpoint struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type KafkaConfig struct {
	Brokers         []string
	TransitionTopic string
	CacheTopic      string
}

type ExportConfig struct {
	Backend        string
	S3Bucket       string
	S3Prefix       string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIORegion    string
	MinIOUseSSL    bool
	MinIOBucket    string
}

type AuthConfig struct {
	PublicKeysFile string
	Issuer         string
	RequiredRole   string
	OIDCIssuerURL  string
	OIDCClientID   string
	DevAllowLocal  bool
}

const (
	defaultAddr         = ":8070"
	defaultDriver       = "postgres"
	defaultMaxOpenConns = 10
	defaultStaleAfter   = 30 * time.Second
	defaultPendingTTL   = 15 * time.Minute
	defaultWebhookSkew  = 5 * time.Minute
	defaultRequiredRole = "offer-admin"
)

func Load() (Config, error) {
	host, _ := os.Hostname()
	cfg := Config{
		Addr:           getEnv("OFFER_ADMIN_ADDR", defaultAddr),
		DatabaseURL:    firstNonEmpty(os.Getenv("OFFER_ADMIN_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", defaultDriver)),
		DBMaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		InstanceID:     getEnv("OFFER_ADMIN_INSTANCE_ID", host),
		Production:     firstNonEmpty(os.Getenv("OFFER_ADMIN_ENV"), os.Getenv("NODE_ENV")) == "production",
		LockStaleAfter: getDuration("OFFER_ADMIN_LOCK_STALE_AFTER", defaultStaleAfter),
		PendingTTL:     getDuration("OFFER_ADMIN_PENDING_TTL", defaultPendingTTL),
		AutoValidate:   getBool("OFFER_ADMIN_AUTO_VALIDATE", true),
		Retry:          retry.Set{Default: retry.DefaultPolicy()},
		Billing:        map[models.Env]BillingSite{},
		CI: CIConfig{
			BaseURL:       os.Getenv("CI_BASE_URL"),
			Token:         os.Getenv("CI_TOKEN"),
			Plans:         map[models.Env]string{},
			WebhookSecret: os.Getenv("CI_WEBHOOK_SECRET"),
			WebhookSkew:   getDuration("CI_WEBHOOK_MAX_SKEW", defaultWebhookSkew),
		},
		ConfigService: map[models.Env]ConfigEndpoint{},
		Kafka: KafkaConfig{
			Brokers:         parseCSV(os.Getenv("KAFKA_BROKERS")),
			TransitionTopic: os.Getenv("OFFER_ADMIN_TRANSITION_TOPIC"),
			CacheTopic:      os.Getenv("OFFER_ADMIN_CACHE_TOPIC"),
		},
		Export: ExportConfig{
			Backend:        strings.ToLower(os.Getenv("EXPORT_BACKEND")),
			S3Bucket:       os.Getenv("EXPORT_S3_BUCKET"),
			S3Prefix:       os.Getenv("EXPORT_S3_PREFIX"),
			MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinIORegion:    getEnv("MINIO_REGION", "us-east-1"),
			MinIOUseSSL:    getBool("MINIO_USE_SSL", false),
			MinIOBucket:    getEnv("MINIO_BUCKET", "offer-admin-exports"),
		},
		Auth: AuthConfig{
			PublicKeysFile: os.Getenv("OFFER_ADMIN_OPERATOR_KEYS_FILE"),
			Issuer:         os.Getenv("OFFER_ADMIN_TOKEN_ISSUER"),
			RequiredRole:   getEnv("OFFER_ADMIN_REQUIRED_ROLE", defaultRequiredRole),
			OIDCIssuerURL:  os.Getenv("OIDC_ISSUER_URL"),
			OIDCClientID:   os.Getenv("OIDC_CLIENT_ID"),
			DevAllowLocal:  getBool("OFFER_ADMIN_DEV_ALLOW_LOCAL", false),
		},
	}

	scopes := parseCSV(os.Getenv("CONFIG_SERVICE_SCOPES"))
	for _, env := range []models.Env{models.EnvStaging, models.EnvProduction} {
		prefix := string(env)
		if url := os.Getenv("BILLING_" + prefix + "_URL"); url != "" {
			cfg.Billing[env] = BillingSite{BaseURL: url, APIKey: os.Getenv("BILLING_" + prefix + "_API_KEY")}
		}
		if plan := os.Getenv("CI_" + prefix + "_PLAN"); plan != "" {
			cfg.CI.Plans[env] = plan
		}
		if url := os.Getenv("CONFIG_SERVICE_" + prefix + "_URL"); url != "" {
			cfg.ConfigService[env] = ConfigEndpoint{
				BaseURL:      url,
				TokenURL:     os.Getenv("CONFIG_SERVICE_" + prefix + "_TOKEN_URL"),
				ClientID:     os.Getenv("CONFIG_SERVICE_" + prefix + "_CLIENT_ID"),
				ClientSecret: os.Getenv("CONFIG_SERVICE_" + prefix + "_CLIENT_SECRET"),
				Scopes:       scopes,
			}
		}
	}

	if path := os.Getenv("OFFER_ADMIN_RETRY_POLICY_FILE"); path != "" {
		set, err := LoadRetryPolicies(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Retry = set
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or OFFER_ADMIN_DATABASE_URL required")
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "pgx" {
		return Config{}, fmt.Errorf("DATABASE_DRIVER must be postgres or pgx, got %q", cfg.DatabaseDriver)
	}
	switch cfg.Export.Backend {
	case "", "s3", "minio":
	default:
		return Config{}, fmt.Errorf("EXPORT_BACKEND must be s3 or minio, got %q", cfg.Export.Backend)
	}
	if cfg.Export.Backend == "s3" && cfg.Export.S3Bucket == "" {
		return Config{}, fmt.Errorf("EXPORT_S3_BUCKET required when EXPORT_BACKEND=s3")
	}
	if cfg.Production && cfg.Auth.DevAllowLocal {
		return Config{}, fmt.Errorf("OFFER_ADMIN_DEV_ALLOW_LOCAL must not be set in production")
	}
	if cfg.Production && cfg.CI.WebhookSecret == "" {
		return Config{}, fmt.Errorf("CI_WEBHOOK_SECRET required in production")
	}
	return cfg, nil
}

// LoadRetryPolicies reads per-system retry policies from a YAML file:
//
//	default: {attempts: 3, initialBackoff: 200ms, maxBackoff: 2s}
//	systems:
//	  billing: {attempts: 5, initialBackoff: 500ms, maxBackoff: 5s}
//
// Missing fields fall back to the built-in default.
func LoadRetryPolicies(path string) (retry.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return retry.Set{}, fmt.Errorf("read retry policy file: %w", err)
	}
	set := retry.Set{Default: retry.DefaultPolicy()}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return retry.Set{}, fmt.Errorf("parse retry policy file %s: %w", path, err)
	}
	set.Default = fillPolicy(set.Default, retry.DefaultPolicy())
	for name, p := range set.Systems {
		set.Systems[name] = fillPolicy(p, set.Default)
	}
	return set, nil
}

func fillPolicy(p, def retry.Policy) retry.Policy {
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	return p
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
