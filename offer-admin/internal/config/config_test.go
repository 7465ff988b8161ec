package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
)

// baseEnv clears settings that would leak in from the host.
func baseEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OFFER_ADMIN_ENV", "NODE_ENV", "DATABASE_DRIVER", "EXPORT_BACKEND", "OFFER_ADMIN_RETRY_POLICY_FILE", "OFFER_ADMIN_DEV_ALLOW_LOCAL", "OFFER_ADMIN_DATABASE_URL", "BILLING_PROD_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/offers")
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8070", cfg.Addr)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 10, cfg.DBMaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.LockStaleAfter)
	assert.Equal(t, 15*time.Minute, cfg.PendingTTL)
	assert.True(t, cfg.AutoValidate)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Retry.For("billing"))
	assert.Equal(t, "offer-admin", cfg.Auth.RequiredRole)
}

func TestLoadRequiresDatabase(t *testing.T) {
	baseEnv(t)
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRemoteSections(t *testing.T) {
	baseEnv(t)
	t.Setenv("DATABASE_DRIVER", "PGX")
	t.Setenv("BILLING_STG_URL", "https://stg.billing.example.com")
	t.Setenv("BILLING_STG_API_KEY", "k1")
	t.Setenv("CI_STG_PLAN", "OFF-STG")
	t.Setenv("CI_PROD_PLAN", "OFF-PROD")
	t.Setenv("CONFIG_SERVICE_PROD_URL", "https://config.example.com")
	t.Setenv("CONFIG_SERVICE_PROD_TOKEN_URL", "https://sso.example.com/token")
	t.Setenv("CONFIG_SERVICE_SCOPES", "config.read, config.write")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("OFFER_ADMIN_LOCK_STALE_AFTER", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, BillingSite{BaseURL: "https://stg.billing.example.com", APIKey: "k1"}, cfg.Billing[models.EnvStaging])
	assert.NotContains(t, cfg.Billing, models.EnvProduction)
	assert.Equal(t, map[models.Env]string{models.EnvStaging: "OFF-STG", models.EnvProduction: "OFF-PROD"}, cfg.CI.Plans)
	assert.Equal(t, []string{"config.read", "config.write"}, cfg.ConfigService[models.EnvProduction].Scopes)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, cfg.LockStaleAfter)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	baseEnv(t)

	t.Setenv("DATABASE_DRIVER", "sqlite")
	_, err := Load()
	assert.Error(t, err)
	t.Setenv("DATABASE_DRIVER", "")

	t.Setenv("EXPORT_BACKEND", "s3")
	_, err = Load()
	assert.Error(t, err)
	t.Setenv("EXPORT_BACKEND", "")

	t.Setenv("OFFER_ADMIN_ENV", "production")
	t.Setenv("OFFER_ADMIN_DEV_ALLOW_LOCAL", "true")
	t.Setenv("CI_WEBHOOK_SECRET", "s3cret")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRetryPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  attempts: 4
systems:
  billing:
    attempts: 5
    initialBackoff: 500ms
    maxBackoff: 5s
  config-service:
    maxBackoff: 10s
`), 0o600))

	set, err := LoadRetryPolicies(path)
	require.NoError(t, err)
	assert.Equal(t, retry.Policy{Attempts: 4, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}, set.Default)
	assert.Equal(t, retry.Policy{Attempts: 5, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}, set.For("billing"))
	assert.Equal(t, retry.Policy{Attempts: 4, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second}, set.For("config-service"))
	assert.Equal(t, set.Default, set.For("ci"))

	baseEnv(t)
	t.Setenv("OFFER_ADMIN_RETRY_POLICY_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.For("billing").Attempts)
}
