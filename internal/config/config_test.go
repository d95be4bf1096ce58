package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
mysql:
  host: db
  port: 3306
  database: creditgate
kafka:
  brokers: ["k1:9092", "k2:9092"]
generation:
  timeout: 5s
business:
  package_credits: 50
  rate_limit:
    max: 10
    window: 1h
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "db", cfg.MySQL.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, int64(10), cfg.Business.RateLimit.Max)
	assert.Equal(t, time.Hour, cfg.Business.RateLimit.Window)

	// defaults
	assert.Equal(t, "gpt-3.5-turbo", cfg.Generation.Model)
	assert.Equal(t, 300, cfg.Generation.MaxTokens)
	assert.Equal(t, "credit_events", cfg.Kafka.Topic.CreditEvents)
	assert.Equal(t, int64(500), cfg.Payment.AmountCents)
	assert.Equal(t, 24*time.Hour, cfg.CheckoutTimeout())
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 3000\n")
	t.Setenv("PAYMENT_SECRET_KEY", "sk_test_env")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("GENERATION_API_KEY", "openai-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk_test_env", cfg.Payment.SecretKey)
	assert.Equal(t, "whsec_env", cfg.Payment.WebhookSecret)
	assert.Equal(t, "openai-env", cfg.Generation.APIKey)
}

func TestLoadConfig_ProviderEnvNames(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 3000\n")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_stripe")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_stripe")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk_test_stripe", cfg.Payment.SecretKey)
	assert.Equal(t, "whsec_stripe", cfg.Payment.WebhookSecret)
	assert.Equal(t, "openai-key", cfg.Generation.APIKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "business:\n  package_credits: 0\n")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "package_credits")

	path = writeConfig(t, "business:\n  rate_limit:\n    max: 3\n    window: 0s\n")
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "rate_limit.window")
}
