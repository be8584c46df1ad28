package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "catalog-sync", cfg.AppName)
	assert.Equal(t, time.Second, cfg.Tracker.InitialDelay)
	assert.Equal(t, 15*time.Second, cfg.Tracker.MaxDelay)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.Budget)

	ty := cfg.Marketplace(models.Trendyol)
	assert.True(t, ty.Enabled)
	assert.Equal(t, 1000, ty.BulkSize)
	assert.Equal(t, 4, ty.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, ty.MinSpacing)

	n11 := cfg.Marketplace(models.N11)
	assert.Equal(t, 60*time.Second, n11.Timeout)
	assert.Equal(t, time.Second, n11.MinSpacing)
}

func TestLoadWith_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tracker:
  initialDelay: 10ms
  maxDelay: 40ms
  budget: 1s
marketplaces:
  etsy:
    enabled: false
    rps: 4
    bulkSize: 1
`), 0o600))

	cfg, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Tracker.InitialDelay)
	etsy := cfg.Marketplace(models.Etsy)
	assert.False(t, etsy.Enabled)
	assert.Equal(t, 4.0, etsy.RPS)
	assert.Equal(t, 250*time.Millisecond, etsy.MinSpacing)
	assert.Equal(t, "https://openapi.etsy.com/v3", etsy.BaseURL)
}

func TestLoadWith_RejectsBrokenTracker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker:\n  initialDelay: 20s\n  maxDelay: 1s\n"), 0o600))

	_, err := LoadWith(viper.New(), path)
	assert.Error(t, err)
}

func TestCredentials_Missing(t *testing.T) {
	env := map[string]string{
		"TRENDYOL_SUPPLIER_ID": "1",
		"TRENDYOL_API_KEY":     "k",
		"TRENDYOL_API_SECRET":  "s",
		"ETSY_CONSUMER_KEY":    "ck",
		"ETSY_CONSUMER_SECRET": "cs",
		"ETSY_SHOP_ID":         "42",
		"ETSY_REQUEST_TOKEN":   "rt",
		"ETSY_REQUEST_SECRET":  "rs",
		"ETSY_VERIFIER":        "v",
	}
	creds := CredentialsFromEnv(func(k string) string { return env[k] })

	assert.Empty(t, creds.Missing(models.Trendyol))
	assert.Empty(t, creds.Missing(models.Etsy), "verifier exchange substitutes for an access token")
	assert.Equal(t, []string{"CICEKSEPETI_API_KEY"}, creds.Missing(models.Ciceksepeti))
	assert.ElementsMatch(t, []string{"AMAZON_CLIENT_ID", "AMAZON_CLIENT_SECRET", "AMAZON_SELLER_ID"}, creds.Missing(models.Amazon))
}

func TestLoadWith_CategoryRulesKeepCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  cacheTTL: 30m
  mappings:
    - source: trendyol
      target: n11
      sourceCategory: Ev/Halı
      targetId: "1000722"
      attributes:
        - from: Materyal
          to: Malzeme
      defaults:
        - name: Marka
          value: Generic
`), 0o600))

	cfg, err := LoadWith(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Categories.CacheTTL)

	mappings := cfg.Categories.Mappings()
	require.Len(t, mappings, 1)
	m := mappings[0]
	assert.Equal(t, models.Trendyol, m.Source)
	assert.Equal(t, "Ev/Halı", m.SourceCategory)
	assert.Equal(t, map[string]string{"Materyal": "Malzeme"}, m.AttributeNames)
	assert.Equal(t, map[string]string{"Marka": "Generic"}, m.Defaults)
}

func TestLoadWith_RejectsBrokenCategoryRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  mappings:
    - source: ebay
      target: n11
      sourceCategory: Carpet
`), 0o600))

	_, err := LoadWith(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "categories.mappings[0]")
}
