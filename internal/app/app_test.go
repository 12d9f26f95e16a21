package app

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/config"
	memorypublisher "github.com/JakeFAU/listing-snapshot-scraper/internal/publisher/memory"
	localstorage "github.com/JakeFAU/listing-snapshot-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-snapshot-scraper/internal/storage/memory"
)

func baseConfig() config.Config {
	return config.Config{
		Tracking: config.TrackingConfig{BaseURL: "http://tracking.test/api", RequestsPerSecond: 5, Timeout: time.Second},
		Target:   config.TargetConfig{Endpoint: "http://listing.test/search", RequestTimeout: time.Second},
		Proxy:    config.ProxyConfig{Pools: map[string]string{"datacenter": "http://u:p@proxy.test:8000"}},
		Pipeline: config.PipelineConfig{FreshPool: "datacenter", RetryPool: "datacenter"},
		Archive:  config.ArchiveConfig{Provider: config.ProviderNone},
		Outcomes: config.OutcomesConfig{Provider: config.ProviderNone},
	}
}

func TestNewMinimal(t *testing.T) {
	a, err := New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	assert.NotNil(t, a.Logger())
	assert.Nil(t, a.Archive())
	assert.Nil(t, a.Publisher())
	assert.Empty(t, a.MetricsAddr())
}

func TestNewWithMemoryOutputsAndMetrics(t *testing.T) {
	cfg := baseConfig()
	cfg.Archive = config.ArchiveConfig{Provider: config.ProviderMemory, Prefix: "errors"}
	cfg.Outcomes = config.OutcomesConfig{Provider: config.ProviderMemory, Topic: "outcomes"}
	cfg.Metrics.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	assert.IsType(t, &memorystorage.BlobStore{}, a.Archive())
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher())

	resp, err := http.Get("http://" + a.MetricsAddr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestNewWithLocalArchive(t *testing.T) {
	cfg := baseConfig()
	cfg.Archive = config.ArchiveConfig{Provider: config.ProviderLocal, BaseDir: filepath.Join(t.TempDir(), "archive")}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })
	assert.IsType(t, &localstorage.BlobStore{}, a.Archive())
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	cfg := baseConfig()
	cfg.Archive.Provider = "s3"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown archive provider")

	cfg = baseConfig()
	cfg.Outcomes.Provider = "kafka"
	_, err = New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown outcomes provider")
}

func TestNewRejectsMissingProfileFile(t *testing.T) {
	cfg := baseConfig()
	cfg.Identity.ProfilesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "header profiles")
}

func TestRunUnknownSource(t *testing.T) {
	a, err := New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	_, err = a.Run(context.Background(), "backfill")
	require.ErrorContains(t, err, `unknown batch source "backfill"`)
}
