package config

import (
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndLoad(t *testing.T) {
	base := t.TempDir()
	legacy := models.IndexTarget{Name: "legacy", Endpoint: "http://localhost:8080", Class: "Article", SchemaVersion: "v1"}
	target := models.IndexTarget{Name: "target", Endpoint: "http://localhost:8081", Class: "ArticleV2", SchemaVersion: "v2"}

	cfg, err := InitializeAt(base, legacy, target, "ws://localhost:9000/feed")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, SwivelDir), cfg.SwivelPath())

	loaded, err := LoadFrom(cfg.SwivelPath())
	require.NoError(t, err)
	assert.Equal(t, legacy, loaded.Legacy)
	assert.Equal(t, target, loaded.Target)
	assert.Equal(t, "ws://localhost:9000/feed", loaded.FeedURL)
}

func TestInitialize_RejectsExisting(t *testing.T) {
	base := t.TempDir()
	_, err := InitializeAt(base, models.IndexTarget{}, models.IndexTarget{}, "")
	require.NoError(t, err)

	_, err = InitializeAt(base, models.IndexTarget{}, models.IndexTarget{}, "")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	base := t.TempDir()
	cfg, err := InitializeAt(base, models.IndexTarget{}, models.IndexTarget{}, "")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Lanes)
	assert.Equal(t, 100, cfg.Backfill.BatchSize)
	assert.Equal(t, 5, cfg.Backfill.MaxBatchRetries)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 0.25, cfg.Retry.JitterFraction)
	assert.NotEmpty(t, cfg.Listen)
}

func TestPaths(t *testing.T) {
	base := t.TempDir()
	cfg, err := InitializeAt(base, models.IndexTarget{}, models.IndexTarget{}, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, SwivelDir, MetaFile), cfg.MetaPath())
	assert.Equal(t, filepath.Join(base, SwivelDir, AuditFile), cfg.AuditPath())
}
