package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/config"
	"github.com/tuhinx/bubt-annex-routine/internal/index"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
	"github.com/tuhinx/bubt-annex-routine/internal/storage/local"
	"github.com/tuhinx/bubt-annex-routine/internal/storage/memory"
	"github.com/tuhinx/bubt-annex-routine/internal/store/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	root := t.TempDir()
	cfg.Paths.StagingDir = filepath.Join(root, "staging")
	cfg.Paths.OutputRoot = filepath.Join(root, "out")
	return cfg
}

func TestNewWithLocalMirrorAndSQLite(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Provider = "local"
	cfg.Storage.BaseDir = filepath.Join(t.TempDir(), "mirror")
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "records.db")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &local.BlobStore{}, a.Mirror())
	assert.IsType(t, &sqlite.RecordStore{}, a.Records())
	assert.Nil(t, a.Publisher())
	assert.NotNil(t, a.History())
	assert.Equal(t, cfg, a.Config())
	assert.NotNil(t, a.Logger())
}

func TestNewWithoutSinks(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Mirror())
	assert.Nil(t, a.Records())
	assert.Nil(t, a.Publisher())
}

func TestNewRejectsBadSinks(t *testing.T) {
	t.Parallel()

	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o600))

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown storage", func(c *config.Config) { c.Storage.Provider = "s3" }, "init storage"},
		{"local not a dir", func(c *config.Config) {
			c.Storage.Provider = "local"
			c.Storage.BaseDir = notDir
		}, "init storage"},
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }, "init database"},
		{"sqlite without dsn", func(c *config.Config) { c.Database.Driver = "sqlite" }, "init database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, zap.NewNop())
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestPipelineIndexesIntoSinks(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Provider = "memory"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "records.db")
	require.NoError(t, os.MkdirAll(cfg.Paths.StagingDir, 0o755))

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	p, err := a.Pipeline()
	require.NoError(t, err)

	rep, err := p.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, routine.StageIndex, rep.Stage)
	assert.Zero(t, rep.Records)

	records, err := index.Read(cfg.IndexPath())
	require.NoError(t, err)
	assert.Empty(t, records)

	mirror, ok := a.Mirror().(*memory.BlobStore)
	require.True(t, ok)
	assert.Equal(t, []string{routine.IndexFile}, mirror.Paths())

	stages, ok := a.History().Get(rep.RunID)
	require.True(t, ok)
	assert.Len(t, stages, 1)
}

func TestBrowserConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Browser.UserAgent = "  agent  "
	cfg.Browser.MaxParallel = 3
	cfg.Source.RenderMarker = "routine.php"

	got := BrowserConfig(cfg)
	assert.Equal(t, "agent", got.UserAgent)
	assert.Equal(t, 3, got.MaxParallel)
	assert.Equal(t, "routine.php", got.RenderMarker)
	assert.Equal(t, cfg.Browser.ChallengeTimeout, got.ChallengeTimeout)
	assert.Equal(t, cfg.Browser.ContentSelector, got.ContentSelector)
}
