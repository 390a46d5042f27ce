package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hrtrainer/internal/cache"
	"hrtrainer/internal/config"
	"hrtrainer/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const catalogJSON = `{"products": {"汇仁肾宝片": {"initial_symptom": "腰酸"}}}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "product_config.json")
	require.NoError(t, os.WriteFile(path, []byte(catalogJSON), 0o644))

	cfg := config.Default()
	cfg.Catalog.Path = path
	cfg.Archive.Dir = filepath.Join(dir, "data")
	cfg.AI.APIKey = ""
	return cfg
}

func TestNewWithFileArchive(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Equal(t, "disabled", a.Port.Name())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/start_chat", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.json")

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenArchiveRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default().Archive
	cfg.Backend = config.ArchiveRedis
	cfg.Redis.URI = "redis://" + mr.Addr()

	arc, closeFn, err := OpenArchive(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn(context.Background())
	require.IsType(t, &cache.SessionCache{}, arc)

	s := &model.Session{
		ID:         "abc",
		Transcript: []model.Turn{{Speaker: model.SpeakerPatient, Text: "腰酸"}},
		CreatedAt:  time.Now(),
		Status:     model.SessionCompleted,
	}
	require.NoError(t, arc.Save(context.Background(), s))
	assert.True(t, mr.Exists("session:abc"))
}

func TestOpenArchiveRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default().Archive
	cfg.Backend = config.ArchiveRedis
	cfg.Redis.URI = addr

	_, _, err := OpenArchive(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenArchiveUnknownBackend(t *testing.T) {
	cfg := config.Default().Archive
	cfg.Backend = "s3"

	_, _, err := OpenArchive(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
