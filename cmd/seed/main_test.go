package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/catalog"
	"hrtrainer/internal/config"
	"hrtrainer/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteCatalogIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product_config.json")
	require.NoError(t, writeCatalog(path))

	cat, err := catalog.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"六味地黄丸", "女金胶囊", "汇仁肾宝片"}, cat.Names())
	assert.Len(t, cat.Openers(), 3)
	assert.Contains(t, cat.ProductInfo("女金胶囊"), "- 规格: 0.38g*60粒/盒，价格: 58元")
}

func TestImportSessionsIntoRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Archive.Dir = t.TempDir()
	cfg.Archive.Backend = config.ArchiveRedis
	cfg.Archive.Redis.URI = mr.Addr()

	src := archive.NewFileArchive(cfg.Archive.Dir, zap.NewNop())
	for _, id := range []string{"a", "b"} {
		require.NoError(t, src.Save(context.Background(), &model.Session{
			ID:         id,
			Transcript: []model.Turn{{Speaker: model.SpeakerPatient, Text: "腰酸"}},
			CreatedAt:  time.Now(),
			Status:     model.SessionActive,
		}))
	}

	n, err := importSessions(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("session:a"))
	assert.True(t, mr.Exists("session:b"))
}

func TestImportRejectsFileBackend(t *testing.T) {
	cfg := config.Default()
	_, err := importSessions(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
