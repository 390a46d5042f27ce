package cache

import (
	"context"
	"testing"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SessionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionCache(client, "session", ttl, zap.NewNop()), mr
}

func sampleSession(id string) *model.Session {
	score := 80
	return &model.Session{
		ID:            id,
		Transcript:    []model.Turn{{Speaker: model.SpeakerPatient, Text: "月经不调"}},
		CreatedAt:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Status:        model.SessionCompleted,
		TargetProduct: "女金胶囊",
		Evaluation:    &model.Evaluation{TotalScore: 80},
		Score:         &score,
	}
}

func TestSessionCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, sampleSession("s1")))
	assert.True(t, mr.Exists("session:s1"))

	got, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "女金胶囊", got.TargetProduct)
	assert.Equal(t, 80, *got.Score)

	_, err = c.Load(ctx, "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestSessionCacheTTL(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	require.NoError(t, c.Save(context.Background(), sampleSession("s1")))
	assert.Equal(t, time.Hour, mr.TTL("session:s1"))

	mr.FastForward(2 * time.Hour)
	_, err := c.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestSessionCacheListSkipsBadValues(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, sampleSession("s1")))
	require.NoError(t, c.Save(ctx, sampleSession("s2")))
	require.NoError(t, mr.Set("session:bad", "{oops"))
	require.NoError(t, mr.Set("other:s3", "{}"))

	sessions, err := c.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
}

func TestSessionCacheRejectsInvalidID(t *testing.T) {
	c, _ := newTestCache(t, 0)
	err := c.Save(context.Background(), sampleSession(""))
	assert.ErrorIs(t, err, archive.ErrInvalidID)
}
