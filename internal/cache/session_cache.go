package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SessionCache is the Redis archive: one JSON value per session under
// "<prefix>:<id>". A zero TTL keeps records forever.
type SessionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

var _ archive.Archive = (*SessionCache)(nil)

func NewSessionCache(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *SessionCache {
	if prefix == "" {
		prefix = "session"
	}
	return &SessionCache{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (c *SessionCache) key(id string) string {
	return fmt.Sprintf("%s:%s", c.prefix, id)
}

func (c *SessionCache) Save(ctx context.Context, s *model.Session) error {
	if err := archive.ValidateID(s.ID); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(s.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	c.log.Info("会话已保存到Redis", zap.String("session_id", s.ID))
	return nil
}

func (c *SessionCache) Load(ctx context.Context, id string) (*model.Session, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		c.log.Error("解析会话记录出错", zap.String("session_id", id), zap.Error(err))
		return nil, archive.ErrNotFound
	}
	return &s, nil
}

// List scans the prefix. Keys that vanish between SCAN and GET or hold
// undecodable values are skipped.
func (c *SessionCache) List(ctx context.Context) ([]*model.Session, error) {
	var sessions []*model.Session
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		var s model.Session
		if err := json.Unmarshal(data, &s); err != nil {
			c.log.Error("解析会话记录出错", zap.String("key", key), zap.Error(err))
			continue
		}
		sessions = append(sessions, &s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
