// Package store owns live training sessions and hands completed ones to the
// archive.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrIDExhausted      = errors.New("could not allocate a session id")
	ErrClosed           = errors.New("session store closed")
)

const maxIDAttempts = 5

// SessionStore keeps the live session table in memory and reads through to
// the archive for sessions it no longer holds.
//
// The mutex guards the table and each session's slices. It does not
// serialize whole turns: two concurrent turns on one session may interleave
// their agent and patient appends.
type SessionStore struct {
	mu      sync.RWMutex
	live    map[string]*model.Session
	closing map[string]struct{}
	closed  bool
	archive archive.Archive
	log     *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewSessionStore(a archive.Archive, log *zap.Logger) *SessionStore {
	return &SessionStore{
		live:    make(map[string]*model.Session),
		closing: make(map[string]struct{}),
		archive: a,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Create starts an active session seeded with the opening patient turn and
// returns a snapshot of it.
func (s *SessionStore) Create(targetProduct, opening string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	id := ""
	for i := 0; i < maxIDAttempts; i++ {
		candidate := s.newID()
		if _, taken := s.live[candidate]; !taken {
			id = candidate
			break
		}
	}
	if id == "" {
		return nil, ErrIDExhausted
	}

	sess := &model.Session{
		ID:            id,
		Transcript:    []model.Turn{{Speaker: model.SpeakerPatient, Text: opening}},
		CreatedAt:     s.now(),
		Status:        model.SessionActive,
		TargetProduct: targetProduct,
	}
	s.live[id] = sess
	s.log.Info("会话初始化成功", zap.String("session_id", id), zap.String("target_product", targetProduct))
	return sess.Clone(), nil
}

// Get returns a snapshot from memory, falling back to the archive. Archived
// sessions are not re-admitted to the live table.
func (s *SessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	sess, ok := s.live[id]
	var snap *model.Session
	if ok {
		snap = sess.Clone()
	}
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	if err := archive.ValidateID(id); err != nil {
		return nil, ErrSessionNotFound
	}
	found, err := s.archive.Load(ctx, id)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.log.Error("从存档读取会话失败", zap.String("session_id", id), zap.Error(err))
		return nil, ErrSessionNotFound
	}
	return found, nil
}

// List merges live sessions with archived ones not held in memory, newest
// first.
func (s *SessionStore) List(ctx context.Context) ([]model.SessionSummary, error) {
	s.mu.RLock()
	out := make([]model.SessionSummary, 0, len(s.live))
	seen := make(map[string]struct{}, len(s.live))
	for id, sess := range s.live {
		out = append(out, sess.Summary())
		seen[id] = struct{}{}
	}
	s.mu.RUnlock()
	s.log.Info("内存中的会话", zap.Int("count", len(out)))

	archived, err := s.archive.List(ctx)
	if err != nil {
		s.log.Error("加载历史会话失败", zap.Error(err))
	}
	loaded := 0
	for _, a := range archived {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a.Summary())
		loaded++
	}
	s.log.Info("从存档加载了历史会话", zap.Int("count", loaded))

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AppendTurn adds a turn to an active live session.
func (s *SessionStore) AppendTurn(id string, turn model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live[id]
	if !ok {
		return ErrSessionNotFound
	}
	if _, busy := s.closing[id]; busy || !sess.IsActive() {
		return ErrSessionNotActive
	}
	sess.Transcript = append(sess.Transcript, turn)
	return nil
}

// EvaluateFunc scores a session snapshot. It must not fail; callers fall
// back to a default evaluation on their own.
type EvaluateFunc func(ctx context.Context, snapshot *model.Session) model.Evaluation

// Complete terminates an active session: it fences off further turns, runs
// evaluate on a snapshot, persists the completed copy and only then
// publishes it to the table. On a write failure the session is left active
// and the error is returned.
func (s *SessionStore) Complete(ctx context.Context, id string, evaluate EvaluateFunc) (*model.Session, error) {
	s.mu.Lock()
	sess, ok := s.live[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if _, busy := s.closing[id]; busy || !sess.IsActive() {
		s.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	s.closing[id] = struct{}{}
	done := sess.Clone()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.closing, id)
		s.mu.Unlock()
	}()

	eval := evaluate(ctx, done.Clone())
	score := eval.TotalScore
	done.Status = model.SessionCompleted
	done.Evaluation = &eval
	done.Score = &score

	if err := s.Persist(ctx, done); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.live[id] = done
	s.mu.Unlock()
	s.log.Info("更新会话状态为已完成", zap.String("session_id", id), zap.Int("score", score))
	return done.Clone(), nil
}

// Persist writes a snapshot of sess to the archive.
func (s *SessionStore) Persist(ctx context.Context, sess *model.Session) error {
	if err := s.archive.Save(ctx, sess); err != nil {
		s.log.Error("保存会话失败", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	return nil
}

// Close drops the live table. Later calls to Create fail with ErrClosed.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active := countActive(s.live); active > 0 {
		s.log.Warn("关闭时仍有进行中的会话", zap.Int("active", active))
	}
	s.live = make(map[string]*model.Session)
	s.closed = true
	return nil
}

func countActive(m map[string]*model.Session) int {
	n := 0
	for _, sess := range m {
		if sess.IsActive() {
			n++
		}
	}
	return n
}
