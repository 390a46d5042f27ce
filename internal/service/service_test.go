package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/catalog"
	"hrtrainer/internal/llm/llmtest"
	"hrtrainer/internal/model"
	"hrtrainer/internal/prompts"
	"hrtrainer/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCatalog = `{
  "products": {
    "汇仁肾宝片": {
      "initial_symptom": "最近总是腰酸腿软",
      "产品说明": {"功能主治": "温阳补肾"},
      "价目表": [{"商品规格": "126片/盒", "零售价": 199}]
    }
  }
}`

type recordedMsg struct {
	sessionID string
	msgType   string
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []recordedMsg
}

func (b *recordingBroadcaster) BroadcastToSession(sessionID, msgType string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, recordedMsg{sessionID, msgType})
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.msgs))
	for _, m := range b.msgs {
		out = append(out, m.msgType)
	}
	return out
}

type fixture struct {
	store     *store.SessionStore
	archive   *archive.FileArchive
	fake      *llmtest.Fake
	engine    *ConversationEngine
	evaluator *EvaluationPipeline
	events    *recordingBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)
	p, err := prompts.New("")
	require.NoError(t, err)

	log := zap.NewNop()
	arc := archive.NewFileArchive(t.TempDir(), log)
	st := store.NewSessionStore(arc, log)
	fake := &llmtest.Fake{}
	b := &recordingBroadcaster{}

	engine := NewConversationEngine(st, cat, fake, p, log)
	engine.SetBroadcaster(b)
	evaluator := NewEvaluationPipeline(st, cat, fake, p, log)
	evaluator.SetBroadcaster(b)

	return &fixture{store: st, archive: arc, fake: fake, engine: engine, evaluator: evaluator, events: b}
}

// seed opens a session directly on the store, bypassing the opening call.
func (f *fixture) seed(t *testing.T, target string) *model.Session {
	t.Helper()
	s, err := f.store.Create(target, "医生你好，我最近腰酸")
	require.NoError(t, err)
	return s
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func transcript(t *testing.T, f *fixture, id string) []model.Turn {
	t.Helper()
	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s.Transcript
}
