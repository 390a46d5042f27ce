package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"hrtrainer/internal/catalog"
	"hrtrainer/internal/llm"
	"hrtrainer/internal/metrics"
	"hrtrainer/internal/model"
	"hrtrainer/internal/prompts"
	"hrtrainer/internal/store"

	"go.uber.org/zap"
)

// Generation settings for the patient side.
const (
	openingTemperature = 0.8
	openingMaxTokens   = 300
	replyTemperature   = 0.85
	replyMaxTokens     = 1200
)

// Event is one item of a streamed reply. The last event of a stream carries
// Done or Error.
type Event struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConversationEngine voices the simulated patient.
type ConversationEngine struct {
	store       *store.SessionStore
	catalog     *catalog.Catalog
	port        llm.Port
	prompts     *prompts.Set
	log         *zap.Logger
	broadcaster Broadcaster
	intn        func(n int) int
}

func NewConversationEngine(st *store.SessionStore, cat *catalog.Catalog, port llm.Port, p *prompts.Set, log *zap.Logger) *ConversationEngine {
	return &ConversationEngine{
		store:       st,
		catalog:     cat,
		port:        port,
		prompts:     p,
		log:         log,
		broadcaster: nopBroadcaster{},
		intn:        rand.IntN,
	}
}

// SetBroadcaster injects the monitor hub
func (e *ConversationEngine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

// StartSession picks a random target product and opens a session with a
// rephrased version of its symptom template.
func (e *ConversationEngine) StartSession(ctx context.Context) (*model.Session, error) {
	openers := e.catalog.Openers()
	if len(openers) == 0 {
		return nil, ErrNoOpeners
	}
	pick := openers[e.intn(len(openers))]
	e.log.Info("随机选择的目标产品", zap.String("target_product", pick.Product))

	opening, generated := e.rephraseOpening(ctx, pick.Symptom)
	sess, err := e.store.Create(pick.Product, opening)
	if err != nil {
		return nil, err
	}
	metrics.RecordSessionCreated(generated)
	return sess, nil
}

// rephraseOpening falls back to the template on any failure.
func (e *ConversationEngine) rephraseOpening(ctx context.Context, symptom string) (string, bool) {
	system, err := e.prompts.OpeningSystem()
	if err != nil {
		e.log.Error("渲染开场白提示词失败", zap.Error(err))
		return symptom, false
	}
	user, err := e.prompts.OpeningUser(symptom)
	if err != nil {
		e.log.Error("渲染开场白提示词失败", zap.Error(err))
		return symptom, false
	}

	start := time.Now()
	out, err := e.port.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: openingTemperature,
		MaxTokens:   openingMaxTokens,
	})
	metrics.RecordGeneration("opening", time.Since(start))
	if err != nil {
		e.log.Error("生成开场白失败，使用原始模板", zap.Error(err))
		return symptom, false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		e.log.Warn("生成的开场白为空，使用原始模板")
		return symptom, false
	}
	e.log.Info("成功生成自然的开场白", zap.String("opening", out))
	return out, true
}

// SendMessage appends the agent's message and streams the patient's reply.
// Validation failures return an error before anything is appended. The
// returned channel is closed after the final event.
func (e *ConversationEngine) SendMessage(ctx context.Context, sessionID, text string) (<-chan Event, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	if err := e.store.AppendTurn(sessionID, model.Turn{Speaker: model.SpeakerAgent, Text: text}); err != nil {
		return nil, err
	}
	e.log.Info("保存了客服消息", zap.String("session_id", sessionID), zap.String("message", text))
	e.broadcaster.BroadcastToSession(sessionID, MsgAgentMessage, map[string]string{"content": text})

	snap, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	req, err := e.ReplyRequest(snap)
	if err != nil {
		return nil, err
	}
	e.log.Debug("构建了完整对话历史", zap.String("session_id", sessionID), zap.Int("messages", len(req.Messages)))

	events := make(chan Event, 16)
	go e.streamReply(ctx, sessionID, req, events)
	return events, nil
}

// ReplyRequest builds the persona prompt followed by the transcript. The
// model voices the patient, so patient turns are sent as assistant turns and
// agent turns as user turns.
func (e *ConversationEngine) ReplyRequest(s *model.Session) (llm.Request, error) {
	system, err := e.prompts.PatientSystem(s.TargetProduct)
	if err != nil {
		return llm.Request{}, err
	}
	msgs := make([]llm.Message, 0, len(s.Transcript)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range s.Transcript {
		role := llm.RoleUser
		if t.Speaker == model.SpeakerPatient {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return llm.Request{Messages: msgs, Temperature: replyTemperature, MaxTokens: replyMaxTokens}, nil
}

func (e *ConversationEngine) streamReply(ctx context.Context, sessionID string, req llm.Request, events chan<- Event) {
	defer close(events)
	log := e.log.With(zap.String("session_id", sessionID))
	start := time.Now()
	defer func() { metrics.RecordGeneration("reply", time.Since(start)) }()

	stream, err := e.port.Stream(ctx, req)
	if err != nil {
		e.fail(ctx, log, sessionID, events, err)
		return
	}
	defer stream.Close()

	var buf strings.Builder
	chunks := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				e.abandon(log, sessionID, buf.String())
				return
			}
			e.fail(ctx, log, sessionID, events, err)
			return
		}
		chunks++
		buf.WriteString(chunk)
		e.broadcaster.BroadcastToSession(sessionID, MsgPatientChunk, Event{Content: chunk})
		if !send(ctx, events, Event{Content: chunk}) {
			e.abandon(log, sessionID, buf.String())
			return
		}
	}
	log.Info("流式响应完成", zap.Int("chunks", chunks))

	reply := buf.String()
	if strings.TrimSpace(reply) == "" {
		e.fail(ctx, log, sessionID, events, errEmptyReply)
		return
	}
	if err := e.store.AppendTurn(sessionID, model.Turn{Speaker: model.SpeakerPatient, Text: reply}); err != nil {
		e.fail(ctx, log, sessionID, events, fmt.Errorf("保存患者回复失败: %w", err))
		return
	}
	log.Debug("保存了患者回复", zap.String("reply", reply))
	metrics.RecordTurn(metrics.TurnCompleted)
	e.broadcaster.BroadcastToSession(sessionID, MsgPatientDone, map[string]string{"content": reply})
	send(ctx, events, Event{Done: true})
}

// fail reports err in-stream. Fragments already sent stay sent and nothing
// is appended.
func (e *ConversationEngine) fail(ctx context.Context, log *zap.Logger, sessionID string, events chan<- Event, err error) {
	log.Error("生成响应出错", zap.Error(err))
	metrics.RecordTurn(metrics.TurnFailed)
	e.broadcaster.BroadcastToSession(sessionID, MsgTurnError, Event{Error: err.Error()})
	send(ctx, events, Event{Error: err.Error()})
}

// abandon runs when the caller went away mid-stream. Whatever was already
// generated is kept as the patient's turn.
func (e *ConversationEngine) abandon(log *zap.Logger, sessionID, partial string) {
	metrics.RecordTurn(metrics.TurnDisconnected)
	if strings.TrimSpace(partial) == "" {
		log.Warn("客户端断开连接，无已生成内容")
		return
	}
	if err := e.store.AppendTurn(sessionID, model.Turn{Speaker: model.SpeakerPatient, Text: partial}); err != nil {
		log.Error("保存部分患者回复失败", zap.Error(err))
		return
	}
	log.Warn("客户端断开连接，已保存部分患者回复", zap.Int("length", len(partial)))
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
