package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
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

const (
	evaluationTemperature = 0.3
	evaluationMaxTokens   = 1000
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// EvaluationPipeline scores finished transcripts. It always yields a
// well-formed Evaluation.
type EvaluationPipeline struct {
	store       *store.SessionStore
	catalog     *catalog.Catalog
	port        llm.Port
	prompts     *prompts.Set
	log         *zap.Logger
	broadcaster Broadcaster
}

func NewEvaluationPipeline(st *store.SessionStore, cat *catalog.Catalog, port llm.Port, p *prompts.Set, log *zap.Logger) *EvaluationPipeline {
	return &EvaluationPipeline{
		store:       st,
		catalog:     cat,
		port:        port,
		prompts:     p,
		log:         log,
		broadcaster: nopBroadcaster{},
	}
}

// SetBroadcaster injects the monitor hub
func (p *EvaluationPipeline) SetBroadcaster(b Broadcaster) {
	p.broadcaster = b
}

// Terminate evaluates an active session, completes it and persists it.
func (p *EvaluationPipeline) Terminate(ctx context.Context, sessionID string) (model.Evaluation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return model.Evaluation{}, ErrInvalidInput
	}
	done, err := p.store.Complete(ctx, sessionID, p.Evaluate)
	if err != nil {
		return model.Evaluation{}, err
	}
	p.broadcaster.BroadcastToSession(sessionID, MsgSessionCompleted, done.Evaluation)
	return *done.Evaluation, nil
}

// Evaluate asks the generator to score the transcript. Request and parse
// failures are replaced by the fixed defaults. TargetProduct is always set.
func (p *EvaluationPipeline) Evaluate(ctx context.Context, s *model.Session) model.Evaluation {
	log := p.log.With(zap.String("session_id", s.ID))

	target := s.TargetProduct
	if target == "" {
		target = model.UnknownProduct
	}

	eval := p.generate(ctx, log, s, target)
	eval.TargetProduct = target
	return eval
}

func (p *EvaluationPipeline) generate(ctx context.Context, log *zap.Logger, s *model.Session, target string) model.Evaluation {
	req, err := p.request(s, target)
	if err != nil {
		log.Error("构建评价请求失败", zap.Error(err))
		metrics.RecordEvaluation(metrics.EvalRequestFallback)
		return RequestFailureEvaluation()
	}

	start := time.Now()
	text, err := p.port.Complete(ctx, req)
	metrics.RecordGeneration("evaluation", time.Since(start))
	if err != nil {
		log.Error("评价出错，使用备用评价结果", zap.Error(err))
		metrics.RecordEvaluation(metrics.EvalRequestFallback)
		return RequestFailureEvaluation()
	}
	log.Debug("原始评价文本", zap.String("text", text))

	eval, err := ParseEvaluation(text)
	if err != nil {
		log.Error("评价结果解析失败，使用默认评价", zap.Error(err))
		metrics.RecordEvaluation(metrics.EvalParseFallback)
	} else {
		metrics.RecordEvaluation(metrics.EvalGenerated)
	}
	return ResultOrDefault(eval, err, ParseFailureEvaluation)
}

func (p *EvaluationPipeline) request(s *model.Session, target string) (llm.Request, error) {
	system, err := p.prompts.EvaluationSystem(p.catalog.ProductInfo(target))
	if err != nil {
		return llm.Request{}, err
	}
	user, err := p.prompts.EvaluationUser(FormatTranscript(s.Transcript), target)
	if err != nil {
		return llm.Request{}, err
	}
	return llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: evaluationTemperature,
		MaxTokens:   evaluationMaxTokens,
	}, nil
}

// FormatTranscript renders one "客服: ..." or "患者: ..." line per turn.
func FormatTranscript(turns []model.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "患者"
		if t.Speaker == model.SpeakerAgent {
			label = "客服"
		}
		lines = append(lines, label+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

type rawEvaluation struct {
	TotalScore      *float64 `json:"total_score"`
	Professionalism *float64 `json:"professionalism"`
	Communication   *float64 `json:"communication"`
	ProblemSolving  *float64 `json:"problem_solving"`
	ServiceAttitude *float64 `json:"service_attitude"`
	Strengths       []string `json:"strengths"`
	Improvements    []string `json:"improvements"`
	OverallComment  string   `json:"overall_comment"`
}

// ParseEvaluation reads the first ```json fenced block, or the whole text
// when there is none. No repair is attempted. A record missing any score,
// with a score outside 0..100, or with empty strengths or improvements is
// rejected.
func ParseEvaluation(text string) (model.Evaluation, error) {
	payload := text
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		payload = m[1]
	}

	var raw rawEvaluation
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return model.Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}

	scores := []struct {
		name string
		v    *float64
	}{
		{"total_score", raw.TotalScore},
		{"professionalism", raw.Professionalism},
		{"communication", raw.Communication},
		{"problem_solving", raw.ProblemSolving},
		{"service_attitude", raw.ServiceAttitude},
	}
	ints := make([]int, len(scores))
	for i, s := range scores {
		if s.v == nil {
			return model.Evaluation{}, fmt.Errorf("evaluation is missing %s", s.name)
		}
		v := int(math.Round(*s.v))
		if v < 0 || v > 100 {
			return model.Evaluation{}, fmt.Errorf("%s out of range: %d", s.name, v)
		}
		ints[i] = v
	}
	if len(raw.Strengths) == 0 || len(raw.Improvements) == 0 {
		return model.Evaluation{}, errors.New("evaluation has empty strengths or improvements")
	}

	return model.Evaluation{
		TotalScore:      ints[0],
		Professionalism: ints[1],
		Communication:   ints[2],
		ProblemSolving:  ints[3],
		ServiceAttitude: ints[4],
		Strengths:       raw.Strengths,
		Improvements:    raw.Improvements,
		OverallComment:  raw.OverallComment,
	}, nil
}

// ResultOrDefault returns eval unless err is set, in which case fallback
// supplies the result.
func ResultOrDefault(eval model.Evaluation, err error, fallback func() model.Evaluation) model.Evaluation {
	if err != nil {
		return fallback()
	}
	return eval
}

// ParseFailureEvaluation is used when the generator answered with something
// that is not a valid score record.
func ParseFailureEvaluation() model.Evaluation {
	return model.Evaluation{
		TotalScore:      75,
		Professionalism: 75,
		Communication:   75,
		ProblemSolving:  75,
		ServiceAttitude: 75,
		Strengths:       []string{"回应及时", "态度友好"},
		Improvements:    []string{"可以更深入了解客户需求", "产品知识可以更全面"},
		OverallComment:  "客服表现中规中矩，有进步空间。",
	}
}

// RequestFailureEvaluation is used when the evaluation call itself failed.
func RequestFailureEvaluation() model.Evaluation {
	return model.Evaluation{
		TotalScore:      75,
		Professionalism: 75,
		Communication:   75,
		ProblemSolving:  75,
		ServiceAttitude: 75,
		Strengths:       []string{"回应及时"},
		Improvements:    []string{"系统出错，无法准确评价"},
		OverallComment:  "评价系统出现错误，请稍后重试。",
	}
}
