package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerPatient Speaker = "patient"
	SpeakerAgent   Speaker = "customer-service"
)

// UnknownProduct is shown wherever a session carries no target product.
const UnknownProduct = "未知产品"

// legacyTimestampLayout is the naive ISO form written by older archives.
const legacyTimestampLayout = "2006-01-02T15:04:05.999999"

type Turn struct {
	Speaker Speaker `json:"role" bson:"role"`
	Text    string  `json:"content" bson:"content"`
}

// Session is one training run. Evaluation and Score are set together when
// the session completes and stay nil while it is active.
type Session struct {
	ID            string        `json:"id" bson:"_id"`
	Transcript    []Turn        `json:"messages" bson:"messages"`
	CreatedAt     time.Time     `json:"timestamp" bson:"timestamp"`
	Status        SessionStatus `json:"status" bson:"status"`
	TargetProduct string        `json:"target_product,omitempty" bson:"target_product,omitempty"`
	Evaluation    *Evaluation   `json:"evaluation,omitempty" bson:"evaluation,omitempty"`
	Score         *int          `json:"score,omitempty" bson:"score,omitempty"`
}

// IsActive reports whether the session still accepts turns.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = append([]Turn(nil), s.Transcript...)
	if s.Evaluation != nil {
		e := s.Evaluation.Clone()
		c.Evaluation = &e
	}
	if s.Score != nil {
		score := *s.Score
		c.Score = &score
	}
	return &c
}

// Summary reduces the session to its listing form.
func (s *Session) Summary() SessionSummary {
	target := s.TargetProduct
	if target == "" {
		target = UnknownProduct
	}
	status := s.Status
	if status == "" {
		status = SessionCompleted
	}
	var score *int
	if s.Score != nil {
		v := *s.Score
		score = &v
	}
	return SessionSummary{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		Score:         score,
		Status:        status,
		TargetProduct: target,
	}
}

// UnmarshalJSON accepts both RFC 3339 and the legacy naive timestamp.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	aux := struct {
		*plain
		CreatedAt string `json:"timestamp"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := parseTimestamp(aux.CreatedAt)
	if err != nil {
		return err
	}
	s.CreatedAt = ts
	return nil
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(legacyTimestampLayout, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return ts, nil
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"timestamp"`
	Score         *int          `json:"score"`
	Status        SessionStatus `json:"status"`
	TargetProduct string        `json:"target_product"`
}
