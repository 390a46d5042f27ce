package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/config"
	"hrtrainer/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListSessionsPrintsNewestFirst(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.Dir = t.TempDir()
	arc := archive.NewFileArchive(cfg.Archive.Dir, zap.NewNop())

	score := 80
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, arc.Save(context.Background(), &model.Session{
		ID:            "older",
		Transcript:    []model.Turn{{Speaker: model.SpeakerPatient, Text: "腰酸"}},
		CreatedAt:     base,
		Status:        model.SessionCompleted,
		TargetProduct: "汇仁肾宝片",
		Score:         &score,
		Evaluation:    &model.Evaluation{TotalScore: score},
	}))
	require.NoError(t, arc.Save(context.Background(), &model.Session{
		ID:         "newer",
		Transcript: []model.Turn{{Speaker: model.SpeakerPatient, Text: "头晕"}},
		CreatedAt:  base.Add(time.Hour),
		Status:     model.SessionActive,
	}))

	var out bytes.Buffer
	require.NoError(t, listSessions(context.Background(), cfg, zap.NewNop(), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "newer"))
	assert.Contains(t, lines[1], "未知产品")
	assert.True(t, strings.HasPrefix(lines[2], "older"))
	assert.Contains(t, lines[2], "80")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["sessions"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
