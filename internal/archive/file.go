package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hrtrainer/internal/model"

	"go.uber.org/zap"
)

const fileTimestampLayout = "20060102_150405"

// FileArchive keeps one pretty-printed JSON file per session:
//
//	data/
//	  ├── session_<id>_<YYYYmmdd_HHMMSS>.json
//	  └── ...
type FileArchive struct {
	dir string
	log *zap.Logger
	now func() time.Time
}

func NewFileArchive(dir string, log *zap.Logger) *FileArchive {
	return &FileArchive{dir: dir, log: log, now: time.Now}
}

// Dir returns the archive directory.
func (a *FileArchive) Dir() string { return a.dir }

// Save writes the session to a new file named after its id and the save
// time. The file appears atomically.
func (a *FileArchive) Save(ctx context.Context, s *model.Session) error {
	if err := ValidateID(s.ID); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	data, err := encodeSession(s)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("session_%s_%s.json", s.ID, a.now().Format(fileTimestampLayout))
	path := filepath.Join(a.dir, name)

	tmp, err := os.CreateTemp(a.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename session file: %w", err)
	}

	a.log.Info("会话已保存到文件", zap.String("session_id", s.ID), zap.String("path", path))
	return nil
}

// Load returns the newest record whose file name contains id and whose
// decoded id matches.
func (a *FileArchive) Load(ctx context.Context, id string) (*model.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	names, err := a.files(func(name string) bool { return strings.Contains(name, id) })
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		s, err := a.read(names[i])
		if err != nil {
			a.log.Error("加载会话文件出错", zap.String("file", names[i]), zap.Error(err))
			continue
		}
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// List decodes every session_*.json file. A missing directory is empty.
func (a *FileArchive) List(ctx context.Context) ([]*model.Session, error) {
	names, err := a.files(func(name string) bool { return strings.HasPrefix(name, "session_") })
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.Session, len(names))
	var order []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := a.read(name)
		if err != nil {
			a.log.Error("加载会话文件出错", zap.String("file", name), zap.Error(err))
			continue
		}
		if _, seen := byID[s.ID]; !seen {
			order = append(order, s.ID)
		}
		byID[s.ID] = s
	}

	out := make([]*model.Session, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// files lists matching .json names in ascending order.
func (a *FileArchive) files(match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn("data目录不存在，未加载历史会话", zap.String("dir", a.dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !match(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (a *FileArchive) read(name string) (*model.Session, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, name)) // #nosec G304 -- name comes from ReadDir of the archive dir
	if err != nil {
		return nil, err
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, errors.New("record has no id")
	}
	return &s, nil
}

// encodeSession renders two-space indented JSON with non-ASCII text kept as is.
func encodeSession(s *model.Session) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return buf.Bytes(), nil
}
