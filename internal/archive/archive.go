// Package archive stores completed sessions durably.
package archive

import (
	"context"
	"errors"
	"strings"

	"hrtrainer/internal/model"
)

// ErrNotFound is returned by Load when no record carries the id.
var ErrNotFound = errors.New("archive: session not found")

// ErrInvalidID is returned for ids that cannot be used as a storage key.
var ErrInvalidID = errors.New("archive: invalid session id")

// Archive is the durable record store. List and Load skip records that
// cannot be decoded and log them instead of failing.
type Archive interface {
	Save(ctx context.Context, s *model.Session) error
	Load(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context) ([]*model.Session, error)
}

// ValidateID rejects empty ids and ids carrying path separators or
// traversal sequences.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}
