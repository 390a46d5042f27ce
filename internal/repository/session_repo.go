package repository

import (
	"context"
	"errors"
	"fmt"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// SessionRepo is the MongoDB archive. Documents are keyed by session id.
type SessionRepo struct {
	collection *mongo.Collection
	log        *zap.Logger
}

var _ archive.Archive = (*SessionRepo)(nil)

func NewSessionRepo(db *mongo.Database, collection string, log *zap.Logger) *SessionRepo {
	return &SessionRepo{
		collection: db.Collection(collection),
		log:        log,
	}
}

// Save upserts the full session document.
func (r *SessionRepo) Save(ctx context.Context, s *model.Session) error {
	if err := archive.ValidateID(s.ID); err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, opts); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	r.log.Info("会话已保存到MongoDB", zap.String("session_id", s.ID))
	return nil
}

func (r *SessionRepo) Load(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &s, nil
}

// List returns every session, newest first. Documents that fail to decode
// are logged and skipped.
func (r *SessionRepo) List(ctx context.Context) ([]*model.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*model.Session
	for cursor.Next(ctx) {
		var s model.Session
		if err := cursor.Decode(&s); err != nil {
			r.log.Error("解析会话文档出错", zap.Any("id", cursor.Current.Lookup("_id")), zap.Error(err))
			continue
		}
		sessions = append(sessions, &s)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
