// Package app assembles the training service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"hrtrainer/internal/archive"
	"hrtrainer/internal/cache"
	"hrtrainer/internal/catalog"
	"hrtrainer/internal/config"
	"hrtrainer/internal/llm"
	"hrtrainer/internal/prompts"
	"hrtrainer/internal/repository"
	"hrtrainer/internal/service"
	"hrtrainer/internal/store"
	"hrtrainer/internal/transport/rest"
	"hrtrainer/internal/transport/ws"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Closer releases a backend connection.
type Closer func(ctx context.Context) error

type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Archive   archive.Archive
	Store     *store.SessionStore
	Engine    *service.ConversationEngine
	Evaluator *service.EvaluationPipeline
	Hub       *ws.Hub
	Port      llm.Port

	closeArchive Closer
}

// OpenArchive connects the configured archive backend.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (archive.Archive, Closer, error) {
	switch cfg.Backend {
	case config.ArchiveFile, "":
		return archive.NewFileArchive(cfg.Dir, log), func(context.Context) error { return nil }, nil

	case config.ArchiveMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
		}
		log.Info("Connected to MongoDB", zap.String("database", cfg.Mongo.Database))
		repo := repository.NewSessionRepo(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection, log)
		return repo, client.Disconnect, nil

	case config.ArchiveRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.RedisAddr()})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping Redis: %w", err)
		}
		log.Info("Connected to Redis", zap.String("addr", cfg.Redis.RedisAddr()))
		c := cache.NewSessionCache(rdb, cfg.Redis.Prefix, cfg.Redis.TTL, log)
		return c, func(context.Context) error { return rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// New loads the catalog and prompts, connects the archive and wires the
// services together.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("产品配置加载失败: %w", err)
	}
	log.Info("产品配置加载成功", zap.Int("products", len(cat.Names())))

	p, err := prompts.New(cfg.Persona.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	port, err := llm.New(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}
	if cfg.AI.IsEnabled() {
		log.Info("AI client configured", zap.String("provider", port.Name()), zap.String("model", cfg.AI.Model))
	} else {
		log.Warn("AI credentials not set, using fallback openings and evaluations")
	}

	arc, closeArchive, err := OpenArchive(ctx, cfg.Archive, log)
	if err != nil {
		return nil, err
	}

	return assemble(cfg, log, cat, p, port, arc, closeArchive), nil
}

func assemble(cfg *config.Config, log *zap.Logger, cat *catalog.Catalog, p *prompts.Set, port llm.Port, arc archive.Archive, closeArchive Closer) *App {
	st := store.NewSessionStore(arc, log)
	hub := ws.NewHub(log)

	engine := service.NewConversationEngine(st, cat, port, p, log)
	evaluator := service.NewEvaluationPipeline(st, cat, port, p, log)

	// Inject broadcaster (hub implements service.Broadcaster)
	engine.SetBroadcaster(hub)
	evaluator.SetBroadcaster(hub)

	return &App{
		Config:       cfg,
		Log:          log,
		Archive:      arc,
		Store:        st,
		Engine:       engine,
		Evaluator:    evaluator,
		Hub:          hub,
		Port:         port,
		closeArchive: closeArchive,
	}
}

// Handler builds the HTTP router.
func (a *App) Handler() http.Handler {
	return rest.NewRouter(&rest.Container{
		Engine:    a.Engine,
		Evaluator: a.Evaluator,
		Store:     a.Store,
		WSHub:     a.Hub,
		Server:    a.Config.Server,
		Metrics:   a.Config.Metrics.Enabled,
		Log:       a.Log,
	})
}

// Close stops the hub, drops live sessions and disconnects the archive.
func (a *App) Close(ctx context.Context) error {
	a.Hub.Close()
	return errors.Join(a.Store.Close(), a.closeArchive(ctx))
}
