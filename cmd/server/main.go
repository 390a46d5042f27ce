package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"hrtrainer/internal/app"
	"hrtrainer/internal/config"
	"hrtrainer/internal/logger"
	"hrtrainer/internal/metrics"
	"hrtrainer/internal/tracing"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "hrtrainer",
		Short:        "汇仁医药客服训练系统",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the training HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List archived training sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			defer log.Sync()
			return listSessions(cmd.Context(), cfg, log, cmd.OutOrStdout())
		},
	})

	return root
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	logger.SetGlobal(log)
	return cfg, log, nil
}

func serve(parent context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("汇仁医药客服训练系统")
	log.Info("启动中...")

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("访问地址", zap.String("url", "http://localhost:"+cfg.Server.Port))
		log.Info("Endpoints",
			zap.Strings("routes", []string{
				"POST /api/start_chat",
				"GET  /api/send_message",
				"POST /api/end_chat",
				"GET  /api/sessions",
				"GET  /api/session/{id}",
				"WS   /api/ws/sessions/{id}/chat",
				"WS   /api/ws/sessions/{id}/watch",
			}),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			a.Close(shutdownCtx),
			shutdownTracing(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		return err
	}
	log.Info("Server exited")
	return nil
}

func listSessions(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	arc, closeArchive, err := app.OpenArchive(ctx, cfg.Archive, log)
	if err != nil {
		return err
	}
	defer closeArchive(ctx)

	sessions, err := arc.List(ctx)
	if err != nil {
		return err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tSTATUS\tTARGET\tSCORE")
	for _, s := range sessions {
		sum := s.Summary()
		score := "-"
		if sum.Score != nil {
			score = fmt.Sprint(*sum.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sum.ID, sum.CreatedAt.Format(time.DateTime), sum.Status, sum.TargetProduct, score)
	}
	return tw.Flush()
}
