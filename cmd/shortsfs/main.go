package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shortsfs/shortsfs/internal/config"
	"github.com/shortsfs/shortsfs/internal/handler"
	"github.com/shortsfs/shortsfs/internal/middleware"
	"github.com/shortsfs/shortsfs/internal/mount"
	"github.com/shortsfs/shortsfs/internal/repository"
	"github.com/shortsfs/shortsfs/internal/service"
	"github.com/shortsfs/shortsfs/pkg/logging"
	"github.com/shortsfs/shortsfs/pkg/logging/slogext"
	"github.com/shortsfs/shortsfs/pkg/logging/slogpretty"
)

const configPath = "configs/config.yaml"

func main() {
	cfg := config.MustLoad(configPath)

	logger := setupPrettySlog()

	// Root context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.MakeContextWithLogger(ctx, logger)

	// Dependencies. Metadata lives only in memory: the inode table is
	// rebuilt from scratch on every start, so any backing files left
	// over from a previous run are unreachable and harmless.
	content, err := repository.NewContentStore(cfg.Storage.BackingDir)
	if err != nil {
		logger.Error("Failed to initialize backing store", slogext.Err(err))
		os.Exit(1)
	}

	inodes := repository.NewInodeTable(cfg.Storage.MaxInodes, uint32(os.Getuid()), uint32(os.Getgid()))
	dirs := repository.NewDirectoryIndex(cfg.Storage.MaxChildren)
	resolver := repository.NewPathResolver(inodes, dirs)

	svc := service.NewFileSystemService(inodes, dirs, resolver, content, uint32(os.Getuid()), uint32(os.Getgid()))

	// Network adapter
	h := handler.NewHandler(svc)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.App.DefaultTimeout,
		WriteTimeout: cfg.App.DefaultTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", slog.Int("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")
		return srv.Shutdown(context.Background())
	})

	// Mount adapter shares the same engine instance.
	if cfg.Mount.Enabled {
		g.Go(func() error {
			return mount.Serve(gctx, cfg.Mount.Dir, svc)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", slogext.Err(err))
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
