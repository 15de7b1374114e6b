// Package docmind wires the DocuMind service: configuration, dependencies and the HTTP server.
package docmind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docmind/internal/docmind/handler"
	"github.com/kart-io/docmind/internal/docmind/router"
	"github.com/kart-io/docmind/pkg/infra/app"
	"github.com/kart-io/docmind/pkg/middleware"
	cacheopts "github.com/kart-io/docmind/pkg/options/cache"
	httpopts "github.com/kart-io/docmind/pkg/options/http"
	llmopts "github.com/kart-io/docmind/pkg/options/llm"
	logopts "github.com/kart-io/docmind/pkg/options/logger"
	ragopts "github.com/kart-io/docmind/pkg/options/rag"
	storeopts "github.com/kart-io/docmind/pkg/options/store"
	tracingopts "github.com/kart-io/docmind/pkg/options/tracing"
)

// Name is the name of the application.
const Name = "docmind"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	StoreOptions     *storeopts.Options
	CacheOptions     *cacheopts.Options
	TracingOptions   *tracingopts.Options
	ShutdownTimeout  time.Duration
}

// InitLogger 初始化全局日志，附带服务名与版本字段。
func (cfg *Config) InitLogger() error {
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// Server represents the DocuMind HTTP server.
type Server struct {
	cfg        *Config
	components *Components
	httpServer *http.Server
	uploadDir  string
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	// 1. 初始化日志
	if err := cfg.InitLogger(); err != nil {
		return nil, err
	}
	logger.Info("Starting DocuMind service...")

	// 2. 初始化依赖
	components, err := cfg.NewComponents(ctx)
	if err != nil {
		return nil, err
	}

	uploadDir, err := os.MkdirTemp("", "docmind-uploads-")
	if err != nil {
		_ = components.Close(ctx)
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	// 3. 初始化路由
	gin.SetMode(cfg.HTTPOptions.Mode)
	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(middleware.DefaultSkipPaths...),
		middleware.Logger(middleware.DefaultSkipPaths...),
		middleware.CORS(),
		middleware.Metrics(middleware.MetricsOptions{
			Namespace:  Name,
			Subsystem:  "http",
			Registerer: components.Registry,
			SkipPaths:  []string{cfg.HTTPOptions.MetricsPath},
		}),
	)
	router.RegisterMetrics(engine, cfg.HTTPOptions.MetricsPath, components.Registry)
	router.Register(engine, handler.NewDocMindHandler(components.Service, uploadDir))

	logger.Info("DocuMind service is ready")
	return &Server{
		cfg:        cfg,
		components: components,
		uploadDir:  uploadDir,
		httpServer: &http.Server{
			Addr:         cfg.HTTPOptions.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
			WriteTimeout: cfg.HTTPOptions.WriteTimeout,
			IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
		},
	}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.components.Close(shutdownCtx); err != nil {
			logger.Warnw("failed to release components", "error", err.Error())
		}
		_ = os.RemoveAll(s.uploadDir)
		_ = logger.Flush()
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%v)\n", cfg.ChatOptions.Provider, cfg.RAGOptions.Models)
	fmt.Printf("  Store: %s\n", cfg.StoreOptions.Backend)
	fmt.Printf("  Listen: %s\n", cfg.HTTPOptions.Addr)
}
