package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/api"
	"github.com/moai-flow/swarm-kernel/internal/config"
	"github.com/moai-flow/swarm-kernel/internal/swarmkernel"
	"github.com/moai-flow/swarm-kernel/pkg/logger"
)

// Server owns the kernel's lifecycle plus the optional HTTP control
// surface layered on top of it.
type Server struct {
	config     *config.Config
	logger     *logrus.Logger
	kernel     *swarmkernel.Kernel
	httpServer *http.Server
}

// NewServer constructs every component from configuration but starts
// nothing; call Start for that.
func NewServer(configPath string) (*Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)

	kernel, err := swarmkernel.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to construct kernel: %w", err)
	}

	server := &Server{
		config: cfg,
		logger: log,
		kernel: kernel,
	}

	if cfg.API.Enabled {
		router := api.NewRouter(kernel, cfg.API, log)
		server.httpServer = &http.Server{
			Addr:         cfg.API.Addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	return server, nil
}

// Start runs the kernel's background workers and, if configured, the
// HTTP control surface.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting swarm coordination kernel")

	if err := s.kernel.Start(ctx); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	if s.httpServer != nil {
		s.logger.WithField("addr", s.httpServer.Addr).Info("starting HTTP control surface")
		go func() {
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Fatal("HTTP control surface failed")
			}
		}()
	}

	s.logger.Info("swarm coordination kernel started")
	return nil
}

// Stop gracefully shuts down the HTTP surface (if any) and the kernel.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down swarm coordination kernel")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("failed to shut down HTTP control surface gracefully")
		}
	}

	s.kernel.Stop()

	s.logger.Info("swarm coordination kernel stopped")
	return nil
}

func main() {
	configPath := os.Getenv("MOAIFLOW_CONFIG_FILE")

	server, err := NewServer(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to start server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("failed to stop server gracefully")
		os.Exit(1)
	}

	logrus.Info("server exited cleanly")
}
