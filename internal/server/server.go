// Package server exposes the upload and chat pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"

	"docuchat/internal/config"
	"docuchat/internal/helper"
	"docuchat/internal/models"
	"docuchat/internal/parser"
	"docuchat/internal/rag"
)

const (
	shutdownTimeout    = 10 * time.Second
	defaultMaxUploadMB = 25
)

// Pipeline is the part of rag.RAG the handlers drive.
type Pipeline interface {
	RequireKey(apiKey string) error
	Prepare(ctx context.Context, apiKey string, in parser.Input) ([]models.Chunk, error)
	Store(ctx context.Context, apiKey string, chunks []models.Chunk) error
	Retrieve(ctx context.Context, req rag.Request) (*rag.Prepared, error)
	Generate(ctx context.Context, p *rag.Prepared) (string, error)
	Stream(ctx context.Context, p *rag.Prepared, w io.Writer) (string, error)
	Dimension(ctx context.Context) (int, error)
}

type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	backend  string
}

func New(pipeline Pipeline, cfg config.ServerConfig, backend string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, pipeline: pipeline, backend: backend}

	maxUpload := cfg.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadMB
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: helper.GenerateUUID}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("Handled request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowHeaders:  []string{echo.HeaderContentType, models.APIKeyHeader},
		ExposeHeaders: []string{models.SourcesHeader},
	}))

	api := e.Group("/api")
	api.POST("/upload", s.upload, middleware.BodyLimit(fmt.Sprintf("%dM", maxUpload)))
	api.POST("/chat", s.chat)
	api.GET("/health", s.health)

	return s
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		log.Info().Str("addr", addr).Str("backend", s.backend).Msg("Starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down server")
	}
	return nil
}
