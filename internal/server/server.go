package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/medsidd/whyline-denver/internal/audit"
	"github.com/medsidd/whyline-denver/internal/config"
	"github.com/medsidd/whyline-denver/internal/registry"
)

// registryRefreshInterval is how often the dbt artifacts are re-read in the
// background, so a new transformation build shows up without a manual refresh.
const registryRefreshInterval = 15 * time.Minute

type Server struct {
	cfg     *config.Config
	http    *http.Server
	reg     *registry.Registry
	closers []io.Closer   // engines, closed on shutdown
	audit   *audit.Logger // closed last so late decisions still land
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	router, err := s.setupRoutes()
	if err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 320 * time.Second, // above the query timeout ceiling
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully and flushes
// the audit log.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", s.http.Addr).Msg("gateway listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("graceful shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(registryRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := s.reg.Refresh(); err != nil {
					log.Warn().Err(err).Msg("background registry refresh failed")
				}
			}
		}
	})

	err := g.Wait()
	s.closeResources()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) closeResources() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing engine")
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing audit log")
		} else {
			log.Info().Msg("audit log flushed")
		}
	}
}
