package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/medsidd/whyline-denver/internal/admission"
	"github.com/medsidd/whyline-denver/internal/audit"
	"github.com/medsidd/whyline-denver/internal/cache"
	"github.com/medsidd/whyline-denver/internal/engine"
	"github.com/medsidd/whyline-denver/internal/gateway"
	"github.com/medsidd/whyline-denver/internal/guardrail"
	"github.com/medsidd/whyline-denver/internal/handler"
	"github.com/medsidd/whyline-denver/internal/middleware"
	"github.com/medsidd/whyline-denver/internal/nlsql"
	"github.com/medsidd/whyline-denver/internal/registry"
)

func (s *Server) setupRoutes() (http.Handler, error) {
	cfg := s.cfg
	ctx := context.Background()

	// Schema registry. A failed initial load is not fatal: the snapshot stays
	// empty and every query is rejected until a refresh succeeds.
	reg := registry.New(cfg.DbtTargetPath, cfg.AllowedMarts)
	if err := reg.Refresh(); err != nil {
		log.Warn().Err(err).Str("path", cfg.DbtTargetPath).Msg("initial registry load failed")
	}
	s.reg = reg

	// Engines
	var localEngine *engine.DuckDB
	duck, err := engine.OpenDuckDB(engine.DuckDBConfig{
		Path:        cfg.DuckDBPath,
		ReadOnly:    cfg.DuckDBReadOnly,
		Threads:     cfg.DuckDBThreads,
		MemoryLimit: cfg.DuckDBMemoryLimit,
	})
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DuckDBPath).Msg("DuckDB unavailable")
	} else {
		localEngine = duck
		s.closers = append(s.closers, duck)
	}

	var remoteEngine *engine.BigQuery
	if cfg.GCPProjectID != "" {
		bq, bqErr := engine.NewBigQuery(ctx, cfg.GCPProjectID, cfg.GoogleApplicationCredentials, cfg.BigQueryLocation)
		if bqErr != nil {
			log.Warn().Err(bqErr).Msg("BigQuery unavailable")
		} else {
			remoteEngine = bq
			s.closers = append(s.closers, bq)
		}
	} else {
		log.Warn().Msg("GCP_PROJECT_ID not set - BigQuery disabled")
	}

	// Guardrail pipeline
	validator := &guardrail.Validator{SafeRowLimit: cfg.SafeRowLimit}
	ctrl := admission.NewController(cfg.MaxBytesBilled)
	resultCache := cache.New(time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheCapacity)
	auditLog := audit.New(cfg.AuditLogPath, cfg.AuditLogMaxSizeMB, cfg.AuditLogMaxBackups, cfg.AuditBufferSize)
	s.audit = auditLog

	gw := gateway.New(reg, validator, ctrl, resultCache, auditLog, cfg.MaxBytesBilled)
	if localEngine != nil {
		gw.RegisterEngine(localEngine)
	}
	if remoteEngine != nil {
		gw.RegisterEngine(remoteEngine)
	}

	// SQL generation
	var provider nlsql.Provider
	switch {
	case strings.EqualFold(cfg.LLMProvider, "anthropic") && cfg.AnthropicAPIKey != "":
		provider = nlsql.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL)
	case strings.EqualFold(cfg.LLMProvider, "stub"):
		provider = nlsql.Stub{}
		log.Warn().Msg("using stubbed SQL generation - set LLM_PROVIDER=anthropic for real output")
	default:
		provider = nlsql.Disabled{}
		log.Warn().Msg("ANTHROPIC_API_KEY not set - SQL generation disabled")
	}

	_, generationDisabled := provider.(nlsql.Disabled)
	llmEnabled := !generationDisabled
	log.Info().
		Bool("duckdb_enabled", localEngine != nil).
		Bool("bigquery_enabled", remoteEngine != nil).
		Bool("sql_generation_enabled", llmEnabled).
		Strs("exposed_datasets", reg.Snapshot().ExposedNames()).
		Int64("max_bytes_billed", cfg.MaxBytesBilled).
		Msg("gateway configuration")

	// Handlers
	healthH := handler.NewHealthHandler(pinger(localEngine), remoteEngine != nil, llmEnabled)
	datasetsH := handler.NewDatasetsHandler(reg)
	sqlH := handler.NewSQLHandler(gw, provider, reg)
	queryH := handler.NewQueryHandler(gw)
	prebuiltH := handler.NewPrebuiltHandler()

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	r.Use(chiMiddleware.RealIP)

	r.Get("/health", healthH.Health)
	r.Get("/", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute))

		r.Route(cfg.APIPrefix, func(r chi.Router) {
			r.Get("/datasets", datasetsH.List)
			r.Get("/datasets/{name}", datasetsH.Get)
			r.Post("/datasets/refresh", datasetsH.Refresh)

			r.Post("/sql/validate", sqlH.Validate)
			r.Post("/sql/estimate", sqlH.Estimate)
			r.Post("/sql/generate", sqlH.Generate)

			r.Post("/query/run", queryH.Run)
			r.Get("/queries/prebuilt", prebuiltH.List)
		})
	})

	return r, nil
}

// pinger avoids handing the health handler a typed nil.
func pinger(d *engine.DuckDB) handler.Pinger {
	if d == nil {
		return nil
	}
	return d
}
