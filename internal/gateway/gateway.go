// Package gateway is the control plane every query passes through: validate,
// inject filters, admit on cost, execute through the cache, audit the outcome.
// Nothing reaches an engine except by going through here.
package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medsidd/whyline-denver/internal/admission"
	"github.com/medsidd/whyline-denver/internal/audit"
	"github.com/medsidd/whyline-denver/internal/cache"
	"github.com/medsidd/whyline-denver/internal/engine"
	"github.com/medsidd/whyline-denver/internal/guardrail"
	"github.com/medsidd/whyline-denver/internal/models"
	"github.com/medsidd/whyline-denver/internal/registry"
)

// Gateway wires the guardrail pipeline together. Engines are registered at
// startup; a deployment without BigQuery credentials simply runs local-only.
type Gateway struct {
	registry       *registry.Registry
	validator      *guardrail.Validator
	admission      *admission.Controller
	cache          *cache.Cache
	audit          *audit.Logger
	engines        map[string]engine.Engine
	maxBytesBilled int64
}

func New(reg *registry.Registry, validator *guardrail.Validator, ctrl *admission.Controller,
	resultCache *cache.Cache, auditLog *audit.Logger, maxBytesBilled int64) *Gateway {
	return &Gateway{
		registry:       reg,
		validator:      validator,
		admission:      ctrl,
		cache:          resultCache,
		audit:          auditLog,
		engines:        make(map[string]engine.Engine),
		maxBytesBilled: maxBytesBilled,
	}
}

// RegisterEngine makes an execution backend available under its name.
func (g *Gateway) RegisterEngine(eng engine.Engine) {
	g.engines[eng.Name()] = eng
}

// Engines returns the names of the registered backends.
func (g *Gateway) Engines() []string {
	names := make([]string, 0, len(g.engines))
	for name := range g.engines {
		names = append(names, name)
	}
	return names
}

func (g *Gateway) resolveEngine(name string) (engine.Engine, error) {
	eng, ok := g.engines[name]
	if !ok {
		return nil, models.NewQueryError(models.KindUnknownEngine,
			"unknown engine %q; available engines: %v", name, g.Engines())
	}
	return eng, nil
}

// Validate checks candidate SQL without executing anything. Successful
// previews are not audited, but a denial is a guardrail decision and gets a
// record under the "validate" origin.
func (g *Gateway) Validate(sql string) (*guardrail.ValidatedQuery, error) {
	vq, err := g.validator.Validate(sql, g.registry.Snapshot())
	if err != nil {
		g.auditAdvisory("validate", "", sql, err)
	}
	return vq, err
}

// EstimateCost validates the SQL and asks the admission controller what a run
// would scan. No execution and no billing happen here; denials are audited
// under the "estimate" origin.
func (g *Gateway) EstimateCost(ctx context.Context, sql, engineName string) (*admission.Estimate, error) {
	est, err := g.estimateCost(ctx, sql, engineName)
	if err != nil {
		g.auditAdvisory("estimate", engineName, sql, err)
	}
	return est, err
}

func (g *Gateway) estimateCost(ctx context.Context, sql, engineName string) (*admission.Estimate, error) {
	eng, err := g.resolveEngine(engineName)
	if err != nil {
		return nil, err
	}
	vq, err := g.validator.Validate(sql, g.registry.Snapshot())
	if err != nil {
		return nil, err
	}
	return g.admission.Admit(ctx, eng, vq.CanonicalSQL)
}

// auditAdvisory records a denial on the pre-execution surface.
func (g *Gateway) auditAdvisory(origin, engineName, sql string, err error) {
	kind := string(models.KindOf(err))
	g.audit.Submit(audit.Record{
		Engine:    engineName,
		Origin:    origin,
		Outcome:   kind,
		ErrorKind: kind,
		SQLHash:   audit.HashSQL(sql),
	})
	log.Warn().Str("origin", origin).Str("kind", kind).Msg("advisory request denied")
}

// Execute runs the full pipeline for one query request. Every outcome, allowed
// or denied, produces exactly one audit record.
func (g *Gateway) Execute(ctx context.Context, req *models.RunQueryRequest) (*models.RunQueryResponse, error) {
	req.SetDefaults()
	start := time.Now()
	snap := g.registry.Snapshot()

	resp, vq, est, hit, err := g.execute(ctx, req, snap)
	g.auditDecision(req, vq, est, resp, hit, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) execute(ctx context.Context, req *models.RunQueryRequest, snap *registry.Snapshot) (*models.RunQueryResponse, *guardrail.ValidatedQuery, *admission.Estimate, bool, error) {
	eng, err := g.resolveEngine(req.Engine)
	if err != nil {
		return nil, nil, nil, false, err
	}

	vq, err := g.validator.Validate(req.SQL, snap)
	if err != nil {
		return nil, nil, nil, false, err
	}

	vq, err = guardrail.InjectFilters(vq, guardrail.FiltersFromState(req.Filters), snap)
	if err != nil {
		return nil, vq, nil, false, err
	}

	_, metered := eng.(engine.Estimator)
	if metered {
		if err := guardrail.CheckPartitionFilter(vq, snap); err != nil {
			return nil, vq, nil, false, err
		}
	}

	est, err := g.admission.Admit(ctx, eng, vq.CanonicalSQL)
	if err != nil {
		return nil, vq, nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
	defer cancel()

	key := cache.Key(eng.Name(), vq.CanonicalSQL)
	result, hit, err := g.cache.GetOrExecute(ctx, key, func(execCtx context.Context) (*engine.Result, error) {
		execReq := engine.Request{SQL: vq.CanonicalSQL}
		if metered {
			execReq.MaxBytesBilled = g.maxBytesBilled
		}
		return eng.Execute(execCtx, execReq)
	})
	if err != nil {
		return nil, vq, est, false, err
	}

	stats := models.QueryStats{
		Engine:       eng.Name(),
		LatencyMs:    0, // set by the caller from the full pipeline latency
		BytesScanned: result.BytesScanned,
		CacheHit:     hit,
	}
	return &models.RunQueryResponse{
		Status:   "ok",
		Columns:  result.Columns,
		Data:     result.Rows,
		RowCount: result.RowCount,
		Stats:    stats,
	}, vq, est, hit, nil
}

// auditDecision emits the single audit record for one Execute call and stamps
// the response latency.
func (g *Gateway) auditDecision(req *models.RunQueryRequest, vq *guardrail.ValidatedQuery,
	est *admission.Estimate, resp *models.RunQueryResponse, hit bool, elapsed time.Duration, err error) {

	latency := elapsed.Milliseconds()
	rec := audit.Record{
		Engine:       req.Engine,
		Origin:       string(req.Origin),
		Outcome:      "success",
		LatencyMs:    latency,
		QuestionHash: audit.HashQuestion(req.Question),
	}

	// Hash the canonical form when validation got that far, the raw text when
	// it did not, so every record is attributable to a query.
	if vq != nil {
		rec.SQLHash = audit.HashSQL(vq.CanonicalSQL)
		rec.ModelNames = audit.SortedModels(vq.Relations)
	} else {
		rec.SQLHash = audit.HashSQL(req.SQL)
	}
	if est != nil && est.Metered {
		b := est.Bytes
		rec.EstBytes = &b
	}

	if err != nil {
		kind := string(models.KindOf(err))
		rec.Outcome = kind
		rec.ErrorKind = kind
		log.Warn().Str("kind", kind).Int64("latency_ms", latency).Msg("query denied or failed")
	} else {
		resp.Stats.LatencyMs = latency
		rows := resp.RowCount
		rec.Rows = &rows
		rec.CacheHit = &hit
		log.Info().
			Str("engine", req.Engine).
			Int("rows", resp.RowCount).
			Bool("cache_hit", hit).
			Int64("latency_ms", latency).
			Msg("query executed")
	}

	g.audit.Submit(rec)
}
