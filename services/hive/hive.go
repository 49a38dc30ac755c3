package hive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/upb/hive/internal/observability"
	"github.com/upb/hive/internal/shared"
	"github.com/upb/hive/models"
	"github.com/upb/hive/services"
	"github.com/upb/hive/services/cache"
	"github.com/upb/hive/services/classifier"
	"github.com/upb/hive/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds dispatcher tuning
type Config struct {
	// AttemptTimeout bounds a single provider call
	AttemptTimeout time.Duration

	DefaultMaxTokens   int
	DefaultTemperature float64
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		AttemptTimeout:     30 * time.Second,
		DefaultMaxTokens:   1024,
		DefaultTemperature: 0.7,
	}
}

// Registry is the provider state the dispatcher reads and corrects.
type Registry interface {
	classifier.Mutator
	APIKey(id string) string
	RecordUsage(id string, tokens int) error
	Status() []providers.Status
}

// Selector picks the next provider for a request.
type Selector interface {
	SelectProvider(req *providers.ChatRequest, exclude map[string]bool) (providers.Provider, []providers.Skip, error)
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	Record(rec *models.DispatchRecord) error
}

// Option configures a Hive.
type Option func(*Hive)

// WithLedger records every dispatch outcome to r.
func WithLedger(r Recorder) Option {
	return func(h *Hive) { h.ledger = r }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m observability.Metrics) Option {
	return func(h *Hive) { h.metrics = m }
}

// WithClock overrides the clock used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(h *Hive) { h.now = now }
}

// Hive routes chat requests across providers with fallback and caching.
type Hive struct {
	cfg        Config
	registry   Registry
	selector   Selector
	adapters   map[providers.Family]providers.Adapter
	classifier *classifier.Classifier
	cache      *cache.ResponseCache
	flight     singleflight.Group
	ledger     Recorder
	metrics    observability.Metrics
	now        func() time.Time
	logger     *zap.Logger
}

// New creates a dispatcher. Zero fields of cfg take DefaultConfig values.
func New(
	cfg Config,
	registry Registry,
	selector Selector,
	adapters map[providers.Family]providers.Adapter,
	cls *classifier.Classifier,
	responseCache *cache.ResponseCache,
	logger *zap.Logger,
	opts ...Option,
) *Hive {
	def := DefaultConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = def.DefaultMaxTokens
	}
	if cfg.DefaultTemperature < 0 {
		cfg.DefaultTemperature = def.DefaultTemperature
	}

	h := &Hive{
		cfg:        cfg,
		registry:   registry,
		selector:   selector,
		adapters:   adapters,
		classifier: cls,
		cache:      responseCache,
		metrics:    observability.NopMetrics{},
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Generate serves req from the cache or from the best available provider,
// falling back through the remaining providers on failure.
func (h *Hive) Generate(ctx context.Context, req *providers.ChatRequest) (*providers.Response, error) {
	normalized, err := h.normalize(req)
	if err != nil {
		return nil, err
	}

	key, err := cache.Key(normalized)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, "request cannot be cached", err)
	}

	if cached := h.cache.Get(key); cached != nil {
		h.metrics.RecordCacheLookup(ctx, true)
		cached.Cached = true
		h.recordCached(ctx, normalized, cached)
		return cached, nil
	}
	h.metrics.RecordCacheLookup(ctx, false)

	leader := false
	ch := h.flight.DoChan(key, func() (interface{}, error) {
		leader = true
		return h.dispatch(ctx, normalized, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			// the leader's caller gave up; this caller still wants an answer
			if !leader && services.IsCanceledError(res.Err) && ctx.Err() == nil {
				return h.dispatch(ctx, normalized, key)
			}
			return nil, res.Err
		}
		resp := res.Val.(*providers.Response).Clone()
		if !leader {
			resp.Cached = true
			h.recordCached(ctx, normalized, resp)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, services.FromContext(ctx.Err())
	}
}

// ProviderStatus returns availability and remaining daily quota per provider.
func (h *Hive) ProviderStatus() []providers.Status {
	status := h.registry.Status()
	for _, s := range status {
		h.metrics.SetProviderAvailable(s.ID, s.Available)
	}
	return status
}

// CacheStats returns response cache statistics.
func (h *Hive) CacheStats() cache.Stats {
	return h.cache.Stats()
}

// dispatch runs the fallback loop. Each iteration either returns or
// permanently excludes one provider, so the loop terminates.
func (h *Hive) dispatch(ctx context.Context, req *providers.ChatRequest, key string) (*providers.Response, error) {
	start := h.now()
	exclude := make(map[string]bool)
	var attempts []classifier.Record

	for {
		if err := ctx.Err(); err != nil {
			return nil, services.FromContext(err)
		}

		p, skipped, err := h.selector.SelectProvider(req, exclude)
		if err != nil {
			exhausted := newExhaustedError(attempts, skipped)
			h.logger.Error("all providers exhausted",
				zap.String("request_id", shared.RequestID(ctx)),
				zap.Int("attempts", len(exhausted.Attempts)),
				zap.Int("skipped", len(exhausted.Skipped)))
			h.metrics.RecordRequest(ctx, observability.RequestLabels{
				TaskType: string(req.TaskType),
				Outcome:  string(models.DispatchOutcomeFailed),
			})
			h.recordFailed(ctx, req, exhausted, h.now().Sub(start))
			return nil, exhausted
		}

		resp, err := h.attempt(ctx, p, req)
		if err == nil {
			h.complete(ctx, p, req, key, resp, attempts, h.now().Sub(start))
			return resp, nil
		}

		// caller cancellation says nothing about the provider
		if ctxErr := ctx.Err(); ctxErr != nil {
			h.logger.Debug("request abandoned during provider call",
				zap.String("provider", p.ID),
				zap.Error(ctxErr))
			return nil, services.FromContext(ctxErr)
		}

		rec := classifier.Classify(err, p.ID)
		attempts = append(attempts, rec)
		exclude[p.ID] = true
		h.classifier.Apply(h.registry, rec)
		h.metrics.RecordAttemptFailure(ctx, p.ID, string(rec.Kind))

		h.logger.Warn("provider attempt failed, falling back",
			zap.String("request_id", shared.RequestID(ctx)),
			zap.String("provider", p.ID),
			zap.String("kind", string(rec.Kind)),
			zap.Int("status_code", rec.StatusCode),
			zap.Error(err))
	}
}

// attempt makes one provider call under the per-attempt deadline.
func (h *Hive) attempt(ctx context.Context, p providers.Provider, req *providers.ChatRequest) (*providers.Response, error) {
	adapter, ok := h.adapters[p.Family]
	if !ok {
		return nil, providers.NewProviderError(p.ID, fmt.Sprintf("no adapter for family %q", p.Family), 0, nil)
	}

	target := providers.Target{
		ProviderID: p.ID,
		Endpoint:   p.Endpoint,
		Model:      p.Model,
		APIKey:     h.registry.APIKey(p.ID),
	}

	attemptCtx, cancel := context.WithTimeout(ctx, h.cfg.AttemptTimeout)
	defer cancel()

	h.logger.Debug("calling provider",
		zap.String("provider", p.ID),
		zap.String("model", p.Model),
		zap.String("family", string(p.Family)))

	started := h.now()
	resp, err := adapter.Complete(attemptCtx, target, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, providers.NewProviderError(p.ID, "empty response", 0, nil)
	}
	resp.LatencyMs = h.now().Sub(started).Milliseconds()
	resp.Cached = false
	return resp, nil
}

func (h *Hive) complete(ctx context.Context, p providers.Provider, req *providers.ChatRequest, key string, resp *providers.Response, failures []classifier.Record, elapsed time.Duration) {
	if err := h.registry.RecordUsage(p.ID, resp.TokensUsed); err != nil {
		h.logger.Warn("failed to record provider usage", zap.String("provider", p.ID), zap.Error(err))
	}
	h.cache.Set(key, resp)

	labels := observability.RequestLabels{
		Provider: p.ID,
		TaskType: string(req.TaskType),
		Outcome:  string(models.DispatchOutcomeCompleted),
	}
	h.metrics.RecordRequest(ctx, labels)
	h.metrics.RecordLatency(ctx, time.Duration(resp.LatencyMs)*time.Millisecond, labels)
	h.metrics.RecordTokens(ctx, resp.TokensUsed, labels)

	h.logger.Info("request served",
		zap.String("request_id", shared.RequestID(ctx)),
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.TokensUsed),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Int("fallbacks", len(failures)))

	if h.ledger == nil {
		return
	}
	rec := models.NewDispatchRecord(shared.RequestID(ctx), string(req.TaskType))
	rec.MarkAsCompleted(resp.Provider, resp.Model, resp.TokensUsed, elapsed.Milliseconds())
	h.emit(rec, failures)
}

func (h *Hive) recordCached(ctx context.Context, req *providers.ChatRequest, resp *providers.Response) {
	h.metrics.RecordRequest(ctx, observability.RequestLabels{
		Provider: resp.Provider,
		TaskType: string(req.TaskType),
		Outcome:  string(models.DispatchOutcomeCached),
	})
	if h.ledger == nil {
		return
	}
	rec := models.NewDispatchRecord(shared.RequestID(ctx), string(req.TaskType))
	rec.MarkAsCached(resp.Provider, resp.Model)
	h.emit(rec, nil)
}

func (h *Hive) recordFailed(ctx context.Context, req *providers.ChatRequest, exhausted *ExhaustedError, elapsed time.Duration) {
	if h.ledger == nil {
		return
	}
	rec := models.NewDispatchRecord(shared.RequestID(ctx), string(req.TaskType))
	rec.MarkAsFailed(exhausted.Error())
	rec.LatencyMs = elapsed.Milliseconds()
	h.emit(rec, exhausted.Attempts)
}

func (h *Hive) emit(rec *models.DispatchRecord, failures []classifier.Record) {
	attempts := make([]models.AttemptRecord, 0, len(failures))
	for _, f := range failures {
		attempts = append(attempts, models.AttemptRecord{
			Provider:   f.ProviderID,
			Kind:       string(f.Kind),
			Message:    f.Message,
			StatusCode: f.StatusCode,
		})
	}
	if err := rec.SetFailures(attempts); err != nil {
		h.logger.Warn("failed to encode dispatch failures", zap.Error(err))
	}
	if err := h.ledger.Record(rec); err != nil {
		h.logger.Debug("dispatch record not queued", zap.Error(err))
	}
}

// normalize validates req and returns a copy with defaults applied.
func (h *Hive) normalize(req *providers.ChatRequest) (*providers.ChatRequest, error) {
	if req == nil {
		return nil, services.Validation("request is required")
	}
	if len(req.Messages) == 0 {
		return nil, services.Validation("at least one message is required")
	}
	turns := 0
	for i, m := range req.Messages {
		switch m.Role {
		case providers.RoleUser, providers.RoleAssistant:
			turns++
		case providers.RoleSystem:
		default:
			return nil, services.Validation(fmt.Sprintf("message %d has unknown role %q", i, m.Role)).
				WithDetail("index", i)
		}
	}
	if turns == 0 {
		return nil, services.Validation("at least one user or assistant message is required")
	}
	if req.MaxTokens < 0 {
		return nil, services.Validation("max_tokens cannot be negative")
	}
	if t := req.Temperature; t != nil && (math.IsNaN(*t) || math.IsInf(*t, 0) || *t < 0 || *t > 2) {
		return nil, services.Validation("temperature must be within [0, 2]")
	}
	switch req.TaskType {
	case "", providers.TaskChat, providers.TaskAnalysis, providers.TaskCreative, providers.TaskCode:
	default:
		return nil, services.Validation(fmt.Sprintf("unknown task type %q", req.TaskType))
	}

	out := *req
	out.Messages = append([]providers.Message(nil), req.Messages...)
	if out.MaxTokens == 0 {
		out.MaxTokens = h.cfg.DefaultMaxTokens
	}
	temp := req.TemperatureOr(h.cfg.DefaultTemperature)
	out.Temperature = &temp
	return &out, nil
}
