package providers

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/upb/hive/services/ratelimit"
	"go.uber.org/zap"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned for duplicate catalog ids
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrEmptyCatalog is returned when the registry is built with no providers
	ErrEmptyCatalog = errors.New("provider catalog is empty")
)

// Speed is a qualitative latency tier.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

// Quality is a qualitative output tier.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Tier is the billing class of a provider.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPaid     Tier = "paid"
	TierGateway  Tier = "gateway"
)

// Capabilities describes what a provider can do.
type Capabilities struct {
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	SupportsStreaming bool    `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsVision    bool    `json:"supports_vision" yaml:"supports_vision"`
	Speed             Speed   `json:"speed" yaml:"speed"`
	Quality           Quality `json:"quality" yaml:"quality"`
}

// Provider is one external LLM endpoint with its quota profile.
type Provider struct {
	ID           string               `json:"id" yaml:"id"`
	Name         string               `json:"name" yaml:"name"`
	Family       Family               `json:"family" yaml:"family"`
	Endpoint     string               `json:"endpoint" yaml:"endpoint"`
	Model        string               `json:"model" yaml:"model"`
	Capabilities Capabilities         `json:"capabilities" yaml:"capabilities"`
	Tier         Tier                 `json:"tier" yaml:"tier"`
	Limits       ratelimit.Limits     `json:"limits" yaml:"limits"`
	Usage        ratelimit.Usage      `json:"usage" yaml:"-"`
	Enabled      bool                 `json:"enabled" yaml:"enabled"`
	APIKeyEnv    string               `json:"api_key_env" yaml:"api_key_env"`
	TaskBonus    map[TaskType]float64 `json:"task_bonus,omitempty" yaml:"task_bonus"`
}

// SkipReason explains why a provider was not a candidate.
type SkipReason string

const (
	SkipDisabled       SkipReason = "disabled"
	SkipNoAPIKey       SkipReason = "no_api_key"
	SkipQuotaExhausted SkipReason = "quota_exhausted"
	SkipExcluded       SkipReason = "excluded"
)

// Skip records a provider filtered out before any call.
type Skip struct {
	ProviderID string
	Reason     SkipReason
}

// Status is the read-only view exposed for monitoring.
type Status struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Available    bool   `json:"available"`
	QuotaPercent int    `json:"quota_percent"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock used for quota windows.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEnvLookup overrides how credentials are read.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(r *Registry) { r.lookupEnv = lookup }
}

// Registry holds the provider table and its usage counters.
// All reads and writes go through mu.
type Registry struct {
	mu        sync.RWMutex
	providers []*Provider
	index     map[string]int
	now       func() time.Time
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
}

// NewRegistry creates a registry from catalog, preserving its order.
func NewRegistry(catalog []Provider, logger *zap.Logger, opts ...Option) (*Registry, error) {
	if len(catalog) == 0 {
		return nil, ErrEmptyCatalog
	}

	r := &Registry{
		providers: make([]*Provider, 0, len(catalog)),
		index:     make(map[string]int, len(catalog)),
		now:       time.Now,
		lookupEnv: os.LookupEnv,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	now := r.now()
	for i := range catalog {
		p := catalog[i]
		if p.ID == "" {
			return nil, fmt.Errorf("provider at index %d has no id", i)
		}
		if _, exists := r.index[p.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, p.ID)
		}
		p.Usage = ratelimit.NewUsage(now)
		p.TaskBonus = copyBonus(p.TaskBonus)
		r.index[p.ID] = len(r.providers)
		r.providers = append(r.providers, &p)
	}

	return r, nil
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Get returns a copy of the provider record.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.lookup(id)
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p.snapshot(), nil
}

// HasAPIKey reports whether the provider's credential variable is set and non-empty.
func (r *Registry) HasAPIKey(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.lookup(id)
	return ok && r.hasAPIKey(p)
}

// HasQuota reports whether every usage counter is below its limit.
func (r *Registry) HasQuota(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.lookup(id)
	return ok && p.Usage.HasQuota(p.Limits)
}

// APIKey returns the provider credential, or "" when unset.
func (r *Registry) APIKey(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.lookup(id)
	if !ok || p.APIKeyEnv == "" {
		return ""
	}
	v, _ := r.lookupEnv(p.APIKeyEnv)
	return v
}

// ResetUsageCounters rolls every provider's quota windows forward.
func (r *Registry) ResetUsageCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// Candidates resets quota windows and returns copies of the providers that
// are enabled, keyed, within quota and not excluded, in registry order.
// Every other provider is reported with the reason it was skipped.
func (r *Registry) Candidates(exclude map[string]bool) ([]Provider, []Skip) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()

	var (
		candidates []Provider
		skipped    []Skip
	)
	for _, p := range r.providers {
		switch {
		case exclude[p.ID]:
			skipped = append(skipped, Skip{ProviderID: p.ID, Reason: SkipExcluded})
		case !p.Enabled:
			skipped = append(skipped, Skip{ProviderID: p.ID, Reason: SkipDisabled})
		case !r.hasAPIKey(p):
			skipped = append(skipped, Skip{ProviderID: p.ID, Reason: SkipNoAPIKey})
		case !p.Usage.HasQuota(p.Limits):
			skipped = append(skipped, Skip{ProviderID: p.ID, Reason: SkipQuotaExhausted})
		default:
			candidates = append(candidates, p.snapshot())
		}
	}
	return candidates, skipped
}

// RecordUsage counts a successful request against the provider.
func (r *Registry) RecordUsage(id string, tokens int) error {
	return r.mutate(id, func(p *Provider, now time.Time) {
		p.Usage.Record(tokens, now)
	})
}

// ExhaustMinute marks the provider's per-minute quota as used up.
func (r *Registry) ExhaustMinute(id string) error {
	return r.mutate(id, func(p *Provider, now time.Time) {
		p.Usage.ExhaustMinute(p.Limits, now)
		r.logger.Info("provider minute quota exhausted", zap.String("provider", id))
	})
}

// AddDailyPenalty charges requests against the provider's daily counter.
func (r *Registry) AddDailyPenalty(id string, requests int) error {
	return r.mutate(id, func(p *Provider, _ time.Time) {
		p.Usage.Penalize(requests)
		r.logger.Info("provider penalized",
			zap.String("provider", id),
			zap.Int("penalty", requests),
			zap.Int("requests_today", p.Usage.RequestsToday))
	})
}

// Disable turns the provider off for the rest of the process lifetime.
func (r *Registry) Disable(id string) error {
	return r.mutate(id, func(p *Provider, _ time.Time) {
		if p.Enabled {
			p.Enabled = false
			r.logger.Warn("provider disabled", zap.String("provider", id))
		}
	})
}

// Update applies fn to the live record under the registry lock.
func (r *Registry) Update(id string, fn func(p *Provider)) error {
	return r.mutate(id, func(p *Provider, _ time.Time) { fn(p) })
}

// Status returns availability and remaining daily quota per provider.
func (r *Registry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()

	out := make([]Status, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, Status{
			ID:           p.ID,
			Name:         p.Name,
			Available:    p.Enabled && r.hasAPIKey(p) && p.Usage.HasQuota(p.Limits),
			QuotaPercent: int(math.Round(p.Usage.DayRemaining(p.Limits) * 100)),
		})
	}
	return out
}

func (r *Registry) mutate(id string, fn func(p *Provider, now time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	fn(p, r.now())
	return nil
}

// resetLocked must be called with mu held for writing.
func (r *Registry) resetLocked() {
	now := r.now()
	for _, p := range r.providers {
		if windows := p.Usage.Reset(now); len(windows) > 0 {
			r.logger.Debug("quota windows reset",
				zap.String("provider", p.ID),
				zap.Any("windows", windows))
		}
	}
}

func (r *Registry) lookup(id string) (*Provider, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.providers[i], true
}

func (r *Registry) hasAPIKey(p *Provider) bool {
	if p.APIKeyEnv == "" {
		return false
	}
	v, ok := r.lookupEnv(p.APIKeyEnv)
	return ok && v != ""
}

func (p *Provider) snapshot() Provider {
	c := *p
	c.TaskBonus = copyBonus(p.TaskBonus)
	return c
}

func copyBonus(in map[TaskType]float64) map[TaskType]float64 {
	if in == nil {
		return nil
	}
	out := make(map[TaskType]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
