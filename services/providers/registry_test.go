package providers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/hive/services/ratelimit"
	"go.uber.org/zap"
)

// fakeClock is a settable clock for quota window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func envWith(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func testCatalog() []Provider {
	limits := ratelimit.Limits{RequestsPerMinute: 2, RequestsPerDay: 10, TokensPerMonth: 1000}
	return []Provider{
		{ID: "alpha", Name: "Alpha", Family: FamilyOpenAI, Tier: TierFree, Limits: limits, Enabled: true, APIKeyEnv: "ALPHA_KEY"},
		{ID: "beta", Name: "Beta", Family: FamilyGemini, Tier: TierFree, Limits: limits, Enabled: true, APIKeyEnv: "BETA_KEY"},
		{ID: "gamma", Name: "Gamma", Family: FamilyAnthropic, Tier: TierPaid, Limits: limits, Enabled: true, APIKeyEnv: "GAMMA_KEY"},
	}
}

func newTestRegistry(t *testing.T, env map[string]string) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	reg, err := NewRegistry(testCatalog(), zap.NewNop(), WithClock(clock.Now), WithEnvLookup(envWith(env)))
	require.NoError(t, err)
	return reg, clock
}

func allKeys() map[string]string {
	return map[string]string{"ALPHA_KEY": "a", "BETA_KEY": "b", "GAMMA_KEY": "c"}
}

func TestNewRegistry(t *testing.T) {
	t.Run("empty catalog", func(t *testing.T) {
		_, err := NewRegistry(nil, zap.NewNop())
		assert.ErrorIs(t, err, ErrEmptyCatalog)
	})

	t.Run("duplicate id", func(t *testing.T) {
		catalog := append(testCatalog(), Provider{ID: "alpha"})
		_, err := NewRegistry(catalog, zap.NewNop())
		assert.ErrorIs(t, err, ErrProviderAlreadyRegistered)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := NewRegistry([]Provider{{Name: "nameless"}}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("usage anchored at construction time", func(t *testing.T) {
		reg, _ := newTestRegistry(t, allKeys())
		p, err := reg.Get("alpha")
		require.NoError(t, err)
		assert.Equal(t, 10, p.Usage.LastResetDay)
		assert.Equal(t, time.May, p.Usage.LastResetMonth)
		assert.Equal(t, 3, reg.Len())
	})
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t, allKeys())

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.ErrorIs(t, reg.RecordUsage("missing", 1), ErrProviderNotFound)
	assert.ErrorIs(t, reg.Disable("missing"), ErrProviderNotFound)
}

func TestRegistry_HasAPIKey(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]string{"ALPHA_KEY": "secret", "BETA_KEY": ""})

	assert.True(t, reg.HasAPIKey("alpha"))
	assert.False(t, reg.HasAPIKey("beta"), "empty value counts as unset")
	assert.False(t, reg.HasAPIKey("gamma"))
	assert.False(t, reg.HasAPIKey("missing"))

	assert.Equal(t, "secret", reg.APIKey("alpha"))
	assert.Empty(t, reg.APIKey("gamma"))
}

func TestRegistry_Candidates(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]string{"ALPHA_KEY": "a", "GAMMA_KEY": "c"})
	require.NoError(t, reg.Update("gamma", func(p *Provider) { p.Usage.RequestsToday = 10 }))

	candidates, skipped := reg.Candidates(nil)

	require.Len(t, candidates, 1)
	assert.Equal(t, "alpha", candidates[0].ID)
	assert.Equal(t, []Skip{
		{ProviderID: "beta", Reason: SkipNoAPIKey},
		{ProviderID: "gamma", Reason: SkipQuotaExhausted},
	}, skipped)

	candidates, skipped = reg.Candidates(map[string]bool{"alpha": true})
	assert.Empty(t, candidates)
	assert.Contains(t, skipped, Skip{ProviderID: "alpha", Reason: SkipExcluded})
}

func TestRegistry_Candidates_ReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(t, allKeys())

	candidates, _ := reg.Candidates(nil)
	candidates[0].Usage.RequestsToday = 99
	candidates[0].Enabled = false

	p, err := reg.Get(candidates[0].ID)
	require.NoError(t, err)
	assert.Zero(t, p.Usage.RequestsToday)
	assert.True(t, p.Enabled)
}

func TestRegistry_QuotaBoundary(t *testing.T) {
	reg, clock := newTestRegistry(t, allKeys())

	require.NoError(t, reg.Update("alpha", func(p *Provider) {
		p.Usage.RequestsToday = p.Limits.RequestsPerDay
	}))
	assert.False(t, reg.HasQuota("alpha"))

	candidates, _ := reg.Candidates(nil)
	for _, c := range candidates {
		assert.NotEqual(t, "alpha", c.ID)
	}

	clock.Advance(24 * time.Hour)

	candidates, _ = reg.Candidates(nil)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "alpha", candidates[0].ID)

	p, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Zero(t, p.Usage.RequestsToday)
	assert.Equal(t, 11, p.Usage.LastResetDay)
}

func TestRegistry_RecordUsage(t *testing.T) {
	reg, clock := newTestRegistry(t, allKeys())

	require.NoError(t, reg.RecordUsage("alpha", 120))
	require.NoError(t, reg.RecordUsage("alpha", 80))

	p, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Usage.RequestsThisMinute)
	assert.Equal(t, 2, p.Usage.RequestsToday)
	assert.Equal(t, 200, p.Usage.TokensThisMonth)
	assert.Equal(t, clock.Now(), p.Usage.LastRequestTime)
	assert.False(t, reg.HasQuota("alpha"), "two requests fill the minute window")

	clock.Advance(61 * time.Second)
	reg.ResetUsageCounters()
	assert.True(t, reg.HasQuota("alpha"))
}

func TestRegistry_CorrectiveMutations(t *testing.T) {
	t.Run("exhaust minute", func(t *testing.T) {
		reg, _ := newTestRegistry(t, allKeys())
		require.NoError(t, reg.ExhaustMinute("beta"))

		p, _ := reg.Get("beta")
		assert.Equal(t, p.Limits.RequestsPerMinute, p.Usage.RequestsThisMinute)
		assert.False(t, reg.HasQuota("beta"))
	})

	t.Run("daily penalty", func(t *testing.T) {
		reg, _ := newTestRegistry(t, allKeys())
		require.NoError(t, reg.AddDailyPenalty("beta", 4))

		p, _ := reg.Get("beta")
		assert.Equal(t, 4, p.Usage.RequestsToday)
		assert.True(t, reg.HasQuota("beta"))
	})

	t.Run("disable is permanent", func(t *testing.T) {
		reg, clock := newTestRegistry(t, allKeys())
		require.NoError(t, reg.Disable("beta"))

		clock.Advance(48 * time.Hour)
		candidates, skipped := reg.Candidates(nil)
		for _, c := range candidates {
			assert.NotEqual(t, "beta", c.ID)
		}
		assert.Contains(t, skipped, Skip{ProviderID: "beta", Reason: SkipDisabled})
	})
}

func TestRegistry_Status(t *testing.T) {
	reg, _ := newTestRegistry(t, map[string]string{"ALPHA_KEY": "a", "BETA_KEY": "b"})
	require.NoError(t, reg.Update("alpha", func(p *Provider) { p.Usage.RequestsToday = 3 }))
	require.NoError(t, reg.Disable("beta"))

	status := reg.Status()

	require.Len(t, status, 3)
	assert.Equal(t, Status{ID: "alpha", Name: "Alpha", Available: true, QuotaPercent: 70}, status[0])
	assert.Equal(t, Status{ID: "beta", Name: "Beta", Available: false, QuotaPercent: 100}, status[1])
	assert.Equal(t, Status{ID: "gamma", Name: "Gamma", Available: false, QuotaPercent: 100}, status[2])
}

func TestRegistry_ConcurrentRecordUsage(t *testing.T) {
	reg, _ := NewRegistry([]Provider{{
		ID:        "alpha",
		Limits:    ratelimit.Limits{RequestsPerMinute: 1000, RequestsPerDay: 1000, TokensPerMonth: 100000},
		Enabled:   true,
		APIKeyEnv: "ALPHA_KEY",
	}}, zap.NewNop(), WithEnvLookup(envWith(allKeys())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.RecordUsage("alpha", 10)
		}()
	}
	wg.Wait()

	p, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Usage.RequestsToday)
	assert.Equal(t, 500, p.Usage.TokensThisMonth)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 429, StatusCode(NewProviderError("groq", "slow down", 429, nil)))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))

	wrapped := errors.Join(errors.New("outer"), NewProviderError("groq", "", 503, nil))
	assert.Equal(t, 503, StatusCode(wrapped))
}
