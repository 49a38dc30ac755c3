package providers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/upb/hive/services/ratelimit"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape read by LoadCatalog.
type catalogFile struct {
	Providers []Provider `yaml:"providers"`
}

// DefaultCatalog returns the built-in provider table in preference order:
// free tiers first, then the standard and paid providers, then the gateway.
func DefaultCatalog() []Provider {
	return []Provider{
		{
			ID:       "gemini",
			Name:     "Google Gemini",
			Family:   FamilyGemini,
			Endpoint: "https://generativelanguage.googleapis.com",
			Model:    "gemini-1.5-flash",
			Capabilities: Capabilities{
				MaxTokens:         8192,
				SupportsStreaming: true,
				SupportsVision:    true,
				Speed:             SpeedMedium,
				Quality:           QualityHigh,
			},
			Tier:      TierFree,
			Limits:    ratelimit.Limits{RequestsPerMinute: 15, RequestsPerDay: 1500, TokensPerMonth: 30_000_000},
			Enabled:   true,
			APIKeyEnv: "GEMINI_API_KEY",
			TaskBonus: map[TaskType]float64{TaskAnalysis: 10},
		},
		{
			ID:       "groq",
			Name:     "Groq",
			Family:   FamilyOpenAI,
			Endpoint: "https://api.groq.com/openai/v1",
			Model:    "llama-3.3-70b-versatile",
			Capabilities: Capabilities{
				MaxTokens:         8192,
				SupportsStreaming: true,
				Speed:             SpeedFast,
				Quality:           QualityMedium,
			},
			Tier:      TierFree,
			Limits:    ratelimit.Limits{RequestsPerMinute: 30, RequestsPerDay: 14400, TokensPerMonth: 15_000_000},
			Enabled:   true,
			APIKeyEnv: "GROQ_API_KEY",
			TaskBonus: map[TaskType]float64{TaskChat: 10},
		},
		{
			ID:       "cerebras",
			Name:     "Cerebras",
			Family:   FamilyOpenAI,
			Endpoint: "https://api.cerebras.ai/v1",
			Model:    "llama3.1-8b",
			Capabilities: Capabilities{
				MaxTokens:         8192,
				SupportsStreaming: true,
				Speed:             SpeedFast,
				Quality:           QualityMedium,
			},
			Tier:      TierFree,
			Limits:    ratelimit.Limits{RequestsPerMinute: 30, RequestsPerDay: 14400, TokensPerMonth: 30_000_000},
			Enabled:   true,
			APIKeyEnv: "CEREBRAS_API_KEY",
			TaskBonus: map[TaskType]float64{TaskCode: 10},
		},
		{
			ID:       "claude",
			Name:     "Anthropic Claude",
			Family:   FamilyAnthropic,
			Endpoint: "https://api.anthropic.com",
			Model:    "claude-3-5-haiku-latest",
			Capabilities: Capabilities{
				MaxTokens:         8192,
				SupportsStreaming: true,
				SupportsVision:    true,
				Speed:             SpeedMedium,
				Quality:           QualityHigh,
			},
			Tier:      TierStandard,
			Limits:    ratelimit.Limits{RequestsPerMinute: 5, RequestsPerDay: 100, TokensPerMonth: 1_000_000},
			Enabled:   true,
			APIKeyEnv: "ANTHROPIC_API_KEY",
			TaskBonus: map[TaskType]float64{TaskCreative: 15},
		},
		{
			ID:       "openai",
			Name:     "OpenAI",
			Family:   FamilyOpenAI,
			Endpoint: "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Capabilities: Capabilities{
				MaxTokens:         16384,
				SupportsStreaming: true,
				SupportsVision:    true,
				Speed:             SpeedFast,
				Quality:           QualityHigh,
			},
			Tier:      TierPaid,
			Limits:    ratelimit.Limits{RequestsPerMinute: 60, RequestsPerDay: 10000, TokensPerMonth: 10_000_000},
			Enabled:   true,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		{
			ID:       "openrouter",
			Name:     "OpenRouter",
			Family:   FamilyGateway,
			Endpoint: "https://openrouter.ai/api/v1",
			Model:    "openrouter/auto",
			Capabilities: Capabilities{
				MaxTokens:         4096,
				SupportsStreaming: true,
				Speed:             SpeedMedium,
				Quality:           QualityMedium,
			},
			Tier:      TierGateway,
			Limits:    ratelimit.Limits{RequestsPerMinute: 20, RequestsPerDay: 200, TokensPerMonth: 5_000_000},
			Enabled:   true,
			APIKeyEnv: "OPENROUTER_API_KEY",
		},
	}
}

// LoadCatalog parses a YAML provider table. Providers omitting the
// enabled key start disabled.
func LoadCatalog(path string) ([]Provider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is empty")
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if len(file.Providers) == 0 {
		return nil, ErrEmptyCatalog
	}

	for i, p := range file.Providers {
		if err := validateEntry(p); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
	}
	return file.Providers, nil
}

// ApplyOverrides replaces endpoints and models for matching provider ids.
func ApplyOverrides(catalog []Provider, endpoints, models map[string]string) {
	for i := range catalog {
		if v := endpoints[catalog[i].ID]; v != "" {
			catalog[i].Endpoint = strings.TrimRight(v, "/")
		}
		if v := models[catalog[i].ID]; v != "" {
			catalog[i].Model = v
		}
	}
}

func validateEntry(p Provider) error {
	switch {
	case p.ID == "":
		return errors.New("id is required")
	case p.Endpoint == "":
		return fmt.Errorf("%s: endpoint is required", p.ID)
	case p.Model == "":
		return fmt.Errorf("%s: model is required", p.ID)
	case p.APIKeyEnv == "":
		return fmt.Errorf("%s: api_key_env is required", p.ID)
	}

	switch p.Family {
	case FamilyAnthropic, FamilyGemini, FamilyOpenAI, FamilyGateway:
	default:
		return fmt.Errorf("%s: unknown family %q", p.ID, p.Family)
	}

	switch p.Tier {
	case TierFree, TierStandard, TierPaid, TierGateway:
	default:
		return fmt.Errorf("%s: unknown tier %q", p.ID, p.Tier)
	}

	// a zero limit leaves the provider permanently out of quota
	l := p.Limits
	if l.RequestsPerMinute <= 0 || l.RequestsPerDay <= 0 || l.TokensPerMonth <= 0 {
		return fmt.Errorf("%s: limits must be positive (requests_per_minute=%d, requests_per_day=%d, tokens_per_month=%d)",
			p.ID, l.RequestsPerMinute, l.RequestsPerDay, l.TokensPerMonth)
	}
	return nil
}
