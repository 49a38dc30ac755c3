package routing

import (
	"errors"
	"sort"

	"github.com/upb/hive/services/providers"
	"go.uber.org/zap"
)

// ErrNoProviderAvailable is returned when no provider can handle the request
var ErrNoProviderAvailable = errors.New("no provider available")

var tierBonus = map[providers.Tier]float64{
	providers.TierFree:     50,
	providers.TierStandard: 0,
	providers.TierPaid:     -30,
	providers.TierGateway:  -50,
}

const (
	minuteQuotaWeight = 30
	dayQuotaWeight    = 20
)

// Score ranks a provider for req. Higher is better.
func Score(p providers.Provider, req *providers.ChatRequest) float64 {
	score := tierBonus[p.Tier]

	score += minuteQuotaWeight * p.Usage.MinuteRemaining(p.Limits)
	score += dayQuotaWeight * p.Usage.DayRemaining(p.Limits)

	switch req.TaskType {
	case providers.TaskAnalysis, providers.TaskCreative:
		switch p.Capabilities.Quality {
		case providers.QualityHigh:
			score += 25
		case providers.QualityMedium:
			score += 15
		}
	case providers.TaskChat:
		switch p.Capabilities.Speed {
		case providers.SpeedFast:
			score += 20
		case providers.SpeedMedium:
			score += 10
		}
	}

	if req.TaskType != "" {
		score += p.TaskBonus[req.TaskType]
	}

	return score
}

// Service picks the provider for each dispatch attempt.
type Service struct {
	registry *providers.Registry
	logger   *zap.Logger
}

// NewService creates a new routing service
func NewService(registry *providers.Registry, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		logger:   logger,
	}
}

// SelectProvider returns the best candidate for req that is not in exclude,
// along with every provider that was filtered out and why.
//
// A preferred provider that is still a candidate wins outright. Otherwise
// candidates are ranked by Score; ties keep registry order.
func (s *Service) SelectProvider(req *providers.ChatRequest, exclude map[string]bool) (providers.Provider, []providers.Skip, error) {
	candidates, skipped := s.registry.Candidates(exclude)
	if len(candidates) == 0 {
		return providers.Provider{}, skipped, ErrNoProviderAvailable
	}

	if req.PreferredProvider != "" {
		for _, c := range candidates {
			if c.ID == req.PreferredProvider {
				s.logger.Debug("preferred provider selected", zap.String("provider", c.ID))
				return c, skipped, nil
			}
		}
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ID] = Score(c, req)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].ID] > scores[candidates[j].ID]
	})

	best := candidates[0]
	s.logger.Debug("provider selected",
		zap.String("provider", best.ID),
		zap.Float64("score", scores[best.ID]),
		zap.Int("candidates", len(candidates)))

	return best, skipped, nil
}
