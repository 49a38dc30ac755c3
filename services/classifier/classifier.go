package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/upb/hive/services/providers"
	"go.uber.org/zap"
)

// DefaultServerErrorPenalty is charged against the daily counter on any 5xx.
const DefaultServerErrorPenalty = 10

// Kind is the classified cause of a failed or skipped attempt.
type Kind string

const (
	KindNoAPIKey        Kind = "no_api_key"
	KindQuotaExhausted  Kind = "quota_exhausted"
	KindDisabled        Kind = "disabled"
	KindExcluded        Kind = "excluded"
	KindInvalidKey      Kind = "invalid_key"
	KindForbidden       Kind = "forbidden"
	KindRateLimited     Kind = "rate_limited"
	KindModelNotFound   Kind = "model_not_found"
	KindRequestRejected Kind = "request_rejected"
	KindServerError     Kind = "server_error"
	KindUnavailable     Kind = "unavailable"
	KindTimeout         Kind = "timeout"
	KindNetworkError    Kind = "network_error"
	KindUnknown         Kind = "unknown"
)

var messages = map[Kind]string{
	KindNoAPIKey:        "API key not configured",
	KindQuotaExhausted:  "free-tier quota exhausted",
	KindDisabled:        "provider disabled",
	KindExcluded:        "already attempted",
	KindInvalidKey:      "invalid API key",
	KindForbidden:       "access forbidden",
	KindRateLimited:     "rate limited",
	KindModelNotFound:   "model not found",
	KindRequestRejected: "request rejected",
	KindServerError:     "provider server error",
	KindUnavailable:     "provider unavailable",
	KindTimeout:         "request timed out",
	KindNetworkError:    "network error",
	KindUnknown:         "unexpected response",
}

// Record is the classified outcome of one provider.
type Record struct {
	ProviderID string `json:"provider"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// String renders the record as "provider: message".
func (r Record) String() string {
	if r.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", r.ProviderID, r.Message, r.StatusCode)
	}
	return fmt.Sprintf("%s: %s", r.ProviderID, r.Message)
}

// Classify maps an adapter error to a Record. Only the structured status
// code and the error chain are inspected.
func Classify(err error, providerID string) Record {
	status := providers.StatusCode(err)
	kind := kindForStatus(status)
	if status == 0 {
		kind = kindForTransport(err)
	}
	return Record{
		ProviderID: providerID,
		Kind:       kind,
		Message:    messages[kind],
		StatusCode: status,
	}
}

// FromSkip converts a pre-call skip into a Record.
func FromSkip(skip providers.Skip) Record {
	var kind Kind
	switch skip.Reason {
	case providers.SkipNoAPIKey:
		kind = KindNoAPIKey
	case providers.SkipQuotaExhausted:
		kind = KindQuotaExhausted
	case providers.SkipDisabled:
		kind = KindDisabled
	case providers.SkipExcluded:
		kind = KindExcluded
	default:
		kind = KindUnknown
	}
	return Record{ProviderID: skip.ProviderID, Kind: kind, Message: messages[kind]}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindInvalidKey
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindModelNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusInternalServerError:
		return KindServerError
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return KindUnavailable
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindRequestRejected
	default:
		return KindUnknown
	}
}

func kindForTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetworkError
}

// Mutator is the subset of the registry the classifier corrects.
type Mutator interface {
	ExhaustMinute(id string) error
	AddDailyPenalty(id string, requests int) error
	Disable(id string) error
}

// Classifier applies corrective state changes after a failed attempt.
type Classifier struct {
	penalty int
	logger  *zap.Logger
}

// New creates a classifier. A non-positive penalty uses DefaultServerErrorPenalty.
func New(penalty int, logger *zap.Logger) *Classifier {
	if penalty <= 0 {
		penalty = DefaultServerErrorPenalty
	}
	return &Classifier{penalty: penalty, logger: logger}
}

// Apply updates provider state for rec: 429 exhausts the minute window,
// any 5xx charges the daily penalty, 401 and 403 disable the provider.
// A failed mutation is logged and the dispatch carries on.
func (c *Classifier) Apply(m Mutator, rec Record) {
	var err error
	switch {
	case rec.StatusCode == http.StatusTooManyRequests:
		err = m.ExhaustMinute(rec.ProviderID)
	case rec.StatusCode >= 500:
		err = m.AddDailyPenalty(rec.ProviderID, c.penalty)
	case rec.StatusCode == http.StatusUnauthorized, rec.StatusCode == http.StatusForbidden:
		err = m.Disable(rec.ProviderID)
	default:
		return
	}
	if err != nil {
		c.logger.Error("failed to apply corrective action",
			zap.String("provider", rec.ProviderID),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err))
	}
}
