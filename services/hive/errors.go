package hive

import (
	"errors"
	"strings"

	"github.com/upb/hive/services"
	"github.com/upb/hive/services/classifier"
	"github.com/upb/hive/services/providers"
)

// ErrAllProvidersExhausted matches every *ExhaustedError via errors.Is.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ExhaustedError is returned by Generate when no provider could serve the
// request. Attempts lists providers that were called and failed, in call
// order; Skipped lists providers filtered out before any call.
type ExhaustedError struct {
	Attempts []classifier.Record
	Skipped  []classifier.Record
}

func newExhaustedError(attempts []classifier.Record, skipped []providers.Skip) *ExhaustedError {
	e := &ExhaustedError{Attempts: append([]classifier.Record(nil), attempts...)}
	for _, s := range skipped {
		// already reported as attempts
		if s.Reason == providers.SkipExcluded {
			continue
		}
		e.Skipped = append(e.Skipped, classifier.FromSkip(s))
	}
	return e
}

// Error enumerates every provider with the reason it could not serve.
func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllProvidersExhausted.Error())

	all := e.Providers()
	if len(all) == 0 {
		b.WriteString(": no providers configured")
		return b.String()
	}

	b.WriteString(": ")
	for i, rec := range all {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(rec.String())
	}
	return b.String()
}

// Providers returns attempts followed by skips.
func (e *ExhaustedError) Providers() []classifier.Record {
	out := make([]classifier.Record, 0, len(e.Attempts)+len(e.Skipped))
	out = append(out, e.Attempts...)
	return append(out, e.Skipped...)
}

// Is reports a match for ErrAllProvidersExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// Unwrap places the error in the unavailable domain category.
func (e *ExhaustedError) Unwrap() error {
	return services.ErrNoProvidersAvailable
}

// ErrorDetails lists attempts and skips for API responses.
func (e *ExhaustedError) ErrorDetails() map[string]interface{} {
	attempts := e.Attempts
	if attempts == nil {
		attempts = []classifier.Record{}
	}
	skipped := e.Skipped
	if skipped == nil {
		skipped = []classifier.Record{}
	}
	return map[string]interface{}{
		"attempts": attempts,
		"skipped":  skipped,
	}
}
