package faults

import (
	"fmt"
	"log/slog"
	"time"
)

// RecoveryStrategy tells the pipeline how to react to a failure.
type RecoveryStrategy string

const (
	FailFast           RecoveryStrategy = "FAIL_FAST"
	CircuitBreak       RecoveryStrategy = "CIRCUIT_BREAK"
	ExponentialBackoff RecoveryStrategy = "EXPONENTIAL_BACKOFF"
	LinearBackoff      RecoveryStrategy = "LINEAR_BACKOFF"
	SimpleRetry        RecoveryStrategy = "SIMPLE_RETRY"
)

// Decision is the handler's verdict for one error occurrence.
type Decision struct {
	Category    Category         `json:"category"`
	Strategy    RecoveryStrategy `json:"strategy"`
	Occurrence  int64            `json:"occurrence"`
	ShouldAlert bool             `json:"should_alert"`
	Message     string           `json:"message"`
}

// AlertFunc receives alert-worthy decisions. Dispatch must not block.
type AlertFunc func(context, operation string, d Decision)

// Handler classifies, aggregates, and decides recovery for every error
// the pipeline surfaces. Safe for concurrent use.
type Handler struct {
	patterns *PatternStore
	log      *slog.Logger
	alert    AlertFunc
	now      func() time.Time
}

// NewHandler creates a handler. alert may be nil when no alerting is wired.
func NewHandler(log *slog.Logger, alert AlertFunc) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		patterns: NewPatternStore(),
		log:      log,
		alert:    alert,
		now:      time.Now,
	}
}

// Patterns exposes the aggregated error patterns for the control surface.
func (h *Handler) Patterns() []Pattern {
	return h.patterns.Snapshot()
}

// Handle processes one error occurrence in the given context/operation
// and returns the recovery decision.
func (h *Handler) Handle(context, operation string, err error) Decision {
	now := h.now()
	cat := Classify(err)
	p := h.patterns.Record(context, err, cat, now)
	rate := p.RatePerMinute(now)

	d := Decision{
		Category:   cat,
		Strategy:   strategyFor(cat, p.Count, rate),
		Occurrence: p.Count,
		Message:    humanMessage(cat, operation, err),
	}
	d.ShouldAlert = shouldAlert(cat, p.Count, rate)

	h.logOccurrence(context, operation, err, d)

	if d.ShouldAlert && h.alert != nil {
		h.alert(context, operation, d)
	}
	return d
}

// strategyFor applies the recovery rules in order.
func strategyFor(cat Category, count int64, ratePerMin float64) RecoveryStrategy {
	if !cat.Retryable() {
		return FailFast
	}
	if count > 10 && ratePerMin > 0.5 {
		return CircuitBreak
	}
	switch cat {
	case CategoryDatabase, CategoryNetwork:
		return ExponentialBackoff
	case CategoryFileSystem:
		return LinearBackoff
	default:
		return SimpleRetry
	}
}

// shouldAlert gates alert dispatch: first sight of SECURITY or RESOURCE,
// or a sustained burst of anything else.
func shouldAlert(cat Category, count int64, ratePerMin float64) bool {
	if (cat == CategorySecurity || cat == CategoryResource) && count == 1 {
		return true
	}
	return count > 5 && ratePerMin > 0.3
}

func (h *Handler) logOccurrence(context, operation string, err error, d Decision) {
	attrs := []any{
		"context", context,
		"operation", operation,
		"category", string(d.Category),
		"strategy", string(d.Strategy),
		"occurrence", d.Occurrence,
		"error", err,
	}
	switch {
	case d.Occurrence == 1:
		h.log.Error("processing error", attrs...)
	case d.Occurrence <= 5:
		h.log.Warn("recurring processing error", attrs...)
	default:
		h.log.Debug("recurring processing error", attrs...)
	}
}

// humanMessage shapes the operator-facing message per category.
func humanMessage(cat Category, operation string, err error) string {
	switch cat {
	case CategoryDatabase:
		return fmt.Sprintf("database operation %q failed: %v", operation, err)
	case CategoryFileSystem:
		return fmt.Sprintf("filesystem operation %q failed: %v", operation, err)
	case CategoryNetwork:
		return fmt.Sprintf("network failure during %q: %v", operation, err)
	case CategorySecurity:
		return fmt.Sprintf("security violation during %q: %v", operation, err)
	case CategoryResource:
		return fmt.Sprintf("resource exhaustion during %q: %v", operation, err)
	case CategoryApplication:
		return fmt.Sprintf("application error during %q: %v", operation, err)
	case CategoryExternalSystem:
		return fmt.Sprintf("external system failure during %q: %v", operation, err)
	default:
		return fmt.Sprintf("unclassified error during %q: %v", operation, err)
	}
}
