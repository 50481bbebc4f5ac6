package alert

import (
	"time"

	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/metrics"
	"github.com/ppiankov/filedrop/internal/retry"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
	policy  retry.Policy
	reg     *metrics.Registry
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check). Delivery
// retry metrics go into reg; a nil reg gets a private registry.
func NewDispatcher(configs []Config, reg *metrics.Registry) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Dispatcher{
		configs: configs,
		policy:  deliveryPolicy(),
		reg:     reg,
	}
}

// Dispatch sends the event to all webhooks subscribed to its type.
// Fires goroutines — does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event.Type) {
			go func(cfg Config) { _ = d.Send(cfg, event) }(cfg)
		}
	}
}

// matches subscribes empty event lists to everything.
func matches(events []string, typ string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == typ {
			return true
		}
	}
	return false
}

// HandlerHook adapts the dispatcher to the error handler's alert
// callback. Safe on a nil dispatcher.
func (d *Dispatcher) HandlerHook() faults.AlertFunc {
	return func(context, operation string, decision faults.Decision) {
		if d == nil {
			return
		}
		d.Dispatch(Event{
			Type:       EventError,
			Config:     context,
			Operation:  operation,
			Category:   string(decision.Category),
			Strategy:   string(decision.Strategy),
			Occurrence: decision.Occurrence,
			Message:    decision.Message,
		})
	}
}
