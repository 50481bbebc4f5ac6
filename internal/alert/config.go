// Package alert fans out operator alerts to configured webhooks: error
// handler escalations, degradation transitions, and breaker openings.
package alert

// Event type values.
const (
	EventError       = "alert"
	EventDegradation = "degradation"
	EventBreakerOpen = "breaker_open"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // subset of event type values; empty = all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	Config     string `json:"config,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Component  string `json:"component,omitempty"`
	Category   string `json:"category,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Occurrence int64  `json:"occurrence,omitempty"`
	Message    string `json:"message"`
}
