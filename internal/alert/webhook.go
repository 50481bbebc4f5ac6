package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/filedrop/internal/retry"
)

const (
	requestTimeout = 5 * time.Second
	// deliveryBudget caps one event's delivery including backoff.
	deliveryBudget = 30 * time.Second
	// deliveryAttempts bounds redelivery of one event.
	deliveryAttempts = 3
)

var httpClient = &http.Client{Timeout: requestTimeout}

// serverError marks a 5xx response worth another delivery attempt.
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("webhook server error: HTTP %d", e.status)
}

// deliveryPolicy builds the webhook retry discipline on top of the
// network policy's exponential backoff with jitter. Transport errors
// and 5xx responses retry; 4xx rejections do not.
func deliveryPolicy() retry.Policy {
	network := retry.NewPolicies(retry.Overrides{}).ByName(retry.PolicyNetwork)
	return retry.Policy{
		Name:        "webhook",
		MaxAttempts: deliveryAttempts,
		Backoff:     network.Backoff,
		Retryable: func(err error) bool {
			var se *serverError
			return errors.As(err, &se) || network.Retryable(err)
		},
	}
}

// Send posts one alert event to a webhook endpoint under the delivery
// policy. Retry outcomes land in the dispatcher's metrics registry.
func (d *Dispatcher) Send(cfg Config, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryBudget)
	defer cancel()
	return d.policy.Do(ctx, d.reg, func() error {
		return post(cfg, body)
	})
}

// post performs one delivery attempt.
func post(cfg Config, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &serverError{status: resp.StatusCode}
	default:
		return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	}
}
