// Package trace provides per-file correlation identifiers and their
// propagation through contexts and logs. Every job observed by a worker
// gets one correlation id; it follows the file through processing,
// retries, logs, and the audit trail. Metric series do not carry it.
package trace

import (
	"strings"

	"github.com/google/uuid"
)

// NewCorrelationID generates a correlation id for one processing job.
// Short form: "f-" plus the first 12 hex characters of a UUID.
func NewCorrelationID() string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "f-" + u[:12]
}
