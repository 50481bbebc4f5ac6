package metrics

// Metric names emitted by the processing engine. Kept in one place so the
// control surface and tests reference the same series.
const (
	FilesDetected      = "files.detected"
	FilesProcessed     = "files.processed"
	FilesQueued        = "files.queued"
	FilesQueueFailed   = "files.queue_failed"
	FilesRestored      = "files.restored_from_queue"
	FilesAbandoned     = "files.abandoned"
	Errors             = "errors"
	RetryAttempts      = "retry.attempts"
	RetrySuccess       = "retry.success"
	RetryFailure       = "retry.failure"
	BreakerStateChange = "breaker.state_change"
	BreakerRejection   = "breaker.rejection"
	DegradationEntered = "degradation.entered"
	DegradationExited  = "degradation.exited"
	MoveToErrorFailed  = "files.move_to_error_failed"
	MoveFailed         = "files.move_failed"

	ProcessingDuration   = "processing.duration"
	SQLExecutionDuration = "sql.execution.duration"

	ActiveConfigurations = "configurations.active"
	WatcherState         = "watcher.state"
)
