package gc

// Tick results reported to SchedulerMetrics.
const (
	TickOK            = "ok"
	TickBackPressure  = "backpressure"
	TickUnreadUnknown = "unread_unknown"
	TickFailed        = "error"
)

// Candidate decisions reported by the scheduler.
const (
	DecisionPublished = "published"
	DecisionTooYoung  = "too_young"
	DecisionCorrupt   = "corrupt"
)

// SchedulerMetrics receives scheduler observations.
type SchedulerMetrics interface {
	RecordTick(result string, durationSeconds float64)
	RecordCandidates(decision string, n int)
	SetQueueDepth(depth int64)
}

// ValidatorMetrics receives validator observations.
type ValidatorMetrics interface {
	RecordOutcome(outcome string, durationSeconds float64)
}

// Receive results reported to ConsumerMetrics.
const (
	ReceiveOK    = "ok"
	ReceiveEmpty = "empty"
	ReceiveError = "error"
	AckError     = "ack_error"
)

// ConsumerMetrics receives consumer runner observations.
type ConsumerMetrics interface {
	RecordReceive(result string)
}
