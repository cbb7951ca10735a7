package dispatch

// TaskKind selects the processing path for a queued task.
type TaskKind string

const (
	// TaskSubmit submits an admitted entry's query to the provider and binds
	// the returned job id.
	TaskSubmit TaskKind = "submit"
	// TaskIngest resolves a webhook notification, fetches its dataset, and
	// finalizes the entry.
	TaskIngest TaskKind = "ingest"
)

// Task is one unit of background work. Submit tasks carry the entry
// identity; ingest tasks carry what the webhook delivered.
type Task struct {
	Kind TaskKind

	// Submit fields.
	RequestID string
	Query     string

	// Ingest fields.
	JobID          string
	DatasetID      string
	QueryHint      string
	ProviderFailed bool
	FailureReason  string
}
