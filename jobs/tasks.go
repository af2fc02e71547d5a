package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity rechecks the balance invariant and protocol
	// density across committed journal headers.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskVatRefresh rebuilds the materialised VAT register summaries.
	TaskVatRefresh = "vat:refresh"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// VatRefreshPayload selects the period to rebuild. Zero values mean the
// current month.
type VatRefreshPayload struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewLedgerIntegrityTask constructs the integrity scan task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewVatRefreshTask constructs the VAT summary refresh task.
func NewVatRefreshTask(payload VatRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVatRefresh, data), nil
}

// NewIdempotencyCleanupTask constructs the idempotency key pruning task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
