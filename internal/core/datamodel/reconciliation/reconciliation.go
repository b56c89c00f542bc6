package reconciliation

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	// StatusFailedRetryable is non-terminal: a later delivery may take the
	// record over.
	StatusFailedRetryable Status = "failed_retryable"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Record is the idempotency key row for one gateway payment.
type Record struct {
	PaymentID   string     `gorm:"column:payment_id;primaryKey"`
	Status      Status     `gorm:"column:status;not null"`
	Retryable   bool       `gorm:"column:retryable;not null;default:false"`
	ReasonCode  string     `gorm:"column:reason_code"`
	Reason      string     `gorm:"column:reason"`
	OrderID     *string    `gorm:"column:order_id"`
	Attempts    int        `gorm:"column:attempts;not null;default:1"`
	StartedAt   time.Time  `gorm:"column:started_at;not null"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "reconciliation_records"
}

type Outcome string

const (
	OutcomeSucceeded                      Outcome = "succeeded"
	OutcomeDuplicateSkipped               Outcome = "duplicate_skipped"
	OutcomeNoActionNeeded                 Outcome = "no_action_needed"
	OutcomeInvalidPayment                 Outcome = "invalid_payment"
	OutcomeUpstreamLookupFailure          Outcome = "upstream_lookup_failure"
	OutcomeInsufficientStock              Outcome = "insufficient_stock"
	OutcomeOrderWriteFailedAfterDecrement Outcome = "order_write_failed_after_stock_decrement"
	OutcomeFailedRetryable                Outcome = "failed_retryable"
	OutcomeFailed                         Outcome = "failed"
	OutcomeSkippedUnsupportedTopic        Outcome = "skipped_unsupported_topic"
	OutcomeRejectedMalformed              Outcome = "rejected_malformed"
	OutcomeAmountMismatch                 Outcome = "amount_mismatch"
	OutcomePriceDrift                     Outcome = "price_drift"
)

// AuditEntry rows are insert-only.
type AuditEntry struct {
	ID         string         `gorm:"column:id;primaryKey"`
	PaymentID  string         `gorm:"column:payment_id;index"`
	Outcome    Outcome        `gorm:"column:outcome;not null"`
	ErrorCode  string         `gorm:"column:error_code"`
	Message    string         `gorm:"column:message"`
	OrderID    *string        `gorm:"column:order_id"`
	Details    datatypes.JSON `gorm:"column:details"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null"`
}

func (AuditEntry) TableName() string {
	return "reconciliation_audit"
}
