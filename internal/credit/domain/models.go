package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Reason tags a transaction with the billable event that produced it.
type Reason string

const (
	ReasonGeneration      Reason = "generation"       // screens generated by a job
	ReasonRegeneration    Reason = "regeneration"     // single frame regenerated
	ReasonRefund          Reason = "refund"           // job failed after a deduction
	ReasonExternalPayment Reason = "external_payment" // verified billing provider event
	ReasonPlanGrant       Reason = "plan_grant"       // plan upgrade allotment
)

// Transaction is an immutable, append-only credit ledger record. Amount is
// signed: deductions are negative, grants and refunds positive.
type Transaction struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID  snowflake.ID      `gorm:"not null;index" json:"account_id"`
	Amount     int64             `gorm:"not null" json:"amount"`
	Reason     Reason            `gorm:"type:text;not null;index" json:"reason"`
	Detail     string            `gorm:"type:text" json:"detail,omitempty"`
	EventKey   *string           `gorm:"uniqueIndex" json:"event_key,omitempty"`
	TokenUsage datatypes.JSONMap `gorm:"type:jsonb" json:"token_usage,omitempty"`
	Entries    datatypes.JSON    `gorm:"type:jsonb" json:"entries,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }

// Entry is a per-unit sub-entry recorded inside an aggregate transaction,
// one per completed unit of work.
type Entry struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}
