package projection

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Job status values as surfaced to clients. Transitions are driven by the
// generation worker; completed resets to idle shortly after.
const (
	StatusIdle       = "idle"
	StatusRunning    = "running"
	StatusAnalyzing  = "analyzing"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Event types pushed over live streams.
const (
	EventProjectStatus     = "project.status"
	EventFrameUpserted     = "frame.upserted"
	EventFrameRemoved      = "frame.removed"
	EventCreditBalance     = "credit.balance"
	EventCreditTransaction = "credit.transaction"
)

// ProjectStatusProjection is the last-known generation status of a project,
// keyed by project so repeated publishes overwrite rather than accumulate.
type ProjectStatusProjection struct {
	ProjectID        snowflake.ID `gorm:"primaryKey" json:"project_id"`
	Status           string       `gorm:"not null" json:"status"`
	Detail           string       `gorm:"type:text" json:"detail,omitempty"`
	TotalScreens     int          `gorm:"not null;default:0" json:"total_screens"`
	CompletedScreens int          `gorm:"not null;default:0" json:"completed_screens"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (ProjectStatusProjection) TableName() string { return "project_status_projections" }

// FrameProjection mirrors a frame for read-side consumers. Placeholder rows
// are published before generation and replaced once content lands.
type FrameProjection struct {
	FrameID     snowflake.ID `gorm:"primaryKey" json:"frame_id"`
	ProjectID   snowflake.ID `gorm:"not null;index" json:"project_id"`
	Title       string       `gorm:"not null" json:"title"`
	HTMLContent string       `gorm:"type:text" json:"html_content"`
	Placeholder bool         `gorm:"not null;default:false" json:"placeholder"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (FrameProjection) TableName() string { return "frame_projections" }

// CreditBalanceProjection is the read-side balance, keyed by account.
type CreditBalanceProjection struct {
	AccountID snowflake.ID `gorm:"primaryKey" json:"account_id"`
	Credits   int64        `gorm:"not null;default:0" json:"credits"`
	Unlimited bool         `gorm:"not null;default:false" json:"unlimited"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (CreditBalanceProjection) TableName() string { return "credit_balance_projections" }

// CreditTransactionProjection mirrors one ledger entry. Keyed by transaction
// so replays are no-ops.
type CreditTransactionProjection struct {
	TransactionID snowflake.ID `gorm:"primaryKey" json:"transaction_id"`
	AccountID     snowflake.ID `gorm:"not null;index" json:"account_id"`
	Amount        int64        `gorm:"not null" json:"amount"`
	Reason        string       `gorm:"not null" json:"reason"`
	Detail        string       `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (CreditTransactionProjection) TableName() string { return "credit_transaction_projections" }
