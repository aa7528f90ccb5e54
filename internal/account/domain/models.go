package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is the subscription tier synced from the billing provider.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Account is a workspace user. Created on first authenticated sight and
// never hard-deleted. CreditBalance is mutated only through the credit
// accounting engine's atomic statements.
type Account struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID        string       `gorm:"not null;uniqueIndex" json:"external_id"`
	Email             string       `gorm:"not null" json:"email"`
	GivenName         string       `gorm:"type:text" json:"given_name,omitempty"`
	FamilyName        string       `gorm:"type:text" json:"family_name,omitempty"`
	Plan              Plan         `gorm:"type:text;not null;default:'free'" json:"plan"`
	Privileged        bool         `gorm:"not null;default:false" json:"privileged"`
	CreditBalance     int64        `gorm:"not null;default:0" json:"credit_balance"`
	BillingCustomerID string       `gorm:"type:text;index" json:"billing_customer_id,omitempty"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
