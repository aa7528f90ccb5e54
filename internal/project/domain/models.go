package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Visibility controls whether a project is shared publicly.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Project is a workspace owned exclusively by its creator. Projects are
// soft-deleted so in-flight generation jobs referencing them can resolve
// gracefully.
type Project struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID  snowflake.ID `gorm:"not null;index" json:"account_id"`
	Name       string       `gorm:"not null" json:"name"`
	Theme      string       `gorm:"type:text" json:"theme,omitempty"`
	Visibility Visibility   `gorm:"type:text;not null;default:'private'" json:"visibility"`

	// GenerationAttempts counts enqueue attempts for the initial screen
	// generation, bounding the reconciliation sweep.
	GenerationAttempts int `gorm:"not null;default:0" json:"-"`

	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// Frame is one generated screen. Frames are regenerable, so hard deletes
// are allowed. Writes are last-writer-wins at the field level.
type Frame struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ProjectID   snowflake.ID `gorm:"not null;index" json:"project_id"`
	Title       string       `gorm:"not null" json:"title"`
	HTMLContent string       `gorm:"type:text;not null" json:"html_content"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Frame) TableName() string { return "frames" }
