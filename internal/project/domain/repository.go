package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, project *Project) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Project, error)
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	UpdateNameTheme(ctx context.Context, db *gorm.DB, id snowflake.ID, name, theme string) error
	BumpGenerationAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// ListStale returns live projects older than cutoff with no frames and
	// fewer than maxAttempts generation attempts.
	ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, maxAttempts, limit int) ([]StaleProject, error)

	InsertFrame(ctx context.Context, db *gorm.DB, frame *Frame) error
	UpdateFrame(ctx context.Context, db *gorm.DB, frame *Frame) error
	FindFrame(ctx context.Context, db *gorm.DB, projectID, frameID snowflake.ID) (*Frame, error)
	ListFrames(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]Frame, error)
}
