package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound      = errors.New("project_not_found")
	ErrFrameNotFound = errors.New("frame_not_found")
	ErrNotOwner      = errors.New("project_not_owner")
	ErrInvalidName   = errors.New("invalid_project_name")
)

type CreateProjectRequest struct {
	AccountID snowflake.ID
	Name      string
	Theme     string
}

type ProjectWithFrames struct {
	Project Project `json:"project"`
	Frames  []Frame `json:"frames"`
}

// StaleProject is a project the reconciliation sweep considers orphaned:
// durably committed but with no generated frames.
type StaleProject struct {
	ID        snowflake.ID
	AccountID snowflake.ID
	Name      string
	Attempts  int
	CreatedAt time.Time
}

type Service interface {
	Create(ctx context.Context, req CreateProjectRequest) (Project, error)

	// Get returns the project and its frames, enforcing ownership.
	Get(ctx context.Context, accountID, projectID snowflake.ID) (ProjectWithFrames, error)

	// FindActive returns the project only if it exists, is not soft-deleted
	// and is owned by accountID. Worker persistence steps call this before
	// every write.
	FindActive(ctx context.Context, accountID, projectID snowflake.ID) (Project, error)

	SoftDelete(ctx context.Context, accountID, projectID snowflake.ID) error

	SetNameTheme(ctx context.Context, projectID snowflake.ID, name, theme string) error

	GetFrame(ctx context.Context, projectID, frameID snowflake.ID) (Frame, error)
	SaveFrame(ctx context.Context, frame *Frame) error
	UpdateFrameContent(ctx context.Context, accountID, projectID, frameID snowflake.ID, title, html string) (Frame, error)
}
