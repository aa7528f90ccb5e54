package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/project/domain"
	"gorm.io/gorm"
)

type repositoryImpl struct{}

func New() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, project *domain.Project) error {
	return db.WithContext(ctx).Create(project).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Project, error) {
	var project domain.Project
	err := db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *repositoryImpl) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE projects SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at, at, id,
	).Error
}

func (r *repositoryImpl) UpdateNameTheme(ctx context.Context, db *gorm.DB, id snowflake.ID, name, theme string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE projects SET name = ?, theme = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		name, theme, time.Now().UTC(), id,
	).Error
}

func (r *repositoryImpl) BumpGenerationAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE projects SET generation_attempts = generation_attempts + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	).Error
}

func (r *repositoryImpl) ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, maxAttempts, limit int) ([]domain.StaleProject, error) {
	var rows []domain.StaleProject
	err := db.WithContext(ctx).Raw(
		`SELECT p.id, p.account_id, p.name, p.generation_attempts AS attempts, p.created_at
		 FROM projects p
		 WHERE p.deleted_at IS NULL
		   AND p.created_at < ?
		   AND p.generation_attempts < ?
		   AND NOT EXISTS (SELECT 1 FROM frames f WHERE f.project_id = p.id)
		 ORDER BY p.created_at ASC
		 LIMIT ?`,
		cutoff, maxAttempts, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) InsertFrame(ctx context.Context, db *gorm.DB, frame *domain.Frame) error {
	return db.WithContext(ctx).Create(frame).Error
}

func (r *repositoryImpl) UpdateFrame(ctx context.Context, db *gorm.DB, frame *domain.Frame) error {
	return db.WithContext(ctx).Exec(
		`UPDATE frames SET title = ?, html_content = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
		frame.Title, frame.HTMLContent, frame.UpdatedAt, frame.ID, frame.ProjectID,
	).Error
}

func (r *repositoryImpl) FindFrame(ctx context.Context, db *gorm.DB, projectID, frameID snowflake.ID) (*domain.Frame, error) {
	var frame domain.Frame
	err := db.WithContext(ctx).
		Where("id = ? AND project_id = ?", frameID, projectID).
		First(&frame).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

func (r *repositoryImpl) ListFrames(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]domain.Frame, error) {
	var frames []domain.Frame
	err := db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at asc, id asc").
		Find(&frames).Error
	if err != nil {
		return nil, err
	}
	return frames, nil
}
