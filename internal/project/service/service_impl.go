package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repository domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("project.service"),
		genID: p.GenID,
		repo:  p.Repository,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateProjectRequest) (domain.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Project{}, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:         s.genID.Generate(),
		AccountID:  req.AccountID,
		Name:       name,
		Theme:      strings.TrimSpace(req.Theme),
		Visibility: domain.VisibilityPrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

func (s *Service) Get(ctx context.Context, accountID, projectID snowflake.ID) (domain.ProjectWithFrames, error) {
	project, err := s.FindActive(ctx, accountID, projectID)
	if err != nil {
		return domain.ProjectWithFrames{}, err
	}
	frames, err := s.repo.ListFrames(ctx, s.db, projectID)
	if err != nil {
		return domain.ProjectWithFrames{}, err
	}
	return domain.ProjectWithFrames{Project: project, Frames: frames}, nil
}

func (s *Service) FindActive(ctx context.Context, accountID, projectID snowflake.ID) (domain.Project, error) {
	project, err := s.repo.FindByID(ctx, s.db, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project == nil || project.DeletedAt != nil {
		return domain.Project{}, domain.ErrNotFound
	}
	if accountID != 0 && project.AccountID != accountID {
		// Ownership failures surface as not-found so probing IDs reveals
		// nothing about other tenants.
		return domain.Project{}, domain.ErrNotFound
	}
	return *project, nil
}

func (s *Service) SoftDelete(ctx context.Context, accountID, projectID snowflake.ID) error {
	if _, err := s.FindActive(ctx, accountID, projectID); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, s.db, projectID, time.Now().UTC())
}

func (s *Service) SetNameTheme(ctx context.Context, projectID snowflake.ID, name, theme string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ErrInvalidName
	}
	return s.repo.UpdateNameTheme(ctx, s.db, projectID, name, theme)
}

func (s *Service) GetFrame(ctx context.Context, projectID, frameID snowflake.ID) (domain.Frame, error) {
	frame, err := s.repo.FindFrame(ctx, s.db, projectID, frameID)
	if err != nil {
		return domain.Frame{}, err
	}
	if frame == nil {
		return domain.Frame{}, domain.ErrFrameNotFound
	}
	return *frame, nil
}

func (s *Service) SaveFrame(ctx context.Context, frame *domain.Frame) error {
	now := time.Now().UTC()
	frame.UpdatedAt = now
	if frame.ID == 0 {
		frame.ID = s.genID.Generate()
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = now
	}

	existing, err := s.repo.FindFrame(ctx, s.db, frame.ProjectID, frame.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.repo.InsertFrame(ctx, s.db, frame)
	}
	return s.repo.UpdateFrame(ctx, s.db, frame)
}

func (s *Service) UpdateFrameContent(ctx context.Context, accountID, projectID, frameID snowflake.ID, title, html string) (domain.Frame, error) {
	if _, err := s.FindActive(ctx, accountID, projectID); err != nil {
		return domain.Frame{}, err
	}
	frame, err := s.GetFrame(ctx, projectID, frameID)
	if err != nil {
		return domain.Frame{}, err
	}
	if title != "" {
		frame.Title = title
	}
	frame.HTMLContent = html
	frame.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateFrame(ctx, s.db, &frame); err != nil {
		return domain.Frame{}, err
	}
	return frame, nil
}
