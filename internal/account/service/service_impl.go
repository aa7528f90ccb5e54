package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/account/domain"
	"github.com/glidestudio/glide/internal/config"
	"github.com/glidestudio/glide/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	repo             domain.Repository
	defaultAllotment int64
}

func New(p Params) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("account.service"),
		genID:            p.GenID,
		repo:             p.Repo,
		defaultAllotment: p.Cfg.Credits.DefaultAllotment,
	}
}

func (s *Service) Ensure(ctx context.Context, id identity.Identity) (domain.Account, error) {
	subject := strings.TrimSpace(id.SubjectID)
	if subject == "" {
		return domain.Account{}, domain.ErrInvalidIdentity
	}

	existing, err := s.repo.FindByExternalID(ctx, s.db, subject)
	if err != nil {
		return domain.Account{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := time.Now().UTC()
	account := domain.Account{
		ID:            s.genID.Generate(),
		ExternalID:    subject,
		Email:         id.Email,
		GivenName:     id.GivenName,
		FamilyName:    id.FamilyName,
		Plan:          domain.PlanFree,
		CreditBalance: s.defaultAllotment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Insert is ON CONFLICT DO NOTHING keyed by external id, so a lost
	// race with another first request just falls through to the re-read.
	if err := s.repo.Insert(ctx, s.db, &account); err != nil {
		return domain.Account{}, err
	}

	created, err := s.repo.FindByExternalID(ctx, s.db, subject)
	if err != nil {
		return domain.Account{}, err
	}
	if created == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	if created.ID == account.ID {
		s.log.Info("account created",
			zap.String("account_id", account.ID.String()),
			zap.Int64("default_allotment", s.defaultAllotment),
		)
	}
	return *created, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (domain.Account, error) {
	account, err := s.repo.FindByExternalID(ctx, s.db, strings.TrimSpace(externalID))
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) GetByBillingCustomer(ctx context.Context, customerID string) (domain.Account, error) {
	account, err := s.repo.FindByBillingCustomer(ctx, s.db, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) SetPlan(ctx context.Context, id snowflake.ID, plan domain.Plan) error {
	switch plan {
	case domain.PlanFree, domain.PlanPro:
	default:
		return domain.ErrInvalidPlan
	}
	return s.repo.UpdatePlan(ctx, s.db, id, plan)
}

func (s *Service) SetBillingCustomer(ctx context.Context, id snowflake.ID, customerID string) error {
	return s.repo.UpdateBillingCustomer(ctx, s.db, id, strings.TrimSpace(customerID))
}
