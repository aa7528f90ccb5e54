package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/identity"
)

var (
	ErrNotFound        = errors.New("account_not_found")
	ErrInvalidIdentity = errors.New("invalid_identity")
	ErrInvalidPlan     = errors.New("invalid_plan")
)

type Service interface {
	// Ensure idempotently creates the account for a verified identity,
	// seeding the default credit allotment. Safe under concurrent first
	// requests for the same subject.
	Ensure(ctx context.Context, id identity.Identity) (Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (Account, error)
	GetByExternalID(ctx context.Context, externalID string) (Account, error)
	GetByBillingCustomer(ctx context.Context, customerID string) (Account, error)
	SetPlan(ctx context.Context, id snowflake.ID, plan Plan) error
	SetBillingCustomer(ctx context.Context, id snowflake.ID, customerID string) error
}
