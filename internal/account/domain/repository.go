package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Account, error)
	FindByBillingCustomer(ctx context.Context, db *gorm.DB, customerID string) (*Account, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan Plan) error
	UpdateBillingCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string) error
}
