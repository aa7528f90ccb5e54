package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (
			id, external_id, email, given_name, family_name, plan, privileged,
			credit_balance, billing_customer_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		account.ID,
		account.ExternalID,
		account.Email,
		account.GivenName,
		account.FamilyName,
		account.Plan,
		account.Privileged,
		account.CreditBalance,
		account.BillingCustomerID,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE external_id = ?`,
		externalID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByBillingCustomer(ctx context.Context, db *gorm.DB, customerID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE billing_customer_id = ?`,
		customerID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET plan = ?, updated_at = ? WHERE id = ?`,
		plan,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) UpdateBillingCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET billing_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID,
		time.Now().UTC(),
		id,
	).Error
}
