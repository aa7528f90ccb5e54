package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	obsmetrics "github.com/glidestudio/glide/internal/observability/metrics"
	"github.com/glidestudio/glide/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxConflictRetries bounds transparent retries of storage-level write races.
const maxConflictRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

type balanceRow struct {
	ID            snowflake.ID
	CreditBalance int64
	Privileged    bool
}

func (s *Service) HasSufficient(ctx context.Context, accountID snowflake.ID, cost int64) (bool, error) {
	if cost < 0 {
		return false, creditdomain.ErrInvalidAmount
	}
	row, err := s.readBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	if row.Privileged {
		return true, nil
	}
	return row.CreditBalance >= cost, nil
}

func (s *Service) BalanceOf(ctx context.Context, accountID snowflake.ID) (creditdomain.Balance, error) {
	row, err := s.readBalance(ctx, accountID)
	if err != nil {
		return creditdomain.Balance{}, err
	}
	return creditdomain.Balance{
		AccountID: row.ID,
		Credits:   row.CreditBalance,
		Unlimited: row.Privileged,
	}, nil
}

func (s *Service) Deduct(ctx context.Context, req creditdomain.DeductRequest) (creditdomain.Transaction, error) {
	if req.Amount <= 0 {
		return creditdomain.Transaction{}, creditdomain.ErrInvalidAmount
	}

	var txn creditdomain.Transaction
	err := s.withConflictRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now().UTC()

			// Single-statement decrement: the guard and the mutation are one
			// atomic write, never read-modify-write in application code.
			stmt := `UPDATE accounts SET credit_balance = credit_balance - ?, updated_at = ?
				 WHERE id = ? AND (privileged = ? OR credit_balance >= ?)`
			args := []any{req.Amount, now, req.AccountID, true, req.Amount}
			if req.AllowNegative {
				stmt = `UPDATE accounts SET credit_balance = credit_balance - ?, updated_at = ?
					 WHERE id = ?`
				args = []any{req.Amount, now, req.AccountID}
			}
			result := tx.Exec(stmt, args...)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				exists, err := s.accountExists(ctx, tx, req.AccountID)
				if err != nil {
					return err
				}
				if !exists {
					return creditdomain.ErrAccountNotFound
				}
				return creditdomain.ErrInsufficientCredits
			}

			record, err := s.appendTransaction(ctx, tx, req.AccountID, -req.Amount, req.Reason, req.Detail, nil, req.TokenUsage, req.Entries, now)
			if err != nil {
				return err
			}
			txn = record
			return nil
		})
	})
	if err != nil {
		return creditdomain.Transaction{}, err
	}

	s.obsMetrics.RecordCreditTransaction(ctx, string(req.Reason))
	return txn, nil
}

func (s *Service) Refund(ctx context.Context, accountID snowflake.ID, amount int64, reason creditdomain.Reason, detail string) (creditdomain.Transaction, error) {
	if amount <= 0 {
		return creditdomain.Transaction{}, creditdomain.ErrInvalidAmount
	}

	var txn creditdomain.Transaction
	err := s.withConflictRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now().UTC()
			result := tx.Exec(
				`UPDATE accounts SET credit_balance = credit_balance + ?, updated_at = ? WHERE id = ?`,
				amount, now, accountID,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return creditdomain.ErrAccountNotFound
			}

			record, err := s.appendTransaction(ctx, tx, accountID, amount, reason, detail, nil, nil, nil, now)
			if err != nil {
				return err
			}
			txn = record
			return nil
		})
	})
	if err != nil {
		return creditdomain.Transaction{}, err
	}

	s.obsMetrics.RecordCreditTransaction(ctx, string(reason))
	return txn, nil
}

func (s *Service) GrantExternal(ctx context.Context, accountID snowflake.ID, amount int64, eventKey string, reason creditdomain.Reason, detail string) (*creditdomain.Transaction, error) {
	if amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	eventKey = strings.TrimSpace(eventKey)
	if eventKey == "" {
		return nil, creditdomain.ErrInvalidEventKey
	}

	var granted *creditdomain.Transaction
	err := s.withConflictRetry(ctx, func() error {
		granted = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now().UTC()
			record := creditdomain.Transaction{
				ID:        s.genID.Generate(),
				AccountID: accountID,
				Amount:    amount,
				Reason:    reason,
				Detail:    detail,
				EventKey:  &eventKey,
				CreatedAt: now,
			}

			// The event key carries the idempotency guarantee: a replayed
			// webhook hits the unique index and writes nothing.
			result := tx.Exec(
				`INSERT INTO credit_transactions (
					id, account_id, amount, reason, detail, event_key, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (event_key) DO NOTHING`,
				record.ID,
				record.AccountID,
				record.Amount,
				record.Reason,
				record.Detail,
				eventKey,
				now,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}

			balanceUpdate := tx.Exec(
				`UPDATE accounts SET credit_balance = credit_balance + ?, updated_at = ? WHERE id = ?`,
				amount, now, accountID,
			)
			if balanceUpdate.Error != nil {
				return balanceUpdate.Error
			}
			if balanceUpdate.RowsAffected == 0 {
				return creditdomain.ErrAccountNotFound
			}
			granted = &record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if granted != nil {
		s.obsMetrics.RecordCreditTransaction(ctx, string(reason))
	} else {
		s.log.Info("duplicate external event ignored",
			zap.String("event_key", eventKey),
			zap.String("account_id", accountID.String()),
		)
	}
	return granted, nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID snowflake.ID, limit int) ([]creditdomain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []creditdomain.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) appendTransaction(
	ctx context.Context,
	tx *gorm.DB,
	accountID snowflake.ID,
	amount int64,
	reason creditdomain.Reason,
	detail string,
	eventKey *string,
	tokenUsage map[string]any,
	entries []creditdomain.Entry,
	now time.Time,
) (creditdomain.Transaction, error) {
	record := creditdomain.Transaction{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Detail:    detail,
		EventKey:  eventKey,
		CreatedAt: now,
	}
	if len(tokenUsage) > 0 {
		record.TokenUsage = datatypes.JSONMap(tokenUsage)
	}
	if len(entries) > 0 {
		encoded, err := json.Marshal(entries)
		if err != nil {
			return creditdomain.Transaction{}, err
		}
		record.Entries = datatypes.JSON(encoded)
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		return creditdomain.Transaction{}, err
	}
	return record, nil
}

func (s *Service) readBalance(ctx context.Context, accountID snowflake.ID) (balanceRow, error) {
	var row balanceRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, credit_balance, privileged FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return balanceRow{}, err
	}
	if row.ID == 0 {
		return balanceRow{}, creditdomain.ErrAccountNotFound
	}
	return row, nil
}

func (s *Service) accountExists(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) withConflictRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !db.IsConflictErr(err) {
			return err
		}
		lastErr = err
		s.log.Warn("storage conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	s.log.Error("storage conflict retries exhausted", zap.Error(lastErr))
	return creditdomain.ErrPersistenceExhausted
}
