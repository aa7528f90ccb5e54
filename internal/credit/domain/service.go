package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrAccountNotFound      = errors.New("credit_account_not_found")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidEventKey      = errors.New("invalid_event_key")
	ErrPersistenceExhausted = errors.New("persistence_retries_exhausted")
)

// DeductRequest describes a balance deduction. Amount is positive; the
// recorded transaction carries the negated value.
type DeductRequest struct {
	AccountID  snowflake.ID
	Amount     int64
	Reason     Reason
	Detail     string
	TokenUsage map[string]any
	Entries    []Entry

	// AllowNegative skips the balance guard. Used when deducting for work
	// already performed: the balance may transiently dip below zero if a
	// concurrent deduction raced past the pre-flight check.
	AllowNegative bool
}

// Balance is a point-in-time read of an account's credit standing.
type Balance struct {
	AccountID snowflake.ID
	Credits   int64
	Unlimited bool
}

type Service interface {
	// HasSufficient is the read-only pre-flight check. Privileged accounts
	// always pass.
	HasSufficient(ctx context.Context, accountID snowflake.ID, cost int64) (bool, error)

	BalanceOf(ctx context.Context, accountID snowflake.ID) (Balance, error)

	// Deduct atomically decrements the balance and appends the transaction
	// record in one storage transaction. Safe under concurrent calls for
	// the same account.
	Deduct(ctx context.Context, req DeductRequest) (Transaction, error)

	// Refund atomically increments the balance, e.g. after a job failed
	// post-deduction.
	Refund(ctx context.Context, accountID snowflake.ID, amount int64, reason Reason, detail string) (Transaction, error)

	// GrantExternal credits the account for a verified external event such
	// as a payment or a plan upgrade. Idempotent per eventKey: a replayed
	// delivery returns a nil transaction without touching the balance.
	GrantExternal(ctx context.Context, accountID snowflake.ID, amount int64, eventKey string, reason Reason, detail string) (*Transaction, error)

	ListTransactions(ctx context.Context, accountID snowflake.ID, limit int) ([]Transaction, error)
}
