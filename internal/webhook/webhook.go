package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/glidestudio/glide/internal/account/domain"
	"github.com/glidestudio/glide/internal/config"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	obsmetrics "github.com/glidestudio/glide/internal/observability/metrics"
	"github.com/glidestudio/glide/internal/projection"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Billing-Signature"

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrUnknownAccount   = errors.New("unknown_account")
	ErrSecretMissing    = errors.New("webhook_secret_missing")
)

// event is the billing provider envelope. data fields vary by type.
type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		AccountID  string `json:"account_id"`
		CustomerID string `json:"customer_id"`
		Credits    int64  `json:"credits"`
		Plan       string `json:"plan"`
	} `json:"data"`
}

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Accounts   accountdomain.Service
	Credits    creditdomain.Service
	Publisher  *projection.Publisher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service verifies and applies billing provider webhooks. Deliveries are
// at-least-once; every mutation is keyed by the provider event ID so a
// replay is a successful no-op.
type Service struct {
	secret     string
	proGrant   int64
	log        *zap.Logger
	accounts   accountdomain.Service
	credits    creditdomain.Service
	publisher  *projection.Publisher
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		secret:     p.Config.BillingWebhookSecret,
		proGrant:   p.Config.Credits.ProGrant,
		log:        p.Log.Named("webhook.service"),
		accounts:   p.Accounts,
		credits:    p.Credits,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// Verify checks the payload signature before anything in the body is
// trusted.
func (s *Service) Verify(payload []byte, header http.Header) error {
	if s.secret == "" {
		return ErrSecretMissing
	}
	provided := strings.TrimSpace(header.Get(SignatureHeader))
	if provided == "" {
		return ErrInvalidSignature
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(payload)
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Ingest verifies and applies one delivery. Unknown event types are
// acknowledged without action so the provider stops redelivering them.
func (s *Service) Ingest(ctx context.Context, payload []byte, header http.Header) error {
	if err := s.Verify(payload, header); err != nil {
		return err
	}

	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" || strings.TrimSpace(evt.Type) == "" {
		return ErrInvalidPayload
	}

	s.obsMetrics.RecordWebhookEvent(ctx, evt.Type)

	switch evt.Type {
	case "order.paid":
		return s.handleOrderPaid(ctx, evt)
	case "subscription.updated":
		return s.handleSubscriptionUpdated(ctx, evt)
	case "subscription.canceled":
		return s.handleSubscriptionCanceled(ctx, evt)
	default:
		s.log.Info("ignoring unhandled webhook event", zap.String("type", evt.Type))
		return nil
	}
}

func (s *Service) handleOrderPaid(ctx context.Context, evt event) error {
	if evt.Data.Credits <= 0 {
		return ErrInvalidPayload
	}
	account, err := s.resolveAccount(ctx, evt)
	if err != nil {
		return err
	}

	txn, err := s.credits.GrantExternal(
		ctx,
		account.ID,
		evt.Data.Credits,
		eventKey(evt.ID),
		creditdomain.ReasonExternalPayment,
		"credit purchase",
	)
	if err != nil {
		return err
	}
	if txn == nil {
		return nil
	}

	s.publishSettlement(ctx, account.ID, txn)
	s.log.Info("credits granted",
		zap.String("account_id", account.ID.String()),
		zap.Int64("credits", evt.Data.Credits),
		zap.String("event_id", evt.ID),
	)
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, evt event) error {
	account, err := s.resolveAccount(ctx, evt)
	if err != nil {
		return err
	}

	plan := accountdomain.Plan(strings.TrimSpace(evt.Data.Plan))
	if plan == "" {
		plan = accountdomain.PlanPro
	}
	if err := s.accounts.SetPlan(ctx, account.ID, plan); err != nil {
		return err
	}

	if plan != accountdomain.PlanPro || s.proGrant <= 0 {
		return nil
	}
	txn, err := s.credits.GrantExternal(
		ctx,
		account.ID,
		s.proGrant,
		eventKey(evt.ID),
		creditdomain.ReasonPlanGrant,
		"pro plan allotment",
	)
	if err != nil {
		return err
	}
	if txn != nil {
		s.publishSettlement(ctx, account.ID, txn)
	}
	return nil
}

func (s *Service) handleSubscriptionCanceled(ctx context.Context, evt event) error {
	account, err := s.resolveAccount(ctx, evt)
	if err != nil {
		return err
	}
	// Downgrades keep already-granted credits; only the plan changes.
	return s.accounts.SetPlan(ctx, account.ID, accountdomain.PlanFree)
}

// resolveAccount maps the event to an account, preferring the explicit
// account reference and falling back to the billing customer mapping. A
// first-seen customer ID gets linked for later deliveries.
func (s *Service) resolveAccount(ctx context.Context, evt event) (accountdomain.Account, error) {
	if raw := strings.TrimSpace(evt.Data.AccountID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return accountdomain.Account{}, ErrInvalidPayload
		}
		account, err := s.accounts.GetByID(ctx, id)
		if errors.Is(err, accountdomain.ErrNotFound) {
			return accountdomain.Account{}, ErrUnknownAccount
		}
		if err != nil {
			return accountdomain.Account{}, err
		}
		if customer := strings.TrimSpace(evt.Data.CustomerID); customer != "" && account.BillingCustomerID == "" {
			if err := s.accounts.SetBillingCustomer(ctx, account.ID, customer); err != nil {
				s.log.Warn("billing customer link failed", zap.Error(err))
			}
		}
		return account, nil
	}

	customer := strings.TrimSpace(evt.Data.CustomerID)
	if customer == "" {
		return accountdomain.Account{}, ErrInvalidPayload
	}
	account, err := s.accounts.GetByBillingCustomer(ctx, customer)
	if errors.Is(err, accountdomain.ErrNotFound) {
		return accountdomain.Account{}, ErrUnknownAccount
	}
	if err != nil {
		return accountdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) publishSettlement(ctx context.Context, accountID snowflake.ID, txn *creditdomain.Transaction) {
	if err := s.publisher.PublishTransaction(ctx, projection.TransactionUpdate{
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		Amount:        txn.Amount,
		Reason:        string(txn.Reason),
		Detail:        txn.Detail,
		CreatedAt:     txn.CreatedAt,
	}); err != nil {
		s.log.Warn("transaction publish failed", zap.Error(err))
	}

	balance, err := s.credits.BalanceOf(ctx, accountID)
	if err != nil {
		s.log.Warn("balance read failed", zap.Error(err))
		return
	}
	if err := s.publisher.PublishBalance(ctx, projection.BalanceUpdate{
		AccountID: balance.AccountID,
		Credits:   balance.Credits,
		Unlimited: balance.Unlimited,
	}); err != nil {
		s.log.Warn("balance publish failed", zap.Error(err))
	}
}

func eventKey(eventID string) string {
	return "billing:" + strings.TrimSpace(eventID)
}
