package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/glidestudio/glide/internal/account/domain"
	accountrepo "github.com/glidestudio/glide/internal/account/repository"
	accountservice "github.com/glidestudio/glide/internal/account/service"
	"github.com/glidestudio/glide/internal/config"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	creditservice "github.com/glidestudio/glide/internal/credit/service"
	"github.com/glidestudio/glide/internal/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

type webhookEnv struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  *Service
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&creditdomain.Transaction{},
		&projection.CreditBalanceProjection{},
		&projection.CreditTransactionProjection{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	cfg := config.Config{
		BillingWebhookSecret: testSecret,
		Credits: config.CreditConfig{
			DefaultAllotment: 100,
			CostPerScreen:    5,
			ProGrant:         450,
		},
	}

	accounts := accountservice.New(accountservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Cfg:   cfg,
		Repo:  accountrepo.Provide(),
	})
	credits := creditservice.New(creditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
	})
	publisher := projection.NewPublisher(projection.PublisherParams{
		DB:  db,
		Log: log,
		Hub: projection.NewHub(),
	})

	svc := New(Params{
		Config:    cfg,
		Log:       log,
		Accounts:  accounts,
		Credits:   credits,
		Publisher: publisher,
	})
	return &webhookEnv{db: db, node: node, svc: svc}
}

func (e *webhookEnv) seedAccount(t *testing.T, balance int64) accountdomain.Account {
	t.Helper()
	account := accountdomain.Account{
		ID:            e.node.Generate(),
		ExternalID:    "ext-" + e.node.Generate().String(),
		Email:         "user@example.com",
		Plan:          accountdomain.PlanFree,
		CreditBalance: balance,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.db.Create(&account).Error)
	return account
}

func (e *webhookEnv) reload(t *testing.T, id snowflake.ID) accountdomain.Account {
	t.Helper()
	var account accountdomain.Account
	require.NoError(t, e.db.First(&account, "id = ?", id).Error)
	return account
}

func signed(payload string) (body []byte, header http.Header) {
	body = []byte(payload)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	header = http.Header{}
	header.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	return body, header
}

func TestVerify(t *testing.T) {
	env := newWebhookEnv(t)

	body, header := signed(`{"id":"evt_1","type":"order.paid"}`)
	assert.NoError(t, env.svc.Verify(body, header))

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, env.svc.Verify(body, http.Header{}), ErrInvalidSignature)
	})

	t.Run("wrong signature", func(t *testing.T) {
		bad := http.Header{}
		bad.Set(SignatureHeader, strings.Repeat("ab", 32))
		assert.ErrorIs(t, env.svc.Verify(body, bad), ErrInvalidSignature)
	})

	t.Run("not hex", func(t *testing.T) {
		bad := http.Header{}
		bad.Set(SignatureHeader, "zz-not-hex")
		assert.ErrorIs(t, env.svc.Verify(body, bad), ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		assert.ErrorIs(t, env.svc.Verify([]byte(`{"id":"evt_2"}`), header), ErrInvalidSignature)
	})
}

func TestIngestOrderPaid(t *testing.T) {
	env := newWebhookEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 100)

	payload := fmt.Sprintf(
		`{"id":"evt_100","type":"order.paid","data":{"account_id":"%s","credits":500}}`,
		account.ID,
	)
	body, header := signed(payload)
	require.NoError(t, env.svc.Ingest(ctx, body, header))
	assert.Equal(t, int64(600), env.reload(t, account.ID).CreditBalance)

	// At-least-once delivery: the replay is acknowledged without a second
	// grant.
	require.NoError(t, env.svc.Ingest(ctx, body, header))
	assert.Equal(t, int64(600), env.reload(t, account.ID).CreditBalance)

	var count int64
	env.db.Model(&creditdomain.Transaction{}).Count(&count)
	assert.Equal(t, int64(1), count)

	var balanceRow projection.CreditBalanceProjection
	require.NoError(t, env.db.First(&balanceRow, "account_id = ?", account.ID).Error)
	assert.Equal(t, int64(600), balanceRow.Credits)
}

func TestIngestOrderPaidUnknownAccount(t *testing.T) {
	env := newWebhookEnv(t)

	payload := fmt.Sprintf(
		`{"id":"evt_101","type":"order.paid","data":{"account_id":"%s","credits":500}}`,
		env.node.Generate(),
	)
	body, header := signed(payload)
	assert.ErrorIs(t, env.svc.Ingest(context.Background(), body, header), ErrUnknownAccount)
}

func TestIngestOrderPaidRequiresCredits(t *testing.T) {
	env := newWebhookEnv(t)
	account := env.seedAccount(t, 0)

	payload := fmt.Sprintf(
		`{"id":"evt_102","type":"order.paid","data":{"account_id":"%s","credits":0}}`,
		account.ID,
	)
	body, header := signed(payload)
	assert.ErrorIs(t, env.svc.Ingest(context.Background(), body, header), ErrInvalidPayload)
}

func TestIngestSubscriptionUpdated(t *testing.T) {
	env := newWebhookEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 100)

	payload := fmt.Sprintf(
		`{"id":"evt_200","type":"subscription.updated","data":{"account_id":"%s"}}`,
		account.ID,
	)
	body, header := signed(payload)
	require.NoError(t, env.svc.Ingest(ctx, body, header))

	reloaded := env.reload(t, account.ID)
	assert.Equal(t, accountdomain.PlanPro, reloaded.Plan)
	assert.Equal(t, int64(550), reloaded.CreditBalance)

	// The grant is keyed by event ID, so a replay upgrades nothing twice.
	require.NoError(t, env.svc.Ingest(ctx, body, header))
	assert.Equal(t, int64(550), env.reload(t, account.ID).CreditBalance)

	var txn creditdomain.Transaction
	require.NoError(t, env.db.First(&txn, "account_id = ?", account.ID).Error)
	assert.Equal(t, creditdomain.ReasonPlanGrant, txn.Reason)
	assert.Equal(t, int64(450), txn.Amount)
}

func TestIngestSubscriptionCanceled(t *testing.T) {
	env := newWebhookEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 320)
	require.NoError(t, env.db.Exec(
		`UPDATE accounts SET plan = ? WHERE id = ?`, accountdomain.PlanPro, account.ID,
	).Error)

	payload := fmt.Sprintf(
		`{"id":"evt_300","type":"subscription.canceled","data":{"account_id":"%s"}}`,
		account.ID,
	)
	body, header := signed(payload)
	require.NoError(t, env.svc.Ingest(ctx, body, header))

	// Downgrade keeps the purchased credits.
	reloaded := env.reload(t, account.ID)
	assert.Equal(t, accountdomain.PlanFree, reloaded.Plan)
	assert.Equal(t, int64(320), reloaded.CreditBalance)
}

func TestIngestResolvesByBillingCustomer(t *testing.T) {
	env := newWebhookEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 0)

	// The first delivery carries both references and links the customer ID.
	payload := fmt.Sprintf(
		`{"id":"evt_400","type":"order.paid","data":{"account_id":"%s","customer_id":"cus_42","credits":100}}`,
		account.ID,
	)
	body, header := signed(payload)
	require.NoError(t, env.svc.Ingest(ctx, body, header))
	assert.Equal(t, "cus_42", env.reload(t, account.ID).BillingCustomerID)

	// Later deliveries can reference the customer alone.
	body, header = signed(`{"id":"evt_401","type":"order.paid","data":{"customer_id":"cus_42","credits":50}}`)
	require.NoError(t, env.svc.Ingest(ctx, body, header))
	assert.Equal(t, int64(150), env.reload(t, account.ID).CreditBalance)
}

func TestIngestIgnoresUnknownType(t *testing.T) {
	env := newWebhookEnv(t)
	account := env.seedAccount(t, 75)

	body, header := signed(`{"id":"evt_500","type":"invoice.created","data":{}}`)
	require.NoError(t, env.svc.Ingest(context.Background(), body, header))
	assert.Equal(t, int64(75), env.reload(t, account.ID).CreditBalance)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	env := newWebhookEnv(t)

	for _, payload := range []string{
		`{not json`,
		`{"type":"order.paid"}`,
		`{"id":"evt_600"}`,
	} {
		body, header := signed(payload)
		assert.ErrorIs(t, env.svc.Ingest(context.Background(), body, header), ErrInvalidPayload, payload)
	}
}

func TestIngestWithoutSecretConfigured(t *testing.T) {
	env := newWebhookEnv(t)
	env.svc.secret = ""

	body, header := signed(`{"id":"evt_700","type":"order.paid"}`)
	assert.ErrorIs(t, env.svc.Ingest(context.Background(), body, header), ErrSecretMissing)
}
