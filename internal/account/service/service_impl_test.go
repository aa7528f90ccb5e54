package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/glidestudio/glide/internal/account/domain"
	"github.com/glidestudio/glide/internal/account/repository"
	"github.com/glidestudio/glide/internal/config"
	"github.com/glidestudio/glide/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Account{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg: config.Config{
			Credits: config.CreditConfig{DefaultAllotment: 100},
		},
		Repo: repository.Provide(),
	})
}

func TestEnsureCreatesAccountOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := identity.Identity{SubjectID: "auth0|abc", Email: "user@example.com", GivenName: "Ada"}

	first, err := svc.Ensure(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "auth0|abc", first.ExternalID)
	assert.Equal(t, domain.PlanFree, first.Plan)
	assert.Equal(t, int64(100), first.CreditBalance)

	// The second sight of the same subject resolves to the same account and
	// does not seed credits again.
	second, err := svc.Ensure(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(100), second.CreditBalance)
}

func TestEnsureRejectsEmptySubject(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Ensure(context.Background(), identity.Identity{SubjectID: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestGetByID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	created, err := svc.Ensure(ctx, identity.Identity{SubjectID: "auth0|abc"})
	require.NoError(t, err)

	found, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ExternalID, found.ExternalID)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	_, err = svc.GetByID(ctx, node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetPlan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	account, err := svc.Ensure(ctx, identity.Identity{SubjectID: "auth0|abc"})
	require.NoError(t, err)

	require.NoError(t, svc.SetPlan(ctx, account.ID, domain.PlanPro))
	reloaded, err := svc.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, reloaded.Plan)

	assert.ErrorIs(t, svc.SetPlan(ctx, account.ID, domain.Plan("enterprise")), domain.ErrInvalidPlan)
}

func TestBillingCustomerLookup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	account, err := svc.Ensure(ctx, identity.Identity{SubjectID: "auth0|abc"})
	require.NoError(t, err)

	_, err = svc.GetByBillingCustomer(ctx, "cus_42")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.SetBillingCustomer(ctx, account.ID, " cus_42 "))
	found, err := svc.GetByBillingCustomer(ctx, "cus_42")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)
}
