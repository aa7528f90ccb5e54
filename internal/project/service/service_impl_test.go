package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/glidestudio/glide/internal/project/domain"
	"github.com/glidestudio/glide/internal/project/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Project{}, &domain.Frame{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repository: repository.New(),
	})
	return svc, db, node
}

func TestCreateProject(t *testing.T) {
	svc, _, node := newTestService(t)
	accountID := node.Generate()

	project, err := svc.Create(context.Background(), domain.CreateProjectRequest{
		AccountID: accountID,
		Name:      "  My App  ",
	})
	require.NoError(t, err)
	assert.NotZero(t, project.ID)
	assert.Equal(t, "My App", project.Name)
	assert.Equal(t, domain.VisibilityPrivate, project.Visibility)

	_, err = svc.Create(context.Background(), domain.CreateProjectRequest{AccountID: accountID})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestFindActiveOwnership(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	owner := node.Generate()
	project, err := svc.Create(ctx, domain.CreateProjectRequest{AccountID: owner, Name: "My App"})
	require.NoError(t, err)

	found, err := svc.FindActive(ctx, owner, project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, found.ID)

	// Another tenant gets not-found, never a hint the project exists.
	_, err = svc.FindActive(ctx, node.Generate(), project.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Account zero is the internal caller and skips the ownership check.
	_, err = svc.FindActive(ctx, 0, project.ID)
	assert.NoError(t, err)
}

func TestSoftDelete(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	owner := node.Generate()
	project, err := svc.Create(ctx, domain.CreateProjectRequest{AccountID: owner, Name: "My App"})
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(ctx, owner, project.ID))
	_, err = svc.FindActive(ctx, owner, project.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The row survives for audit; only the marker is set.
	var stored domain.Project
	require.NoError(t, db.First(&stored, "id = ?", project.ID).Error)
	assert.NotNil(t, stored.DeletedAt)

	// Deleting twice reports not-found.
	assert.ErrorIs(t, svc.SoftDelete(ctx, owner, project.ID), domain.ErrNotFound)
}

func TestSetNameTheme(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	owner := node.Generate()
	project, err := svc.Create(ctx, domain.CreateProjectRequest{AccountID: owner, Name: "Untitled Project"})
	require.NoError(t, err)

	require.NoError(t, svc.SetNameTheme(ctx, project.ID, "Notely", "calm pastel"))
	updated, err := svc.FindActive(ctx, owner, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Notely", updated.Name)
	assert.Equal(t, "calm pastel", updated.Theme)

	assert.ErrorIs(t, svc.SetNameTheme(ctx, project.ID, "   ", ""), domain.ErrInvalidName)
}

func TestSaveFrame(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	owner := node.Generate()
	project, err := svc.Create(ctx, domain.CreateProjectRequest{AccountID: owner, Name: "My App"})
	require.NoError(t, err)

	frame := domain.Frame{ProjectID: project.ID, Title: "Home", HTMLContent: "<html>v1</html>"}
	require.NoError(t, svc.SaveFrame(ctx, &frame))
	assert.NotZero(t, frame.ID)

	// Saving with an existing ID updates in place.
	frame.HTMLContent = "<html>v2</html>"
	require.NoError(t, svc.SaveFrame(ctx, &frame))

	stored, err := svc.GetFrame(ctx, project.ID, frame.ID)
	require.NoError(t, err)
	assert.Equal(t, "<html>v2</html>", stored.HTMLContent)

	result, err := svc.Get(ctx, owner, project.ID)
	require.NoError(t, err)
	require.Len(t, result.Frames, 1)
}

func TestUpdateFrameContent(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	owner := node.Generate()
	project, err := svc.Create(ctx, domain.CreateProjectRequest{AccountID: owner, Name: "My App"})
	require.NoError(t, err)
	frame := domain.Frame{ProjectID: project.ID, Title: "Home", HTMLContent: "<html>v1</html>"}
	require.NoError(t, svc.SaveFrame(ctx, &frame))

	updated, err := svc.UpdateFrameContent(ctx, owner, project.ID, frame.ID, "Start", "<html>edited</html>")
	require.NoError(t, err)
	assert.Equal(t, "Start", updated.Title)
	assert.Equal(t, "<html>edited</html>", updated.HTMLContent)

	// Edits by a non-owner fail as not-found.
	_, err = svc.UpdateFrameContent(ctx, node.Generate(), project.ID, frame.ID, "", "<html>x</html>")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetFrame(ctx, project.ID, node.Generate())
	assert.ErrorIs(t, err, domain.ErrFrameNotFound)
}

func TestListStale(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	repo := repository.New()
	owner := node.Generate()

	old := time.Now().UTC().Add(-10 * time.Minute)
	makeProject := func(createdAt time.Time, attempts int) domain.Project {
		project := domain.Project{
			ID:                 node.Generate(),
			AccountID:          owner,
			Name:               "Untitled Project",
			Visibility:         domain.VisibilityPrivate,
			GenerationAttempts: attempts,
			CreatedAt:          createdAt,
			UpdatedAt:          createdAt,
		}
		require.NoError(t, db.Create(&project).Error)
		return project
	}

	orphan := makeProject(old, 0)
	makeProject(old, 3)                // attempts exhausted
	makeProject(time.Now().UTC(), 0)   // too young
	framed := makeProject(old, 0)
	require.NoError(t, svc.SaveFrame(ctx, &domain.Frame{ProjectID: framed.ID, Title: "Home"}))

	cutoff := time.Now().UTC().Add(-time.Minute)
	stale, err := repo.ListStale(ctx, db, cutoff, 3, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, orphan.ID, stale[0].ID)
	assert.Equal(t, owner, stale[0].AccountID)

	require.NoError(t, repo.BumpGenerationAttempts(ctx, db, orphan.ID))
	stale, err = repo.ListStale(ctx, db, cutoff, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
