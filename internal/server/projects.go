package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	"github.com/glidestudio/glide/internal/dispatch"
	projectdomain "github.com/glidestudio/glide/internal/project/domain"
	"github.com/glidestudio/glide/internal/projection"
	"go.uber.org/zap"
)

type createProjectRequest struct {
	Prompt      string `json:"prompt"`
	Name        string `json:"name"`
	ScreenCount int    `json:"screen_count"`
}

// CreateProject accepts a generation request. The project commit is the
// acceptance boundary: once the row is durable the request is accepted even
// if the enqueue fails, and the reconciliation sweep picks the project up.
func (s *Server) CreateProject(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		AbortWithError(c, newValidationError("prompt", "invalid_prompt", "prompt is required"))
		return
	}

	count := req.ScreenCount
	if count <= 0 {
		count = s.cfg.Jobs.DefaultScreens
	}
	if count > s.cfg.Jobs.MaxScreens {
		count = s.cfg.Jobs.MaxScreens
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Untitled Project"
	}

	ctx := c.Request.Context()
	project, err := s.projectSvc.Create(ctx, projectdomain.CreateProjectRequest{
		AccountID: account.ID,
		Name:      name,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job := dispatch.Job{
		ID:        s.genID.Generate(),
		Kind:      dispatch.KindCreateScreens,
		AccountID: account.ID,
		ProjectID: project.ID,
		CreateScreens: &dispatch.CreateScreensPayload{
			Prompt:      prompt,
			ScreenCount: count,
		},
	}

	// Best-effort from here on: the project is already durable.
	if err := s.guard.Acquire(ctx, project.ID, 0); err != nil {
		s.log.Warn("guard acquire failed on create", zap.Error(err))
	} else if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log.Warn("enqueue failed on create, reconciler will retry",
			zap.String("project_id", project.ID.String()),
			zap.Error(err),
		)
		s.guard.Release(ctx, project.ID, 0)
	}

	c.JSON(http.StatusCreated, gin.H{
		"project": project,
		"job_id":  job.ID.String(),
	})
}

func (s *Server) GetProject(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	projectID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	result, err := s.projectSvc.Get(ctx, account.ID, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status, err := s.publisher.ProjectStatus(ctx, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": result.Project,
		"frames":  result.Frames,
		"status":  status,
	})
}

func (s *Server) DeleteProject(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	projectID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.projectSvc.SoftDelete(c.Request.Context(), account.ID, projectID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type generateNameRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateProjectName enqueues a free name refresh. It does not touch the
// project's generation status.
func (s *Server) GenerateProjectName(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	projectID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req generateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		AbortWithError(c, newValidationError("prompt", "invalid_prompt", "prompt is required"))
		return
	}

	ctx := c.Request.Context()
	if _, err := s.projectSvc.FindActive(ctx, account.ID, projectID); err != nil {
		AbortWithError(c, err)
		return
	}

	job := dispatch.Job{
		ID:           s.genID.Generate(),
		Kind:         dispatch.KindNameGenerate,
		AccountID:    account.ID,
		ProjectID:    projectID,
		NameGenerate: &dispatch.NameGeneratePayload{Prompt: prompt},
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID.String()})
}

type regenerateFrameRequest struct {
	Prompt string `json:"prompt"`
}

// RegenerateFrame enqueues a single-frame regeneration. The frame scope
// lock makes duplicate requests a 409 until the run resolves.
func (s *Server) RegenerateFrame(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	projectID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	frameID, err := parseID(c.Param("frameID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req regenerateFrameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	ctx := c.Request.Context()
	if _, err := s.projectSvc.FindActive(ctx, account.ID, projectID); err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.projectSvc.GetFrame(ctx, projectID, frameID); err != nil {
		AbortWithError(c, err)
		return
	}

	ok, err = s.creditSvc.HasSufficient(ctx, account.ID, s.cfg.Credits.CostPerScreen)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		AbortWithError(c, creditdomain.ErrInsufficientCredits)
		return
	}

	if err := s.guard.Acquire(ctx, projectID, frameID); err != nil {
		AbortWithError(c, err)
		return
	}

	job := dispatch.Job{
		ID:        s.genID.Generate(),
		Kind:      dispatch.KindRegenerateFrame,
		AccountID: account.ID,
		ProjectID: projectID,
		RegenerateFrame: &dispatch.RegenerateFramePayload{
			FrameID: frameID,
			Prompt:  strings.TrimSpace(req.Prompt),
		},
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.guard.Release(ctx, projectID, frameID)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID.String()})
}

type updateFrameRequest struct {
	Title       string `json:"title"`
	HTMLContent string `json:"html_content"`
}

// UpdateFrame applies a manual edit. Edits are last-writer-wins and free.
func (s *Server) UpdateFrame(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	projectID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	frameID, err := parseID(c.Param("frameID"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.HTMLContent) == "" {
		AbortWithError(c, newValidationError("html_content", "invalid_html_content", "html content is required"))
		return
	}

	ctx := c.Request.Context()
	frame, err := s.projectSvc.UpdateFrameContent(ctx, account.ID, projectID, frameID, strings.TrimSpace(req.Title), req.HTMLContent)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.publisher.PublishFrame(ctx, projection.FrameUpdate{
		FrameID:     frame.ID,
		ProjectID:   frame.ProjectID,
		Title:       frame.Title,
		HTMLContent: frame.HTMLContent,
	}); err != nil {
		s.log.Warn("frame publish failed after edit", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"frame": frame})
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, newValidationError("id", "invalid_id", "invalid identifier")
	}
	return id, nil
}
