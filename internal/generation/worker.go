package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/config"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	"github.com/glidestudio/glide/internal/dispatch"
	obsmetrics "github.com/glidestudio/glide/internal/observability/metrics"
	projectdomain "github.com/glidestudio/glide/internal/project/domain"
	"github.com/glidestudio/glide/internal/projection"
	"github.com/glidestudio/glide/pkg/ai"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type WorkerParams struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	Projects   projectdomain.Service
	Credits    creditdomain.Service
	Publisher  *projection.Publisher
	Guard      *dispatch.InflightGuard
	Generator  ai.TextGenerator
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Worker executes generation jobs delivered by the dispatcher. Handlers are
// idempotent where it matters: credit deduction happens once per run, after
// the work, and only for frames that were durably persisted.
type Worker struct {
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	projects   projectdomain.Service
	credits    creditdomain.Service
	publisher  *projection.Publisher
	guard      *dispatch.InflightGuard
	generator  ai.TextGenerator
	obsMetrics *obsmetrics.Metrics
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		cfg:        p.Config,
		log:        p.Log.Named("generation.worker"),
		genID:      p.GenID,
		projects:   p.Projects,
		credits:    p.Credits,
		publisher:  p.Publisher,
		guard:      p.Guard,
		generator:  p.Generator,
		obsMetrics: p.ObsMetrics,
	}
}

// Handle dispatches one job by kind.
func (w *Worker) Handle(ctx context.Context, job dispatch.Job) error {
	if err := job.Validate(); err != nil {
		return dispatch.Permanent(err)
	}
	switch job.Kind {
	case dispatch.KindCreateScreens:
		return w.runCreateScreens(ctx, job)
	case dispatch.KindRegenerateFrame:
		return w.runRegenerateFrame(ctx, job)
	case dispatch.KindNameGenerate:
		return w.runNameGenerate(ctx, job)
	default:
		return dispatch.Permanent(dispatch.ErrInvalidJob)
	}
}

func (w *Worker) runCreateScreens(ctx context.Context, job dispatch.Job) error {
	w.obsMetrics.RecordJobStarted(ctx, string(job.Kind))
	log := w.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("project_id", job.ProjectID.String()),
	)

	count := job.CreateScreens.ScreenCount
	if count > w.cfg.Jobs.MaxScreens {
		count = w.cfg.Jobs.MaxScreens
	}

	project, err := w.projects.FindActive(ctx, job.AccountID, job.ProjectID)
	if errors.Is(err, projectdomain.ErrNotFound) {
		w.guard.Release(ctx, job.ProjectID, 0)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "aborted")
		return dispatch.Permanent(err)
	}
	if err != nil {
		return err
	}

	w.publishStatus(ctx, job.ProjectID, projection.StatusRunning, "", count, 0)

	perScreen := w.cfg.Credits.CostPerScreen
	ok, err := w.credits.HasSufficient(ctx, job.AccountID, perScreen*int64(count))
	if err != nil {
		return err
	}
	if !ok {
		log.Info("insufficient credits, job rejected")
		return w.finishFailed(ctx, job, "insufficient_credits", count, 0, creditdomain.ErrInsufficientCredits)
	}

	w.publishStatus(ctx, job.ProjectID, projection.StatusAnalyzing, "", count, 0)
	if analysis, err := w.analyze(ctx, job.CreateScreens.Prompt); err == nil {
		if err := w.projects.SetNameTheme(ctx, job.ProjectID, analysis.Name, analysis.Theme); err != nil {
			log.Warn("name update failed", zap.Error(err))
		} else {
			project.Name = analysis.Name
			project.Theme = analysis.Theme
		}
	} else {
		// Analysis is decorative; keep the user's project name.
		log.Warn("analysis failed, keeping defaults", zap.Error(err))
	}

	var (
		succeeded int
		aborted   bool
		entries   []creditdomain.Entry
	)
	for i := 0; i < count; i++ {
		w.publishStatus(ctx, job.ProjectID, projection.StatusGenerating, "", count, succeeded)

		placeholderID := w.genID.Generate()
		title := fmt.Sprintf("Screen %d", i+1)
		if err := w.publisher.PublishFrame(ctx, projection.FrameUpdate{
			FrameID:     placeholderID,
			ProjectID:   job.ProjectID,
			Title:       title,
			Placeholder: true,
		}); err != nil {
			log.Warn("placeholder publish failed", zap.Error(err))
		}

		html, err := w.generateScreen(ctx, project, job.CreateScreens.Prompt, i, count)
		if err != nil {
			log.Warn("screen generation failed", zap.Int("screen", i+1), zap.Error(err))
			w.obsMetrics.RecordGenerationUnit(ctx, "failed")
			w.retractPlaceholder(ctx, job.ProjectID, placeholderID, log)
			continue
		}

		// The project can vanish mid-run. Stop before persisting into a
		// deleted project; frames already written stay billable.
		if _, err := w.projects.FindActive(ctx, job.AccountID, job.ProjectID); err != nil {
			aborted = true
			break
		}

		frame := projectdomain.Frame{
			ProjectID:   job.ProjectID,
			Title:       title,
			HTMLContent: html,
		}
		if err := w.projects.SaveFrame(ctx, &frame); err != nil {
			log.Error("frame persist failed", zap.Int("screen", i+1), zap.Error(err))
			w.obsMetrics.RecordGenerationUnit(ctx, "failed")
			w.retractPlaceholder(ctx, job.ProjectID, placeholderID, log)
			continue
		}

		succeeded++
		entries = append(entries, creditdomain.Entry{Label: frame.Title, Amount: perScreen})
		w.obsMetrics.RecordGenerationUnit(ctx, "succeeded")
		if err := w.publisher.PublishFrame(ctx, projection.FrameUpdate{
			FrameID:        frame.ID,
			ProjectID:      job.ProjectID,
			Title:          frame.Title,
			HTMLContent:    frame.HTMLContent,
			ReplaceFrameID: placeholderID,
		}); err != nil {
			log.Warn("frame publish failed", zap.Error(err))
		}
	}

	if aborted {
		log.Info("project vanished mid-run", zap.Int("persisted", succeeded))
		if succeeded > 0 {
			w.settle(ctx, job, creditdomain.ReasonGeneration, perScreen, succeeded, entries, project.Name, log)
		}
		w.guard.Release(ctx, job.ProjectID, 0)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "aborted")
		return nil
	}

	if succeeded == 0 {
		return w.finishFailed(ctx, job, "generation_failed", count, 0, errors.New("no screens generated"))
	}

	w.settle(ctx, job, creditdomain.ReasonGeneration, perScreen, succeeded, entries, project.Name, log)
	w.publishStatus(ctx, job.ProjectID, projection.StatusCompleted, "", count, succeeded)
	w.guard.Release(ctx, job.ProjectID, 0)
	w.scheduleIdleReset(job.ProjectID)
	w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "completed")
	log.Info("screens generated", zap.Int("succeeded", succeeded), zap.Int("requested", count))
	return nil
}

func (w *Worker) runRegenerateFrame(ctx context.Context, job dispatch.Job) error {
	w.obsMetrics.RecordJobStarted(ctx, string(job.Kind))
	frameID := job.RegenerateFrame.FrameID
	log := w.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("project_id", job.ProjectID.String()),
		zap.String("frame_id", frameID.String()),
	)

	project, err := w.projects.FindActive(ctx, job.AccountID, job.ProjectID)
	if errors.Is(err, projectdomain.ErrNotFound) {
		w.guard.Release(ctx, job.ProjectID, frameID)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "aborted")
		return dispatch.Permanent(err)
	}
	if err != nil {
		return err
	}

	frame, err := w.projects.GetFrame(ctx, job.ProjectID, frameID)
	if errors.Is(err, projectdomain.ErrFrameNotFound) {
		w.guard.Release(ctx, job.ProjectID, frameID)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "aborted")
		return dispatch.Permanent(err)
	}
	if err != nil {
		return err
	}

	w.publishStatus(ctx, job.ProjectID, projection.StatusRunning, "", 1, 0)

	perScreen := w.cfg.Credits.CostPerScreen
	ok, err := w.credits.HasSufficient(ctx, job.AccountID, perScreen)
	if err != nil {
		return err
	}
	if !ok {
		w.guard.Release(ctx, job.ProjectID, frameID)
		log.Info("insufficient credits, regeneration rejected")
		w.publishStatus(ctx, job.ProjectID, projection.StatusFailed, "insufficient_credits", 1, 0)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "failed")
		return dispatch.Permanent(creditdomain.ErrInsufficientCredits)
	}

	w.publishStatus(ctx, job.ProjectID, projection.StatusGenerating, "", 1, 0)

	prompt := buildRegeneratePrompt(project.Name, project.Theme, frame.Title, job.RegenerateFrame.Prompt)
	raw, err := w.generator.GenerateText(ctx, screenSystemPrompt, prompt)
	if err == nil {
		raw, err = sanitizeHTML(raw)
	}
	if err != nil {
		log.Warn("frame regeneration failed", zap.Error(err))
		w.obsMetrics.RecordGenerationUnit(ctx, "failed")
		w.guard.Release(ctx, job.ProjectID, frameID)
		w.publishStatus(ctx, job.ProjectID, projection.StatusFailed, "generation_failed", 1, 0)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "failed")
		return dispatch.Permanent(err)
	}

	if _, err := w.projects.FindActive(ctx, job.AccountID, job.ProjectID); err != nil {
		w.guard.Release(ctx, job.ProjectID, frameID)
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "aborted")
		return nil
	}

	frame.HTMLContent = raw
	if err := w.projects.SaveFrame(ctx, &frame); err != nil {
		w.obsMetrics.RecordGenerationUnit(ctx, "failed")
		return err
	}
	w.obsMetrics.RecordGenerationUnit(ctx, "succeeded")

	if err := w.publisher.PublishFrame(ctx, projection.FrameUpdate{
		FrameID:     frame.ID,
		ProjectID:   job.ProjectID,
		Title:       frame.Title,
		HTMLContent: frame.HTMLContent,
	}); err != nil {
		log.Warn("frame publish failed", zap.Error(err))
	}

	entries := []creditdomain.Entry{{Label: frame.Title, Amount: perScreen}}
	w.settle(ctx, job, creditdomain.ReasonRegeneration, perScreen, 1, entries, project.Name, log)
	w.publishStatus(ctx, job.ProjectID, projection.StatusCompleted, "", 1, 1)
	w.guard.Release(ctx, job.ProjectID, frameID)
	w.scheduleIdleReset(job.ProjectID)
	w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "completed")
	log.Info("frame regenerated")
	return nil
}

// runNameGenerate refreshes the project name and theme from the prompt. It
// is free, holds no scope lock and publishes no status: a concurrent screen
// run owns the status row.
func (w *Worker) runNameGenerate(ctx context.Context, job dispatch.Job) error {
	w.obsMetrics.RecordJobStarted(ctx, string(job.Kind))

	if _, err := w.projects.FindActive(ctx, job.AccountID, job.ProjectID); err != nil {
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "aborted")
		if errors.Is(err, projectdomain.ErrNotFound) {
			return dispatch.Permanent(err)
		}
		return err
	}

	analysis, err := w.analyze(ctx, job.NameGenerate.Prompt)
	if err != nil {
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "failed")
		return err
	}
	if err := w.projects.SetNameTheme(ctx, job.ProjectID, analysis.Name, analysis.Theme); err != nil {
		w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "failed")
		return err
	}
	w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "completed")
	return nil
}

// HandleExhausted runs when the dispatcher gives up on a job after its
// final transient failure. The run owns the status row and the scope lock,
// so both must be settled here or watchers see a stuck "running" status and
// the project stays locked until the guard TTL.
func (w *Worker) HandleExhausted(ctx context.Context, job dispatch.Job, cause error) {
	w.log.Error("job abandoned after retries",
		zap.String("job_id", job.ID.String()),
		zap.String("project_id", job.ProjectID.String()),
		zap.String("kind", string(job.Kind)),
		zap.Error(cause),
	)

	// Name-generate jobs hold no lock and own no status row.
	if job.Kind != dispatch.KindNameGenerate {
		var frameID snowflake.ID
		if job.Kind == dispatch.KindRegenerateFrame && job.RegenerateFrame != nil {
			frameID = job.RegenerateFrame.FrameID
		}
		w.publishStatus(ctx, job.ProjectID, projection.StatusFailed, "generation_failed", 0, 0)
		w.guard.Release(ctx, job.ProjectID, frameID)
	}
	w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "failed")
}

func (w *Worker) analyze(ctx context.Context, idea string) (nameTheme, error) {
	raw, err := w.generator.GenerateText(ctx, analysisSystemPrompt, idea)
	if err != nil {
		return nameTheme{}, err
	}
	return parseAnalysis(raw)
}

func (w *Worker) generateScreen(ctx context.Context, project projectdomain.Project, idea string, index, total int) (string, error) {
	raw, err := w.generator.GenerateText(ctx, screenSystemPrompt, buildScreenPrompt(project.Name, project.Theme, idea, index, total))
	if err != nil {
		return "", err
	}
	return sanitizeHTML(raw)
}

// settle deducts credits for the persisted units of a run and mirrors the
// resulting transaction and balance. Deduction allows a negative balance:
// the work already happened, the preflight check is the gate.
func (w *Worker) settle(
	ctx context.Context,
	job dispatch.Job,
	reason creditdomain.Reason,
	perScreen int64,
	units int,
	entries []creditdomain.Entry,
	projectName string,
	log *zap.Logger,
) {
	txn, err := w.credits.Deduct(ctx, creditdomain.DeductRequest{
		AccountID:     job.AccountID,
		Amount:        perScreen * int64(units),
		Reason:        reason,
		Detail:        fmt.Sprintf("%d screen(s) for %s", units, projectName),
		Entries:       entries,
		AllowNegative: true,
	})
	if err != nil {
		// The frames are kept; accounting failure is logged loudly rather
		// than destroying finished work.
		log.Error("credit deduction failed after generation", zap.Error(err))
		return
	}

	if err := w.publisher.PublishTransaction(ctx, projection.TransactionUpdate{
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		Amount:        txn.Amount,
		Reason:        string(txn.Reason),
		Detail:        txn.Detail,
		CreatedAt:     txn.CreatedAt,
	}); err != nil {
		log.Warn("transaction publish failed", zap.Error(err))
	}

	balance, err := w.credits.BalanceOf(ctx, job.AccountID)
	if err != nil {
		log.Warn("balance read failed", zap.Error(err))
		return
	}
	if err := w.publisher.PublishBalance(ctx, projection.BalanceUpdate{
		AccountID: balance.AccountID,
		Credits:   balance.Credits,
		Unlimited: balance.Unlimited,
	}); err != nil {
		log.Warn("balance publish failed", zap.Error(err))
	}
}

func (w *Worker) finishFailed(ctx context.Context, job dispatch.Job, detail string, total, completed int, cause error) error {
	w.publishStatus(ctx, job.ProjectID, projection.StatusFailed, detail, total, completed)
	w.guard.Release(ctx, job.ProjectID, 0)
	w.obsMetrics.RecordJobFinished(ctx, string(job.Kind), "failed")
	return dispatch.Permanent(cause)
}

func (w *Worker) publishStatus(ctx context.Context, projectID snowflake.ID, status, detail string, total, completed int) {
	err := w.publisher.PublishStatus(ctx, projection.StatusUpdate{
		ProjectID:        projectID,
		Status:           status,
		Detail:           detail,
		TotalScreens:     total,
		CompletedScreens: completed,
	})
	if err != nil {
		w.log.Warn("status publish failed",
			zap.String("project_id", projectID.String()),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

func (w *Worker) retractPlaceholder(ctx context.Context, projectID, frameID snowflake.ID, log *zap.Logger) {
	if err := w.publisher.RemoveFrame(ctx, projectID, frameID); err != nil {
		log.Warn("placeholder retract failed", zap.Error(err))
	}
}

// scheduleIdleReset flips a completed status back to idle after a short
// display window, unless a newer run has already overwritten it.
func (w *Worker) scheduleIdleReset(projectID snowflake.ID) {
	delay := w.cfg.Jobs.CompletedReset
	if delay <= 0 {
		delay = 3 * time.Second
	}
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		current, err := w.publisher.ProjectStatus(ctx, projectID)
		if err != nil || current.Status != projection.StatusCompleted {
			return
		}
		w.publishStatus(ctx, projectID, projection.StatusIdle, "", 0, 0)
	})
}
