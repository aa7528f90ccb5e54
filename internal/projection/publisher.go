package projection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/glidestudio/glide/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusUpdate describes one project status publish.
type StatusUpdate struct {
	ProjectID        snowflake.ID `json:"project_id"`
	Status           string       `json:"status"`
	Detail           string       `json:"detail,omitempty"`
	TotalScreens     int          `json:"total_screens"`
	CompletedScreens int          `json:"completed_screens"`
}

// FrameUpdate describes one frame publish. ReplaceFrameID names a
// placeholder row this frame supersedes.
type FrameUpdate struct {
	FrameID        snowflake.ID `json:"frame_id"`
	ProjectID      snowflake.ID `json:"project_id"`
	Title          string       `json:"title"`
	HTMLContent    string       `json:"html_content"`
	Placeholder    bool         `json:"placeholder"`
	ReplaceFrameID snowflake.ID `json:"replace_frame_id,omitempty"`
}

// TransactionUpdate mirrors one ledger entry to read-side consumers.
type TransactionUpdate struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	AccountID     snowflake.ID `json:"account_id"`
	Amount        int64        `json:"amount"`
	Reason        string       `json:"reason"`
	Detail        string       `json:"detail,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// BalanceUpdate is the read-side balance pushed to account streams.
type BalanceUpdate struct {
	AccountID snowflake.ID `json:"account_id"`
	Credits   int64        `json:"credits"`
	Unlimited bool         `json:"unlimited"`
}

type PublisherParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Hub        *Hub
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Publisher writes durable projection rows and pushes matching events to
// live subscribers. Publishes are best-effort from the caller's point of
// view: a failed publish never rolls back the write that triggered it.
type Publisher struct {
	db         *gorm.DB
	log        *zap.Logger
	hub        *Hub
	obsMetrics *obsmetrics.Metrics
}

func NewPublisher(p PublisherParams) *Publisher {
	return &Publisher{
		db:         p.DB,
		log:        p.Log.Named("projection.publisher"),
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

// PublishStatus upserts the status row and pushes it to the project stream.
// An update identical to the stored row writes nothing and pushes nothing.
func (p *Publisher) PublishStatus(ctx context.Context, update StatusUpdate) error {
	now := time.Now().UTC()
	result := p.db.WithContext(ctx).Exec(
		`INSERT INTO project_status_projections (
			project_id, status, detail, total_screens, completed_screens, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			status = excluded.status,
			detail = excluded.detail,
			total_screens = excluded.total_screens,
			completed_screens = excluded.completed_screens,
			updated_at = excluded.updated_at
		WHERE project_status_projections.status != excluded.status
		   OR project_status_projections.detail != excluded.detail
		   OR project_status_projections.total_screens != excluded.total_screens
		   OR project_status_projections.completed_screens != excluded.completed_screens`,
		update.ProjectID, update.Status, update.Detail,
		update.TotalScreens, update.CompletedScreens, now,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	p.obsMetrics.RecordProjectionPublish(ctx, "project_status")
	p.push(ProjectTopic(update.ProjectID), EventProjectStatus, update)
	return nil
}

// PublishFrame upserts the frame row, removes a superseded placeholder row
// when ReplaceFrameID is set, and pushes to the project stream.
func (p *Publisher) PublishFrame(ctx context.Context, update FrameUpdate) error {
	now := time.Now().UTC()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if update.ReplaceFrameID != 0 && update.ReplaceFrameID != update.FrameID {
			if err := tx.Exec(
				`DELETE FROM frame_projections WHERE frame_id = ? AND project_id = ?`,
				update.ReplaceFrameID, update.ProjectID,
			).Error; err != nil {
				return err
			}
		}
		return tx.Exec(
			`INSERT INTO frame_projections (
				frame_id, project_id, title, html_content, placeholder, updated_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (frame_id) DO UPDATE SET
				title = excluded.title,
				html_content = excluded.html_content,
				placeholder = excluded.placeholder,
				updated_at = excluded.updated_at`,
			update.FrameID, update.ProjectID, update.Title,
			update.HTMLContent, update.Placeholder, now,
		).Error
	})
	if err != nil {
		return err
	}

	p.obsMetrics.RecordProjectionPublish(ctx, "frame")
	p.push(ProjectTopic(update.ProjectID), EventFrameUpserted, update)
	return nil
}

// RemoveFrame deletes a frame row and notifies the project stream. Used to
// retract placeholders whose generation failed.
func (p *Publisher) RemoveFrame(ctx context.Context, projectID, frameID snowflake.ID) error {
	result := p.db.WithContext(ctx).Exec(
		`DELETE FROM frame_projections WHERE frame_id = ? AND project_id = ?`,
		frameID, projectID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	p.obsMetrics.RecordProjectionPublish(ctx, "frame")
	p.push(ProjectTopic(projectID), EventFrameRemoved, FrameUpdate{
		FrameID:   frameID,
		ProjectID: projectID,
	})
	return nil
}

// PublishBalance upserts the balance row and pushes it to the account
// stream. Unchanged balances are skipped.
func (p *Publisher) PublishBalance(ctx context.Context, update BalanceUpdate) error {
	now := time.Now().UTC()
	result := p.db.WithContext(ctx).Exec(
		`INSERT INTO credit_balance_projections (
			account_id, credits, unlimited, updated_at
		) VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			credits = excluded.credits,
			unlimited = excluded.unlimited,
			updated_at = excluded.updated_at
		WHERE credit_balance_projections.credits != excluded.credits
		   OR credit_balance_projections.unlimited != excluded.unlimited`,
		update.AccountID, update.Credits, update.Unlimited, now,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	p.obsMetrics.RecordProjectionPublish(ctx, "credit_balance")
	p.push(AccountTopic(update.AccountID), EventCreditBalance, update)
	return nil
}

// PublishTransaction inserts the transaction row if absent and pushes it to
// the account stream. A replayed transaction ID is a no-op.
func (p *Publisher) PublishTransaction(ctx context.Context, update TransactionUpdate) error {
	result := p.db.WithContext(ctx).Exec(
		`INSERT INTO credit_transaction_projections (
			transaction_id, account_id, amount, reason, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		update.TransactionID, update.AccountID, update.Amount,
		update.Reason, update.Detail, update.CreatedAt,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	p.obsMetrics.RecordProjectionPublish(ctx, "credit_transaction")
	p.push(AccountTopic(update.AccountID), EventCreditTransaction, update)
	return nil
}

// ProjectStatus reads the stored status row, defaulting to idle when none
// exists yet.
func (p *Publisher) ProjectStatus(ctx context.Context, projectID snowflake.ID) (ProjectStatusProjection, error) {
	var row ProjectStatusProjection
	err := p.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return ProjectStatusProjection{}, err
	}
	if row.ProjectID == 0 {
		row = ProjectStatusProjection{ProjectID: projectID, Status: StatusIdle}
	}
	return row, nil
}

func (p *Publisher) push(topic, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("event payload marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	p.hub.Publish(topic, Event{Type: eventType, Payload: data})
}
