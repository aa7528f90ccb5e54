package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glidestudio/glide/internal/projection"
)

// Internal projection endpoints let trusted backend services push read-side
// updates without a user session. All are idempotent upserts.

type statusProjectionRequest struct {
	ProjectID        snowflake.ID `json:"project_id"`
	Status           string       `json:"status"`
	Detail           string       `json:"detail"`
	TotalScreens     int          `json:"total_screens"`
	CompletedScreens int          `json:"completed_screens"`
}

func (s *Server) PublishStatusProjection(c *gin.Context) {
	var req statusProjectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProjectID == 0 || req.Status == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.publisher.PublishStatus(c.Request.Context(), projection.StatusUpdate{
		ProjectID:        req.ProjectID,
		Status:           req.Status,
		Detail:           req.Detail,
		TotalScreens:     req.TotalScreens,
		CompletedScreens: req.CompletedScreens,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type frameProjectionRequest struct {
	FrameID        snowflake.ID `json:"frame_id"`
	ProjectID      snowflake.ID `json:"project_id"`
	Title          string       `json:"title"`
	HTMLContent    string       `json:"html_content"`
	Placeholder    bool         `json:"placeholder"`
	ReplaceFrameID snowflake.ID `json:"replace_frame_id"`
}

func (s *Server) PublishFrameProjection(c *gin.Context) {
	var req frameProjectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FrameID == 0 || req.ProjectID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.publisher.PublishFrame(c.Request.Context(), projection.FrameUpdate{
		FrameID:        req.FrameID,
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		HTMLContent:    req.HTMLContent,
		Placeholder:    req.Placeholder,
		ReplaceFrameID: req.ReplaceFrameID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type balanceProjectionRequest struct {
	AccountID snowflake.ID `json:"account_id"`
	Credits   int64        `json:"credits"`
	Unlimited bool         `json:"unlimited"`
}

func (s *Server) PublishBalanceProjection(c *gin.Context) {
	var req balanceProjectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.publisher.PublishBalance(c.Request.Context(), projection.BalanceUpdate{
		AccountID: req.AccountID,
		Credits:   req.Credits,
		Unlimited: req.Unlimited,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type transactionProjectionRequest struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	AccountID     snowflake.ID `json:"account_id"`
	Amount        int64        `json:"amount"`
	Reason        string       `json:"reason"`
	Detail        string       `json:"detail"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (s *Server) PublishTransactionProjection(c *gin.Context) {
	var req transactionProjectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TransactionID == 0 || req.AccountID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.publisher.PublishTransaction(c.Request.Context(), projection.TransactionUpdate{
		TransactionID: req.TransactionID,
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Detail:        req.Detail,
		CreatedAt:     createdAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
