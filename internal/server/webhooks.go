package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleBillingWebhook ingests billing provider deliveries. Replays resolve
// to the same success response they got the first time.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.webhookSvc.Ingest(c.Request.Context(), payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
