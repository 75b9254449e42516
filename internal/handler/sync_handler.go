package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/models"
	"github.com/noah-isme/checkride-sync/pkg/response"
)

type foregroundSyncer interface {
	SyncNow(ctx context.Context, studentID string) (*models.ReconcileReport, error)
}

// SyncHandler exposes the foreground sync trigger.
type SyncHandler struct {
	sync foregroundSyncer
}

// NewSyncHandler builds a new handler.
func NewSyncHandler(sync foregroundSyncer) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// SyncNow godoc
// @Summary Push pending changes and pull the share now
// @Tags Sync
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /students/{studentId}/sync [post]
func (h *SyncHandler) SyncNow(c *gin.Context) {
	report, err := h.sync.SyncNow(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}
