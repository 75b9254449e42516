package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/dto"
	"github.com/noah-isme/checkride-sync/internal/models"
	"github.com/noah-isme/checkride-sync/internal/service"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
	"github.com/noah-isme/checkride-sync/pkg/response"
)

type assignmentService interface {
	ListForStudent(ctx context.Context, studentID string) ([]models.Assignment, error)
	AssignTemplateByID(ctx context.Context, templateID, studentID string) (*service.AssignResult, error)
	RemoveTemplate(ctx context.Context, templateID, studentID string) (*service.RemovalResult, error)
	Get(ctx context.Context, id string) (*models.Assignment, error)
	UpdateItemCompletion(ctx context.Context, assignmentID, templateItemID string, isComplete bool, notes *string) (*models.ItemProgress, error)
	ApplyEdit(ctx context.Context, assignmentID string, req dto.AssignmentEditRequest) (*models.Assignment, error)
}

type assignmentSyncReader interface {
	SyncState(ctx context.Context, assignmentID string) (*models.AssignmentSyncStatus, error)
}

// AssignmentHandler exposes assignment and checklist endpoints.
type AssignmentHandler struct {
	service assignmentService
	sync    assignmentSyncReader
}

// NewAssignmentHandler builds a new handler.
func NewAssignmentHandler(svc assignmentService, sync assignmentSyncReader) *AssignmentHandler {
	return &AssignmentHandler{service: svc, sync: sync}
}

// ListForStudent godoc
// @Summary List a student's assignments
// @Tags Assignments
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/assignments [get]
func (h *AssignmentHandler) ListForStudent(c *gin.Context) {
	assignments, err := h.service.ListForStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, map[string]interface{}{"total": len(assignments)})
}

// Assign godoc
// @Summary Assign a template to a student
// @Description Assigning an already assigned template returns the existing assignment with 200.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.AssignTemplateRequest true "Template to assign"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{studentId}/assignments [post]
func (h *AssignmentHandler) Assign(c *gin.Context) {
	var req dto.AssignTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	result, err := h.service.AssignTemplateByID(c.Request.Context(), req.TemplateID, c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Created {
		response.Created(c, result)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Remove godoc
// @Summary Remove a template from a student
// @Description Deletes every assignment of the template with its progress and propagates the deletes.
// @Tags Assignments
// @Produce json
// @Param studentId path string true "Student ID"
// @Param templateId path string true "Template ID or legacy identifier"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/assignments/{templateId} [delete]
func (h *AssignmentHandler) Remove(c *gin.Context) {
	result, err := h.service.RemoveTemplate(c.Request.Context(), c.Param("templateId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Get godoc
// @Summary Get an assignment with its item progress
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	assignment, ok := h.authorized(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// UpdateItem godoc
// @Summary Set completion of one checklist item
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param itemId path string true "Template item ID"
// @Param payload body dto.ItemCompletionRequest true "Completion payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assignments/{id}/items/{itemId} [put]
func (h *AssignmentHandler) UpdateItem(c *gin.Context) {
	var req dto.ItemCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid item payload"))
		return
	}
	assignment, ok := h.authorized(c)
	if !ok {
		return
	}
	item, err := h.service.UpdateItemCompletion(c.Request.Context(), assignment.ID, c.Param("itemId"), *req.IsComplete, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Edit godoc
// @Summary Commit several assignment changes at once
// @Description Item toggles, instructor comments and dual hours are written together and pushed once.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.AssignmentEditRequest true "Edit payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assignments/{id} [patch]
func (h *AssignmentHandler) Edit(c *gin.Context) {
	var req dto.AssignmentEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid edit payload"))
		return
	}
	assignment, ok := h.authorized(c)
	if !ok {
		return
	}
	updated, err := h.service.ApplyEdit(c.Request.Context(), assignment.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// SyncState godoc
// @Summary Push state of an assignment and its items
// @Tags Sync
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/sync [get]
func (h *AssignmentHandler) SyncState(c *gin.Context) {
	assignment, ok := h.authorized(c)
	if !ok {
		return
	}
	status, err := h.sync.SyncState(c.Request.Context(), assignment.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// authorized loads the :id assignment and checks the caller may act on its
// student.
func (h *AssignmentHandler) authorized(c *gin.Context) (*models.Assignment, bool) {
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if err := authorizeStudent(c, assignment.StudentID); err != nil {
		response.Error(c, err)
		return nil, false
	}
	return assignment, true
}
