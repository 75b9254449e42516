package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/models"
	"github.com/noah-isme/checkride-sync/internal/service"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
	"github.com/noah-isme/checkride-sync/pkg/response"
)

type studentService interface {
	List(ctx context.Context) ([]models.Student, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	SaveProfile(ctx context.Context, id string, req service.StudentProfileRequest) (*models.Student, error)
}

type progressService interface {
	Refresh(ctx context.Context, studentID string) (*models.StudentProgress, error)
	ForCategory(ctx context.Context, studentID, category string) (*models.CategoryProgress, error)
}

// StudentHandler exposes student profile and progress endpoints.
type StudentHandler struct {
	students studentService
	progress progressService
}

// NewStudentHandler builds a new handler.
func NewStudentHandler(students studentService, progress progressService) *StudentHandler {
	return &StudentHandler{students: students, progress: progress}
}

// List godoc
// @Summary List students on this device
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	students, err := h.students.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, map[string]interface{}{"total": len(students)})
}

// Get godoc
// @Summary Get a student profile
// @Tags Students
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{studentId} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student)
}

// Save godoc
// @Summary Create or replace a student profile
// @Tags Students
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body service.StudentProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{studentId} [put]
func (h *StudentHandler) Save(c *gin.Context) {
	var req service.StudentProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid student payload"))
		return
	}
	student, err := h.students.SaveProfile(c.Request.Context(), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student)
}

// Progress godoc
// @Summary Weighted progress for a student
// @Description Returns every active category, or one category when filtered.
// @Tags Progress
// @Produce json
// @Param studentId path string true "Student ID"
// @Param category query string false "Category or synonym"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{studentId}/progress [get]
func (h *StudentHandler) Progress(c *gin.Context) {
	studentID := c.Param("studentId")
	if category := c.Query("category"); category != "" {
		progress, err := h.progress.ForCategory(c.Request.Context(), studentID, category)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, progress)
		return
	}
	summary, err := h.progress.Refresh(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// Create godoc
// @Summary Create a student with a generated ID
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.StudentProfileRequest true "Profile payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.StudentProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid student payload"))
		return
	}
	student, err := h.students.SaveProfile(c.Request.Context(), "", req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}
