package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/dto"
	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
	"github.com/noah-isme/checkride-sync/pkg/response"
)

type shareService interface {
	Activate(ctx context.Context, studentID string) (*models.ShareInvitation, error)
	Join(ctx context.Context, studentID, code string) (*models.Student, error)
	Terminate(ctx context.Context, studentID string) (*models.ShareStatus, error)
	Status(ctx context.Context, studentID string) (*models.ShareStatus, error)
}

type studentTokenIssuer interface {
	IssueStudentToken(studentID string) (*models.TokenResponse, error)
}

// ShareHandler manages pairing between the instructor and student apps.
type ShareHandler struct {
	shares shareService
	tokens studentTokenIssuer
}

// NewShareHandler builds a new handler.
func NewShareHandler(shares shareService, tokens studentTokenIssuer) *ShareHandler {
	return &ShareHandler{shares: shares, tokens: tokens}
}

// Activate godoc
// @Summary Start sharing a student
// @Description Returns a one-time pairing code for the student app and pushes the student's records.
// @Tags Sharing
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{studentId}/share [post]
func (h *ShareHandler) Activate(c *gin.Context) {
	invitation, err := h.shares.Activate(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invitation)
}

// Terminate godoc
// @Summary Stop sharing a student
// @Tags Sharing
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/share [delete]
func (h *ShareHandler) Terminate(c *gin.Context) {
	status, err := h.shares.Terminate(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Status godoc
// @Summary Share status of a student
// @Tags Sharing
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/share [get]
func (h *ShareHandler) Status(c *gin.Context) {
	status, err := h.shares.Status(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Join godoc
// @Summary Join a share from the student app
// @Description Verifies the pairing code, mirrors the shared records and returns a student token.
// @Tags Sharing
// @Accept json
// @Produce json
// @Param payload body dto.JoinShareRequest true "Pairing payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /shares/join [post]
func (h *ShareHandler) Join(c *gin.Context) {
	var req dto.JoinShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	student, err := h.shares.Join(c.Request.Context(), req.StudentID, req.PairingCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	token, err := h.tokens.IssueStudentToken(student.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.JoinShareResponse{Student: student, Token: token})
}
