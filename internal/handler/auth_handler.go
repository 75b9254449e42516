package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
	"github.com/noah-isme/checkride-sync/pkg/response"
)

type instructorAuthenticator interface {
	LoginInstructor(ctx context.Context, req models.InstructorLoginRequest) (*models.TokenResponse, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service instructorAuthenticator
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc instructorAuthenticator) *AuthHandler {
	return &AuthHandler{service: svc}
}

// LoginInstructor godoc
// @Summary Authenticate the instructor
// @Description Exchange the device passphrase for an instructor access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.InstructorLoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/instructor [post]
func (h *AuthHandler) LoginInstructor(c *gin.Context) {
	var req models.InstructorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.service.LoginInstructor(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}
