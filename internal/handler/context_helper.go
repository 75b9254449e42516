package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/middleware"
	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// authorizeStudent rejects student tokens acting on another student's data.
func authorizeStudent(c *gin.Context, studentID string) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent && claims.StudentID != studentID {
		return appErrors.ErrForbidden
	}
	return nil
}
