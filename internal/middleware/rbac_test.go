package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type staticValidator map[string]*models.JWTClaims

func (v staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newGuardedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator := staticValidator{
		"instructor": {Role: models.RoleInstructor},
		"student-1":  {Role: models.RoleStudent, StudentID: "stu-1"},
	}
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	r := gin.New()
	api := r.Group("")
	api.Use(JWT(validator))
	api.GET("/students", RequireRole(models.RoleInstructor), ok)
	api.GET("/students/:studentId", RBAC(string(models.RoleInstructor), SelfStudent), ok)
	return r
}

func TestRBACSelfStudent(t *testing.T) {
	r := newGuardedRouter()
	cases := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{"missing token", "", "/students/stu-1", http.StatusUnauthorized},
		{"unknown token", "forged", "/students/stu-1", http.StatusUnauthorized},
		{"instructor list", "instructor", "/students", http.StatusOK},
		{"instructor any student", "instructor", "/students/stu-2", http.StatusOK},
		{"student list", "student-1", "/students", http.StatusForbidden},
		{"student self", "student-1", "/students/stu-1", http.StatusOK},
		{"student other", "student-1", "/students/stu-2", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	r := newGuardedRouter()
	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "Token instructor")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
