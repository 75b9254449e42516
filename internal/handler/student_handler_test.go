package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/models"
	"github.com/noah-isme/checkride-sync/internal/service"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type studentServiceMock struct {
	saved   service.StudentProfileRequest
	savedID string
	saveErr error
}

func (m *studentServiceMock) List(ctx context.Context) ([]models.Student, error) {
	return []models.Student{{ID: "stu-1"}}, nil
}

func (m *studentServiceMock) Get(ctx context.Context, id string) (*models.Student, error) {
	if id != "stu-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return &models.Student{ID: id}, nil
}

func (m *studentServiceMock) SaveProfile(ctx context.Context, id string, req service.StudentProfileRequest) (*models.Student, error) {
	m.savedID = id
	m.saved = req
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	if id == "" {
		id = "generated"
	}
	return &models.Student{ID: id, FirstName: req.FirstName}, nil
}

type progressServiceMock struct {
	lastCategory string
	refreshed    bool
}

func (m *progressServiceMock) Refresh(ctx context.Context, studentID string) (*models.StudentProgress, error) {
	m.refreshed = true
	return &models.StudentProgress{StudentID: studentID}, nil
}

func (m *progressServiceMock) ForCategory(ctx context.Context, studentID, category string) (*models.CategoryProgress, error) {
	m.lastCategory = category
	return &models.CategoryProgress{Category: models.NormalizeCategory(category), Overall: 0.5}, nil
}

func TestStudentHandlerSave(t *testing.T) {
	mockSvc := &studentServiceMock{}
	handler := NewStudentHandler(mockSvc, &progressServiceMock{})

	c, w := newContext(http.MethodPut, "/students/stu-1", []byte(`{"firstName":"Jean","lastName":"Batten","goalPPL":true}`), instructorClaims)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Save(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", mockSvc.savedID)
	assert.True(t, mockSvc.saved.GoalPPL)

	c, w = newContext(http.MethodPost, "/students", []byte(`{"firstName":"Jean","lastName":"Batten"}`), instructorClaims)
	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, mockSvc.savedID)

	c, w = newContext(http.MethodPut, "/students/stu-1", []byte(`{"firstName":`), instructorClaims)
	handler.Save(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	mockSvc.saveErr = appErrors.Clone(appErrors.ErrValidation, "invalid student profile")
	c, w = newContext(http.MethodPut, "/students/stu-1", []byte(`{"firstName":"Jean"}`), instructorClaims)
	handler.Save(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentHandlerGet(t *testing.T) {
	handler := NewStudentHandler(&studentServiceMock{}, &progressServiceMock{})

	c, w := newContext(http.MethodGet, "/students/missing", nil, instructorClaims)
	c.Params = gin.Params{{Key: "studentId", Value: "missing"}}
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	c, w = newContext(http.MethodGet, "/students", nil, instructorClaims)
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestStudentHandlerProgress(t *testing.T) {
	progress := &progressServiceMock{}
	handler := NewStudentHandler(&studentServiceMock{}, progress)

	c, w := newContext(http.MethodGet, "/students/stu-1/progress?category=cpl", nil, instructorClaims)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Progress(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cpl", progress.lastCategory)
	assert.Contains(t, w.Body.String(), `"category":"Commercial"`)
	assert.False(t, progress.refreshed)

	c, w = newContext(http.MethodGet, "/students/stu-1/progress", nil, instructorClaims)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Progress(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, progress.refreshed)
}
