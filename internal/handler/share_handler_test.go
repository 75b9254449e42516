package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type shareServiceMock struct {
	joinErr   error
	lastCode  string
	activated string
}

func (m *shareServiceMock) Activate(ctx context.Context, studentID string) (*models.ShareInvitation, error) {
	m.activated = studentID
	return &models.ShareInvitation{StudentID: studentID, Code: "K7QX2MPA", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *shareServiceMock) Join(ctx context.Context, studentID, code string) (*models.Student, error) {
	m.lastCode = code
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	return &models.Student{ID: studentID, ShareActive: true}, nil
}

func (m *shareServiceMock) Terminate(ctx context.Context, studentID string) (*models.ShareStatus, error) {
	return &models.ShareStatus{StudentID: studentID, Terminated: true}, nil
}

func (m *shareServiceMock) Status(ctx context.Context, studentID string) (*models.ShareStatus, error) {
	return &models.ShareStatus{StudentID: studentID, Active: true}, nil
}

type tokenIssuerMock struct{}

func (tokenIssuerMock) IssueStudentToken(studentID string) (*models.TokenResponse, error) {
	return &models.TokenResponse{AccessToken: "token", Role: models.RoleStudent, StudentID: studentID}, nil
}

func TestShareHandlerJoin(t *testing.T) {
	mockSvc := &shareServiceMock{}
	handler := NewShareHandler(mockSvc, tokenIssuerMock{})

	c, w := newContext(http.MethodPost, "/shares/join", []byte(`{"studentId":"stu-1","pairingCode":"k7qx2mpa"}`), nil)
	handler.Join(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "k7qx2mpa", mockSvc.lastCode)

	var body struct {
		Data struct {
			Student models.Student       `json:"student"`
			Token   models.TokenResponse `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.Student.ShareActive)
	assert.Equal(t, models.RoleStudent, body.Data.Token.Role)
	assert.Equal(t, "stu-1", body.Data.Token.StudentID)
}

func TestShareHandlerJoinErrors(t *testing.T) {
	mockSvc := &shareServiceMock{joinErr: appErrors.ErrInvalidPairingCode}
	handler := NewShareHandler(mockSvc, tokenIssuerMock{})

	c, w := newContext(http.MethodPost, "/shares/join", []byte(`{"studentId":"stu-1"}`), nil)
	handler.Join(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newContext(http.MethodPost, "/shares/join", []byte(`{"studentId":"stu-1","pairingCode":"WRONG234"}`), nil)
	handler.Join(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	mockSvc.joinErr = appErrors.ErrShareInactive
	c, w = newContext(http.MethodPost, "/shares/join", []byte(`{"studentId":"stu-1","pairingCode":"WRONG234"}`), nil)
	handler.Join(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestShareHandlerActivateAndTerminate(t *testing.T) {
	mockSvc := &shareServiceMock{}
	handler := NewShareHandler(mockSvc, tokenIssuerMock{})

	c, w := newContext(http.MethodPost, "/students/stu-1/share", nil, instructorClaims)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Activate(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "stu-1", mockSvc.activated)
	assert.Contains(t, w.Body.String(), "K7QX2MPA")

	c, w = newContext(http.MethodDelete, "/students/stu-1/share", nil, instructorClaims)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-1"}}
	handler.Terminate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"terminated":true`)
}
