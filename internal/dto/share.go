package dto

import "github.com/noah-isme/checkride-sync/internal/models"

// JoinShareRequest captures POST /shares/join from the student app.
type JoinShareRequest struct {
	StudentID   string `json:"studentId" binding:"required"`
	PairingCode string `json:"pairingCode" binding:"required"`
}

// JoinShareResponse returns the joined student and a student-scoped token.
type JoinShareResponse struct {
	Student *models.Student       `json:"student"`
	Token   *models.TokenResponse `json:"token"`
}
