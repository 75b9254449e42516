package models

import "time"

// ShareInvitation is returned once when a share is activated. Code is never
// stored in clear.
type ShareInvitation struct {
	StudentID string    `json:"studentId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ShareStatus reports the local view of a student's share.
type ShareStatus struct {
	StudentID          string     `json:"studentId"`
	Active             bool       `json:"active"`
	Terminated         bool       `json:"terminated"`
	TerminationPending bool       `json:"terminationPending"`
	PairingExpiresAt   *time.Time `json:"pairingExpiresAt,omitempty"`
	PendingDeletes     int        `json:"pendingDeletes"`
}
