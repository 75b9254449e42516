package models

import "time"

// Assignment records a student working a specific template. The template is
// referenced by ID only; its content never travels with the assignment.
type Assignment struct {
	ID                 string         `db:"id" json:"id"`
	StudentID          string         `db:"student_id" json:"studentId"`
	TemplateID         string         `db:"template_id" json:"templateId"`
	TemplateIdentifier *string        `db:"template_identifier" json:"templateIdentifier,omitempty"`
	IsUserCustom       bool           `db:"is_user_custom" json:"isUserCustom"`
	InstructorComments string         `db:"instructor_comments" json:"instructorComments"`
	DualGivenHours     float64        `db:"dual_given_hours" json:"dualGivenHours"`
	TemplateResolved   bool           `db:"template_resolved" json:"templateResolved"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
	LastModified       time.Time      `db:"last_modified" json:"lastModified"`
	SyncState          SyncState      `db:"sync_state" json:"syncState"`
	Items              []ItemProgress `db:"-" json:"items"`
}

// LegacyID returns the legacy template identifier or an empty string.
func (a Assignment) LegacyID() string {
	if a.TemplateIdentifier == nil {
		return ""
	}
	return *a.TemplateIdentifier
}

// Item finds the progress record for templateItemID.
func (a *Assignment) Item(templateItemID string) *ItemProgress {
	for i := range a.Items {
		if a.Items[i].TemplateItemID == templateItemID {
			return &a.Items[i]
		}
	}
	return nil
}

// ItemProgress is the completion state of one template item for one assignment.
type ItemProgress struct {
	ID             string     `db:"id" json:"id"`
	AssignmentID   string     `db:"assignment_id" json:"assignmentId"`
	TemplateItemID string     `db:"template_item_id" json:"templateItemId"`
	IsComplete     bool       `db:"is_complete" json:"isComplete"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	LastModified   time.Time  `db:"last_modified" json:"lastModified"`
	SyncState      SyncState  `db:"sync_state" json:"syncState"`
}

// SetCompletion applies a completion change at now and reports whether
// anything changed. A nil notes pointer leaves the notes untouched.
func (p *ItemProgress) SetCompletion(isComplete bool, notes *string, now time.Time) bool {
	changed := false
	if p.IsComplete != isComplete {
		p.IsComplete = isComplete
		if isComplete {
			completedAt := now
			p.CompletedAt = &completedAt
		} else {
			p.CompletedAt = nil
		}
		changed = true
	}
	if notes != nil && (p.Notes == nil || *p.Notes != *notes) {
		value := *notes
		p.Notes = &value
		changed = true
	}
	if changed {
		p.LastModified = now
		p.SyncState = SyncStateUnsynced
	}
	return changed
}
