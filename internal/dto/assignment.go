package dto

// AssignTemplateRequest captures POST /students/{studentId}/assignments.
type AssignTemplateRequest struct {
	TemplateID string `json:"templateId" binding:"required"`
}

// ItemCompletionRequest captures PUT /assignments/{id}/items/{itemId}. A
// missing notes field leaves the notes unchanged.
type ItemCompletionRequest struct {
	IsComplete *bool   `json:"isComplete" binding:"required"`
	Notes      *string `json:"notes,omitempty"`
}

// ItemEdit stages one item change inside an assignment edit.
type ItemEdit struct {
	TemplateItemID string  `json:"templateItemId" binding:"required"`
	IsComplete     bool    `json:"isComplete"`
	Notes          *string `json:"notes,omitempty"`
}

// AssignmentEditRequest captures PATCH /assignments/{id}. Every change is
// committed together.
type AssignmentEditRequest struct {
	Items              []ItemEdit `json:"items" binding:"omitempty,dive"`
	InstructorComments *string    `json:"instructorComments,omitempty"`
	DualGivenHours     *float64   `json:"dualGivenHours,omitempty"`
}

// TemplateSummary lists a library template without its items.
type TemplateSummary struct {
	ID        string `json:"id"`
	LegacyID  string `json:"legacyId,omitempty"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Phase     string `json:"phase,omitempty"`
	ItemCount int    `json:"itemCount"`
}
