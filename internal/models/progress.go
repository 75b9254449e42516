package models

import "time"

// CategoryProgress is the computed progress of one category for a student.
// Scores are on a 0-100 scale; Overall is a 0-1 fraction.
type CategoryProgress struct {
	Category           Category `json:"category"`
	AssignmentCount    int      `json:"assignmentCount"`
	CompletedItems     int      `json:"completedItems"`
	TotalItems         int      `json:"totalItems"`
	ChecklistRatio     float64  `json:"checklistRatio"`
	ChecklistScore     float64  `json:"checklistScore"`
	DocumentScore      float64  `json:"documentScore"`
	PersonalInfoScore  float64  `json:"personalInfoScore"`
	Overall            float64  `json:"overall"`
	CompletionOverride bool     `json:"completionOverride"`
}

// StudentProgress groups category progress for one student.
type StudentProgress struct {
	StudentID  string             `json:"studentId"`
	Categories []CategoryProgress `json:"categories"`
	ComputedAt time.Time          `json:"computedAt"`
}

// ForCategory returns the entry for category, if present.
func (p StudentProgress) ForCategory(category Category) (CategoryProgress, bool) {
	for _, entry := range p.Categories {
		if entry.Category.Matches(category) {
			return entry, true
		}
	}
	return CategoryProgress{}, false
}
