package service

import (
	"strings"
	"time"

	"github.com/noah-isme/checkride-sync/internal/models"
)

const (
	checklistMaxScore       = 83.0
	reviewChecklistMaxScore = 100.0
	groundSchoolBonus       = 15.0
	writtenTestBonus        = 2.0
)

type progressWeights struct {
	checklist float64
	documents float64
	personal  float64
}

var (
	reviewWeights   = progressWeights{checklist: 0.85, personal: 0.15}
	standardWeights = progressWeights{checklist: 0.70, documents: 0.15, personal: 0.15}
)

// TemplateResolver looks templates up in the bundled library.
type TemplateResolver interface {
	Template(id string) (models.Template, bool)
	TemplateByLegacyID(legacyID string) (models.Template, bool)
}

// ProgressCalculator computes completion and weighted progress. It never
// mutates its inputs and performs no I/O.
type ProgressCalculator struct {
	templates TemplateResolver
	now       func() time.Time
}

// NewProgressCalculator constructs a calculator over the template library.
func NewProgressCalculator(templates TemplateResolver) *ProgressCalculator {
	return &ProgressCalculator{templates: templates, now: time.Now}
}

// ResolveTemplate finds the assignment's template by ID, then by legacy
// identifier. Older records may carry the legacy identifier as the template ID.
func (c *ProgressCalculator) ResolveTemplate(assignment models.Assignment) (models.Template, bool) {
	if c.templates == nil {
		return models.Template{}, false
	}
	if tpl, ok := c.templates.Template(assignment.TemplateID); ok {
		return tpl, true
	}
	for _, legacy := range []string{assignment.LegacyID(), assignment.TemplateID} {
		if legacy == "" {
			continue
		}
		if tpl, ok := c.templates.TemplateByLegacyID(legacy); ok {
			return tpl, true
		}
	}
	return models.Template{}, false
}

// CategoryOf returns the assignment's category, inferring it from the legacy
// identifier when the template cannot be resolved.
func (c *ProgressCalculator) CategoryOf(assignment models.Assignment) (models.Category, bool) {
	if tpl, ok := c.ResolveTemplate(assignment); ok {
		return tpl.Category, true
	}
	if category, ok := models.CategoryFromLegacyID(assignment.LegacyID()); ok {
		return category, true
	}
	return models.CategoryFromLegacyID(assignment.TemplateID)
}

type checklistGroup struct {
	completed int
	total     int
}

func (g checklistGroup) complete() bool {
	return g.total > 0 && g.completed == g.total
}

// groupKey identifies the template an assignment copy belongs to. Unresolved
// copies group by legacy identifier so that copies saved with different
// template IDs by different library revisions still merge.
func groupKey(assignment models.Assignment, tpl models.Template, resolved bool) string {
	switch {
	case resolved:
		return "template:" + tpl.ID
	case assignment.LegacyID() != "":
		return "legacy:" + assignment.LegacyID()
	default:
		return "legacy:" + assignment.TemplateID
	}
}

// checklistGroups merges assignments of the same template, which can exist
// after two devices assign it concurrently. An item counts as complete when
// any copy has it complete.
func (c *ProgressCalculator) checklistGroups(category models.Category, assignments []models.Assignment) []checklistGroup {
	type group struct {
		template models.Template
		resolved bool
		complete map[string]bool
		order    []string
	}
	groups := make(map[string]*group)
	keys := make([]string, 0)

	for _, assignment := range assignments {
		assignmentCategory, ok := c.CategoryOf(assignment)
		if !ok || !assignmentCategory.Matches(category) {
			continue
		}
		tpl, resolved := c.ResolveTemplate(assignment)
		key := groupKey(assignment, tpl, resolved)
		g, exists := groups[key]
		if !exists {
			g = &group{template: tpl, resolved: resolved, complete: make(map[string]bool)}
			if resolved {
				for _, item := range tpl.Items {
					g.complete[item.ID] = false
					g.order = append(g.order, item.ID)
				}
			}
			groups[key] = g
			keys = append(keys, key)
		}
		for _, item := range assignment.Items {
			current, known := g.complete[item.TemplateItemID]
			if g.resolved && !known {
				// orphaned progress from an older library revision
				continue
			}
			if !known {
				g.order = append(g.order, item.TemplateItemID)
			}
			g.complete[item.TemplateItemID] = current || item.IsComplete
		}
	}

	out := make([]checklistGroup, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		result := checklistGroup{total: len(g.order)}
		for _, id := range g.order {
			if g.complete[id] {
				result.completed++
			}
		}
		out = append(out, result)
	}
	return out
}

// ProgressForCategory returns completed items over total items across the
// category's assignments, in [0,1]. It is 0 when nothing matches.
func (c *ProgressCalculator) ProgressForCategory(category models.Category, assignments []models.Assignment) float64 {
	completed, total := 0, 0
	for _, g := range c.checklistGroups(category, assignments) {
		completed += g.completed
		total += g.total
	}
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

// DocumentProgress scores the category's required documents on a 0-100
// scale. Categories without document requirements score 100.
func DocumentProgress(category models.Category, student models.Student) float64 {
	var required []bool
	switch models.NormalizeCategory(string(category)) {
	case models.CategoryPPL:
		required = []bool{student.HasStudentPilotCertificate, student.HasMedicalCertificate, student.HasGovernmentID, student.HasLogbook}
	case models.CategoryIFR, models.CategoryCommercial:
		required = []bool{student.HasPilotCertificate, student.HasMedicalCertificate, student.HasLogbook}
	default:
		return 100
	}
	have := 0
	for _, ok := range required {
		if ok {
			have++
		}
	}
	return float64(have) / float64(len(required)) * 100
}

// PersonalInfoProgress scores filled personal fields on a 0-100 scale.
func PersonalInfoProgress(student models.Student) float64 {
	fields := student.PersonalInfoFields()
	filled := 0
	for _, field := range fields {
		if strings.TrimSpace(field) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields)) * 100
}

// WeightedCategoryProgress blends checklist, documents and personal info for
// category. When every assignment is complete and the info thresholds are
// met the result is exactly 1.0 regardless of the weighted sum.
func (c *ProgressCalculator) WeightedCategoryProgress(category models.Category, student models.Student, assignments []models.Assignment) models.CategoryProgress {
	category = models.NormalizeCategory(string(category))
	groups := c.checklistGroups(category, assignments)

	result := models.CategoryProgress{Category: category, AssignmentCount: len(groups)}
	allComplete := len(groups) > 0
	for _, g := range groups {
		result.CompletedItems += g.completed
		result.TotalItems += g.total
		if !g.complete() {
			allComplete = false
		}
	}
	if result.TotalItems > 0 {
		result.ChecklistRatio = float64(result.CompletedItems) / float64(result.TotalItems)
	}

	review := category.IsReview()
	weights := standardWeights
	if review {
		weights = reviewWeights
		result.ChecklistScore = result.ChecklistRatio * reviewChecklistMaxScore
	} else {
		result.ChecklistScore = result.ChecklistRatio * checklistMaxScore
		if student.GroundSchoolCompleted(category) {
			result.ChecklistScore += groundSchoolBonus
		}
		if student.WrittenTestCompleted(category) {
			result.ChecklistScore += writtenTestBonus
		}
	}
	if result.ChecklistScore > 100 {
		result.ChecklistScore = 100
	}

	result.DocumentScore = DocumentProgress(category, student)
	result.PersonalInfoScore = PersonalInfoProgress(student)

	overall := (weights.checklist*result.ChecklistScore + weights.documents*result.DocumentScore + weights.personal*result.PersonalInfoScore) / 100
	result.Overall = clampUnit(overall)

	if allComplete && result.PersonalInfoScore == 100 && (review || result.DocumentScore == 100) {
		result.Overall = 1.0
		result.CompletionOverride = true
	}
	return result
}

// ActiveCategories lists the student's goal categories plus every category
// that has assignments, in canonical order with unknown categories last.
func (c *ProgressCalculator) ActiveCategories(student models.Student, assignments []models.Assignment) []models.Category {
	present := make(map[models.Category]bool)
	extra := make([]models.Category, 0)
	for _, assignment := range assignments {
		category, ok := c.CategoryOf(assignment)
		if !ok {
			continue
		}
		if !category.IsKnown() && !present[category] {
			extra = append(extra, category)
		}
		present[category] = true
	}

	out := make([]models.Category, 0, len(models.KnownCategories)+len(extra))
	for _, category := range models.KnownCategories {
		if student.HasGoal(category) || present[category] {
			out = append(out, category)
		}
	}
	return append(out, extra...)
}

// Summary computes weighted progress for every active category.
func (c *ProgressCalculator) Summary(student models.Student, assignments []models.Assignment) models.StudentProgress {
	categories := c.ActiveCategories(student, assignments)
	summary := models.StudentProgress{
		StudentID:  student.ID,
		Categories: make([]models.CategoryProgress, 0, len(categories)),
		ComputedAt: c.now().UTC(),
	}
	for _, category := range categories {
		summary.Categories = append(summary.Categories, c.WeightedCategoryProgress(category, student, assignments))
	}
	return summary
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
