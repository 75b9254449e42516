package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/checkride-sync/internal/dto"
	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type assignmentStore interface {
	CreateWithItems(ctx context.Context, assignment *models.Assignment) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Assignment, error)
	ListUnresolved(ctx context.Context) ([]models.Assignment, error)
	SaveItem(ctx context.Context, item *models.ItemProgress, insert bool) error
	SaveEdit(ctx context.Context, assignment *models.Assignment, items, created []models.ItemProgress) error
	UpdateTemplateLink(ctx context.Context, id, templateID string, resolved bool) error
	DeleteWithTombstones(ctx context.Context, assignmentID string, tombstones []models.Tombstone) error
}

type pushScheduler interface {
	ShareActive(ctx context.Context, studentID string) (bool, error)
	ScheduleAssignmentPush(ctx context.Context, studentID, assignmentID string)
	ScheduleItemPush(ctx context.Context, studentID, itemID string)
	PropagateDeletes(ctx context.Context, tombstones []models.Tombstone) int
}

// AssignResult describes the outcome of AssignTemplate.
type AssignResult struct {
	Assignment *models.Assignment      `json:"assignment"`
	Created    bool                    `json:"created"`
	Progress   *models.StudentProgress `json:"progress,omitempty"`
}

// RemovalResult describes the outcome of RemoveTemplate.
type RemovalResult struct {
	Removed             int  `json:"removed"`
	DeletedRecords      int  `json:"deletedRecords"`
	RemoteDeletePending bool `json:"remoteDeletePending"`
}

// AssignmentService manages the template assignments of students.
type AssignmentService struct {
	store      assignmentStore
	students   studentReader
	templates  TemplateResolver
	calculator *ProgressCalculator
	sync       pushScheduler
	progress   progressRefresher
	logger     *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewAssignmentService constructs the assignment service.
func NewAssignmentService(store assignmentStore, students studentReader, templates TemplateResolver, calculator *ProgressCalculator, scheduler pushScheduler, progress progressRefresher, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if calculator == nil {
		calculator = NewProgressCalculator(templates)
	}
	return &AssignmentService{
		store:      store,
		students:   students,
		templates:  templates,
		calculator: calculator,
		sync:       scheduler,
		progress:   progress,
		logger:     logger,
		now:        time.Now,
	}
}

// AssignTemplateByID assigns a library template.
func (s *AssignmentService) AssignTemplateByID(ctx context.Context, templateID, studentID string) (*AssignResult, error) {
	tpl, ok := s.templates.Template(templateID)
	if !ok {
		tpl, ok = s.templates.TemplateByLegacyID(templateID)
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
	}
	return s.AssignTemplate(ctx, tpl, studentID)
}

// AssignTemplate creates an assignment of template for studentID with one
// incomplete item per template item. Assigning twice is a no-op.
func (s *AssignmentService) AssignTemplate(ctx context.Context, template models.Template, studentID string) (*AssignResult, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	if strings.TrimSpace(template.ID) == "" || len(template.Items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "template must have an id and at least one item")
	}
	if err := s.requireStudent(ctx, studentID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing, err := s.assignmentsOf(ctx, studentID, template.ID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(existing) > 0 {
		s.mu.Unlock()
		s.logger.Info("template already assigned", zap.String("student_id", studentID), zap.String("template_id", template.ID))
		return &AssignResult{Assignment: &existing[0], Progress: s.refresh(ctx, studentID)}, nil
	}

	now := models.Timestamp(s.now())
	assignment := models.Assignment{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		TemplateID:   template.ID,
		IsUserCustom: template.Custom,
		CreatedAt:    now,
		LastModified: now,
		SyncState:    models.SyncStateUnsynced,
	}
	if template.LegacyID != "" {
		legacy := template.LegacyID
		assignment.TemplateIdentifier = &legacy
	}
	_, assignment.TemplateResolved = s.calculator.ResolveTemplate(assignment)
	assignment.Items = make([]models.ItemProgress, 0, len(template.Items))
	for _, item := range template.Items {
		assignment.Items = append(assignment.Items, models.ItemProgress{
			ID:             uuid.NewString(),
			AssignmentID:   assignment.ID,
			TemplateItemID: item.ID,
			LastModified:   now,
			SyncState:      models.SyncStateUnsynced,
		})
	}

	err = s.store.CreateWithItems(ctx, &assignment)
	s.mu.Unlock()
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to create assignment")
	}

	s.logger.Info("template assigned",
		zap.String("student_id", studentID),
		zap.String("template_id", template.ID),
		zap.String("assignment_id", assignment.ID),
		zap.Int("items", len(assignment.Items)),
	)
	s.sync.ScheduleAssignmentPush(ctx, studentID, assignment.ID)

	return &AssignResult{Assignment: &assignment, Created: true, Progress: s.refresh(ctx, studentID)}, nil
}

// RemoveTemplate deletes every assignment of templateID for studentID and
// propagates the deletes when the student shares.
func (s *AssignmentService) RemoveTemplate(ctx context.Context, templateID, studentID string) (*RemovalResult, error) {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(templateID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id and template id are required")
	}

	s.mu.Lock()
	existing, err := s.assignmentsOf(ctx, studentID, templateID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	result := &RemovalResult{}
	if len(existing) == 0 {
		s.mu.Unlock()
		s.logger.Info("template not assigned, nothing to remove", zap.String("student_id", studentID), zap.String("template_id", templateID))
		return result, nil
	}

	now := models.Timestamp(s.now())
	var tombstones []models.Tombstone
	for _, assignment := range existing {
		batch := make([]models.Tombstone, 0, len(assignment.Items)+1)
		batch = append(batch, models.Tombstone{
			RecordType: models.RecordTypeAssignment,
			RecordID:   assignment.ID,
			ShareID:    studentID,
			DeletedAt:  nextStamp(now, assignment.LastModified),
		})
		for _, item := range assignment.Items {
			batch = append(batch, models.Tombstone{
				RecordType: models.RecordTypeItemProgress,
				RecordID:   item.ID,
				ShareID:    studentID,
				DeletedAt:  nextStamp(now, item.LastModified),
			})
		}
		if err := s.store.DeleteWithTombstones(ctx, assignment.ID, batch); err != nil {
			s.mu.Unlock()
			return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to remove assignment")
		}
		result.Removed++
		result.DeletedRecords += len(batch)
		tombstones = append(tombstones, batch...)
	}
	s.mu.Unlock()

	s.logger.Info("template removed",
		zap.String("student_id", studentID),
		zap.String("template_id", templateID),
		zap.Int("assignments", result.Removed),
	)

	active, err := s.sync.ShareActive(ctx, studentID)
	if err != nil {
		s.logger.Warn("share lookup failed, remote deletes pending", zap.String("student_id", studentID), zap.Error(err))
		result.RemoteDeletePending = true
	} else if active {
		result.RemoteDeletePending = s.sync.PropagateDeletes(ctx, tombstones) > 0
	}

	s.refresh(ctx, studentID)
	return result, nil
}

// UpdateItemCompletion sets the completion state and optionally the notes of
// one item. An unchanged state is not written.
func (s *AssignmentService) UpdateItemCompletion(ctx context.Context, assignmentID, templateItemID string, isComplete bool, notes *string) (*models.ItemProgress, error) {
	s.mu.Lock()
	assignment, err := s.load(ctx, assignmentID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	item, insert, err := s.itemFor(assignment, templateItemID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := nextStamp(s.now(), item.LastModified)
	changed := item.SetCompletion(isComplete, notes, now)
	if !changed && !insert {
		s.mu.Unlock()
		return item, nil
	}
	item.LastModified = now
	item.SyncState = models.SyncStateUnsynced

	err = s.store.SaveItem(ctx, item, insert)
	s.mu.Unlock()
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to save item progress")
	}

	s.sync.ScheduleItemPush(ctx, assignment.StudentID, item.ID)
	s.refresh(ctx, assignment.StudentID)
	return item, nil
}

// itemFor returns the item record for templateItemID, synthesizing it when
// the template has the item but the record is missing.
func (s *AssignmentService) itemFor(assignment *models.Assignment, templateItemID string) (*models.ItemProgress, bool, error) {
	if item := assignment.Item(templateItemID); item != nil {
		copied := *item
		return &copied, false, nil
	}
	tpl, resolved := s.calculator.ResolveTemplate(*assignment)
	if !resolved {
		return nil, false, appErrors.Clone(appErrors.ErrDataIntegrity, "item progress missing and template cannot be resolved")
	}
	if !tpl.HasItem(templateItemID) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "item does not belong to the assigned template")
	}
	s.logger.Warn("item progress missing, synthesizing",
		zap.String("assignment_id", assignment.ID),
		zap.String("template_item_id", templateItemID),
	)
	return &models.ItemProgress{
		ID:             uuid.NewString(),
		AssignmentID:   assignment.ID,
		TemplateItemID: templateItemID,
		SyncState:      models.SyncStateUnsynced,
	}, true, nil
}

// EnsureTemplateRelationship resolves the assignment's template, re-pointing
// a legacy link to the library ID, and persists the result.
func (s *AssignmentService) EnsureTemplateRelationship(ctx context.Context, assignment *models.Assignment) (bool, error) {
	if assignment == nil {
		return false, appErrors.Clone(appErrors.ErrValidation, "assignment is required")
	}
	tpl, resolved := s.calculator.ResolveTemplate(*assignment)
	templateID := assignment.TemplateID
	if resolved {
		templateID = tpl.ID
	}
	if templateID == assignment.TemplateID && resolved == assignment.TemplateResolved {
		return resolved, nil
	}
	if err := s.store.UpdateTemplateLink(ctx, assignment.ID, templateID, resolved); err != nil {
		return false, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to update template link")
	}
	if templateID != assignment.TemplateID {
		s.logger.Info("template link repaired",
			zap.String("assignment_id", assignment.ID),
			zap.String("from", assignment.TemplateID),
			zap.String("to", templateID),
		)
	}
	assignment.TemplateID = templateID
	assignment.TemplateResolved = resolved
	return resolved, nil
}

// RepairTemplateRelationships re-resolves every unresolved assignment and
// returns how many now resolve.
func (s *AssignmentService) RepairTemplateRelationships(ctx context.Context) (int, error) {
	unresolved, err := s.store.ListUnresolved(ctx)
	if err != nil {
		return 0, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list unresolved assignments")
	}
	repaired := 0
	for i := range unresolved {
		ok, err := s.EnsureTemplateRelationship(ctx, &unresolved[i])
		if err != nil {
			return repaired, err
		}
		if ok {
			repaired++
		}
	}
	if len(unresolved) > 0 {
		s.logger.Info("template relationships checked", zap.Int("unresolved", len(unresolved)), zap.Int("repaired", repaired))
	}
	return repaired, nil
}

// Get returns one assignment with its items.
func (s *AssignmentService) Get(ctx context.Context, id string) (*models.Assignment, error) {
	return s.load(ctx, id)
}

// ListForStudent returns the student's assignments.
func (s *AssignmentService) ListForStudent(ctx context.Context, studentID string) ([]models.Assignment, error) {
	if err := s.requireStudent(ctx, studentID); err != nil {
		return nil, err
	}
	assignments, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list assignments")
	}
	return assignments, nil
}

func (s *AssignmentService) load(ctx context.Context, id string) (*models.Assignment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignment id is required")
	}
	assignment, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load assignment")
	}
	if assignment == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	}
	return assignment, nil
}

func (s *AssignmentService) requireStudent(ctx context.Context, studentID string) error {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	if student == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return nil
}

// assignmentsOf returns the student's assignments of templateID, including
// copies still linked by legacy identifier.
func (s *AssignmentService) assignmentsOf(ctx context.Context, studentID, templateID string) ([]models.Assignment, error) {
	all, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list assignments")
	}
	out := make([]models.Assignment, 0, 1)
	for _, assignment := range all {
		if assignment.TemplateID == templateID || assignment.LegacyID() == templateID {
			out = append(out, assignment)
			continue
		}
		if tpl, ok := s.calculator.ResolveTemplate(assignment); ok && tpl.ID == templateID {
			out = append(out, assignment)
		}
	}
	return out, nil
}

func (s *AssignmentService) refresh(ctx context.Context, studentID string) *models.StudentProgress {
	if s.progress == nil {
		return nil
	}
	progress, err := s.progress.Refresh(ctx, studentID)
	if err != nil {
		s.logger.Warn("progress refresh failed", zap.String("student_id", studentID), zap.Error(err))
		return nil
	}
	return progress
}

type stagedItem struct {
	isComplete bool
	notes      *string
}

// AssignmentEdit buffers changes to one assignment until Commit.
type AssignmentEdit struct {
	svc          *AssignmentService
	assignmentID string

	mu       sync.Mutex
	items    map[string]stagedItem
	order    []string
	comments *string
	hours    *float64
	closed   bool
}

// BeginEdit starts a buffered edit of assignmentID.
func (s *AssignmentService) BeginEdit(ctx context.Context, assignmentID string) (*AssignmentEdit, error) {
	if _, err := s.load(ctx, assignmentID); err != nil {
		return nil, err
	}
	return &AssignmentEdit{svc: s, assignmentID: assignmentID, items: make(map[string]stagedItem)}, nil
}

var errEditClosed = appErrors.Clone(appErrors.ErrValidation, "edit already committed or discarded")

// SetItemCompletion stages a completion change.
func (e *AssignmentEdit) SetItemCompletion(templateItemID string, isComplete bool, notes *string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEditClosed
	}
	if strings.TrimSpace(templateItemID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "template item id is required")
	}
	if _, ok := e.items[templateItemID]; !ok {
		e.order = append(e.order, templateItemID)
	}
	e.items[templateItemID] = stagedItem{isComplete: isComplete, notes: notes}
	return nil
}

// SetInstructorComments stages new instructor comments.
func (e *AssignmentEdit) SetInstructorComments(comments string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEditClosed
	}
	e.comments = &comments
	return nil
}

// SetDualGivenHours stages the dual instruction hours.
func (e *AssignmentEdit) SetDualGivenHours(hours float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEditClosed
	}
	if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return appErrors.Clone(appErrors.ErrValidation, "dual given hours must be a non-negative number")
	}
	e.hours = &hours
	return nil
}

// Discard drops every staged change.
func (e *AssignmentEdit) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.items = nil
	e.order = nil
}

// Commit writes the staged changes in one transaction and schedules a single
// push for them.
func (e *AssignmentEdit) Commit(ctx context.Context) (*models.Assignment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEditClosed
	}
	e.closed = true

	s := e.svc
	s.mu.Lock()
	assignment, err := s.load(ctx, e.assignmentID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := nextStamp(s.now(), assignment.LastModified)
	fieldsChanged := false
	if e.comments != nil && *e.comments != assignment.InstructorComments {
		assignment.InstructorComments = *e.comments
		fieldsChanged = true
	}
	if e.hours != nil && *e.hours != assignment.DualGivenHours {
		assignment.DualGivenHours = *e.hours
		fieldsChanged = true
	}

	var updated, created []models.ItemProgress
	for _, templateItemID := range e.order {
		staged := e.items[templateItemID]
		item, insert, err := s.itemFor(assignment, templateItemID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		itemNow := nextStamp(now, item.LastModified)
		if !item.SetCompletion(staged.isComplete, staged.notes, itemNow) && !insert {
			continue
		}
		item.LastModified = itemNow
		item.SyncState = models.SyncStateUnsynced
		if insert {
			created = append(created, *item)
		} else {
			updated = append(updated, *item)
		}
	}

	itemChanges := len(updated) + len(created)
	if !fieldsChanged && itemChanges == 0 {
		s.mu.Unlock()
		return assignment, nil
	}

	for _, item := range append(append([]models.ItemProgress(nil), updated...), created...) {
		if item.LastModified.After(now) {
			now = item.LastModified
		}
	}
	assignment.LastModified = now
	assignment.SyncState = models.SyncStateUnsynced

	err = s.store.SaveEdit(ctx, assignment, updated, created)
	s.mu.Unlock()
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to commit assignment edit")
	}

	for _, item := range updated {
		if existing := assignment.Item(item.TemplateItemID); existing != nil {
			*existing = item
		}
	}
	assignment.Items = append(assignment.Items, created...)

	if !fieldsChanged && itemChanges == 1 {
		changed := append(updated, created...)[0]
		s.sync.ScheduleItemPush(ctx, assignment.StudentID, changed.ID)
	} else {
		s.sync.ScheduleAssignmentPush(ctx, assignment.StudentID, assignment.ID)
	}
	s.refresh(ctx, assignment.StudentID)

	s.logger.Info("assignment edit committed",
		zap.String("assignment_id", assignment.ID),
		zap.Bool("fields_changed", fieldsChanged),
		zap.Int("items_changed", itemChanges),
	)
	return assignment, nil
}

// ApplyEdit stages every change of req on a new edit and commits it. The edit
// is discarded when any change is rejected.
func (s *AssignmentService) ApplyEdit(ctx context.Context, assignmentID string, req dto.AssignmentEditRequest) (*models.Assignment, error) {
	edit, err := s.BeginEdit(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	stage := func() error {
		for _, item := range req.Items {
			if err := edit.SetItemCompletion(item.TemplateItemID, item.IsComplete, item.Notes); err != nil {
				return err
			}
		}
		if req.InstructorComments != nil {
			if err := edit.SetInstructorComments(*req.InstructorComments); err != nil {
				return err
			}
		}
		if req.DualGivenHours != nil {
			if err := edit.SetDualGivenHours(*req.DualGivenHours); err != nil {
				return err
			}
		}
		return nil
	}
	if err := stage(); err != nil {
		edit.Discard()
		return nil, err
	}
	return edit.Commit(ctx)
}
