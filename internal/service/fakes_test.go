package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/checkride-sync/internal/models"
)

// fakeDB is an in-memory stand-in for the local SQL store with the same
// conditional-update semantics as the repositories.
type fakeDB struct {
	mu          sync.Mutex
	students    map[string]models.Student
	assignments map[string]models.Assignment
	items       map[string]models.ItemProgress
	tombstones  map[string]models.Tombstone
	cursors     map[string]string
	parked      map[string]models.SyncRecord
	failWrites  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		students:    make(map[string]models.Student),
		assignments: make(map[string]models.Assignment),
		items:       make(map[string]models.ItemProgress),
		tombstones:  make(map[string]models.Tombstone),
		cursors:     make(map[string]string),
		parked:      make(map[string]models.SyncRecord),
	}
}

func tombstoneKey(recordType models.RecordType, id string) string {
	return string(recordType) + ":" + id
}

func (db *fakeDB) withItems(a models.Assignment) models.Assignment {
	a.Items = nil
	for _, item := range db.items {
		if item.AssignmentID == a.ID {
			a.Items = append(a.Items, item)
		}
	}
	sort.Slice(a.Items, func(i, j int) bool { return a.Items[i].TemplateItemID < a.Items[j].TemplateItemID })
	return a
}

func (db *fakeDB) sortedAssignments(keep func(models.Assignment) bool) []models.Assignment {
	out := make([]models.Assignment, 0)
	for _, a := range db.assignments {
		if keep(a) {
			out = append(out, db.withItems(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// setItem overwrites an item directly, bypassing services.
func (db *fakeDB) setItem(item models.ItemProgress) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.items[item.ID] = item
}

func (db *fakeDB) deleteItemRecord(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.items, id)
}

type fakeStudents struct{ db *fakeDB }

func (f fakeStudents) List(_ context.Context) ([]models.Student, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]models.Student, 0, len(f.db.students))
	for _, s := range f.db.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeStudents) ListShared(ctx context.Context) ([]models.Student, error) {
	all, _ := f.List(ctx)
	out := make([]models.Student, 0, len(all))
	for _, s := range all {
		if s.ShareActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f fakeStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f fakeStudents) Upsert(_ context.Context, student *models.Student) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failWrites != nil {
		return f.db.failWrites
	}
	f.db.students[student.ID] = *student
	return nil
}

func (f fakeStudents) SetShareActive(_ context.Context, id string, active bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.students[id]
	if ok {
		s.ShareActive = active
		f.db.students[id] = s
	}
	return nil
}

func (f fakeStudents) MarkState(_ context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	s, ok := f.db.students[id]
	if !ok || !s.LastModified.Equal(lastModified) {
		return false, nil
	}
	s.SyncState = state
	f.db.students[id] = s
	return true, nil
}

type fakeAssignments struct{ db *fakeDB }

func (f fakeAssignments) CreateWithItems(_ context.Context, assignment *models.Assignment) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failWrites != nil {
		return f.db.failWrites
	}
	stored := *assignment
	stored.Items = nil
	f.db.assignments[assignment.ID] = stored
	for _, item := range assignment.Items {
		f.db.items[item.ID] = item
	}
	return nil
}

func (f fakeAssignments) FindByID(_ context.Context, id string) (*models.Assignment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.assignments[id]
	if !ok {
		return nil, nil
	}
	a = f.db.withItems(a)
	return &a, nil
}

func (f fakeAssignments) ListByStudent(_ context.Context, studentID string) ([]models.Assignment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.sortedAssignments(func(a models.Assignment) bool { return a.StudentID == studentID }), nil
}

func (f fakeAssignments) ListUnresolved(_ context.Context) ([]models.Assignment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.sortedAssignments(func(a models.Assignment) bool { return !a.TemplateResolved }), nil
}

func (f fakeAssignments) FindItemByID(_ context.Context, id string) (*models.ItemProgress, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	item, ok := f.db.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (f fakeAssignments) FindItemByNaturalKey(_ context.Context, assignmentID, templateItemID string) (*models.ItemProgress, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, item := range f.db.items {
		if item.AssignmentID == assignmentID && item.TemplateItemID == templateItemID {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (f fakeAssignments) touch(assignmentID string, at time.Time) {
	a, ok := f.db.assignments[assignmentID]
	if ok && a.LastModified.Before(at) {
		a.LastModified = at
		a.SyncState = models.SyncStateUnsynced
		f.db.assignments[assignmentID] = a
	}
}

func (f fakeAssignments) SaveItem(_ context.Context, item *models.ItemProgress, _ bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failWrites != nil {
		return f.db.failWrites
	}
	if _, ok := f.db.assignments[item.AssignmentID]; !ok {
		return errors.New("foreign key violation")
	}
	f.db.items[item.ID] = *item
	f.touch(item.AssignmentID, item.LastModified)
	return nil
}

func (f fakeAssignments) SaveEdit(_ context.Context, assignment *models.Assignment, items, created []models.ItemProgress) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failWrites != nil {
		return f.db.failWrites
	}
	stored, ok := f.db.assignments[assignment.ID]
	if !ok {
		return errors.New("assignment missing")
	}
	stored.InstructorComments = assignment.InstructorComments
	stored.DualGivenHours = assignment.DualGivenHours
	stored.LastModified = assignment.LastModified
	stored.SyncState = assignment.SyncState
	f.db.assignments[assignment.ID] = stored
	for _, item := range append(append([]models.ItemProgress(nil), items...), created...) {
		f.db.items[item.ID] = item
	}
	return nil
}

func (f fakeAssignments) UpdateTemplateLink(_ context.Context, id, templateID string, resolved bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.assignments[id]
	if ok {
		a.TemplateID = templateID
		a.TemplateResolved = resolved
		f.db.assignments[id] = a
	}
	return nil
}

func (f fakeAssignments) recordTombstone(t models.Tombstone) {
	key := tombstoneKey(t.RecordType, t.RecordID)
	if _, exists := f.db.tombstones[key]; !exists {
		f.db.tombstones[key] = t
	}
}

func (f fakeAssignments) DeleteWithTombstones(_ context.Context, assignmentID string, tombstones []models.Tombstone) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failWrites != nil {
		return f.db.failWrites
	}
	delete(f.db.assignments, assignmentID)
	for id, item := range f.db.items {
		if item.AssignmentID == assignmentID {
			delete(f.db.items, id)
		}
	}
	for _, t := range tombstones {
		f.recordTombstone(t)
	}
	return nil
}

func (f fakeAssignments) DeleteItemWithTombstone(_ context.Context, itemID string, tombstone models.Tombstone) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	delete(f.db.items, itemID)
	f.recordTombstone(tombstone)
	return nil
}

func (f fakeAssignments) UpsertRemoteAssignment(_ context.Context, assignment *models.Assignment) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	stored := *assignment
	stored.Items = nil
	if existing, ok := f.db.assignments[assignment.ID]; ok {
		stored.StudentID = existing.StudentID
		stored.CreatedAt = existing.CreatedAt
	}
	f.db.assignments[assignment.ID] = stored
	return nil
}

func (f fakeAssignments) SaveRemoteItem(_ context.Context, item *models.ItemProgress, _ bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.items[item.ID] = *item
	return nil
}

func (f fakeAssignments) MarkAssignmentState(_ context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.assignments[id]
	if !ok || !a.LastModified.Equal(lastModified) {
		return false, nil
	}
	a.SyncState = state
	f.db.assignments[id] = a
	return true, nil
}

func (f fakeAssignments) MarkItemState(_ context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	item, ok := f.db.items[id]
	if !ok || !item.LastModified.Equal(lastModified) {
		return false, nil
	}
	item.SyncState = state
	f.db.items[id] = item
	return true, nil
}

type fakeLedger struct{ db *fakeDB }

func (f fakeLedger) RecordTombstone(_ context.Context, tombstone models.Tombstone) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	fakeAssignments(f).recordTombstone(tombstone)
	return nil
}

func (f fakeLedger) IsTombstoned(_ context.Context, recordType models.RecordType, id string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	_, ok := f.db.tombstones[tombstoneKey(recordType, id)]
	return ok, nil
}

func (f fakeLedger) ListPending(_ context.Context, shareID string) ([]models.Tombstone, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]models.Tombstone, 0)
	for _, t := range f.db.tombstones {
		if t.ShareID == shareID && !t.Delivered {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

func (f fakeLedger) CountPending(_ context.Context) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, t := range f.db.tombstones {
		if !t.Delivered {
			n++
		}
	}
	return n, nil
}

func (f fakeLedger) MarkDelivered(_ context.Context, recordType models.RecordType, id string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	key := tombstoneKey(recordType, id)
	if t, ok := f.db.tombstones[key]; ok {
		t.Delivered = true
		f.db.tombstones[key] = t
	}
	return nil
}

func (f fakeLedger) GetCursor(_ context.Context, shareID string) (string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.cursors[shareID], nil
}

func (f fakeLedger) SaveCursor(_ context.Context, shareID, token string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.cursors[shareID] = token
	return nil
}

func (f fakeLedger) ResetCursor(_ context.Context, shareID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	delete(f.db.cursors, shareID)
	return nil
}

func (f fakeLedger) ParkRecord(_ context.Context, record models.SyncRecord) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failWrites != nil {
		return f.db.failWrites
	}
	key := record.Key().String()
	if current, ok := f.db.parked[key]; ok && !current.LastModified.Before(record.LastModified) {
		return nil
	}
	f.db.parked[key] = record
	return nil
}

func (f fakeLedger) ListParked(_ context.Context, shareID string) ([]models.SyncRecord, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]models.SyncRecord, 0)
	for _, record := range f.db.parked {
		if record.ShareID == shareID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f fakeLedger) DropParked(_ context.Context, key models.RecordKey) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	delete(f.db.parked, key.String())
	return nil
}

func (f fakeLedger) CountParked(_ context.Context, shareID string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, record := range f.db.parked {
		if record.ShareID == shareID {
			n++
		}
	}
	return n, nil
}

// recordingTransport wraps a transport, recording pushes and optionally
// running a hook before each one.
type recordingTransport struct {
	ShareTransport

	mu         sync.Mutex
	pushes     []models.SyncRecord
	beforePush func(record models.SyncRecord)
}

func (t *recordingTransport) Push(ctx context.Context, record models.SyncRecord) error {
	t.mu.Lock()
	hook := t.beforePush
	t.mu.Unlock()
	if hook != nil {
		hook(record)
	}
	if err := t.ShareTransport.Push(ctx, record); err != nil {
		return err
	}
	t.mu.Lock()
	t.pushes = append(t.pushes, record)
	t.mu.Unlock()
	return nil
}

func (t *recordingTransport) pushedKinds() []models.RecordType {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.RecordType, 0, len(t.pushes))
	for _, record := range t.pushes {
		out = append(out, record.Type)
	}
	return out
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushes = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
