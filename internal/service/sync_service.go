package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
	"github.com/noah-isme/checkride-sync/pkg/jobs"
)

// ShareTransport moves records between a device and the shared store.
type ShareTransport interface {
	Push(ctx context.Context, record models.SyncRecord) error
	Delete(ctx context.Context, key models.RecordKey, deletedAt time.Time) error
	Pull(ctx context.Context, shareID, sinceToken string, limit int) ([]models.SyncRecord, string, error)
	Subscribe(ctx context.Context, shareID string) (<-chan string, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type syncAssignmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Assignment, error)
	FindItemByID(ctx context.Context, id string) (*models.ItemProgress, error)
	FindItemByNaturalKey(ctx context.Context, assignmentID, templateItemID string) (*models.ItemProgress, error)
	UpsertRemoteAssignment(ctx context.Context, assignment *models.Assignment) error
	SaveRemoteItem(ctx context.Context, item *models.ItemProgress, insert bool) error
	DeleteWithTombstones(ctx context.Context, assignmentID string, tombstones []models.Tombstone) error
	DeleteItemWithTombstone(ctx context.Context, itemID string, tombstone models.Tombstone) error
	MarkAssignmentState(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error)
	MarkItemState(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error)
}

type syncStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Upsert(ctx context.Context, student *models.Student) error
	SetShareActive(ctx context.Context, id string, active bool) error
	MarkState(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error)
}

type syncLedger interface {
	RecordTombstone(ctx context.Context, tombstone models.Tombstone) error
	IsTombstoned(ctx context.Context, recordType models.RecordType, id string) (bool, error)
	ListPending(ctx context.Context, shareID string) ([]models.Tombstone, error)
	CountPending(ctx context.Context) (int, error)
	MarkDelivered(ctx context.Context, recordType models.RecordType, id string) error
	GetCursor(ctx context.Context, shareID string) (string, error)
	SaveCursor(ctx context.Context, shareID, token string) error
	ResetCursor(ctx context.Context, shareID string) error
	ParkRecord(ctx context.Context, record models.SyncRecord) error
	ListParked(ctx context.Context, shareID string) ([]models.SyncRecord, error)
	DropParked(ctx context.Context, key models.RecordKey) error
	CountParked(ctx context.Context, shareID string) (int, error)
}

type progressRefresher interface {
	Refresh(ctx context.Context, studentID string) (*models.StudentProgress, error)
}

// Push kinds, also used as metric labels.
const (
	PushKindStudent    = "student"
	PushKindAssignment = "assignment"
	PushKindItem       = "item"

	pushJobType     = "sync.push"
	maxMarkAttempts = 3
)

// Inbound outcomes.
const (
	outcomeApplied   = "applied"
	outcomeDiscarded = "discarded"
	outcomeParked    = "parked"
	outcomeDeleted   = "deleted"
)

// pushResult is how far a guarded push got.
type pushResult int

const (
	// pushSkipped: the record is gone or kept changing; nothing was sent.
	pushSkipped pushResult = iota
	// pushSuperseded: the record was sent but a newer local change arrived.
	pushSuperseded
	pushAcknowledged
)

// PushRequest is the payload of a push job.
type PushRequest struct {
	Kind     string
	ShareID  string
	RecordID string
	// Full pushes an assignment together with every item.
	Full bool
}

func (r PushRequest) key() string {
	return fmt.Sprintf("%s:%s:%s", r.ShareID, r.Kind, r.RecordID)
}

// SyncServiceConfig tunes the sync engine.
type SyncServiceConfig struct {
	Origin        string
	PullBatchSize int
}

// SyncService pushes local mutations to the shared store and reconciles
// inbound records with record-level last-writer-wins.
type SyncService struct {
	assignments syncAssignmentStore
	students    syncStudentStore
	ledger      syncLedger
	transport   ShareTransport
	calculator  *ProgressCalculator
	progress    progressRefresher
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         SyncServiceConfig

	queue       jobDispatcher
	reconcileMu sync.Mutex
	now         func() time.Time
}

// NewSyncService constructs the sync engine. Without a dispatcher pushes run inline.
func NewSyncService(assignments syncAssignmentStore, students syncStudentStore, ledger syncLedger, transport ShareTransport, calculator *ProgressCalculator, progress progressRefresher, metrics *MetricsService, logger *zap.Logger, cfg SyncServiceConfig) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PullBatchSize <= 0 {
		cfg.PullBatchSize = 500
	}
	return &SyncService{
		assignments: assignments,
		students:    students,
		ledger:      ledger,
		transport:   transport,
		calculator:  calculator,
		progress:    progress,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// UseDispatcher routes scheduled pushes through queue.
func (s *SyncService) UseDispatcher(queue jobDispatcher) {
	s.queue = queue
}

// ShareActive reports whether studentID currently shares.
func (s *SyncService) ShareActive(ctx context.Context, studentID string) (bool, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return false, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	return student != nil && student.ShareActive, nil
}

// ScheduleStudentPush queues a push of the student record.
func (s *SyncService) ScheduleStudentPush(ctx context.Context, studentID string) {
	s.schedule(ctx, PushRequest{Kind: PushKindStudent, ShareID: studentID, RecordID: studentID})
}

// ScheduleAssignmentPush queues a full push of an assignment and its items.
func (s *SyncService) ScheduleAssignmentPush(ctx context.Context, studentID, assignmentID string) {
	s.schedule(ctx, PushRequest{Kind: PushKindAssignment, ShareID: studentID, RecordID: assignmentID, Full: true})
}

// ScheduleItemPush queues a single-record push of one item.
func (s *SyncService) ScheduleItemPush(ctx context.Context, studentID, itemID string) {
	s.schedule(ctx, PushRequest{Kind: PushKindItem, ShareID: studentID, RecordID: itemID})
}

// ScheduleFullShare queues the student record and every assignment.
func (s *SyncService) ScheduleFullShare(ctx context.Context, studentID string) error {
	assignments, err := s.assignments.ListByStudent(ctx, studentID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list assignments")
	}
	s.ScheduleStudentPush(ctx, studentID)
	for _, assignment := range assignments {
		s.ScheduleAssignmentPush(ctx, studentID, assignment.ID)
	}
	return nil
}

func (s *SyncService) schedule(ctx context.Context, req PushRequest) {
	active, err := s.ShareActive(ctx, req.ShareID)
	if err != nil {
		s.logger.Warn("share lookup failed, push deferred", zap.String("share_id", req.ShareID), zap.Error(err))
		return
	}
	if !active {
		return
	}
	if s.queue == nil {
		if err := s.push(ctx, req); err != nil {
			s.logger.Warn("push failed", zap.String("kind", req.Kind), zap.String("record_id", req.RecordID), zap.Error(err))
		}
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Key: req.key(), Type: pushJobType, Payload: req, Enqueued: s.now()}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("enqueue push failed, record stays unsynced", zap.String("kind", req.Kind), zap.String("record_id", req.RecordID), zap.Error(err))
	}
}

// HandleJob executes one queued push.
func (s *SyncService) HandleJob(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(PushRequest)
	if !ok {
		return fmt.Errorf("unexpected push payload %T", job.Payload)
	}
	return s.push(ctx, req)
}

func (s *SyncService) push(ctx context.Context, req PushRequest) error {
	start := time.Now()
	active, err := s.ShareActive(ctx, req.ShareID)
	if err != nil || !active {
		return err
	}
	switch req.Kind {
	case PushKindStudent:
		err = s.pushStudent(ctx, req.RecordID)
	case PushKindAssignment:
		err = s.pushAssignment(ctx, req.ShareID, req.RecordID, req.Full)
	case PushKindItem:
		_, err = s.pushItem(ctx, req.ShareID, req.RecordID)
	default:
		err = fmt.Errorf("unknown push kind %q", req.Kind)
	}
	s.metrics.RecordPush(req.Kind, err, time.Since(start))
	return err
}

type stateMarker func(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error)

// pushGuarded moves a record through PUSHED to ACKNOWLEDGED. Every state change
// is conditional on lastModified so a push never acknowledges newer local state.
func (s *SyncService) pushGuarded(ctx context.Context, id string, load func() (*models.SyncRecord, error), mark stateMarker) (pushResult, error) {
	for attempt := 0; attempt < maxMarkAttempts; attempt++ {
		record, err := load()
		if err != nil {
			return pushSkipped, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load record for push")
		}
		if record == nil {
			return pushSkipped, nil
		}
		lastModified := record.LastModified
		marked, err := mark(ctx, id, lastModified, models.SyncStatePushed)
		if err != nil {
			return pushSkipped, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to mark record pushed")
		}
		if !marked {
			continue
		}
		if err := s.transport.Push(ctx, *record); err != nil {
			if _, markErr := mark(ctx, id, lastModified, models.SyncStateUnsynced); markErr != nil {
				s.logger.Warn("revert sync state failed", zap.String("record_id", id), zap.Error(markErr))
			}
			return pushSkipped, appErrors.WrapAs(err, appErrors.ErrTransport, "push to shared store failed")
		}
		acked, err := mark(ctx, id, lastModified, models.SyncStateAcknowledged)
		if err != nil {
			return pushSuperseded, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to acknowledge record")
		}
		if !acked {
			s.logger.Debug("push superseded by newer local change", zap.String("record_id", id))
			return pushSuperseded, nil
		}
		return pushAcknowledged, nil
	}
	s.logger.Debug("record changed during push, left for next pass", zap.String("record_id", id))
	return pushSkipped, nil
}

func (s *SyncService) pushStudent(ctx context.Context, studentID string) error {
	var terminated bool
	result, err := s.pushGuarded(ctx, studentID, func() (*models.SyncRecord, error) {
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil || student == nil {
			return nil, err
		}
		terminated = student.ShareTerminated
		record := models.NewStudentRecord(*student, s.cfg.Origin)
		return &record, nil
	}, s.students.MarkState)
	if err != nil {
		return err
	}
	if result == pushAcknowledged && terminated {
		if err := s.students.SetShareActive(ctx, studentID, false); err != nil {
			return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to deactivate share")
		}
		s.logger.Info("share terminated", zap.String("share_id", studentID))
	}
	return nil
}

func (s *SyncService) pushAssignment(ctx context.Context, shareID, assignmentID string, full bool) error {
	var items []models.ItemProgress
	result, err := s.pushGuarded(ctx, assignmentID, func() (*models.SyncRecord, error) {
		assignment, err := s.assignments.FindByID(ctx, assignmentID)
		if err != nil || assignment == nil {
			return nil, err
		}
		items = assignment.Items
		record := models.NewAssignmentRecord(*assignment, s.cfg.Origin)
		return &record, nil
	}, s.assignments.MarkAssignmentState)
	if err != nil || !full {
		return err
	}
	if result == pushSkipped {
		// items stay unsynced until the assignment itself goes out
		s.logger.Debug("assignment not pushed, items deferred", zap.String("assignment_id", assignmentID))
		return nil
	}

	var firstErr error
	for _, item := range items {
		if _, err := s.pushItem(ctx, shareID, item.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *SyncService) pushItem(ctx context.Context, shareID, itemID string) (pushResult, error) {
	return s.pushGuarded(ctx, itemID, func() (*models.SyncRecord, error) {
		item, err := s.assignments.FindItemByID(ctx, itemID)
		if err != nil || item == nil {
			return nil, err
		}
		record := models.NewItemProgressRecord(*item, shareID, s.cfg.Origin)
		return &record, nil
	}, s.assignments.MarkItemState)
}

// PushStudent pushes the student record immediately.
func (s *SyncService) PushStudent(ctx context.Context, studentID string) error {
	return s.push(ctx, PushRequest{Kind: PushKindStudent, ShareID: studentID, RecordID: studentID})
}

// PropagateDeletes writes remote tombstones and returns how many are still pending.
func (s *SyncService) PropagateDeletes(ctx context.Context, tombstones []models.Tombstone) int {
	pending := 0
	for _, tombstone := range tombstones {
		if tombstone.Delivered {
			continue
		}
		if err := s.transport.Delete(ctx, tombstone.Key(), tombstone.DeletedAt); err != nil {
			pending++
			s.logger.Warn("remote delete pending", zap.String("record", tombstone.Key().String()), zap.Error(err))
			continue
		}
		if err := s.ledger.MarkDelivered(ctx, tombstone.RecordType, tombstone.RecordID); err != nil {
			pending++
			s.logger.Warn("mark tombstone delivered failed", zap.String("record", tombstone.Key().String()), zap.Error(err))
		}
	}
	s.refreshPendingGauge(ctx)
	return pending
}

func (s *SyncService) refreshPendingGauge(ctx context.Context) {
	count, err := s.ledger.CountPending(ctx)
	if err != nil {
		s.logger.Debug("count pending tombstones failed", zap.Error(err))
		return
	}
	s.metrics.SetPendingDeletes(count)
}

// RetryPending pushes every record not yet acknowledged and every undelivered tombstone.
func (s *SyncService) RetryPending(ctx context.Context, studentID string) error {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	if student == nil || !student.ShareActive {
		return nil
	}

	tombstones, err := s.ledger.ListPending(ctx, studentID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list pending deletes")
	}
	var firstErr error
	if pending := s.PropagateDeletes(ctx, tombstones); pending > 0 {
		firstErr = appErrors.Clone(appErrors.ErrTransport, fmt.Sprintf("%d remote deletes still pending", pending))
	}

	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if student.SyncState != models.SyncStateAcknowledged {
		keep(s.push(ctx, PushRequest{Kind: PushKindStudent, ShareID: studentID, RecordID: studentID}))
	}

	assignments, err := s.assignments.ListByStudent(ctx, studentID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list assignments")
	}
	for _, assignment := range assignments {
		if assignment.SyncState != models.SyncStateAcknowledged {
			keep(s.push(ctx, PushRequest{Kind: PushKindAssignment, ShareID: studentID, RecordID: assignment.ID}))
		}
		for _, item := range assignment.Items {
			if item.SyncState != models.SyncStateAcknowledged {
				keep(s.push(ctx, PushRequest{Kind: PushKindItem, ShareID: studentID, RecordID: item.ID}))
			}
		}
	}
	return firstErr
}

// SyncNow retries pending work and then reconciles inbound records.
func (s *SyncService) SyncNow(ctx context.Context, studentID string) (*models.ReconcileReport, error) {
	active, err := s.ShareActive(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, appErrors.ErrShareInactive
	}
	if err := s.RetryPending(ctx, studentID); err != nil {
		s.logger.Warn("retry pending incomplete", zap.String("share_id", studentID), zap.Error(err))
	}
	return s.Reconcile(ctx, studentID)
}

// SyncState summarizes the push state of an assignment and its items.
func (s *SyncService) SyncState(ctx context.Context, assignmentID string) (*models.AssignmentSyncStatus, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load assignment")
	}
	if assignment == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	}
	status := &models.AssignmentSyncStatus{
		AssignmentID: assignment.ID,
		State:        assignment.SyncState,
		LastModified: assignment.LastModified,
	}
	for _, item := range assignment.Items {
		switch item.SyncState {
		case models.SyncStateUnsynced:
			status.UnsyncedItems++
		case models.SyncStatePushed:
			status.PushedItems++
		}
	}
	switch {
	case status.UnsyncedItems > 0:
		status.State = models.SyncStateUnsynced
	case status.PushedItems > 0 && status.State == models.SyncStateAcknowledged:
		status.State = models.SyncStatePushed
	}
	return status, nil
}

// Reconcile pulls records changed since the stored cursor and applies them.
func (s *SyncService) Reconcile(ctx context.Context, shareID string) (*models.ReconcileReport, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	active, err := s.ShareActive(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, appErrors.ErrShareInactive
	}

	token, err := s.ledger.GetCursor(ctx, shareID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load sync cursor")
	}

	report := &models.ReconcileReport{ShareID: shareID}
	for {
		records, next, err := s.transport.Pull(ctx, shareID, token, s.cfg.PullBatchSize)
		if err != nil {
			return report, appErrors.WrapAs(err, appErrors.ErrTransport, "pull from shared store failed")
		}
		report.Pulled += len(records)
		for _, record := range records {
			outcome, err := s.apply(ctx, shareID, record)
			if err != nil {
				return report, err
			}
			if outcome == outcomeParked {
				// the cursor moves past this entry, so it must be stored first
				if err := s.ledger.ParkRecord(ctx, record); err != nil {
					return report, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to park record")
				}
			}
			s.tally(report, record, outcome)
		}
		if next != "" {
			token = next
		}
		if len(records) == 0 || len(records) < s.cfg.PullBatchSize {
			break
		}
	}

	if err := s.retryParked(ctx, shareID, report); err != nil {
		return report, err
	}
	if err := s.ledger.SaveCursor(ctx, shareID, token); err != nil {
		return report, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to save sync cursor")
	}
	report.Token = token

	if report.Applied+report.Deleted > 0 && s.progress != nil {
		if _, err := s.progress.Refresh(ctx, shareID); err != nil {
			s.logger.Warn("progress refresh after reconcile failed", zap.String("share_id", shareID), zap.Error(err))
		}
	}
	s.logger.Info("share reconciled",
		zap.String("share_id", shareID),
		zap.Int("pulled", report.Pulled),
		zap.Int("applied", report.Applied),
		zap.Int("discarded", report.Discarded),
		zap.Int("deleted", report.Deleted),
		zap.Int("parked", report.Parked),
	)
	return report, nil
}

func (s *SyncService) tally(report *models.ReconcileReport, record models.SyncRecord, outcome string) {
	switch outcome {
	case outcomeApplied:
		report.Applied++
	case outcomeDiscarded:
		report.Discarded++
	case outcomeDeleted:
		report.Deleted++
	}
	s.metrics.RecordInbound(string(record.Type), outcome)
}

// retryParked reapplies stored records whose assignment had not arrived yet,
// including those parked before a restart.
func (s *SyncService) retryParked(ctx context.Context, shareID string, report *models.ReconcileReport) error {
	pending, err := s.ledger.ListParked(ctx, shareID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list parked records")
	}
	for _, record := range pending {
		outcome, err := s.apply(ctx, shareID, record)
		if err != nil {
			return err
		}
		if outcome == outcomeParked {
			continue
		}
		if err := s.ledger.DropParked(ctx, record.Key()); err != nil {
			return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to drop parked record")
		}
		s.tally(report, record, outcome)
	}

	parked, err := s.ledger.CountParked(ctx, shareID)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to count parked records")
	}
	report.Parked = parked
	return nil
}

// Parked returns the number of inbound records waiting on a missing parent.
func (s *SyncService) Parked(ctx context.Context, shareID string) (int, error) {
	count, err := s.ledger.CountParked(ctx, shareID)
	if err != nil {
		return 0, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to count parked records")
	}
	return count, nil
}

func (s *SyncService) apply(ctx context.Context, shareID string, record models.SyncRecord) (string, error) {
	if err := record.Validate(); err != nil {
		s.logger.Warn("discarding malformed record", zap.String("share_id", shareID), zap.Error(err))
		return outcomeDiscarded, nil
	}
	if record.ShareID != shareID {
		s.logger.Warn("discarding record from another share", zap.String("share_id", shareID), zap.String("record_share_id", record.ShareID))
		return outcomeDiscarded, nil
	}
	if record.Deleted {
		return s.applyDelete(ctx, record)
	}

	tombstoned, err := s.ledger.IsTombstoned(ctx, record.Type, record.ID)
	if err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to check tombstone")
	}
	if tombstoned {
		return outcomeDiscarded, nil
	}

	switch record.Type {
	case models.RecordTypeStudent:
		return s.applyStudent(ctx, record)
	case models.RecordTypeAssignment:
		return s.applyAssignment(ctx, record)
	default:
		return s.applyItem(ctx, record)
	}
}

func (s *SyncService) applyStudent(ctx context.Context, record models.SyncRecord) (string, error) {
	local, err := s.students.FindByID(ctx, record.ID)
	if err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	if local != nil && !record.LastModified.After(local.LastModified) {
		return outcomeDiscarded, nil
	}
	base := models.Student{ID: record.ID}
	if local != nil {
		base = *local
	}
	merged := record.Student.ToStudent(base)
	if merged.ShareTerminated {
		merged.ShareActive = false
	}
	if err := s.students.Upsert(ctx, &merged); err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to apply student")
	}
	if merged.ShareTerminated && local != nil && local.ShareActive {
		s.logger.Info("share terminated by peer", zap.String("share_id", record.ShareID))
	}
	return outcomeApplied, nil
}

func (s *SyncService) applyAssignment(ctx context.Context, record models.SyncRecord) (string, error) {
	local, err := s.assignments.FindByID(ctx, record.ID)
	if err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load assignment")
	}
	if local != nil && !record.LastModified.After(local.LastModified) {
		return outcomeDiscarded, nil
	}
	assignment := record.Assignment.ToAssignment()
	if s.calculator != nil {
		if tpl, ok := s.calculator.ResolveTemplate(assignment); ok {
			assignment.TemplateID = tpl.ID
			assignment.TemplateResolved = true
		}
	}
	if err := s.assignments.UpsertRemoteAssignment(ctx, &assignment); err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to apply assignment")
	}
	return outcomeApplied, nil
}

func (s *SyncService) applyItem(ctx context.Context, record models.SyncRecord) (string, error) {
	incoming := record.Item.ToItemProgress()

	parentGone, err := s.ledger.IsTombstoned(ctx, models.RecordTypeAssignment, incoming.AssignmentID)
	if err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to check tombstone")
	}
	if parentGone {
		return outcomeDiscarded, nil
	}

	local, err := s.assignments.FindItemByID(ctx, incoming.ID)
	if err == nil && local == nil {
		local, err = s.assignments.FindItemByNaturalKey(ctx, incoming.AssignmentID, incoming.TemplateItemID)
	}
	if err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load item progress")
	}

	if local != nil {
		if !record.LastModified.After(local.LastModified) {
			return outcomeDiscarded, nil
		}
		incoming.ID = local.ID
		if err := s.assignments.SaveRemoteItem(ctx, &incoming, false); err != nil {
			return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to apply item progress")
		}
		return outcomeApplied, nil
	}

	parent, err := s.assignments.FindByID(ctx, incoming.AssignmentID)
	if err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load assignment")
	}
	if parent == nil {
		return outcomeParked, nil
	}
	if err := s.assignments.SaveRemoteItem(ctx, &incoming, true); err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to apply item progress")
	}
	return outcomeApplied, nil
}

// applyDelete removes the local record and keeps a delivered tombstone. A
// delete wins over any local version of the record.
func (s *SyncService) applyDelete(ctx context.Context, record models.SyncRecord) (string, error) {
	tombstone := models.Tombstone{
		RecordType: record.Type,
		RecordID:   record.ID,
		ShareID:    record.ShareID,
		DeletedAt:  record.LastModified,
		Delivered:  true,
	}

	switch record.Type {
	case models.RecordTypeAssignment:
		local, err := s.assignments.FindByID(ctx, record.ID)
		if err != nil {
			return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load assignment")
		}
		if local == nil {
			break
		}
		tombstones := []models.Tombstone{tombstone}
		for _, item := range local.Items {
			tombstones = append(tombstones, models.Tombstone{
				RecordType: models.RecordTypeItemProgress,
				RecordID:   item.ID,
				ShareID:    record.ShareID,
				DeletedAt:  record.LastModified,
				Delivered:  true,
			})
		}
		if err := s.assignments.DeleteWithTombstones(ctx, record.ID, tombstones); err != nil {
			return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to apply assignment delete")
		}
		return outcomeDeleted, nil
	case models.RecordTypeItemProgress:
		local, err := s.assignments.FindItemByID(ctx, record.ID)
		if err != nil {
			return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load item progress")
		}
		if local == nil {
			break
		}
		if err := s.assignments.DeleteItemWithTombstone(ctx, record.ID, tombstone); err != nil {
			return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to apply item delete")
		}
		return outcomeDeleted, nil
	default:
		s.logger.Warn("ignoring remote student delete", zap.String("share_id", record.ShareID))
		return outcomeDiscarded, nil
	}

	if err := s.ledger.RecordTombstone(ctx, tombstone); err != nil {
		return "", appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to record tombstone")
	}
	return outcomeDeleted, nil
}

// nextStamp returns now normalized, strictly after prev.
func nextStamp(now, prev time.Time) time.Time {
	stamp := models.Timestamp(now)
	if !stamp.After(prev) {
		stamp = models.Timestamp(prev).Add(time.Microsecond)
	}
	return stamp
}
