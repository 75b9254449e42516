package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

const (
	pairingCodeLength   = 8
	pairingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type shareStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Upsert(ctx context.Context, student *models.Student) error
}

type shareLedger interface {
	ListPending(ctx context.Context, shareID string) ([]models.Tombstone, error)
	ResetCursor(ctx context.Context, shareID string) error
}

type shareEngine interface {
	ScheduleFullShare(ctx context.Context, studentID string) error
	PushStudent(ctx context.Context, studentID string) error
	Reconcile(ctx context.Context, shareID string) (*models.ReconcileReport, error)
}

// ShareServiceConfig governs pairing.
type ShareServiceConfig struct {
	PairingCodeTTL time.Duration
	PullBatchSize  int
}

// ShareService activates, joins and terminates student shares.
type ShareService struct {
	students  shareStudentStore
	ledger    shareLedger
	transport ShareTransport
	engine    shareEngine
	logger    *zap.Logger
	cfg       ShareServiceConfig
	now       func() time.Time
}

// NewShareService constructs the share service.
func NewShareService(students shareStudentStore, ledger shareLedger, transport ShareTransport, engine shareEngine, logger *zap.Logger, cfg ShareServiceConfig) *ShareService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PairingCodeTTL <= 0 {
		cfg.PairingCodeTTL = 72 * time.Hour
	}
	if cfg.PullBatchSize <= 0 {
		cfg.PullBatchSize = 500
	}
	return &ShareService{
		students:  students,
		ledger:    ledger,
		transport: transport,
		engine:    engine,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Activate opens a share for studentID and returns a fresh pairing code.
// Activating an active share rotates the code.
func (s *ShareService) Activate(ctx context.Context, studentID string) (*models.ShareInvitation, error) {
	student, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}

	code, err := newPairingCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate pairing code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash pairing code")
	}

	now := nextStamp(s.now(), student.LastModified)
	expiresAt := now.Add(s.cfg.PairingCodeTTL)
	hashed := string(hash)
	student.ShareActive = true
	student.ShareTerminated = false
	student.PairingCodeHash = &hashed
	student.PairingExpiresAt = &expiresAt
	student.LastModified = now
	student.SyncState = models.SyncStateUnsynced
	if err := s.students.Upsert(ctx, student); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to activate share")
	}

	if err := s.engine.ScheduleFullShare(ctx, studentID); err != nil {
		s.logger.Warn("initial share push not scheduled", zap.String("student_id", studentID), zap.Error(err))
	}
	s.logger.Info("share activated", zap.String("student_id", studentID), zap.Time("expires_at", expiresAt))
	return &models.ShareInvitation{StudentID: studentID, Code: code, ExpiresAt: expiresAt}, nil
}

// Join verifies code against the published student record and activates the
// share on this device, then pulls everything shared so far.
func (s *ShareService) Join(ctx context.Context, studentID, code string) (*models.Student, error) {
	studentID = strings.TrimSpace(studentID)
	code = strings.ToUpper(strings.TrimSpace(code))
	if studentID == "" || code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id and pairing code are required")
	}

	published, err := s.publishedStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if published.ShareTerminated {
		return nil, appErrors.Clone(appErrors.ErrShareInactive, "share has been terminated")
	}
	if published.PairingCodeHash == "" {
		return nil, appErrors.ErrInvalidPairingCode
	}
	if published.PairingExpiresAt != nil && s.now().After(*published.PairingExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrInvalidPairingCode, "pairing code expired")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(published.PairingCodeHash), []byte(code)); err != nil {
		s.logger.Warn("pairing code rejected", zap.String("student_id", studentID))
		return nil, appErrors.ErrInvalidPairingCode
	}

	local, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	base := models.Student{ID: studentID}
	if local != nil {
		base = *local
	}
	joined := published.ToStudent(base)
	joined.ShareActive = true
	if err := s.students.Upsert(ctx, &joined); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to join share")
	}
	if err := s.ledger.ResetCursor(ctx, studentID); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to reset sync cursor")
	}

	s.logger.Info("share joined", zap.String("student_id", studentID))
	if _, err := s.engine.Reconcile(ctx, studentID); err != nil {
		s.logger.Warn("initial reconcile failed, will retry", zap.String("student_id", studentID), zap.Error(err))
	}
	return &joined, nil
}

func (s *ShareService) publishedStudent(ctx context.Context, studentID string) (*models.StudentRecord, error) {
	records, _, err := s.transport.Pull(ctx, studentID, "", s.cfg.PullBatchSize)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrTransport, "failed to read share")
	}
	for _, record := range records {
		if record.Type != models.RecordTypeStudent || record.ID != studentID {
			continue
		}
		if record.Deleted || record.Student == nil {
			return nil, appErrors.Clone(appErrors.ErrShareInactive, "share has been terminated")
		}
		return record.Student, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "share not found")
}

// Terminate ends the share: the terminated student record is pushed first so
// the peer learns of it, then the local share is deactivated. When the push
// fails termination stays pending and completes on a later retry.
func (s *ShareService) Terminate(ctx context.Context, studentID string) (*models.ShareStatus, error) {
	student, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !student.ShareActive {
		s.logger.Info("share already inactive", zap.String("student_id", studentID))
		return s.Status(ctx, studentID)
	}

	student.ShareTerminated = true
	student.PairingCodeHash = nil
	student.PairingExpiresAt = nil
	student.LastModified = nextStamp(s.now(), student.LastModified)
	student.SyncState = models.SyncStateUnsynced
	if err := s.students.Upsert(ctx, student); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to terminate share")
	}

	if err := s.engine.PushStudent(ctx, studentID); err != nil {
		s.logger.Warn("termination not delivered yet", zap.String("student_id", studentID), zap.Error(err))
	}
	return s.Status(ctx, studentID)
}

// Status reports the share state of studentID.
func (s *ShareService) Status(ctx context.Context, studentID string) (*models.ShareStatus, error) {
	student, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}
	pending, err := s.ledger.ListPending(ctx, studentID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list pending deletes")
	}
	return &models.ShareStatus{
		StudentID:          studentID,
		Active:             student.ShareActive,
		Terminated:         student.ShareTerminated,
		TerminationPending: student.ShareActive && student.ShareTerminated,
		PairingExpiresAt:   student.PairingExpiresAt,
		PendingDeletes:     len(pending),
	}, nil
}

func (s *ShareService) load(ctx context.Context, studentID string) (*models.Student, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	if student == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return student, nil
}

func newPairingCode() (string, error) {
	max := big.NewInt(int64(len(pairingCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < pairingCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(pairingCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
