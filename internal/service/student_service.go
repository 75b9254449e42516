package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Upsert(ctx context.Context, student *models.Student) error
}

type studentPushScheduler interface {
	ScheduleStudentPush(ctx context.Context, studentID string)
}

// StudentProfileRequest replaces the editable fields of a student profile.
type StudentProfileRequest struct {
	FirstName   string `json:"firstName" validate:"required,max=100"`
	LastName    string `json:"lastName" validate:"required,max=100"`
	Email       string `json:"email" validate:"omitempty,email"`
	Telephone   string `json:"telephone" validate:"max=40"`
	HomeAddress string `json:"homeAddress" validate:"max=200"`
	City        string `json:"city" validate:"max=100"`
	State       string `json:"state" validate:"max=100"`
	ZipCode     string `json:"zipCode" validate:"max=20"`

	GoalPPL        bool `json:"goalPPL"`
	GoalIFR        bool `json:"goalIFR"`
	GoalCommercial bool `json:"goalCommercial"`
	GoalReview     bool `json:"goalReview"`

	PPLGroundSchoolCompleted        bool `json:"pplGroundSchoolCompleted"`
	PPLWrittenTestCompleted         bool `json:"pplWrittenTestCompleted"`
	IFRGroundSchoolCompleted        bool `json:"ifrGroundSchoolCompleted"`
	IFRWrittenTestCompleted         bool `json:"ifrWrittenTestCompleted"`
	CommercialGroundSchoolCompleted bool `json:"commercialGroundSchoolCompleted"`
	CommercialWrittenTestCompleted  bool `json:"commercialWrittenTestCompleted"`

	HasStudentPilotCertificate bool `json:"hasStudentPilotCertificate"`
	HasPilotCertificate        bool `json:"hasPilotCertificate"`
	HasMedicalCertificate      bool `json:"hasMedicalCertificate"`
	HasGovernmentID            bool `json:"hasGovernmentId"`
	HasLogbook                 bool `json:"hasLogbook"`
}

// StudentService handles student profile use-cases.
type StudentService struct {
	repo      studentRepository
	scheduler studentPushScheduler
	progress  progressRefresher
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, scheduler studentPushScheduler, progress progressRefresher, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, scheduler: scheduler, progress: progress, validator: validate, logger: logger, now: time.Now}
}

// List returns every local student.
func (s *StudentService) List(ctx context.Context) ([]models.Student, error) {
	students, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list students")
	}
	return students, nil
}

// Get returns a student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	if student == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return student, nil
}

// SaveProfile creates or replaces the student's profile. An empty id creates
// a new student.
func (s *StudentService) SaveProfile(ctx context.Context, id string, req StudentProfileRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student profile")
	}

	student := &models.Student{ID: strings.TrimSpace(id)}
	if student.ID == "" {
		student.ID = uuid.NewString()
	} else {
		existing, err := s.repo.FindByID(ctx, student.ID)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
		}
		if existing != nil {
			student = existing
		}
	}

	applyProfile(student, req)
	student.LastModified = nextStamp(s.now(), student.LastModified)
	student.SyncState = models.SyncStateUnsynced
	if err := s.repo.Upsert(ctx, student); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to save student")
	}

	s.logger.Info("student profile saved", zap.String("student_id", student.ID))
	if s.scheduler != nil {
		s.scheduler.ScheduleStudentPush(ctx, student.ID)
	}
	if s.progress != nil {
		if _, err := s.progress.Refresh(ctx, student.ID); err != nil {
			s.logger.Warn("progress refresh failed", zap.String("student_id", student.ID), zap.Error(err))
		}
	}
	return student, nil
}

func applyProfile(student *models.Student, req StudentProfileRequest) {
	student.FirstName = strings.TrimSpace(req.FirstName)
	student.LastName = strings.TrimSpace(req.LastName)
	student.Email = strings.TrimSpace(req.Email)
	student.Telephone = strings.TrimSpace(req.Telephone)
	student.HomeAddress = strings.TrimSpace(req.HomeAddress)
	student.City = strings.TrimSpace(req.City)
	student.State = strings.TrimSpace(req.State)
	student.ZipCode = strings.TrimSpace(req.ZipCode)

	student.GoalPPL = req.GoalPPL
	student.GoalIFR = req.GoalIFR
	student.GoalCommercial = req.GoalCommercial
	student.GoalReview = req.GoalReview

	student.PPLGroundSchoolCompleted = req.PPLGroundSchoolCompleted
	student.PPLWrittenTestCompleted = req.PPLWrittenTestCompleted
	student.IFRGroundSchoolCompleted = req.IFRGroundSchoolCompleted
	student.IFRWrittenTestCompleted = req.IFRWrittenTestCompleted
	student.CommercialGroundSchoolCompleted = req.CommercialGroundSchoolCompleted
	student.CommercialWrittenTestCompleted = req.CommercialWrittenTestCompleted

	student.HasStudentPilotCertificate = req.HasStudentPilotCertificate
	student.HasPilotCertificate = req.HasPilotCertificate
	student.HasMedicalCertificate = req.HasMedicalCertificate
	student.HasGovernmentID = req.HasGovernmentID
	student.HasLogbook = req.HasLogbook
}
