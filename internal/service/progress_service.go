package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type assignmentLister interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Assignment, error)
}

// ProgressService recomputes student progress after data changes and keeps
// the latest result per student.
type ProgressService struct {
	students    studentReader
	assignments assignmentLister
	calculator  *ProgressCalculator
	metrics     *MetricsService
	logger      *zap.Logger

	mu     sync.RWMutex
	latest map[string]models.StudentProgress
}

// NewProgressService constructs the progress service.
func NewProgressService(students studentReader, assignments assignmentLister, calculator *ProgressCalculator, metrics *MetricsService, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		students:    students,
		assignments: assignments,
		calculator:  calculator,
		metrics:     metrics,
		logger:      logger,
		latest:      make(map[string]models.StudentProgress),
	}
}

// Refresh recomputes every active category for studentID.
func (s *ProgressService) Refresh(ctx context.Context, studentID string) (*models.StudentProgress, error) {
	student, assignments, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}
	summary := s.calculator.Summary(*student, assignments)

	s.mu.Lock()
	s.latest[studentID] = summary
	s.mu.Unlock()

	s.metrics.RecordProgressRefresh()
	s.logger.Debug("progress refreshed", zap.String("student_id", studentID), zap.Int("categories", len(summary.Categories)))
	return &summary, nil
}

// Latest returns the last computed progress for studentID.
func (s *ProgressService) Latest(studentID string) (models.StudentProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.latest[studentID]
	return summary, ok
}

// ForCategory computes weighted progress of one category.
func (s *ProgressService) ForCategory(ctx context.Context, studentID, category string) (*models.CategoryProgress, error) {
	if strings.TrimSpace(category) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "category is required")
	}
	student, assignments, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}
	result := s.calculator.WeightedCategoryProgress(models.NormalizeCategory(category), *student, assignments)
	return &result, nil
}

func (s *ProgressService) load(ctx context.Context, studentID string) (*models.Student, []models.Assignment, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to load student")
	}
	if student == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	assignments, err := s.assignments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to list assignments")
	}
	return student, assignments, nil
}
