package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/checkride-sync/internal/models"
)

const studentColumns = `id, first_name, last_name, email, telephone, home_address, city, state, zip_code,
goal_ppl, goal_ifr, goal_commercial, goal_review,
ppl_ground_school_completed, ppl_written_test_completed, ifr_ground_school_completed, ifr_written_test_completed,
commercial_ground_school_completed, commercial_written_test_completed,
has_student_pilot_certificate, has_pilot_certificate, has_medical_certificate, has_government_id, has_logbook,
share_active, share_terminated, pairing_code_hash, pairing_expires_at, last_modified, sync_state`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns every student ordered by name.
func (r *StudentRepository) List(ctx context.Context) ([]models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students ORDER BY last_name ASC, first_name ASC, id ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// ListShared returns students whose share is currently active.
func (r *StudentRepository) ListShared(ctx context.Context) ([]models.Student, error) {
	query := r.db.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE share_active = ? ORDER BY id ASC`)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, true); err != nil {
		return nil, fmt.Errorf("list shared students: %w", err)
	}
	return students, nil
}

// FindByID fetches a student. It returns nil when absent.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := r.db.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE id = ?`)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &student, nil
}

// Upsert inserts the student or overwrites every stored column.
func (r *StudentRepository) Upsert(ctx context.Context, student *models.Student) error {
	const query = `INSERT INTO students (id, first_name, last_name, email, telephone, home_address, city, state, zip_code,
goal_ppl, goal_ifr, goal_commercial, goal_review,
ppl_ground_school_completed, ppl_written_test_completed, ifr_ground_school_completed, ifr_written_test_completed,
commercial_ground_school_completed, commercial_written_test_completed,
has_student_pilot_certificate, has_pilot_certificate, has_medical_certificate, has_government_id, has_logbook,
share_active, share_terminated, pairing_code_hash, pairing_expires_at, last_modified, sync_state)
VALUES (:id, :first_name, :last_name, :email, :telephone, :home_address, :city, :state, :zip_code,
:goal_ppl, :goal_ifr, :goal_commercial, :goal_review,
:ppl_ground_school_completed, :ppl_written_test_completed, :ifr_ground_school_completed, :ifr_written_test_completed,
:commercial_ground_school_completed, :commercial_written_test_completed,
:has_student_pilot_certificate, :has_pilot_certificate, :has_medical_certificate, :has_government_id, :has_logbook,
:share_active, :share_terminated, :pairing_code_hash, :pairing_expires_at, :last_modified, :sync_state)
ON CONFLICT (id) DO UPDATE
SET first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    email = EXCLUDED.email,
    telephone = EXCLUDED.telephone,
    home_address = EXCLUDED.home_address,
    city = EXCLUDED.city,
    state = EXCLUDED.state,
    zip_code = EXCLUDED.zip_code,
    goal_ppl = EXCLUDED.goal_ppl,
    goal_ifr = EXCLUDED.goal_ifr,
    goal_commercial = EXCLUDED.goal_commercial,
    goal_review = EXCLUDED.goal_review,
    ppl_ground_school_completed = EXCLUDED.ppl_ground_school_completed,
    ppl_written_test_completed = EXCLUDED.ppl_written_test_completed,
    ifr_ground_school_completed = EXCLUDED.ifr_ground_school_completed,
    ifr_written_test_completed = EXCLUDED.ifr_written_test_completed,
    commercial_ground_school_completed = EXCLUDED.commercial_ground_school_completed,
    commercial_written_test_completed = EXCLUDED.commercial_written_test_completed,
    has_student_pilot_certificate = EXCLUDED.has_student_pilot_certificate,
    has_pilot_certificate = EXCLUDED.has_pilot_certificate,
    has_medical_certificate = EXCLUDED.has_medical_certificate,
    has_government_id = EXCLUDED.has_government_id,
    has_logbook = EXCLUDED.has_logbook,
    share_active = EXCLUDED.share_active,
    share_terminated = EXCLUDED.share_terminated,
    pairing_code_hash = EXCLUDED.pairing_code_hash,
    pairing_expires_at = EXCLUDED.pairing_expires_at,
    last_modified = EXCLUDED.last_modified,
    sync_state = EXCLUDED.sync_state`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

// SetShareActive toggles the local-only share flag without touching
// last_modified, so it never produces a push.
func (r *StudentRepository) SetShareActive(ctx context.Context, id string, active bool) error {
	query := r.db.Rebind(`UPDATE students SET share_active = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, active, id); err != nil {
		return fmt.Errorf("set share active: %w", err)
	}
	return nil
}

// MarkState moves the student to state only if last_modified still matches.
func (r *StudentRepository) MarkState(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	query := r.db.Rebind(`UPDATE students SET sync_state = ? WHERE id = ? AND last_modified = ?`)
	res, err := r.db.ExecContext(ctx, query, state, id, lastModified)
	if err != nil {
		return false, fmt.Errorf("mark student sync state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark student sync state: %w", err)
	}
	return affected > 0, nil
}
