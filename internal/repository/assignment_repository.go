package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/checkride-sync/internal/models"
)

const assignmentColumns = `id, student_id, template_id, template_identifier, is_user_custom, instructor_comments, dual_given_hours, template_resolved, created_at, last_modified, sync_state`

const itemColumns = `id, assignment_id, template_item_id, is_complete, notes, completed_at, last_modified, sync_state`

const insertAssignmentQuery = `INSERT INTO assignments (id, student_id, template_id, template_identifier, is_user_custom, instructor_comments, dual_given_hours, template_resolved, created_at, last_modified, sync_state)
VALUES (:id, :student_id, :template_id, :template_identifier, :is_user_custom, :instructor_comments, :dual_given_hours, :template_resolved, :created_at, :last_modified, :sync_state)`

const insertItemQuery = `INSERT INTO item_progress (id, assignment_id, template_item_id, is_complete, notes, completed_at, last_modified, sync_state)
VALUES (:id, :assignment_id, :template_item_id, :is_complete, :notes, :completed_at, :last_modified, :sync_state)`

const updateItemQuery = `UPDATE item_progress SET is_complete = :is_complete, notes = :notes, completed_at = :completed_at, last_modified = :last_modified, sync_state = :sync_state WHERE id = :id`

const insertTombstoneQuery = `INSERT INTO sync_tombstones (record_type, record_id, share_id, deleted_at, delivered)
VALUES (:record_type, :record_id, :share_id, :deleted_at, :delivered)
ON CONFLICT (record_type, record_id) DO NOTHING`

// AssignmentRepository persists assignments and their item progress.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs an AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// CreateWithItems inserts the assignment and all of its items atomically.
func (r *AssignmentRepository) CreateWithItems(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create assignment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExecContext(ctx, insertAssignmentQuery, assignment); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	for i := range assignment.Items {
		item := &assignment.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.AssignmentID = assignment.ID
		if _, err := tx.NamedExecContext(ctx, insertItemQuery, item); err != nil {
			return fmt.Errorf("insert item progress: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create assignment: %w", err)
	}
	return nil
}

// FindByID loads an assignment with its items. It returns nil when absent.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := r.db.Rebind(`SELECT ` + assignmentColumns + ` FROM assignments WHERE id = ?`)
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	items, err := r.itemsFor(ctx, []string{assignment.ID})
	if err != nil {
		return nil, err
	}
	assignment.Items = items[assignment.ID]
	return &assignment, nil
}

// ListByStudent returns the student's assignments with items.
func (r *AssignmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Assignment, error) {
	query := r.db.Rebind(`SELECT ` + assignmentColumns + ` FROM assignments WHERE student_id = ? ORDER BY created_at ASC, id ASC`)
	return r.selectWithItems(ctx, query, studentID)
}

// ListUnresolved returns assignments whose template link is not resolved.
func (r *AssignmentRepository) ListUnresolved(ctx context.Context) ([]models.Assignment, error) {
	query := r.db.Rebind(`SELECT ` + assignmentColumns + ` FROM assignments WHERE template_resolved = ? ORDER BY created_at ASC`)
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, false); err != nil {
		return nil, fmt.Errorf("list unresolved assignments: %w", err)
	}
	return assignments, nil
}

func (r *AssignmentRepository) selectWithItems(ctx context.Context, query string, args ...interface{}) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return assignments, nil
	}
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.ID)
	}
	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range assignments {
		assignments[i].Items = items[assignments[i].ID]
	}
	return assignments, nil
}

func (r *AssignmentRepository) itemsFor(ctx context.Context, assignmentIDs []string) (map[string][]models.ItemProgress, error) {
	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM item_progress WHERE assignment_id IN (?) ORDER BY assignment_id, template_item_id`, assignmentIDs)
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	var items []models.ItemProgress
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list item progress: %w", err)
	}
	grouped := make(map[string][]models.ItemProgress, len(assignmentIDs))
	for _, item := range items {
		grouped[item.AssignmentID] = append(grouped[item.AssignmentID], item)
	}
	return grouped, nil
}

// FindItemByID loads one item. It returns nil when absent.
func (r *AssignmentRepository) FindItemByID(ctx context.Context, id string) (*models.ItemProgress, error) {
	query := r.db.Rebind(`SELECT ` + itemColumns + ` FROM item_progress WHERE id = ?`)
	var item models.ItemProgress
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item progress: %w", err)
	}
	return &item, nil
}

// FindItemByNaturalKey loads the item for (assignmentID, templateItemID).
func (r *AssignmentRepository) FindItemByNaturalKey(ctx context.Context, assignmentID, templateItemID string) (*models.ItemProgress, error) {
	query := r.db.Rebind(`SELECT ` + itemColumns + ` FROM item_progress WHERE assignment_id = ? AND template_item_id = ?`)
	var item models.ItemProgress
	if err := r.db.GetContext(ctx, &item, query, assignmentID, templateItemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item progress by key: %w", err)
	}
	return &item, nil
}

// SaveItem inserts or updates item and bumps the parent assignment's
// last_modified in the same transaction, which leaves the parent unsynced.
func (r *AssignmentRepository) SaveItem(ctx context.Context, item *models.ItemProgress, insert bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save item: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.writeItem(ctx, tx, item, insert); err != nil {
		return err
	}
	if err := touchAssignment(ctx, tx, item.AssignmentID, item.LastModified); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save item: %w", err)
	}
	return nil
}

// SaveEdit writes the assignment's mutable fields, updates items and inserts
// created atomically.
func (r *AssignmentRepository) SaveEdit(ctx context.Context, assignment *models.Assignment, items, created []models.ItemProgress) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save edit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE assignments SET instructor_comments = :instructor_comments, dual_given_hours = :dual_given_hours, last_modified = :last_modified, sync_state = :sync_state WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	for i := range items {
		if err := r.writeItem(ctx, tx, &items[i], false); err != nil {
			return err
		}
	}
	for i := range created {
		if err := r.writeItem(ctx, tx, &created[i], true); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save edit: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) writeItem(ctx context.Context, tx *sqlx.Tx, item *models.ItemProgress, insert bool) error {
	if insert {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, err := tx.NamedExecContext(ctx, insertItemQuery, item); err != nil {
			return fmt.Errorf("insert item progress: %w", err)
		}
		return nil
	}
	if _, err := tx.NamedExecContext(ctx, updateItemQuery, item); err != nil {
		return fmt.Errorf("update item progress: %w", err)
	}
	return nil
}

func touchAssignment(ctx context.Context, tx *sqlx.Tx, assignmentID string, at time.Time) error {
	query := tx.Rebind(`UPDATE assignments SET last_modified = ?, sync_state = ? WHERE id = ? AND last_modified < ?`)
	if _, err := tx.ExecContext(ctx, query, at, models.SyncStateUnsynced, assignmentID, at); err != nil {
		return fmt.Errorf("touch assignment: %w", err)
	}
	return nil
}

// UpdateTemplateLink stores the outcome of a template resolution.
func (r *AssignmentRepository) UpdateTemplateLink(ctx context.Context, id, templateID string, resolved bool) error {
	query := r.db.Rebind(`UPDATE assignments SET template_id = ?, template_resolved = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, templateID, resolved, id); err != nil {
		return fmt.Errorf("update template link: %w", err)
	}
	return nil
}

// DeleteWithTombstones removes the assignment and its items and records the
// tombstones in one transaction.
func (r *AssignmentRepository) DeleteWithTombstones(ctx context.Context, assignmentID string, tombstones []models.Tombstone) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete assignment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM item_progress WHERE assignment_id = ?`), assignmentID); err != nil {
		return fmt.Errorf("delete item progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM assignments WHERE id = ?`), assignmentID); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	for i := range tombstones {
		if _, err := tx.NamedExecContext(ctx, insertTombstoneQuery, &tombstones[i]); err != nil {
			return fmt.Errorf("insert tombstone: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete assignment: %w", err)
	}
	return nil
}

// DeleteItemWithTombstone removes one item and records its tombstone.
func (r *AssignmentRepository) DeleteItemWithTombstone(ctx context.Context, itemID string, tombstone models.Tombstone) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete item: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM item_progress WHERE id = ?`), itemID); err != nil {
		return fmt.Errorf("delete item progress: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, insertTombstoneQuery, &tombstone); err != nil {
		return fmt.Errorf("insert tombstone: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete item: %w", err)
	}
	return nil
}

// UpsertRemoteAssignment stores an assignment received from the shared store.
func (r *AssignmentRepository) UpsertRemoteAssignment(ctx context.Context, assignment *models.Assignment) error {
	const query = insertAssignmentQuery + `
ON CONFLICT (id) DO UPDATE
SET template_id = EXCLUDED.template_id,
    template_identifier = EXCLUDED.template_identifier,
    is_user_custom = EXCLUDED.is_user_custom,
    instructor_comments = EXCLUDED.instructor_comments,
    dual_given_hours = EXCLUDED.dual_given_hours,
    template_resolved = EXCLUDED.template_resolved,
    last_modified = EXCLUDED.last_modified,
    sync_state = EXCLUDED.sync_state`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("upsert remote assignment: %w", err)
	}
	return nil
}

// SaveRemoteItem stores an item received from the shared store without
// touching the parent assignment.
func (r *AssignmentRepository) SaveRemoteItem(ctx context.Context, item *models.ItemProgress, insert bool) error {
	query := updateItemQuery
	if insert {
		query = insertItemQuery
	}
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("save remote item: %w", err)
	}
	return nil
}

// MarkAssignmentState moves the assignment to state only if its last_modified
// still equals lastModified. It reports whether the row was updated.
func (r *AssignmentRepository) MarkAssignmentState(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	return r.markState(ctx, "assignments", id, lastModified, state)
}

// MarkItemState is the item counterpart of MarkAssignmentState.
func (r *AssignmentRepository) MarkItemState(ctx context.Context, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	return r.markState(ctx, "item_progress", id, lastModified, state)
}

func (r *AssignmentRepository) markState(ctx context.Context, table, id string, lastModified time.Time, state models.SyncState) (bool, error) {
	query := r.db.Rebind(fmt.Sprintf(`UPDATE %s SET sync_state = ? WHERE id = ? AND last_modified = ?`, table))
	res, err := r.db.ExecContext(ctx, query, state, id, lastModified)
	if err != nil {
		return false, fmt.Errorf("mark %s sync state: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark %s sync state: %w", table, err)
	}
	return affected > 0, nil
}
