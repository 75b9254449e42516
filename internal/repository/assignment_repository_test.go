package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var assignmentRowColumns = []string{"id", "student_id", "template_id", "template_identifier", "is_user_custom", "instructor_comments", "dual_given_hours", "template_resolved", "created_at", "last_modified", "sync_state"}

var itemRowColumns = []string{"id", "assignment_id", "template_item_id", "is_complete", "notes", "completed_at", "last_modified", "sync_state"}

func TestAssignmentRepositoryCreateWithItems(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assignments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO item_progress").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO item_progress").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	assignment := &models.Assignment{
		StudentID:  "student-1",
		TemplateID: "tpl-1",
		Items:      []models.ItemProgress{{TemplateItemID: "i1"}, {TemplateItemID: "i2"}},
	}
	require.NoError(t, repo.CreateWithItems(context.Background(), assignment))
	assert.NotEmpty(t, assignment.ID)
	for _, item := range assignment.Items {
		assert.NotEmpty(t, item.ID)
		assert.Equal(t, assignment.ID, item.AssignmentID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryCreateRollsBackOnItemFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assignments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO item_progress").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.CreateWithItems(context.Background(), &models.Assignment{
		StudentID:  "student-1",
		TemplateID: "tpl-1",
		Items:      []models.ItemProgress{{TemplateItemID: "i1"}},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments WHERE id = ?")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(assignmentRowColumns).
			AddRow("a1", "s1", "tpl-1", "ppl_p1_l1", false, "", 1.5, true, now, now, "ACKNOWLEDGED"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM item_progress WHERE assignment_id IN (?)")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(itemRowColumns).
			AddRow("i1", "a1", "item-1", true, nil, now, now, "ACKNOWLEDGED").
			AddRow("i2", "a1", "item-2", false, "note", nil, now, "UNSYNCED"))

	assignment, err := repo.FindByID(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "ppl_p1_l1", assignment.LegacyID())
	assert.Equal(t, 1.5, assignment.DualGivenHours)
	require.Len(t, assignment.Items, 2)
	assert.Equal(t, models.SyncStateUnsynced, assignment.Items[1].SyncState)
	require.NotNil(t, assignment.Items[1].Notes)
	assert.Equal(t, "note", *assignment.Items[1].Notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery("FROM assignments WHERE id").WillReturnError(sql.ErrNoRows)

	assignment, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, assignment)
}

func TestAssignmentRepositorySaveItemTouchesParent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE item_progress SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE assignments SET last_modified = ?, sync_state = ? WHERE id = ? AND last_modified < ?")).
		WithArgs(now, models.SyncStateUnsynced, "a1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item := &models.ItemProgress{ID: "i1", AssignmentID: "a1", TemplateItemID: "item-1", LastModified: now}
	require.NoError(t, repo.SaveItem(context.Background(), item, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryMarkItemStateGuardedByTimestamp(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)
	stale := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE item_progress SET sync_state = ? WHERE id = ? AND last_modified = ?")).
		WithArgs(models.SyncStateAcknowledged, "i1", stale).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.MarkItemState(context.Background(), "i1", stale, models.SyncStateAcknowledged)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryDeleteWithTombstones(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM item_progress WHERE assignment_id = ?")).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM assignments WHERE id = ?")).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sync_tombstones").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO sync_tombstones").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.DeleteWithTombstones(context.Background(), "a1", []models.Tombstone{
		{RecordType: models.RecordTypeAssignment, RecordID: "a1", ShareID: "s1", DeletedAt: now},
		{RecordType: models.RecordTypeItemProgress, RecordID: "i1", ShareID: "s1", DeletedAt: now},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryListByStudentWithoutRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments WHERE student_id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(assignmentRowColumns))

	assignments, err := repo.ListByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, assignments)
	assert.NoError(t, mock.ExpectationsWereMet())
}
