package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/models"
)

func TestStudentRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), &models.Student{ID: "s1", FirstName: "Amelia", LastModified: time.Now().UTC(), SyncState: models.SyncStateUnsynced})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = ?")).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	student, err := repo.FindByID(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, student)
}

func TestStudentRepositoryMarkState(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET sync_state = ? WHERE id = ? AND last_modified = ?")).
		WithArgs(models.SyncStatePushed, "s1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.MarkState(context.Background(), "s1", now, models.SyncStatePushed)
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestStudentRepositorySetShareActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET share_active = ? WHERE id = ?")).
		WithArgs(false, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetShareActive(context.Background(), "s1", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}
