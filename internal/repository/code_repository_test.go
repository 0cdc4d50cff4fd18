package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kazakh-hub/internal/model"
)

func newMockRepo(t *testing.T) (CodeRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewCodeRepository(db), mock
}

func recordColumns() []string {
	return []string{"id", "title", "content", "language", "author", "description", "tags", "is_folder",
		"folder_structure", "folder_id", "folder_path", "idempotency_key", "storage_key", "created_at", "updated_at"}
}

func TestCodeRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `code_records`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), &model.CodeRecord{
		ID:       "11111111-1111-1111-1111-111111111111",
		Title:    "main.py",
		Language: "python",
		Author:   "aigerim",
		Tags:     []string{"folder-file"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_FindByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows(recordColumns()).
		AddRow("r1", "main.py", "print(1)", "python", "aigerim", "", `["a","b"]`, false,
			nil, "f1", "proj/main.py", "k1", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `code_records` WHERE id = ?")).WillReturnRows(rows)

	rec, err := repo.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "main.py", rec.Title)
	assert.Equal(t, []string{"a", "b"}, rec.Tags)
	assert.Equal(t, "f1", rec.FolderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_FindByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `code_records` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(recordColumns()))

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCodeRepository_FindByIdempotencyKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `code_records` WHERE author = ? AND idempotency_key = ?")).
		WillReturnRows(sqlmock.NewRows(recordColumns()).
			AddRow("r9", "proj", "{}", "folder", "aigerim", "", `["folder"]`, true, `{}`, "", "", "k9", "", now, now))

	rec, err := repo.FindByIdempotencyKey(context.Background(), "aigerim", "k9")
	require.NoError(t, err)
	assert.Equal(t, "r9", rec.ID)
	assert.True(t, rec.IsFolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_FindByFolder(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `code_records` WHERE folder_id = ? ORDER BY folder_path asc")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(recordColumns()).
			AddRow("r1", "a.py", "", "python", "u", "", `[]`, false, nil, "f1", "p/a.py", "k1", "", now, now).
			AddRow("r2", "b.py", "", "python", "u", "", `[]`, false, nil, "f1", "p/b.py", "k2", "", now, now))

	recs, err := repo.FindByFolder(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "p/a.py", recs[0].FolderPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}
