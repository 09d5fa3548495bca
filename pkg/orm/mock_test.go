package orm_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/orm"
	"github.com/everpan/idorm/pkg/query"
	"github.com/everpan/idorm/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*orm.DB, sqlmock.Sqlmock, *model.Registry) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	reg := newRegistry(t)
	db, err := orm.New(storage.NewSQL(sqlDB),
		orm.WithRegistry(reg),
		orm.WithDialect(query.DialectFor("sqlite3", nil)),
		orm.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return db, mock, reg
}

func TestPipeline_NoSQLBeforeExecute(t *testing.T) {
	hookErr := errors.New("refused by hook")
	tests := []struct {
		name  string
		run   func(db *orm.DB, reg *model.Registry) error
		check func(t *testing.T, err error)
	}{
		{"validation failure", func(db *orm.DB, _ *model.Registry) error {
			_, err := db.Query("Model1Typed").Update(map[string]any{"model1Prop1": 666}).Exec(ctx)
			return err
		}, func(t *testing.T, err error) {
			assert.True(t, errs.IsValidationError(err))
		}},
		{"hook error is not wrapped", func(db *orm.DB, reg *model.Registry) error {
			cls, _ := reg.Class("Model1")
			payload := cls.FromJSON(map[string]any{"model1Prop1": "x"}).SetHooks(model.HookFuncs{
				OnBeforeUpdate: func(context.Context, *model.Instance, *model.HookOptions) error { return hookErr },
			})
			_, err := db.Query("Model1").Update(payload).Exec(ctx)
			return err
		}, func(t *testing.T, err error) {
			assert.Equal(t, hookErr, err)
		}},
		{"before validate error", func(db *orm.DB, reg *model.Registry) error {
			cls, _ := reg.Class("Model1")
			payload := cls.FromJSON(map[string]any{"model1Prop1": "x"}).SetHooks(model.HookFuncs{
				OnBeforeValidate: func(context.Context, *model.Instance, map[string]any, *model.HookOptions) (map[string]any, error) {
					return nil, hookErr
				},
			})
			_, err := db.Query("Model1").Insert(payload).Exec(ctx)
			return err
		}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, hookErr)
		}},
		{"missing owner key", func(db *orm.DB, reg *model.Registry) error {
			cls, _ := reg.Class("Model1")
			_, err := db.RelatedQuery(cls.New(), "model1Relation2").Patch(map[string]any{"model2Prop1": "x"}).Exec(ctx)
			return err
		}, func(t *testing.T, err error) {
			assert.True(t, errs.IsRelationKeyMissing(err))
		}},
		{"unknown relation", func(db *orm.DB, reg *model.Registry) error {
			cls, _ := reg.Class("Model1")
			_, err := db.RelatedQuery(cls.New().Set("id", 1), "nope").Delete().Exec(ctx)
			return err
		}, func(t *testing.T, err error) {
			var nf *errs.RelationNotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, "nope", nf.Relation)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, reg := newMockDB(t)
			tt.check(t, tt.run(db, reg))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPipeline_DatabaseError(t *testing.T) {
	db, mock, reg := newMockDB(t)
	cls, err := reg.Class("Model1")
	require.NoError(t, err)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE Model1 SET model1Prop1=? WHERE id=?")).
		WithArgs("x", 2).
		WillReturnError(errors.New("database is locked"))

	payload := cls.FromJSON(map[string]any{"model1Prop1": "x"})
	_, err = db.Query("Model1").Update(payload).WhereEq("id", 2).Exec(ctx)
	var dbErr *errs.DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "UPDATE", dbErr.Op)
	assert.EqualError(t, dbErr.Cause, "database is locked")
	assert.Equal(t, 1, calls(payload, "beforeUpdateCalled"))
	assert.Zero(t, calls(payload, "afterUpdateCalled"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_FetchSharesTheTransaction(t *testing.T) {
	db, mock, reg := newMockDB(t)
	cls, err := reg.Class("Model1")
	require.NoError(t, err)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE Model1 SET model1Prop1=? WHERE id=?")).
		WithArgs("fetched", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM Model1 WHERE id=?")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "model1Prop1", "model1Prop2", "model1Id"}).
			AddRow(int64(2), []byte("fetched"), int64(7), nil))
	mock.ExpectCommit()

	var got *model.Instance
	err = db.Transaction(ctx, func(tx *orm.DB) error {
		var err error
		got, err = tx.Query("Model1").UpdateAndFetchByID(ctx, 2, cls.FromJSON(map[string]any{"model1Prop1": "fetched"}))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(2), "model1Prop1": "fetched", "model1Prop2": int64(7), "model1Id": nil}, got.ToJSON())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_RollbackOnDatabaseError(t *testing.T) {
	db, mock, _ := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM model_2 WHERE model_2.model_1_id IN (?)")).
		WithArgs(1).
		WillReturnError(errors.New("FOREIGN KEY constraint failed"))
	mock.ExpectRollback()

	err := db.Transaction(ctx, func(tx *orm.DB) error {
		owner := tx.Registry()
		cls, err := owner.Class("Model1")
		if err != nil {
			return err
		}
		_, err = tx.RelatedQuery(cls.New().Set("id", 1), "model1Relation2").Delete().Exec(ctx)
		return err
	})
	assert.True(t, errs.IsDatabaseError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAndFetch_NoGeneratedKey(t *testing.T) {
	db, mock, _ := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO Model1 (model1Prop1) Values (?)")).
		WithArgs("new").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := db.Query("Model1").InsertAndFetch(ctx, map[string]any{"model1Prop1": "new"})
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Model1", cfgErr.Model)
	assert.Contains(t, cfgErr.Reason, "missing id")
	assert.False(t, errs.IsRelationKeyMissing(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
