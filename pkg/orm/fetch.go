package orm

import (
	"context"
	"slices"
	"strings"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/query"
)

// InsertAndFetch inserts payload and reads the row back by its key, so that
// database defaults show up on the returned instance.
func (qb *QueryBuilder) InsertAndFetch(ctx context.Context, payload any) (*model.Instance, error) {
	res, err := qb.Insert(payload).Execute(ctx)
	if err != nil {
		return nil, err
	}
	pk := qb.class.PrimaryKey()
	vals, missing := res.Instance.KeyValues(pk)
	for i, v := range vals {
		if v == nil && !slices.Contains(missing, pk[i]) {
			missing = append(missing, pk[i])
		}
	}
	if len(missing) > 0 {
		// composite keys and drivers without LastInsertId leave the key unknown
		return nil, errs.NewConfigurationError(qb.class.Name(), "",
			"inserted row has no key to fetch it by, missing %s", strings.Join(missing, ","))
	}
	if err := qb.refetch(ctx, res.Instance, res.Instance); err != nil {
		return nil, err
	}
	return res.Instance, nil
}

// UpdateAndFetch updates the instance of an instance scoped query and merges
// the stored row into both the instance and the returned payload instance.
func (qb *QueryBuilder) UpdateAndFetch(ctx context.Context, payload any) (*model.Instance, error) {
	return qb.mutateAndFetch(ctx, query.OpUpdate, payload)
}

func (qb *QueryBuilder) PatchAndFetch(ctx context.Context, payload any) (*model.Instance, error) {
	return qb.mutateAndFetch(ctx, query.OpPatch, payload)
}

// UpdateAndFetchByID updates the row with primary key id and returns the
// payload instance, id set and the stored row merged in. id is a scalar or,
// for a composite key, a []any in key order. A missing row is errs.ErrNotFound.
func (qb *QueryBuilder) UpdateAndFetchByID(ctx context.Context, id any, payload any) (*model.Instance, error) {
	return qb.mutateAndFetchByID(ctx, query.OpUpdate, id, payload)
}

func (qb *QueryBuilder) PatchAndFetchByID(ctx context.Context, id any, payload any) (*model.Instance, error) {
	return qb.mutateAndFetchByID(ctx, query.OpPatch, id, payload)
}

func (qb *QueryBuilder) mutateAndFetch(ctx context.Context, op query.Op, payload any) (*model.Instance, error) {
	if qb.err == nil && qb.inst == nil {
		qb.setErr(errs.NewConfigurationError(qb.className(), "", "%sAndFetch needs an instance query", op))
	}
	qb.op = op
	qb.payload = payload
	res, err := qb.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if err := qb.refetch(ctx, qb.inst, res.Instance, qb.inst); err != nil {
		return nil, err
	}
	return res.Instance, nil
}

func (qb *QueryBuilder) mutateAndFetchByID(ctx context.Context, op query.Op, id any, payload any) (*model.Instance, error) {
	if qb.err == nil && (qb.inst != nil || qb.rel != nil) {
		qb.setErr(errs.NewConfigurationError(qb.className(), "", "%sAndFetchByID needs a model query", op))
	}
	if qb.err == nil {
		key, err := qb.keyInstance(id)
		qb.setErr(err)
		qb.byID = key
	}
	qb.op = op
	qb.payload = payload
	res, err := qb.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if res.Affected == 0 {
		return nil, errs.ErrNotFound
	}
	if err := qb.refetch(ctx, qb.byID, res.Instance); err != nil {
		return nil, err
	}
	return res.Instance, nil
}

// keyInstance builds a key only instance from id.
func (qb *QueryBuilder) keyInstance(id any) (*model.Instance, error) {
	pk := qb.class.PrimaryKey()
	ids, ok := id.([]any)
	if !ok {
		ids = []any{id}
	}
	if len(ids) != len(pk) {
		return nil, errs.NewConfigurationError(qb.class.Name(), "", "id has %d values, primary key has %d columns", len(ids), len(pk))
	}
	key := qb.class.New()
	for i, col := range pk {
		key.Set(qb.class.Property(col), ids[i])
	}
	return key, nil
}

// refetch reads the row of key through the same executor and merges its
// columns into every dst.
func (qb *QueryBuilder) refetch(ctx context.Context, key *model.Instance, dst ...*model.Instance) error {
	cond, err := qb.keyCond(key)
	if err != nil {
		return err
	}
	row, err := qb.db.QueryFor(qb.class).AddFilter(cond).First(ctx)
	if err != nil {
		return err
	}
	for _, d := range dst {
		if d != nil {
			mergeColumns(d, row, true)
		}
	}
	return nil
}
