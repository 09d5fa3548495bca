package orm

import (
	"context"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/event"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/query"
	"github.com/everpan/idorm/pkg/relation"
	"github.com/everpan/idorm/pkg/storage"
	"github.com/everpan/idorm/pkg/validate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"xorm.io/builder"
)

// request turns the recorded steps into a query.Request with its scope set.
// Relation and instance keys are checked here, before any hook runs.
func (qb *QueryBuilder) request() (*query.Request, error) {
	req := query.NewRequest(qb.class, qb.op)
	req.Filter = qb.filter
	req.Columns = qb.columns
	req.Orders = qb.orders
	req.Limit = qb.limit
	if qb.op == query.OpInsert {
		return req, nil
	}
	var key *model.Instance
	switch {
	case qb.byID != nil:
		key = qb.byID
	case qb.inst != nil:
		key = qb.inst
	case qb.rel != nil:
		if err := qb.rel.ApplyToMutation(req, qb.owners); err != nil {
			return nil, err
		}
	}
	if key != nil {
		cond, err := qb.keyCond(key)
		if err != nil {
			return nil, err
		}
		req.Scope(cond)
	}
	return req, nil
}

// keyCond matches the row of inst by primary key; a nil key value matches nothing.
func (qb *QueryBuilder) keyCond(inst *model.Instance) (builder.Cond, error) {
	pk := qb.class.PrimaryKey()
	vals, missing := inst.KeyValues(pk)
	if len(missing) > 0 {
		return nil, &errs.RelationKeyMissingError{Model: qb.class.Name(), Columns: missing}
	}
	conds := make([]builder.Cond, len(pk))
	for i, col := range pk {
		if vals[i] == nil {
			return query.Never(), nil
		}
		conds[i] = builder.Eq{col: vals[i]}
	}
	return builder.And(conds...), nil
}

// target is the instance hooks and validation see and whose values get written.
func (qb *QueryBuilder) target() (*model.Instance, error) {
	inst, err := qb.payloadInstance()
	if err != nil {
		return nil, err
	}
	if qb.byID != nil {
		inst.Merge(qb.byID.ToJSON())
	}
	return inst, nil
}

func (qb *QueryBuilder) payloadInstance() (*model.Instance, error) {
	name := qb.class.Name()
	switch p := qb.payload.(type) {
	case nil:
		if qb.inst != nil {
			return qb.inst, nil
		}
		return nil, errs.NewValidationError(name, nil, errs.Violation{Message: "payload is required"})
	case *model.Instance:
		if p.Class() != qb.class {
			return nil, errs.NewConfigurationError(name, "", "payload is an instance of '%s'", p.Class().Name())
		}
		return p, nil
	case map[string]any:
		return qb.derive(qb.class.FromJSON(p)), nil
	case []byte:
		inst, err := qb.class.ParseJSON(p)
		if err != nil {
			return nil, errs.NewValidationError(name, err, errs.Violation{Message: "payload is not a JSON object"})
		}
		return qb.derive(inst), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, errs.NewValidationError(name, err, errs.Violation{Message: "payload cannot be encoded"})
		}
		inst, err := qb.class.ParseJSON(data)
		if err != nil {
			return nil, errs.NewValidationError(name, err, errs.Violation{Message: "payload is not an object"})
		}
		return qb.derive(inst), nil
	}
}

// derive gives a payload built for an instance scoped query the hooks of that
// instance.
func (qb *QueryBuilder) derive(inst *model.Instance) *model.Instance {
	if qb.inst != nil {
		inst.SetHooks(qb.inst.Hooks())
	}
	return inst
}

// values are the columns to write. Updates never write the primary key.
func (qb *QueryBuilder) values(target *model.Instance) map[string]any {
	cv := target.ColumnValues()
	if qb.op.IsUpdate() {
		for _, col := range qb.class.PrimaryKey() {
			delete(cv, col)
		}
	}
	return cv
}

// old is the pre-mutation snapshot handed to update hooks.
func (qb *QueryBuilder) old() *model.Instance {
	switch {
	case qb.byID != nil:
		return qb.byID.Clone()
	case qb.inst != nil:
		return qb.inst.Clone()
	case qb.rel != nil && len(qb.owners) == 1:
		if b, ok := qb.rel.(*relation.BelongsToOne); ok {
			if k, err := b.TargetKey(qb.owners[0]); err == nil {
				return k
			}
		}
	}
	return nil
}

// validate runs BeforeValidate, the schema check and AfterValidate.
func (qb *QueryBuilder) validate(ctx context.Context, target *model.Instance, opts *model.HookOptions) error {
	hooks := target.Hooks()
	schema, err := hooks.BeforeValidate(ctx, target, qb.class.Schema(), opts)
	if err != nil {
		return err
	}
	if schema != nil && !qb.class.SkipValidation() {
		vopts := validate.Options{Model: qb.class.Name(), Patch: opts.Patch}
		if err := qb.db.validator.Validate(ctx, schema, target.ToJSON(), vopts); err != nil {
			return err
		}
	}
	return hooks.AfterValidate(ctx, target, opts)
}

func (qb *QueryBuilder) run(ctx context.Context, req *query.Request, opID string) (*storage.Result, error) {
	stmt, err := req.Build(qb.db.dialect)
	if err != nil {
		return nil, err
	}
	qb.db.logger.Debug("execute",
		zap.String("op_id", opID),
		zap.String("model", qb.class.Name()),
		zap.String("sql", stmt.SQL))
	return qb.db.exec.Execute(ctx, stmt)
}

func (qb *QueryBuilder) insert(ctx context.Context) (*Result, error) {
	req, err := qb.request()
	if err != nil {
		return nil, err
	}
	target, err := qb.target()
	if err != nil {
		return nil, err
	}
	if qb.rel != nil {
		if err := qb.rel.ApplyToInsert(target, qb.owners); err != nil {
			return nil, err
		}
	}
	opts := &model.HookOptions{OpID: uuid.NewString()}
	if err := qb.validate(ctx, target, opts); err != nil {
		return nil, err
	}
	hooks := target.Hooks()
	if err := hooks.BeforeInsert(ctx, target, opts); err != nil {
		return nil, err
	}
	// BeforeInsert 可能修改了实例, 此处重新读取
	req.Values = qb.values(target)
	res, err := qb.run(ctx, req, opts.OpID)
	if err != nil {
		return nil, err
	}
	qb.fillID(target, res.LastInsertID)
	if err := hooks.AfterInsert(ctx, target, opts); err != nil {
		return nil, err
	}
	qb.publish(ctx, event.TypeInsert, opts.OpID, res.Affected, target)
	return &Result{Affected: res.Affected, Instance: target, LastInsertID: res.LastInsertID}, nil
}

// fillID sets a generated single column key the payload left empty.
func (qb *QueryBuilder) fillID(target *model.Instance, id int64) {
	pk := qb.class.PrimaryKey()
	if id == 0 || len(pk) != 1 {
		return
	}
	prop := qb.class.Property(pk[0])
	if v, ok := target.Get(prop); !ok || v == nil {
		target.Set(prop, id)
	}
}

func (qb *QueryBuilder) update(ctx context.Context) (*Result, error) {
	req, err := qb.request()
	if err != nil {
		return nil, err
	}
	target, err := qb.target()
	if err != nil {
		return nil, err
	}
	opts := &model.HookOptions{Old: qb.old(), Patch: qb.op == query.OpPatch, OpID: uuid.NewString()}
	if err := qb.validate(ctx, target, opts); err != nil {
		return nil, err
	}
	hooks := target.Hooks()
	if err := hooks.BeforeUpdate(ctx, target, opts); err != nil {
		return nil, err
	}
	// BeforeUpdate 可能修改了实例, 此处重新读取
	req.Values = qb.values(target)
	res, err := qb.run(ctx, req, opts.OpID)
	if err != nil {
		return nil, err
	}
	if qb.inst != nil && target != qb.inst {
		mergeColumns(qb.inst, target, false)
	}
	if err := hooks.AfterUpdate(ctx, target, opts); err != nil {
		return nil, err
	}
	typ := event.TypeUpdate
	if opts.Patch {
		typ = event.TypePatch
	}
	qb.publish(ctx, typ, opts.OpID, res.Affected, target)
	return &Result{Affected: res.Affected, Instance: target}, nil
}

// delete runs no hooks.
func (qb *QueryBuilder) delete(ctx context.Context) (*Result, error) {
	req, err := qb.request()
	if err != nil {
		return nil, err
	}
	opID := uuid.NewString()
	res, err := qb.run(ctx, req, opID)
	if err != nil {
		return nil, err
	}
	var key *model.Instance
	if qb.inst != nil {
		key = qb.inst.KeyOnly()
	}
	qb.publish(ctx, event.TypeDelete, opID, res.Affected, key)
	return &Result{Affected: res.Affected}, nil
}

func (qb *QueryBuilder) find(ctx context.Context) (*Result, error) {
	req, err := qb.request()
	if err != nil {
		return nil, err
	}
	res, err := qb.run(ctx, req, uuid.NewString())
	if err != nil {
		return nil, err
	}
	rows := make([]*model.Instance, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = qb.class.FromRow(r)
	}
	return &Result{Affected: int64(len(rows)), Rows: rows}, nil
}

// publish failures are logged; the write already happened.
func (qb *QueryBuilder) publish(ctx context.Context, typ, opID string, affected int64, inst *model.Instance) {
	if qb.db.publisher == nil {
		return
	}
	var rows []map[string]any
	if inst != nil {
		rows = []map[string]any{inst.ToJSON()}
	}
	evt := event.NewMutation(typ, opID, qb.class.Name(), affected, rows)
	evt.Topic = qb.db.topic
	if err := qb.db.publisher.Publish(ctx, qb.db.topic, evt); err != nil {
		qb.db.logger.Warn("publish mutation event failed",
			zap.String("op_id", opID),
			zap.String("model", qb.class.Name()),
			zap.Error(err))
	}
}

// mergeColumns copies the column properties of src to dst, keys included only
// when withKey is set.
func mergeColumns(dst, src *model.Instance, withKey bool) {
	cls := dst.Class()
	for _, c := range cls.Columns() {
		if !withKey && cls.IsPrimaryKey(c.Name) {
			continue
		}
		if v, ok := src.Get(c.Property); ok {
			dst.Set(c.Property, v)
		}
	}
}
