// Package orm is the model aware query facade: model, instance and relation
// scoped queries with lifecycle hooks and schema validation.
package orm

import (
	"context"
	"fmt"

	"github.com/everpan/idorm/pkg/config"
	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/event"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/query"
	"github.com/everpan/idorm/pkg/relation"
	"github.com/everpan/idorm/pkg/storage"
	"github.com/everpan/idorm/pkg/validate"
	"go.uber.org/zap"
)

type Option func(db *DB)

// DB binds an executor to a registry. It is safe for concurrent use; the
// QueryBuilders it hands out are not.
type DB struct {
	exec      storage.Executor
	registry  *model.Registry
	dialect   query.Dialect
	validator validate.Validator
	publisher event.Publisher
	topic     string
	logger    *zap.Logger
}

func New(exec storage.Executor, opts ...Option) (*DB, error) {
	if exec == nil {
		return nil, fmt.Errorf("orm: executor is required")
	}
	db := &DB{
		exec:    exec,
		dialect: query.DialectFor("mysql", nil),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.registry == nil {
		db.registry = model.Default()
	}
	if db.logger == nil {
		db.logger = config.GetLogger()
	}
	if db.validator == nil {
		v, err := validate.NewCUEValidator(validate.DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		db.validator = v
	}
	return db, nil
}

func MustNew(exec storage.Executor, opts ...Option) *DB {
	db, err := New(exec, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

func WithRegistry(r *model.Registry) Option {
	return func(db *DB) {
		db.registry = r
	}
}

func WithDialect(d query.Dialect) Option {
	return func(db *DB) {
		db.dialect = d
	}
}

func WithValidator(v validate.Validator) Option {
	return func(db *DB) {
		db.validator = v
	}
}

// WithPublisher sends a mutation event to topic after every successful write.
func WithPublisher(p event.Publisher, topic string) Option {
	return func(db *DB) {
		db.publisher = p
		db.topic = topic
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

func (db *DB) Registry() *model.Registry { return db.registry }
func (db *DB) Dialect() query.Dialect { return db.dialect }
func (db *DB) Executor() storage.Executor { return db.exec }

// WithTx returns a DB sending every statement to exec, typically an open
// transaction. exec is used as is.
func (db *DB) WithTx(exec storage.Executor) *DB {
	cp := *db
	cp.exec = exec
	return &cp
}

// Transaction runs fn inside a transaction of the executor. It commits when fn
// returns nil and rolls back on error or panic; a panic is raised again after
// the rollback.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) (err error) {
	b, ok := db.exec.(storage.Beginner)
	if !ok {
		return errs.WrapDatabase("BEGIN", "", storage.ErrNoTransaction)
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	panicked := true
	defer func() {
		if panicked || err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			if panicked {
				panic(recover())
			}
			return
		}
		err = tx.Commit()
	}()
	err = fn(db.WithTx(tx))
	panicked = false
	return err
}

// Query starts a model scoped query on the registered model name.
func (db *DB) Query(name string) *QueryBuilder {
	cls, err := db.registry.Class(name)
	qb := db.newBuilder(cls)
	qb.setErr(err)
	return qb
}

func (db *DB) QueryFor(cls *model.Class) *QueryBuilder {
	qb := db.newBuilder(cls)
	if cls == nil {
		qb.setErr(errs.NewConfigurationError("", "", "query has no model"))
	}
	return qb
}

// InstanceQuery scopes the query to the row of inst. Update and Patch without
// payload persist inst itself.
func (db *DB) InstanceQuery(inst *model.Instance) *QueryBuilder {
	if inst == nil {
		qb := db.newBuilder(nil)
		qb.setErr(errs.NewConfigurationError("", "", "instance query on a nil instance"))
		return qb
	}
	qb := db.newBuilder(inst.Class())
	qb.inst = inst
	return qb
}

// RelatedQuery scopes the query to the rows reachable from owner through the
// relation name.
func (db *DB) RelatedQuery(owner *model.Instance, name string) *QueryBuilder {
	if owner == nil {
		qb := db.newBuilder(nil)
		qb.setErr(errs.NewConfigurationError("", name, "related query on a nil owner"))
		return qb
	}
	return db.RelatedQueryFor(owner.Class(), []*model.Instance{owner}, name)
}

// RelatedQueryFor is RelatedQuery over a set of owners of ownerClass, typically
// a fetched collection. An empty set matches no row.
func (db *DB) RelatedQueryFor(ownerClass *model.Class, owners []*model.Instance, name string) *QueryBuilder {
	if ownerClass == nil {
		qb := db.newBuilder(nil)
		qb.setErr(errs.NewConfigurationError("", name, "related query without owner model"))
		return qb
	}
	rel, err := relation.Resolve(db.registry, ownerClass, name, db.dialect)
	if err != nil {
		qb := db.newBuilder(nil)
		qb.setErr(err)
		return qb
	}
	qb := db.newBuilder(rel.Related())
	qb.rel = rel
	qb.owners = owners
	return qb
}

func (db *DB) newBuilder(cls *model.Class) *QueryBuilder {
	return &QueryBuilder{db: db, class: cls, op: query.OpSelect}
}
