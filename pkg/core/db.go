package core

import (
	"fmt"
	"os"
	"sync"

	"github.com/everpan/idorm/pkg/config"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/orm"
	"github.com/everpan/idorm/pkg/query"
	"github.com/everpan/idorm/pkg/storage"
	"github.com/everpan/idorm/pkg/storage/middleware/opentelemetry"
	"github.com/everpan/idorm/pkg/storage/middleware/prometheus"
	"github.com/everpan/idorm/pkg/storage/middleware/querylog"
	"github.com/everpan/idorm/pkg/storage/middleware/requirewhere"
	"github.com/everpan/idorm/pkg/storage/middleware/slowquery"
	"github.com/everpan/idorm/pkg/validate"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"xorm.io/xorm"
)

var (
	engineCache = sync.Map{}
	dbCache     = sync.Map{}

	validatorOnce sync.Once
	validator     validate.Validator
	validatorErr  error
)

func init() {
	viper.SetDefault("orm.models", "")
	viper.SetDefault("orm.log-args", false)
	config.RegisterReloadConfigFunc(ReloadDBConfig)
}

// ReloadDBConfig drops the cached facades; engines stay open and are shared by
// the next facades built for the same driver and dsn.
func ReloadDBConfig() error {
	dbCache.Range(func(key, _ any) bool {
		dbCache.Delete(key)
		return true
	})
	return nil
}

func engineKey(ds *config.DataSource) string {
	return ds.Driver + "|" + ds.DSN
}

// GetEngine returns the cached engine of ds, opening it on first use.
func GetEngine(ds *config.DataSource) (*xorm.Engine, error) {
	key := engineKey(ds)
	if e, ok := engineCache.Load(key); ok {
		return e.(*xorm.Engine), nil
	}
	engine, err := ds.CreateEngine()
	if err != nil {
		return nil, err
	}
	if actual, loaded := engineCache.LoadOrStore(key, engine); loaded {
		_ = engine.Close()
		return actual.(*xorm.Engine), nil
	}
	return engine, nil
}

// CloseEngines closes every cached engine.
func CloseEngines() {
	engineCache.Range(func(key, value any) bool {
		if err := value.(*xorm.Engine).Close(); err != nil {
			config.GetLogger().Warn("close engine", zap.Any("key", key), zap.Error(err))
		}
		engineCache.Delete(key)
		return true
	})
	ReloadDBConfig()
}

// Middlewares builds the statement middleware chain from the orm.* keys.
// requirewhere runs first so refused statements are neither timed nor traced.
func Middlewares(logger *zap.Logger) []storage.Middleware {
	var mws []storage.Middleware
	if viper.GetBool("orm.require-where") {
		mws = append(mws, requirewhere.NewMiddlewareBuilder().Build())
	}
	mws = append(mws, querylog.NewMiddlewareBuilder(querylog.ZapLogFunc(logger, viper.GetBool("orm.log-args"))).Build())
	if threshold := viper.GetDuration("orm.slow-query-threshold"); threshold > 0 {
		mws = append(mws, slowquery.NewMiddlewareBuilder(threshold, slowquery.ZapLogFunc(logger)).Build())
	}
	if viper.GetBool("orm.metrics") {
		mws = append(mws, prometheus.MiddlewareBuilder{
			Namespace: "idorm",
			Subsystem: "storage",
			Name:      "statement_duration_ms",
			Help:      "statement latency by kind, table and status",
		}.Build())
	}
	if viper.GetBool("orm.tracing") {
		mws = append(mws, opentelemetry.MiddlewareBuilder{}.Build())
	}
	return mws
}

func sharedValidator() (validate.Validator, error) {
	validatorOnce.Do(func() {
		size := viper.GetInt("orm.validator-cache-size")
		if size <= 0 {
			size = validate.DefaultCacheSize
		}
		validator, validatorErr = validate.NewCUEValidator(size)
	})
	return validator, validatorErr
}

// OpenDB builds a facade over ds with the configured middlewares, the shared
// validator and the process publisher.
func OpenDB(ds *config.DataSource, reg *model.Registry, opts ...orm.Option) (*orm.DB, error) {
	engine, err := GetEngine(ds)
	if err != nil {
		return nil, err
	}
	v, err := sharedValidator()
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger().With(zap.String("datasource", ds.Name))
	exec := storage.Chain(storage.NewXorm(engine), Middlewares(logger)...)
	base := []orm.Option{
		orm.WithRegistry(reg),
		orm.WithDialect(query.DialectFor(ds.Driver, ds.TupleIn)),
		orm.WithValidator(v),
		orm.WithLogger(logger),
	}
	if pub := Publisher(); pub != nil {
		base = append(base, orm.WithPublisher(pub, viper.GetString("event.topic")))
	}
	return orm.New(exec, append(base, opts...)...)
}

// GetDB returns the cached facade of the named datasource over the default registry.
func GetDB(name string) (*orm.DB, error) {
	if name == "" {
		name = config.DefaultDataSourceName
	}
	if db, ok := dbCache.Load(name); ok {
		return db.(*orm.DB), nil
	}
	ds, err := config.GetDataSource(name)
	if err != nil {
		return nil, err
	}
	db, err := OpenDB(ds, model.Default())
	if err != nil {
		return nil, err
	}
	actual, _ := dbCache.LoadOrStore(name, db)
	return actual.(*orm.DB), nil
}

// LoadModels registers the definitions of a yaml file into reg.
func LoadModels(reg *model.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	defs, err := model.LoadDefinitions(f)
	if err != nil {
		return err
	}
	if err := reg.Register(defs...); err != nil {
		return fmt.Errorf("register models of %s: %w", path, err)
	}
	return nil
}
