package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"xorm.io/xorm"
)

// DataSource is a named connection profile, read from datasource.<name>.*
type DataSource struct {
	Name    string `json:"name"`
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	TupleIn *bool  `json:"tuple_in,omitempty"` // nil 时按驱动推断
}

const DefaultDataSourceName = "default"

var (
	DefaultDataSource = &DataSource{
		Name:   DefaultDataSourceName,
		Driver: "sqlite3",
		DSN:    "/tmp/idorm.db",
	}
	DataSourceHeader = "X-Datasource"
	dataSourceCache  = sync.Map{}
)

func init() {
	viper.SetDefault("datasource.default.driver", DefaultDataSource.Driver)
	viper.SetDefault("datasource.default.dsn", DefaultDataSource.DSN)
	viper.SetDefault("datasource.http-header-key", DataSourceHeader)
	RegisterReloadConfigFunc(ReloadDataSourceConfig)
}

// ReloadDataSourceConfig drops cached profiles so the next lookup sees new values.
func ReloadDataSourceConfig() error {
	DefaultDataSource.Driver = viper.GetString("datasource.default.driver")
	DefaultDataSource.DSN = viper.GetString("datasource.default.dsn")
	DataSourceHeader = viper.GetString("datasource.http-header-key")
	dataSourceCache.Range(func(key, _ any) bool {
		dataSourceCache.Delete(key)
		return true
	})
	dataSourceCache.Store(DefaultDataSourceName, DefaultDataSource)
	return nil
}

// GetDataSource returns the named profile from cache or viper.
func GetDataSource(name string) (*DataSource, error) {
	if name == "" {
		name = DefaultDataSourceName
	}
	if v, ok := dataSourceCache.Load(name); ok {
		return v.(*DataSource), nil
	}
	prefix := "datasource." + strings.ToLower(name) + "."
	ds := &DataSource{
		Name:   name,
		Driver: viper.GetString(prefix + "driver"),
		DSN:    viper.GetString(prefix + "dsn"),
	}
	if ds.Driver == "" || ds.DSN == "" {
		return nil, fmt.Errorf("datasource '%s' not configured", name)
	}
	if viper.IsSet(prefix + "tuple-in") {
		v := viper.GetBool(prefix + "tuple-in")
		ds.TupleIn = &v
	}
	dataSourceCache.Store(name, ds)
	return ds, nil
}

func (ds *DataSource) CreateEngine() (*xorm.Engine, error) {
	return xorm.NewEngine(ds.Driver, ds.DSN)
}
