package query

import (
	"strings"

	"xorm.io/builder"
)

// Dialect carries what statement building needs to know about the target database.
type Dialect struct {
	Name string
	// TupleIn reports support for (a,b) IN ((?,?),...).
	TupleIn bool
}

var tupleIn = map[string]bool{
	builder.MYSQL:    true,
	builder.POSTGRES: true,
	builder.SQLITE:   true,
	builder.MSSQL:    false,
	builder.ORACLE:   false,
}

// DialectFor maps a database/sql driver name to a Dialect. override, when set,
// replaces the TupleIn default of the driver.
func DialectFor(driver string, override *bool) Dialect {
	name := strings.ToLower(driver)
	switch name {
	case "sqlite", "sqlite3":
		name = builder.SQLITE
	case "pgx", "postgresql", "pq":
		name = builder.POSTGRES
	case "sqlserver":
		name = builder.MSSQL
	case "godror", "oci8":
		name = builder.ORACLE
	}
	d := Dialect{Name: name, TupleIn: tupleIn[name]}
	if override != nil {
		d.TupleIn = *override
	}
	return d
}

func (d Dialect) builder() *builder.Builder {
	return builder.Dialect(d.Name)
}
