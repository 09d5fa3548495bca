package model

import (
	"strings"

	"xorm.io/xorm"
	"xorm.io/xorm/schemas"
)

// Introspect builds a Definition named name from the live table. Relations and
// schema are left for the caller to fill in.
func Introspect(engine *xorm.Engine, name, table string) (Definition, error) {
	tables, err := engine.DBMetas()
	if err != nil {
		return Definition{}, err
	}
	var found *schemas.Table
	for _, t := range tables {
		if strings.EqualFold(t.Name, table) {
			found = t
			break
		}
	}
	if found == nil {
		return Definition{}, configErr(name, "table '%s' not found", table)
	}
	def := Definition{Name: name, Table: found.Name}
	for _, col := range found.Columns() {
		def.Columns = append(def.Columns, ColumnDef{Name: col.Name})
		if col.IsPrimaryKey && !containsFold(found.PrimaryKeys, col.Name) {
			found.PrimaryKeys = append(found.PrimaryKeys, col.Name)
		}
	}
	def.PrimaryKey = append([]string(nil), found.PrimaryKeys...)
	return def, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
