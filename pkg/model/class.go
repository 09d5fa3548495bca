package model

import (
	"slices"
)

// Column is a resolved table column.
type Column struct {
	Name     string `json:"name"`
	Property string `json:"property"`
}

// Relation is a resolved relation definition, both endpoints bound to classes.
type Relation struct {
	Name    string
	Kind    Kind
	Owner   *Class
	Related *Class
	From    []string
	To      []string
	Through *Through
}

// Class is a registered model. It must not be modified after registration.
type Class struct {
	def       Definition
	columns   []Column
	colToProp map[string]string
	propToCol map[string]string
	relations map[string]*Relation
	hooks     Hooks
}

func newClass(def Definition) (*Class, error) {
	if def.Name == "" {
		return nil, configErr("", "model name is required")
	}
	if def.Table == "" {
		return nil, configErr(def.Name, "table name is required")
	}
	if len(def.Columns) == 0 {
		return nil, configErr(def.Name, "no columns declared")
	}
	if def.Naming != NamingIdentity && def.Naming != NamingSnake {
		return nil, configErr(def.Name, "unknown naming '%s'", def.Naming)
	}
	c := &Class{
		def:       def,
		columns:   make([]Column, 0, len(def.Columns)),
		colToProp: make(map[string]string, len(def.Columns)),
		propToCol: make(map[string]string, len(def.Columns)),
		relations: make(map[string]*Relation),
		hooks:     def.Hooks,
	}
	for _, cd := range def.Columns {
		if cd.Name == "" {
			return nil, configErr(def.Name, "empty column name")
		}
		prop := cd.Property
		if prop == "" {
			prop = propertyName(def.Naming, cd.Name)
		}
		if _, dup := c.colToProp[cd.Name]; dup {
			return nil, configErr(def.Name, "duplicate column '%s'", cd.Name)
		}
		if _, dup := c.propToCol[prop]; dup {
			return nil, configErr(def.Name, "duplicate property '%s'", prop)
		}
		c.columns = append(c.columns, Column{Name: cd.Name, Property: prop})
		c.colToProp[cd.Name] = prop
		c.propToCol[prop] = cd.Name
	}
	if len(def.PrimaryKey) == 0 {
		return nil, configErr(def.Name, "primary key is required")
	}
	for _, pk := range def.PrimaryKey {
		if !c.HasColumn(pk) {
			return nil, configErr(def.Name, "primary key column '%s' is not a declared column", pk)
		}
	}
	if c.hooks == nil {
		c.hooks = NopHooks{}
	}
	return c, nil
}

func (c *Class) Name() string { return c.def.Name }
func (c *Class) Table() string { return c.def.Table }
func (c *Class) Columns() []Column { return slices.Clone(c.columns) }
func (c *Class) PrimaryKey() []string { return slices.Clone(c.def.PrimaryKey) }
func (c *Class) SkipValidation() bool { return c.def.SkipValidation }
func (c *Class) Hooks() Hooks { return c.hooks }

// Definition returns the definition the class was registered with.
func (c *Class) Definition() Definition { return c.def }

// Schema returns a private copy of the JSON schema, nil when none is declared.
func (c *Class) Schema() map[string]any {
	if c.def.Schema == nil {
		return nil
	}
	return cloneValue(c.def.Schema).(map[string]any)
}

func (c *Class) HasColumn(col string) bool {
	_, ok := c.colToProp[col]
	return ok
}

func (c *Class) IsPrimaryKey(col string) bool {
	return slices.Contains(c.def.PrimaryKey, col)
}

// Property maps a column to its property; unknown columns map to themselves.
func (c *Class) Property(col string) string {
	if p, ok := c.colToProp[col]; ok {
		return p
	}
	return col
}

// Column maps a property to its column.
func (c *Class) Column(prop string) (string, bool) {
	col, ok := c.propToCol[prop]
	return col, ok
}

// Qualify prefixes col with the class table.
func (c *Class) Qualify(col string) string {
	return c.def.Table + "." + col
}

func (c *Class) QualifyAll(cols []string) []string {
	ret := make([]string, len(cols))
	for i, col := range cols {
		ret[i] = c.Qualify(col)
	}
	return ret
}

// Relations returns relations in declaration order.
func (c *Class) Relations() []*Relation {
	ret := make([]*Relation, 0, len(c.def.Relations))
	for _, rd := range c.def.Relations {
		if r, ok := c.relations[rd.Name]; ok {
			ret = append(ret, r)
		}
	}
	return ret
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
