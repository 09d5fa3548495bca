package model

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Kind 关系类型
type Kind string

const (
	BelongsToOne Kind = "belongs_to_one"
	HasMany      Kind = "has_many"
	ManyToMany   Kind = "many_to_many"
)

// Naming strategies for columns declared without an explicit property.
const (
	NamingIdentity = ""
	NamingSnake    = "snake" // id_col <-> idCol
)

// Definition is the registration-time description of a model class.
type Definition struct {
	Name           string         `yaml:"name" json:"name"`
	Table          string         `yaml:"table" json:"table"`
	Naming         string         `yaml:"naming,omitempty" json:"naming,omitempty"`
	Columns        []ColumnDef    `yaml:"columns" json:"columns"`
	PrimaryKey     []string       `yaml:"primary_key" json:"primary_key"`
	Schema         map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
	SkipValidation bool           `yaml:"skip_validation,omitempty" json:"skip_validation,omitempty"`
	Relations      []RelationDef  `yaml:"relations,omitempty" json:"relations,omitempty"`
	Hooks          Hooks          `yaml:"-" json:"-"`
}

// ColumnDef maps a table column to an instance property. In yaml a bare string is
// accepted as the column name.
type ColumnDef struct {
	Name     string `yaml:"name" json:"name"`
	Property string `yaml:"property,omitempty" json:"property,omitempty"`
}

func (c *ColumnDef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.Name = value.Value
		return nil
	}
	type plain ColumnDef
	return value.Decode((*plain)(c))
}

// RelationDef declares a relation from the defining (owner) model.
//
//	belongs_to_one: From = owner FK columns, To = related PK columns
//	has_many:       From = owner PK columns, To = related FK columns
//	many_to_many:   From = owner PK columns, To = related PK columns,
//	                Through.From/To = join columns referencing From/To
type RelationDef struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    Kind     `yaml:"kind" json:"kind"`
	Related string   `yaml:"related" json:"related"`
	From    []string `yaml:"from" json:"from"`
	To      []string `yaml:"to" json:"to"`
	Through *Through `yaml:"through,omitempty" json:"through,omitempty"`
}

// Through is the join table of a many-to-many relation.
type Through struct {
	Table string   `yaml:"table" json:"table"`
	From  []string `yaml:"from" json:"from"`
	To    []string `yaml:"to" json:"to"`
}

// Cols is a shortcut for declaring columns that need no property override.
func Cols(names ...string) []ColumnDef {
	ret := make([]ColumnDef, len(names))
	for i, n := range names {
		ret[i] = ColumnDef{Name: n}
	}
	return ret
}

// Variant copies d under a new name with the schema replaced.
func (d Definition) Variant(name string, schema map[string]any) Definition {
	v := d
	v.Name = name
	v.Schema = schema
	v.Columns = append([]ColumnDef(nil), d.Columns...)
	v.PrimaryKey = append([]string(nil), d.PrimaryKey...)
	v.Relations = append([]RelationDef(nil), d.Relations...)
	return v
}

type definitionsFile struct {
	Models []Definition `yaml:"models"`
}

// LoadDefinitions reads a yaml document with a top level "models" list.
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	var f definitionsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode model definitions: %w", err)
	}
	return f.Models, nil
}
