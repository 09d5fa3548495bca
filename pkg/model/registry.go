package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/everpan/idorm/pkg/errs"
)

// Registry holds registered model classes. Reads are safe while registering.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*Class)}
}

var defaultRegistry = NewRegistry()

// Default returns the process wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register registers defs into the process wide registry.
func Register(defs ...Definition) error {
	return defaultRegistry.Register(defs...)
}

func configErr(model, format string, args ...any) error {
	return errs.NewConfigurationError(model, "", format, args...)
}

// Register validates and adds a batch of definitions. Relations may reference models
// of the same batch, so mutually related models are registered together. Nothing is
// registered when any definition fails.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]*Class, len(defs))
	for _, def := range defs {
		c, err := newClass(def)
		if err != nil {
			return err
		}
		if _, ok := r.classes[def.Name]; ok {
			return configErr(def.Name, "model already registered")
		}
		if _, ok := batch[def.Name]; ok {
			return configErr(def.Name, "model declared twice")
		}
		batch[def.Name] = c
	}
	lookup := func(name string) *Class {
		if c, ok := batch[name]; ok {
			return c
		}
		return r.classes[name]
	}
	for _, c := range batch {
		for _, rd := range c.def.Relations {
			rel, err := resolveRelation(c, rd, lookup)
			if err != nil {
				return err
			}
			if _, dup := c.relations[rd.Name]; dup {
				return errs.NewConfigurationError(c.Name(), rd.Name, "relation declared twice")
			}
			c.relations[rd.Name] = rel
		}
	}
	for name, c := range batch {
		r.classes[name] = c
	}
	return nil
}

func resolveRelation(owner *Class, rd RelationDef, lookup func(string) *Class) (*Relation, error) {
	fail := func(format string, args ...any) error {
		return errs.NewConfigurationError(owner.Name(), rd.Name, format, args...)
	}
	if rd.Name == "" {
		return nil, errs.NewConfigurationError(owner.Name(), "", "relation name is required")
	}
	related := lookup(rd.Related)
	if related == nil {
		return nil, fail("related model '%s' is not registered", rd.Related)
	}
	if len(rd.From) == 0 || len(rd.From) != len(rd.To) {
		return nil, fail("from/to key columns must be non-empty and of equal length")
	}
	if err := requireColumns(owner, rd.From); err != nil {
		return nil, fail("%v", err)
	}
	if err := requireColumns(related, rd.To); err != nil {
		return nil, fail("%v", err)
	}
	rel := &Relation{
		Name:    rd.Name,
		Kind:    rd.Kind,
		Owner:   owner,
		Related: related,
		From:    append([]string(nil), rd.From...),
		To:      append([]string(nil), rd.To...),
	}
	switch rd.Kind {
	case BelongsToOne, HasMany:
		if rd.Through != nil {
			return nil, fail("%s relation cannot have a join table", rd.Kind)
		}
	case ManyToMany:
		t := rd.Through
		if t == nil || t.Table == "" {
			return nil, fail("many_to_many relation requires a join table")
		}
		if len(t.From) != len(rd.From) || len(t.To) != len(rd.To) {
			return nil, fail("join table '%s' key columns do not match from/to", t.Table)
		}
		rel.Through = &Through{
			Table: t.Table,
			From:  append([]string(nil), t.From...),
			To:    append([]string(nil), t.To...),
		}
	default:
		return nil, fail("unknown relation kind '%s'", rd.Kind)
	}
	return rel, nil
}

func requireColumns(c *Class, cols []string) error {
	for _, col := range cols {
		if !c.HasColumn(col) {
			return fmt.Errorf("column '%s' is not declared on model '%s'", col, c.Name())
		}
	}
	return nil
}

// Class returns the registered class named name.
func (r *Registry) Class(name string) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	if !ok {
		return nil, configErr(name, "model is not registered")
	}
	return c, nil
}

// Relation resolves a relation declared on c.
func (r *Registry) Relation(c *Class, name string) (*Relation, error) {
	if c == nil {
		return nil, configErr("", "nil model class")
	}
	rel, ok := c.relations[name]
	if !ok {
		return nil, &errs.RelationNotFoundError{Model: c.Name(), Relation: name}
	}
	return rel, nil
}

// Names returns registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
