package model

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/exp/maps"
)

// TransientPrefix marks properties that are never persisted.
const TransientPrefix = "$"

// Instance is a row of a model class keyed by property name.
type Instance struct {
	class *Class
	props map[string]any
	hooks Hooks
}

func (c *Class) New() *Instance {
	return &Instance{class: c, props: make(map[string]any)}
}

// FromJSON builds an instance from property values; data is copied.
func (c *Class) FromJSON(data map[string]any) *Instance {
	inst := c.New()
	for k, v := range data {
		inst.props[k] = v
	}
	return inst
}

// ParseJSON decodes a JSON object into a new instance.
func (c *Class) ParseJSON(data []byte) (*Instance, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return c.FromJSON(m), nil
}

// FromRow builds an instance from a row keyed by column name.
func (c *Class) FromRow(row map[string]any) *Instance {
	inst := c.New()
	for col, v := range row {
		inst.props[c.Property(col)] = v
	}
	return inst
}

func (i *Instance) Class() *Class { return i.class }

func (i *Instance) Get(prop string) (any, bool) {
	v, ok := i.props[prop]
	return v, ok
}

// Value returns the property value, nil when absent.
func (i *Instance) Value(prop string) any {
	return i.props[prop]
}

func (i *Instance) Set(prop string, v any) *Instance {
	i.props[prop] = v
	return i
}

func (i *Instance) Delete(prop string) {
	delete(i.props, prop)
}

func (i *Instance) Has(prop string) bool {
	_, ok := i.props[prop]
	return ok
}

// Transient reads a property stored under the transient prefix.
func (i *Instance) Transient(key string) (any, bool) {
	return i.Get(TransientPrefix + key)
}

func (i *Instance) SetTransient(key string, v any) *Instance {
	return i.Set(TransientPrefix+key, v)
}

// Hooks returns the per instance hooks, falling back to the class hooks.
func (i *Instance) Hooks() Hooks {
	if i.hooks != nil {
		return i.hooks
	}
	if i.class != nil {
		return i.class.Hooks()
	}
	return NopHooks{}
}

// SetHooks overrides the hooks for this instance only.
func (i *Instance) SetHooks(h Hooks) *Instance {
	i.hooks = h
	return i
}

// ToJSON returns a copy of the persistent properties.
func (i *Instance) ToJSON() map[string]any {
	ret := make(map[string]any, len(i.props))
	for k, v := range i.props {
		if strings.HasPrefix(k, TransientPrefix) {
			continue
		}
		ret[k] = v
	}
	return ret
}

func (i *Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.ToJSON())
}

// Clone copies the instance, transient properties and hooks included.
func (i *Instance) Clone() *Instance {
	return &Instance{class: i.class, props: maps.Clone(i.props), hooks: i.hooks}
}

// Merge sets every property of data on i.
func (i *Instance) Merge(data map[string]any) *Instance {
	maps.Copy(i.props, data)
	return i
}

// Properties returns sorted names of persistent properties.
func (i *Instance) Properties() []string {
	keys := make([]string, 0, len(i.props))
	for k := range i.props {
		if !strings.HasPrefix(k, TransientPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ColumnValues maps persistent properties to columns. Properties that are not
// declared columns of the class are left out.
func (i *Instance) ColumnValues() map[string]any {
	ret := make(map[string]any, len(i.props))
	for k, v := range i.props {
		if strings.HasPrefix(k, TransientPrefix) {
			continue
		}
		if col, ok := i.class.Column(k); ok {
			ret[col] = v
		}
	}
	return ret
}

// KeyValues reads the values of the given columns. missing lists the columns whose
// property is absent; a present nil value is not missing.
func (i *Instance) KeyValues(cols []string) (vals []any, missing []string) {
	vals = make([]any, len(cols))
	for n, col := range cols {
		v, ok := i.props[i.class.Property(col)]
		if !ok {
			missing = append(missing, col)
			continue
		}
		vals[n] = v
	}
	return vals, missing
}

// KeyOnly returns a new instance holding only the primary key properties.
func (i *Instance) KeyOnly() *Instance {
	k := i.class.New()
	for _, col := range i.class.PrimaryKey() {
		prop := i.class.Property(col)
		if v, ok := i.props[prop]; ok {
			k.props[prop] = v
		}
	}
	return k
}
