package relation

import (
	"fmt"
	"strings"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/query"
	"xorm.io/builder"
)

// Descriptor 描述 owner 模型与 related 模型之间的关系
type Descriptor interface {
	Name() string
	Kind() model.Kind
	Owner() *model.Class
	Related() *model.Class
	// FilterForOwner 限定 related 表中可由 owners 到达的行; owners 为空时不匹配任何行
	FilterForOwner(owners []*model.Instance) (builder.Cond, error)
	// ApplyToMutation 将 owner 过滤条件与请求中调用方的条件做 AND
	ApplyToMutation(req *query.Request, owners []*model.Instance) error
	// ApplyToInsert 为新建的 related 实例填充关联键
	ApplyToInsert(inst *model.Instance, owners []*model.Instance) error
}

// Resolve 返回 cls 上名为 name 的关系
func Resolve(reg *model.Registry, cls *model.Class, name string, d query.Dialect) (Descriptor, error) {
	rel, err := reg.Relation(cls, name)
	if err != nil {
		return nil, err
	}
	return New(rel, d)
}

// New 根据关系类型创建 Descriptor
func New(rel *model.Relation, d query.Dialect) (Descriptor, error) {
	b := base{rel: rel, dialect: d}
	switch rel.Kind {
	case model.BelongsToOne:
		return &BelongsToOne{b}, nil
	case model.HasMany:
		return &HasMany{b}, nil
	case model.ManyToMany:
		return &ManyToMany{b}, nil
	default:
		return nil, errs.NewConfigurationError(rel.Owner.Name(), rel.Name, "unknown relation kind '%s'", rel.Kind)
	}
}

type base struct {
	rel     *model.Relation
	dialect query.Dialect
}

func (b base) Name() string { return b.rel.Name }
func (b base) Kind() model.Kind { return b.rel.Kind }
func (b base) Owner() *model.Class { return b.rel.Owner }
func (b base) Related() *model.Class { return b.rel.Related }

// ownerKeys 读取每个 owner 的 cols 值, 缺少键属性时返回 RelationKeyMissingError
func (b base) ownerKeys(owners []*model.Instance, cols []string) ([][]any, error) {
	tuples := make([][]any, 0, len(owners))
	for _, o := range owners {
		if o == nil {
			continue
		}
		if o.Class() != b.rel.Owner {
			return nil, errs.NewConfigurationError(b.rel.Owner.Name(), b.rel.Name,
				"owner is an instance of '%s'", o.Class().Name())
		}
		vals, missing := o.KeyValues(cols)
		if len(missing) > 0 {
			return nil, &errs.RelationKeyMissingError{Model: b.rel.Owner.Name(), Relation: b.rel.Name, Columns: missing}
		}
		tuples = append(tuples, vals)
	}
	return tuples, nil
}

func (b base) apply(d Descriptor, req *query.Request, owners []*model.Instance) error {
	if req.Class != b.rel.Related {
		return errs.NewConfigurationError(b.rel.Owner.Name(), b.rel.Name,
			"request targets '%s', relation targets '%s'", req.Class.Name(), b.rel.Related.Name())
	}
	cond, err := d.FilterForOwner(owners)
	if err != nil {
		return err
	}
	req.Scope(cond)
	return nil
}

func (b base) noInsert() error {
	return errs.NewConfigurationError(b.rel.Owner.Name(), b.rel.Name, "insert through a %s relation is not supported", b.rel.Kind)
}

// BelongsToOne 外键在 owner 上, 指向 related 的主键
type BelongsToOne struct{ base }

func (r *BelongsToOne) FilterForOwner(owners []*model.Instance) (builder.Cond, error) {
	tuples, err := r.ownerKeys(owners, r.rel.From)
	if err != nil {
		return nil, err
	}
	return query.KeyIn(r.dialect, r.rel.Related.QualifyAll(r.rel.To), tuples), nil
}

func (r *BelongsToOne) ApplyToMutation(req *query.Request, owners []*model.Instance) error {
	return r.apply(r, req, owners)
}

func (r *BelongsToOne) ApplyToInsert(*model.Instance, []*model.Instance) error {
	return r.noInsert()
}

// TargetKey 返回 owner 指向的 related 实例, 只含主键
func (r *BelongsToOne) TargetKey(owner *model.Instance) (*model.Instance, error) {
	tuples, err := r.ownerKeys([]*model.Instance{owner}, r.rel.From)
	if err != nil {
		return nil, err
	}
	inst := r.rel.Related.New()
	for i, col := range r.rel.To {
		inst.Set(r.rel.Related.Property(col), tuples[0][i])
	}
	return inst, nil
}

// HasMany 外键在 related 上, 指向 owner 的主键
type HasMany struct{ base }

func (r *HasMany) FilterForOwner(owners []*model.Instance) (builder.Cond, error) {
	tuples, err := r.ownerKeys(owners, r.rel.From)
	if err != nil {
		return nil, err
	}
	return query.KeyIn(r.dialect, r.rel.Related.QualifyAll(r.rel.To), tuples), nil
}

func (r *HasMany) ApplyToMutation(req *query.Request, owners []*model.Instance) error {
	return r.apply(r, req, owners)
}

// ApplyToInsert 用唯一 owner 的主键设置 related 的外键
func (r *HasMany) ApplyToInsert(inst *model.Instance, owners []*model.Instance) error {
	if len(owners) != 1 {
		return errs.NewConfigurationError(r.rel.Owner.Name(), r.rel.Name, "insert needs exactly one owner, got %d", len(owners))
	}
	tuples, err := r.ownerKeys(owners, r.rel.From)
	if err != nil {
		return err
	}
	if len(tuples) == 0 {
		return errs.NewConfigurationError(r.rel.Owner.Name(), r.rel.Name, "insert needs exactly one owner, got 0")
	}
	for i, col := range r.rel.To {
		inst.Set(r.rel.Related.Property(col), tuples[0][i])
	}
	return nil
}

// ManyToMany 通过中间表关联, 中间表不是模型
type ManyToMany struct{ base }

func (r *ManyToMany) joinCols(cols []string) []string {
	ret := make([]string, len(cols))
	for i, c := range cols {
		ret[i] = r.rel.Through.Table + "." + c
	}
	return ret
}

// FilterForOwner 生成 related.pk IN (SELECT join.to FROM join WHERE join.from IN (owner.pk))
func (r *ManyToMany) FilterForOwner(owners []*model.Instance) (builder.Cond, error) {
	tuples, err := r.ownerKeys(owners, r.rel.From)
	if err != nil {
		return nil, err
	}
	if len(query.NonNullTuples(tuples)) == 0 {
		return query.Never(), nil
	}
	ownerCond := query.KeyIn(r.dialect, r.joinCols(r.rel.Through.From), tuples)
	related := r.rel.Related.QualifyAll(r.rel.To)
	joinTo := r.joinCols(r.rel.Through.To)
	if len(related) == 1 {
		sub := builder.Select(joinTo...).From(r.rel.Through.Table).Where(ownerCond)
		return builder.In(related[0], sub), nil
	}
	if r.dialect.TupleIn {
		sql, args, err := builder.Select(joinTo...).From(r.rel.Through.Table).Where(ownerCond).ToSQL()
		if err != nil {
			return nil, err
		}
		return builder.Expr(fmt.Sprintf("(%s) IN (%s)", strings.Join(related, ","), sql), args...), nil
	}
	links := make([]builder.Cond, 0, len(related)+1)
	for i := range related {
		links = append(links, builder.Expr(joinTo[i]+"="+related[i]))
	}
	links = append(links, ownerCond)
	sql, args, err := builder.Select("1").From(r.rel.Through.Table).Where(builder.And(links...)).ToSQL()
	if err != nil {
		return nil, err
	}
	return builder.Expr("EXISTS ("+sql+")", args...), nil
}

func (r *ManyToMany) ApplyToMutation(req *query.Request, owners []*model.Instance) error {
	return r.apply(r, req, owners)
}

func (r *ManyToMany) ApplyToInsert(*model.Instance, []*model.Instance) error {
	return r.noInsert()
}
