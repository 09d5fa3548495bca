package model

import "context"

// HookOptions is passed to every hook of one operation.
type HookOptions struct {
	// Old is the pre-mutation snapshot: the full instance for instance queries, the
	// key properties for by-id updates and belongs-to-one scopes. It is nil for
	// inserts, filtered model updates and has-many or many-to-many scopes, so
	// check it before use.
	Old   *Instance
	Patch bool
	OpID  string
}

// Hooks are the lifecycle callbacks of a mutation. BeforeValidate may return a
// replacement schema; returning nil keeps validation off for that call.
type Hooks interface {
	BeforeValidate(ctx context.Context, inst *Instance, schema map[string]any, opts *HookOptions) (map[string]any, error)
	AfterValidate(ctx context.Context, inst *Instance, opts *HookOptions) error
	BeforeInsert(ctx context.Context, inst *Instance, opts *HookOptions) error
	AfterInsert(ctx context.Context, inst *Instance, opts *HookOptions) error
	BeforeUpdate(ctx context.Context, inst *Instance, opts *HookOptions) error
	AfterUpdate(ctx context.Context, inst *Instance, opts *HookOptions) error
}

// NopHooks does nothing. Embed it to implement a subset of Hooks.
type NopHooks struct{}

func (NopHooks) BeforeValidate(_ context.Context, _ *Instance, schema map[string]any, _ *HookOptions) (map[string]any, error) {
	return schema, nil
}
func (NopHooks) AfterValidate(context.Context, *Instance, *HookOptions) error { return nil }
func (NopHooks) BeforeInsert(context.Context, *Instance, *HookOptions) error { return nil }
func (NopHooks) AfterInsert(context.Context, *Instance, *HookOptions) error { return nil }
func (NopHooks) BeforeUpdate(context.Context, *Instance, *HookOptions) error { return nil }
func (NopHooks) AfterUpdate(context.Context, *Instance, *HookOptions) error { return nil }

// HookFunc is the shape shared by every hook but BeforeValidate.
type HookFunc func(ctx context.Context, inst *Instance, opts *HookOptions) error

// HookFuncs implements Hooks from optional closures.
type HookFuncs struct {
	OnBeforeValidate func(ctx context.Context, inst *Instance, schema map[string]any, opts *HookOptions) (map[string]any, error)
	OnAfterValidate  HookFunc
	OnBeforeInsert   HookFunc
	OnAfterInsert    HookFunc
	OnBeforeUpdate   HookFunc
	OnAfterUpdate    HookFunc
}

func (h HookFuncs) BeforeValidate(ctx context.Context, inst *Instance, schema map[string]any, opts *HookOptions) (map[string]any, error) {
	if h.OnBeforeValidate == nil {
		return schema, nil
	}
	return h.OnBeforeValidate(ctx, inst, schema, opts)
}

func (h HookFuncs) AfterValidate(ctx context.Context, inst *Instance, opts *HookOptions) error {
	return call(ctx, h.OnAfterValidate, inst, opts)
}

func (h HookFuncs) BeforeInsert(ctx context.Context, inst *Instance, opts *HookOptions) error {
	return call(ctx, h.OnBeforeInsert, inst, opts)
}

func (h HookFuncs) AfterInsert(ctx context.Context, inst *Instance, opts *HookOptions) error {
	return call(ctx, h.OnAfterInsert, inst, opts)
}

func (h HookFuncs) BeforeUpdate(ctx context.Context, inst *Instance, opts *HookOptions) error {
	return call(ctx, h.OnBeforeUpdate, inst, opts)
}

func (h HookFuncs) AfterUpdate(ctx context.Context, inst *Instance, opts *HookOptions) error {
	return call(ctx, h.OnAfterUpdate, inst, opts)
}

func call(ctx context.Context, fn HookFunc, inst *Instance, opts *HookOptions) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, inst, opts)
}
