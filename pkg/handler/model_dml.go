package handler

import (
	"github.com/everpan/idorm/pkg/core"
	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/query"
)

func insertPost(c *core.Context) error {
	cls, err := modelClass(c)
	if err != nil {
		return c.SendError(err)
	}
	req, err := parseRequest(c.Fiber().Body())
	if err != nil {
		return c.SendBadRequestError(err)
	}
	inst, err := c.DB().QueryFor(cls).InsertAndFetch(c.Fiber().UserContext(), req.Values)
	if err != nil {
		return c.SendError(err)
	}
	return c.SendSuccess(inst)
}

// updatePost 指定 id 时更新单行并返回最新数据, 否则按 where 批量更新
func updatePost(op query.Op) core.HandleFunc {
	return func(c *core.Context) error {
		cls, err := modelClass(c)
		if err != nil {
			return c.SendError(err)
		}
		req, err := parseRequest(c.Fiber().Body())
		if err != nil {
			return c.SendBadRequestError(err)
		}
		ctx := c.Fiber().UserContext()
		qb := c.DB().QueryFor(cls)
		if req.ID != nil {
			ids, ok := req.ID.([]any)
			id := req.ID
			if ok && len(ids) == 1 {
				id = ids[0]
			}
			if op == query.OpPatch {
				inst, err := qb.PatchAndFetchByID(ctx, id, req.Values)
				if err != nil {
					return c.SendError(err)
				}
				return c.SendSuccess(inst)
			}
			inst, err := qb.UpdateAndFetchByID(ctx, id, req.Values)
			if err != nil {
				return c.SendError(err)
			}
			return c.SendSuccess(inst)
		}

		if op == query.OpPatch {
			qb.Patch(req.Values)
		} else {
			qb.Update(req.Values)
		}
		n, err := qb.ApplyWheres(req.Wheres).Exec(ctx)
		if err != nil {
			return c.SendError(err)
		}
		return c.SendSuccess(affected(n))
	}
}

func deletePost(c *core.Context) error {
	cls, err := modelClass(c)
	if err != nil {
		return c.SendError(err)
	}
	req, err := parseRequest(c.Fiber().Body())
	if err != nil {
		return c.SendBadRequestError(err)
	}
	qb := c.DB().QueryFor(cls)
	if req.ID != nil {
		key, err := keyInstance(cls, req.ID)
		if err != nil {
			return c.SendError(err)
		}
		qb = c.DB().InstanceQuery(key)
	} else if len(req.Wheres) == 0 {
		return c.SendError(errs.NewConfigurationError(cls.Name(), "", "delete needs an id or a where"))
	}
	n, err := qb.Delete().ApplyWheres(req.Wheres).Exec(c.Fiber().UserContext())
	if err != nil {
		return c.SendError(err)
	}
	return c.SendSuccess(affected(n))
}
