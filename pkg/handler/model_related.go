package handler

import (
	"github.com/everpan/idorm/pkg/core"
	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/orm"
	"github.com/gofiber/fiber/v2"
)

// 关联查询, owners 为 owner 模型的主键值
//
//	{"owners":[{"id":1}],"where":[...],"vals":{...}}
var relatedRoutes = []*core.Route{
	{
		Path: "/model/:model/related/:relation",
		Children: []*core.Route{
			{Path: "/select", Handler: relatedSelect, Method: fiber.MethodPost},
			{Path: "/insert", Handler: relatedInsert, Method: fiber.MethodPost},
			{Path: "/update", Handler: relatedUpdate(false), Method: fiber.MethodPost},
			{Path: "/patch", Handler: relatedUpdate(true), Method: fiber.MethodPost},
			{Path: "/delete", Handler: relatedDelete, Method: fiber.MethodPost},
		},
	},
}

func init() {
	core.RegisterRouter(relatedRoutes)
}

func relatedQuery(c *core.Context) (*orm.QueryBuilder, *request, error) {
	cls, err := modelClass(c)
	if err != nil {
		return nil, nil, err
	}
	req, err := parseRequest(c.Fiber().Body())
	if err != nil {
		return nil, nil, err
	}
	if len(req.Owners) == 0 {
		return nil, nil, errs.NewConfigurationError(cls.Name(), c.Fiber().Params("relation"), "owners are required")
	}
	owners := make([]*model.Instance, len(req.Owners))
	for i, o := range req.Owners {
		owners[i] = cls.FromJSON(o)
	}
	return c.DB().RelatedQueryFor(cls, owners, c.Fiber().Params("relation")), req, nil
}

func relatedSelect(c *core.Context) error {
	qb, req, err := relatedQuery(c)
	if err != nil {
		return c.SendError(err)
	}
	rows, err := applyBody(qb, req.Body).Find(c.Fiber().UserContext())
	if err != nil {
		return c.SendError(err)
	}
	return c.SendSuccess(rows)
}

func relatedInsert(c *core.Context) error {
	qb, req, err := relatedQuery(c)
	if err != nil {
		return c.SendError(err)
	}
	inst, err := qb.InsertAndFetch(c.Fiber().UserContext(), req.Values)
	if err != nil {
		return c.SendError(err)
	}
	return c.SendSuccess(inst)
}

func relatedUpdate(patch bool) core.HandleFunc {
	return func(c *core.Context) error {
		qb, req, err := relatedQuery(c)
		if err != nil {
			return c.SendError(err)
		}
		if patch {
			qb.Patch(req.Values)
		} else {
			qb.Update(req.Values)
		}
		n, err := qb.ApplyWheres(req.Wheres).Exec(c.Fiber().UserContext())
		if err != nil {
			return c.SendError(err)
		}
		return c.SendSuccess(affected(n))
	}
}

func relatedDelete(c *core.Context) error {
	qb, req, err := relatedQuery(c)
	if err != nil {
		return c.SendError(err)
	}
	n, err := qb.Delete().ApplyWheres(req.Wheres).Exec(c.Fiber().UserContext())
	if err != nil {
		return c.SendError(err)
	}
	return c.SendSuccess(affected(n))
}
