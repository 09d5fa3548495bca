// Package handler exposes the query facade over http, see core.Use.
package handler

import (
	"fmt"

	"github.com/everpan/idorm/pkg/core"
	"github.com/everpan/idorm/pkg/errs"
	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/orm"
	"github.com/everpan/idorm/pkg/query"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

var modelRoutes = []*core.Route{
	{
		Path: "/model/:model",
		Children: []*core.Route{
			{Path: "/meta", Handler: getMeta, Method: fiber.MethodGet},
			{Path: "/select", Handler: selectPost, Method: fiber.MethodPost},
			{Path: "/select/:q", Handler: selectParam, Method: fiber.MethodGet},
			{Path: "/insert", Handler: insertPost, Method: fiber.MethodPost},
			{Path: "/update", Handler: updatePost(query.OpUpdate), Method: fiber.MethodPost},
			{Path: "/patch", Handler: updatePost(query.OpPatch), Method: fiber.MethodPost},
			{Path: "/delete", Handler: deletePost, Method: fiber.MethodPost},
		},
	},
}

func init() {
	core.RegisterRouter(modelRoutes)
}

// request is query.Body plus the keys that pick the rows by identity.
type request struct {
	*query.Body
	// ID 主键值, 复合主键时为数组
	ID     any
	Owners []map[string]any
}

func parseRequest(data []byte) (*request, error) {
	body, err := query.Parse(data)
	if err != nil {
		return nil, err
	}
	req := &request{Body: body}
	if len(data) == 0 {
		return req, nil
	}
	var extra struct {
		ID     any              `json:"id"`
		Owners []map[string]any `json:"owners"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, err
	}
	req.ID, req.Owners = extra.ID, extra.Owners
	return req, nil
}

func modelClass(c *core.Context) (*model.Class, error) {
	name := c.Fiber().Params("model")
	if name == "" {
		return nil, fmt.Errorf("no model specified")
	}
	return c.DB().Registry().Class(name)
}

// applyBody copies select, where, order and limit onto a select query.
func applyBody(qb *orm.QueryBuilder, b *query.Body) *orm.QueryBuilder {
	if len(b.Columns) > 0 {
		qb.Select(b.Columns...)
	}
	qb.ApplyWheres(b.Wheres)
	for _, o := range b.Orders {
		qb.OrderBy(o.Col, o.Option)
	}
	if b.Limit != nil {
		qb.Limit(b.Limit.Num, b.Limit.Offset)
	}
	return qb
}

// keyInstance turns an id into an instance holding only the primary key.
func keyInstance(cls *model.Class, id any) (*model.Instance, error) {
	pk := cls.PrimaryKey()
	vals, ok := id.([]any)
	if !ok {
		vals = []any{id}
	}
	if len(vals) != len(pk) {
		return nil, errs.NewConfigurationError(cls.Name(), "", "id needs %d values, got %d", len(pk), len(vals))
	}
	inst := cls.New()
	for i, col := range pk {
		inst.Set(cls.Property(col), vals[i])
	}
	return inst, nil
}

func affected(n int64) fiber.Map {
	return fiber.Map{"affected": n}
}
