package handler

import (
	"encoding/base64"
	"fmt"

	"github.com/everpan/idorm/pkg/core"
	"github.com/everpan/idorm/pkg/model"
)

// jsonMeta 是 meta 接口的返回结构
type jsonMeta struct {
	Name       string               `json:"name"`
	Table      string               `json:"table"`
	Columns    []model.Column       `json:"columns"`
	PrimaryKey []string             `json:"primary_key"`
	Schema     map[string]any       `json:"schema,omitempty"`
	Relations  []*model.RelationDef `json:"relations,omitempty"`
}

func getMeta(c *core.Context) error {
	cls, err := modelClass(c)
	if err != nil {
		return c.SendError(err)
	}
	def := cls.Definition()
	m := &jsonMeta{
		Name:       cls.Name(),
		Table:      cls.Table(),
		Columns:    cls.Columns(),
		PrimaryKey: cls.PrimaryKey(),
		Schema:     cls.Schema(),
	}
	for i := range def.Relations {
		m.Relations = append(m.Relations, &def.Relations[i])
	}
	return c.SendSuccess(m)
}

func selectParam(c *core.Context) error {
	q := c.Fiber().Params("q")
	if q == "" {
		return c.SendBadRequestError(fmt.Errorf("q is empty"))
	}
	data, err := base64.URLEncoding.DecodeString(q)
	if err != nil {
		return c.SendBadRequestError(err)
	}
	return selectData(c, data)
}

func selectPost(c *core.Context) error {
	return selectData(c, c.Fiber().Body())
}

// selectData 按 query dsl 查询模型数据
func selectData(c *core.Context, data []byte) error {
	cls, err := modelClass(c)
	if err != nil {
		return c.SendError(err)
	}
	req, err := parseRequest(data)
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
	}
	rows, err := applyBody(qb, req.Body).Find(c.Fiber().UserContext())
	if err != nil {
		return c.SendError(err)
	}
	return c.SendSuccess(rows)
}
