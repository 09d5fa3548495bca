package core

import (
	"sync"

	"github.com/everpan/idorm/pkg/config"
	"github.com/everpan/idorm/pkg/orm"
	"github.com/gofiber/fiber/v2"
)

type Context struct {
	fb *fiber.Ctx
	db *orm.DB
}

var (
	ctxPool = sync.Pool{New: func() interface{} { return &Context{} }}
)

type Route struct {
	Path     string
	Handler  HandleFunc
	Method   string
	Children []*Route
}

type HandleFunc func(c *Context) error

func AcquireContext() *Context {
	return ctxPool.Get().(*Context)
}

func ReleaseContext(c *Context) {
	c.fb = nil
	c.db = nil
	ctxPool.Put(c)
}

func (c *Context) Fiber() *fiber.Ctx {
	return c.fb
}

func (c *Context) DB() *orm.DB {
	return c.db
}

// FromFiber binds the request to the datasource named by the
// config.DataSourceHeader header, the default one when absent.
func (c *Context) FromFiber(fb *fiber.Ctx) error {
	c.fb = fb
	var err error
	c.db, err = GetDB(fb.Get(config.DataSourceHeader, config.DefaultDataSourceName))
	return err
}

func HandlerExec(fb *fiber.Ctx, handler HandleFunc) error {
	c := AcquireContext()
	defer ReleaseContext(c)
	if err := c.FromFiber(fb); err != nil {
		return c.SendBadRequestError(err)
	}
	return handler(c)
}
