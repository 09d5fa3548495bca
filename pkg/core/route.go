package core

import (
	"sync"

	"github.com/gofiber/fiber/v2"
)

var (
	allRoute []*Route
	routeMu  sync.Mutex
)

func RegisterRouter(routes []*Route) {
	routeMu.Lock()
	defer routeMu.Unlock()
	allRoute = append(allRoute, routes...)
}

func apply(router fiber.Router, routes []*Route) {
	for _, route := range routes {
		route := route
		if route.Children != nil {
			apply(router.Group(route.Path), route.Children)
			continue
		}
		h := func(c *fiber.Ctx) error {
			return HandlerExec(c, route.Handler)
		}
		if len(route.Method) > 0 {
			router.Add(route.Method, route.Path, h)
		} else {
			router.Group(route.Path, h)
		}
	}
}

// Use mounts every registered route under /api/v1.
func Use(app *fiber.App) {
	routeMu.Lock()
	defer routeMu.Unlock()
	router := app.Group("/api/v1")
	apply(router, allRoute)
}
