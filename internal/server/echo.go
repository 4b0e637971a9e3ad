package server

import (
	"github.com/labstack/echo/v4"
)

// Mount attaches the router's handlers to an existing echo application, for
// deployments that embed the agent API into a larger server.
func Mount(e *echo.Echo, r *Router) {
	h := echo.WrapHandler(r.Handler())
	base := r.basePath
	if base == "" {
		e.Any("/*", h)
		return
	}
	e.Any(base, h)
	e.Any(base+"/*", h)
}
