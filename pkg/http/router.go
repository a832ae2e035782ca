package xhttp

import (
	"github.com/fasthttp/router"
)

type Router = router.Router

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter answers unmatched paths and methods with the same
// JSON error body the API handlers use.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	writeRouteError(ctx, StatusNotFound, "not_found")
}

// MethodNotAllowedHandler keeps the Allow header the router already set.
func MethodNotAllowedHandler(ctx *RequestCtx) {
	writeRouteError(ctx, StatusMethodNotAllowed, "method_not_allowed")
}

func writeRouteError(ctx *RequestCtx, status int, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"` + StatusText(status) + `","code":"` + code + `"}`)
}
