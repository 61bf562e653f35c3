package router

import (
	"net/http"
	"slices"
	"strings"

	"github.com/relaynode/relaynode/pkg/errors"
)

// Router dispatches on exact path and method. Unknown paths get a JSON 404,
// known paths with the wrong method a JSON 405 with an Allow header.
type Router struct {
	routes map[string]map[string]http.HandlerFunc
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{routes: make(map[string]map[string]http.HandlerFunc)}
}

// Register adds handler for method on path, replacing any earlier one.
func (r *Router) Register(method, path string, handler http.HandlerFunc) {
	methods, ok := r.routes[path]
	if !ok {
		methods = make(map[string]http.HandlerFunc)
		r.routes[path] = methods
	}
	methods[strings.ToUpper(method)] = handler
}

// Get registers a GET route.
func (r *Router) Get(path string, handler http.HandlerFunc) {
	r.Register(http.MethodGet, path, handler)
}

// Post registers a POST route.
func (r *Router) Post(path string, handler http.HandlerFunc) {
	r.Register(http.MethodPost, path, handler)
}

// Match returns the handler for method and path. known reports whether
// the path exists under any method.
func (r *Router) Match(method, path string) (handler http.HandlerFunc, known bool) {
	methods, ok := r.routes[path]
	if !ok {
		return nil, false
	}
	return methods[strings.ToUpper(method)], true
}

// Allowed lists the methods registered for path, sorted.
func (r *Router) Allowed(path string) []string {
	methods := make([]string, 0, len(r.routes[path]))
	for m := range r.routes[path] {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler, known := r.Match(req.Method, req.URL.Path)
	switch {
	case handler != nil:
		handler(w, req)
	case known:
		w.Header().Set("Allow", strings.Join(r.Allowed(req.URL.Path), ", "))
		errors.WriteErrorResponse(w, errors.NewMethodNotAllowedError(req.Method))
	default:
		errors.WriteErrorResponse(w, errors.NewNotFoundError(req.URL.Path))
	}
}
