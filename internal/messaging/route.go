package messaging

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// RouteParams holds the named segments captured by a RouteMatcher.
type RouteParams map[string]string

// RouteMatcher is a compiled path pattern.
type RouteMatcher interface {
	// Match returns the captured parameters if path matches the pattern.
	Match(path string) (RouteParams, bool)
	Pattern() string
}

// NewRouteMatcher compiles pattern. The syntax is httprouter's: ":name" binds
// one segment and "*name" binds the rest of the path. Patterns and paths are
// rooted; a missing leading slash is implied, so "echo" matches "echo".
func NewRouteMatcher(pattern string) (m RouteMatcher, err error) {
	rooted := rooted(pattern)

	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false

	// httprouter reports malformed patterns by panicking.
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w %q: %v", ErrInvalidRoute, pattern, r)
		}
	}()
	router.Handle(http.MethodGet, rooted, func(http.ResponseWriter, *http.Request, httprouter.Params) {})

	return &routeMatcher{pattern: pattern, router: router}, nil
}

// MustRouteMatcher is like NewRouteMatcher but panics on an invalid pattern.
func MustRouteMatcher(pattern string) RouteMatcher {
	m, err := NewRouteMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

type routeMatcher struct {
	pattern string
	router  *httprouter.Router
}

func (m *routeMatcher) Pattern() string {
	return m.pattern
}

func (m *routeMatcher) Match(path string) (RouteParams, bool) {
	handle, ps, _ := m.router.Lookup(http.MethodGet, rooted(path))
	if handle == nil {
		return nil, false
	}
	params := make(RouteParams, len(ps))
	for _, p := range ps {
		params[p.Key] = p.Value
	}
	return params, true
}

func rooted(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
