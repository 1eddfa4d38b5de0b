// Package routes declares HTTP route groups and registers them on a ServeMux.
package routes

import "net/http"

// Route binds an HTTP method and pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Group organizes routes under a common prefix. Wrap, when set, is applied to
// every handler in the group and its children.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
	Wrap     func(http.HandlerFunc) http.HandlerFunc
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	for _, group := range groups {
		registerGroup(mux, "", nil, group)
	}
}

// Patterns returns the full "METHOD /path" patterns a group registers, in declaration order.
func Patterns(group Group) []string {
	var out []string
	walk("", group, func(pattern string, _ http.HandlerFunc) {
		out = append(out, pattern)
	})
	return out
}

func registerGroup(mux *http.ServeMux, parentPrefix string, parentWrap func(http.HandlerFunc) http.HandlerFunc, group Group) {
	wrap := chain(parentWrap, group.Wrap)
	fullPrefix := parentPrefix + group.Prefix

	for _, route := range group.Routes {
		handler := route.Handler
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.HandleFunc(route.Method+" "+fullPrefix+route.Pattern, handler)
	}
	for _, child := range group.Children {
		registerGroup(mux, fullPrefix, wrap, child)
	}
}

func walk(parentPrefix string, group Group, fn func(string, http.HandlerFunc)) {
	fullPrefix := parentPrefix + group.Prefix
	for _, route := range group.Routes {
		fn(route.Method+" "+fullPrefix+route.Pattern, route.Handler)
	}
	for _, child := range group.Children {
		walk(fullPrefix, child, fn)
	}
}

func chain(outer, inner func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	switch {
	case outer == nil:
		return inner
	case inner == nil:
		return outer
	}
	return func(h http.HandlerFunc) http.HandlerFunc {
		return outer(inner(h))
	}
}
