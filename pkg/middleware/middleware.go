// Package middleware provides HTTP middleware for request logging and CORS.
package middleware

import "net/http"

// Func wraps an http.Handler with additional behavior.
type Func func(http.Handler) http.Handler

// Stack is an ordered list of middleware applied outermost-first.
type Stack []Func

// Use appends mw to the stack.
func (s *Stack) Use(mw Func) {
	*s = append(*s, mw)
}

// Apply wraps handler so the first middleware added runs first.
func (s Stack) Apply(handler http.Handler) http.Handler {
	for i := len(s) - 1; i >= 0; i-- {
		handler = s[i](handler)
	}
	return handler
}
