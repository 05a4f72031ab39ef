// File: router/router.go
// Package router implements a typed URL router: an ordered sequence of
// {compiled regex, parameter types, handler} entries, first-match-wins,
// with method filtering and not-found/method-not-allowed outcomes. Capture
// groups parse into typed Params before the handler runs.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package router

import (
	"fmt"
	"regexp"

	"github.com/momentics/hioload-http/api"
)

// Method is an HTTP method filter; nil/empty Methods on a Route means "any".
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodPatch   Method = "PATCH"
)

// Handler is invoked with the typed captures for a matched route plus an
// ambient Context. Handlers return `any`; the caller type-switches on the
// result at the dispatch site.
type Handler func(ctx *Context, params []Param) (any, error)

// Context is the ambient per-request object threaded through dispatch.
// Deliberately open-ended; callers stash request/response handles here.
type Context struct {
	Method string
	Path   string
	Values map[string]any
}

// NewContext returns an empty Context for method/path.
func NewContext(method, path string) *Context {
	return &Context{Method: method, Path: path, Values: make(map[string]any)}
}

type route struct {
	re      *regexp.Regexp
	types   []ParamType
	methods map[Method]bool // empty/nil means "any"
	handler Handler
}

// Router is an ordered, first-match-wins table of routes.
type Router struct {
	routes []*route
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle compiles pattern (a regex literal whose capture groups correspond
// positionally to types) and registers handler for it, optionally
// restricted to methods. Patterns compile once, at registration time.
func (r *Router) Handle(pattern string, types []ParamType, methods []Method, handler Handler) error {
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return fmt.Errorf("router: compile pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() != len(types) {
		return fmt.Errorf("router: pattern %q has %d capture groups, types has %d", pattern, re.NumSubexp(), len(types))
	}
	var mset map[Method]bool
	if len(methods) > 0 {
		mset = make(map[Method]bool, len(methods))
		for _, m := range methods {
			mset[m] = true
		}
	}
	r.routes = append(r.routes, &route{re: re, types: types, methods: mset, handler: handler})
	return nil
}

// Outcome tags a Dispatch result.
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNotFound
	OutcomeMethodNotAllowed
	OutcomeBadRequest
)

// Dispatch matches path+method against the table in declaration order and
// invokes the first full match's handler.
func (r *Router) Dispatch(method, path string) (Outcome, any, error) {
	sawPathMatch := false
	for _, rt := range r.routes {
		m := rt.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		sawPathMatch = true
		if rt.methods != nil && !rt.methods[Method(method)] {
			continue
		}
		params := make([]Param, len(rt.types))
		for i, t := range rt.types {
			p, err := parseParam(t, m[i+1])
			if err != nil {
				return OutcomeBadRequest, nil, api.NewError(api.ErrCodeInvalidArgument, err.Error()).
					WithContext("path", path).WithContext("capture", i)
			}
			params[i] = p
		}
		ctx := NewContext(method, path)
		result, err := rt.handler(ctx, params)
		return OutcomeMatched, result, err
	}
	if sawPathMatch {
		return OutcomeMethodNotAllowed, nil, nil
	}
	return OutcomeNotFound, nil, nil
}
