package web

import (
	"fmt"
	"net/http"
)

// Interceptor hooks into request handling around the handler.
//
// PreHandle runs in registration order; returning false stops the request
// and the interceptor must have written a response. PostHandle runs in
// reverse order after a successful handler, before the view is rendered.
// It runs even when the handler wrote the response itself and returned a
// nil ModelAndView, in which case mv is nil.
// OnException runs in reverse order when the handler fails.
// AfterCompletion runs in reverse order for every interceptor whose
// PreHandle returned true, however the request ended.
type Interceptor interface {
	PreHandle(w http.ResponseWriter, rc *RequestContext) (bool, error)
	PostHandle(w http.ResponseWriter, rc *RequestContext, mv *ModelAndView) error
	OnException(w http.ResponseWriter, rc *RequestContext, err error)
	AfterCompletion(w http.ResponseWriter, rc *RequestContext, err error)
}

// InterceptorAdapter implements every hook as a no-op. Embed it and
// override the hooks you need.
type InterceptorAdapter struct{}

func (InterceptorAdapter) PreHandle(http.ResponseWriter, *RequestContext) (bool, error) {
	return true, nil
}

func (InterceptorAdapter) PostHandle(http.ResponseWriter, *RequestContext, *ModelAndView) error {
	return nil
}

func (InterceptorAdapter) OnException(http.ResponseWriter, *RequestContext, error) {}

func (InterceptorAdapter) AfterCompletion(http.ResponseWriter, *RequestContext, error) {}

// InterceptorEntry scopes an interceptor to path patterns. Without include
// patterns it applies to every path; exclude patterns always win.
type InterceptorEntry struct {
	Interceptor Interceptor
	include     []*Pattern
	exclude     []*Pattern
	err         error
}

// AddPathPatterns limits the interceptor to paths matching any pattern.
func (e *InterceptorEntry) AddPathPatterns(patterns ...string) *InterceptorEntry {
	e.include = e.appendPatterns(e.include, patterns)
	return e
}

// ExcludePathPatterns skips the interceptor for paths matching any pattern.
func (e *InterceptorEntry) ExcludePathPatterns(patterns ...string) *InterceptorEntry {
	e.exclude = e.appendPatterns(e.exclude, patterns)
	return e
}

func (e *InterceptorEntry) appendPatterns(dst []*Pattern, patterns []string) []*Pattern {
	for _, p := range patterns {
		pat, err := CompilePattern(p)
		if err != nil {
			if e.err == nil {
				e.err = fmt.Errorf("interceptor pattern: %w", err)
			}
			continue
		}
		dst = append(dst, pat)
	}
	return dst
}

// Err returns the first pattern compile error, if any.
func (e *InterceptorEntry) Err() error {
	return e.err
}

// Applies reports whether the interceptor runs for path.
func (e *InterceptorEntry) Applies(path string) bool {
	for _, p := range e.exclude {
		if p.Matches(path) {
			return false
		}
	}
	if len(e.include) == 0 {
		return true
	}
	for _, p := range e.include {
		if p.Matches(path) {
			return true
		}
	}
	return false
}

// chain is the list of interceptors applying to one request and how far
// PreHandle got.
type chain struct {
	interceptors []Interceptor
	entered      int
}

func newChain(entries []*InterceptorEntry, path string) *chain {
	c := &chain{}
	for _, e := range entries {
		if e.Applies(path) {
			c.interceptors = append(c.interceptors, e.Interceptor)
		}
	}
	return c
}

// preHandle runs PreHandle in order and stops at the first false or error.
func (c *chain) preHandle(w http.ResponseWriter, rc *RequestContext) (bool, error) {
	for _, i := range c.interceptors {
		ok, err := i.PreHandle(w, rc)
		if err != nil || !ok {
			return false, err
		}
		c.entered++
	}
	return true, nil
}

func (c *chain) postHandle(w http.ResponseWriter, rc *RequestContext, mv *ModelAndView) error {
	for i := c.entered - 1; i >= 0; i-- {
		if err := c.interceptors[i].PostHandle(w, rc, mv); err != nil {
			return err
		}
	}
	return nil
}

func (c *chain) onException(w http.ResponseWriter, rc *RequestContext, err error) {
	for i := c.entered - 1; i >= 0; i-- {
		c.interceptors[i].OnException(w, rc, err)
	}
}

func (c *chain) afterCompletion(w http.ResponseWriter, rc *RequestContext, err error) {
	for i := c.entered - 1; i >= 0; i-- {
		c.interceptors[i].AfterCompletion(w, rc, err)
	}
}
