// Package web dispatches HTTP requests to handlers through an interceptor
// chain and renders the resulting views.
//
// Routes are registered explicitly with Ant-style patterns. For each
// request the Dispatcher resolves the locale, builds a RequestContext,
// runs the interceptors that apply to the path, calls the handler and
// resolves the returned view name through a view.Resolver.
//
// Example usage:
//
//	d := web.NewDispatcher(
//	    web.WithViews(views),
//	    web.WithLocaleResolver(locales),
//	    web.WithSessions(sessions),
//	    web.WithStatic("/resources/", fs, "resources"),
//	)
//	d.AddInterceptor(web.NewLocaleChangeInterceptor("lang", locales))
//	d.AddInterceptor(web.NewSessionInterceptor("user", "/login")).AddPathPatterns("/work")
//	d.Handle(http.MethodGet, "/users/{id}", showUser)
package web

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/i18n"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/session"
	"github.com/Combine-Capital/cqweb/pkg/view"
)

// ModelAndView names the view to render and the model to render it with.
// An empty ViewName is derived from the request path.
type ModelAndView struct {
	ViewName string
	Model    view.Model
	Status   int // 0 means 200
}

// NewModelAndView creates a ModelAndView with an empty model.
func NewModelAndView(viewName string) *ModelAndView {
	return &ModelAndView{ViewName: viewName, Model: view.Model{}}
}

// AddObject adds a model entry.
func (mv *ModelAndView) AddObject(key string, value any) *ModelAndView {
	if mv.Model == nil {
		mv.Model = view.Model{}
	}
	mv.Model[key] = value
	return mv
}

// Handler serves one route. Returning a nil ModelAndView means the
// handler wrote the response itself.
type Handler func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error)

// ExceptionHandler may turn a handler error into a response. It reports
// whether it handled err; a nil ModelAndView then means it wrote the
// response itself.
type ExceptionHandler func(w http.ResponseWriter, rc *RequestContext, err error) (*ModelAndView, bool)

// AnyMethod registers a route for every method.
const AnyMethod = ""

type route struct {
	method  string
	pattern *Pattern
	handler Handler
}

// Dispatcher is the front controller. Configure it before serving; it is
// safe for concurrent use afterwards.
type Dispatcher struct {
	routes            []*route
	interceptors      []*InterceptorEntry
	exceptionHandlers []ExceptionHandler

	views          view.Resolver
	locales        i18n.LocaleResolver
	sessions       *session.Manager
	staticPrefix   string
	static         http.Handler
	requestTimeout time.Duration
	logger         *logging.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithViews sets the view resolver.
func WithViews(v view.Resolver) Option {
	return func(d *Dispatcher) { d.views = v }
}

// WithLocaleResolver sets the locale resolver.
func WithLocaleResolver(r i18n.LocaleResolver) Option {
	return func(d *Dispatcher) { d.locales = r }
}

// WithSessions enables sessions.
func WithSessions(m *session.Manager) Option {
	return func(d *Dispatcher) { d.sessions = m }
}

// WithStatic serves files under root of fs for paths starting with prefix.
// Directory listings are not served.
func WithStatic(prefix string, fs afero.Fs, root string) Option {
	return func(d *Dispatcher) {
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		d.staticPrefix = prefix
		files := http.FileServer(afero.NewHttpFs(fs).Dir(root))
		d.static = http.StripPrefix(strings.TrimSuffix(prefix, "/"), files)
	}
}

// WithRequestTimeout bounds every dispatch. When it elapses the request
// context is cancelled, which aborts a running statement and rolls back
// its transaction.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.requestTimeout = timeout }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger.WithComponent("dispatcher")
		}
	}
}

// NewDispatcher creates a dispatcher without routes.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: logging.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle registers h for method and pattern. Registering the same method
// and pattern twice is an error.
func (d *Dispatcher) Handle(method, pattern string, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s %s", method, pattern)
	}
	pat, err := CompilePattern(pattern)
	if err != nil {
		return err
	}
	method = strings.ToUpper(method)
	for _, rt := range d.routes {
		if rt.method == method && rt.pattern.String() == pattern {
			return fmt.Errorf("route %s %s already registered", method, pattern)
		}
	}
	d.routes = append(d.routes, &route{method: method, pattern: pat, handler: h})
	return nil
}

// AddViewController registers a GET route that renders viewName without
// any handler logic.
func (d *Dispatcher) AddViewController(pattern, viewName string) error {
	return d.Handle(http.MethodGet, pattern, func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return NewModelAndView(viewName), nil
	})
}

// AddInterceptor appends an interceptor. Scope it with the returned entry.
func (d *Dispatcher) AddInterceptor(i Interceptor) *InterceptorEntry {
	e := &InterceptorEntry{Interceptor: i}
	d.interceptors = append(d.interceptors, e)
	return e
}

// AddExceptionHandler appends an exception handler. Handlers are asked in
// registration order.
func (d *Dispatcher) AddExceptionHandler(h ExceptionHandler) {
	d.exceptionHandlers = append(d.exceptionHandlers, h)
}

// Validate reports configuration errors collected while registering
// interceptor patterns.
func (d *Dispatcher) Validate() error {
	for _, e := range d.interceptors {
		if err := e.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Routes lists the registered routes as "METHOD pattern".
func (d *Dispatcher) Routes() []string {
	out := make([]string, 0, len(d.routes))
	for _, rt := range d.routes {
		method := rt.method
		if method == AnyMethod {
			method = "*"
		}
		out = append(out, method+" "+rt.pattern.String())
	}
	return out
}

// RoutePattern returns a low-cardinality label for r: the matching route
// pattern, the static prefix or "unmatched".
func (d *Dispatcher) RoutePattern(r *http.Request) string {
	if d.static != nil && strings.HasPrefix(r.URL.Path, d.staticPrefix) {
		return d.staticPrefix + "**"
	}
	if rt, _, _ := d.match(r.Method, r.URL.Path); rt != nil {
		return rt.pattern.String()
	}
	return "unmatched"
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.static != nil && strings.HasPrefix(r.URL.Path, d.staticPrefix) {
		d.serveStatic(w, r)
		return
	}

	if d.requestTimeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), d.requestTimeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	locale := language.Und
	if d.locales != nil {
		locale = d.locales.ResolveLocale(r)
	}

	sw := &statusWriter{ResponseWriter: w}
	rc := newRequestContext(r, locale, d.sessions)

	rt, vars, allowed := d.match(rc.Method, rc.Path)
	if rt == nil {
		if len(allowed) > 0 {
			sw.Header().Set("Allow", strings.Join(allowed, ", "))
			d.renderError(sw, rc, http.StatusMethodNotAllowed, nil)
			return
		}
		d.renderError(sw, rc, http.StatusNotFound, nil)
		return
	}
	rc.Route = rt.pattern.String()
	rc.PathVars = vars

	d.dispatch(sw, rc, rt)
}

func (d *Dispatcher) dispatch(w *statusWriter, rc *RequestContext, rt *route) {
	c := newChain(d.interceptors, rc.Path)

	var failure error
	defer func() {
		if p := recover(); p != nil {
			c.afterCompletion(w, rc, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		c.afterCompletion(w, rc, failure)
	}()

	ok, err := c.preHandle(w, rc)
	if err != nil {
		failure = d.handleError(w, rc, c, err)
		return
	}
	if !ok {
		return
	}

	mv, err := rt.handler(w, rc)
	if err == nil {
		err = c.postHandle(w, rc, mv)
	}
	if err != nil {
		failure = d.handleError(w, rc, c, err)
		return
	}

	if err := d.render(w, rc, mv); err != nil {
		failure = err
		d.requestLogger(rc).Error().Err(err).Str(logging.Path, rc.Path).Msg("view rendering failed")
		if !w.wrote {
			d.renderError(w, rc, errors.HTTPStatusCode(err), err)
		}
	}
}

// handleError runs the OnException hooks and the exception handlers. It
// returns nil when an exception handler took care of err.
func (d *Dispatcher) handleError(w *statusWriter, rc *RequestContext, c *chain, err error) error {
	c.onException(w, rc, err)

	for _, h := range d.exceptionHandlers {
		mv, handled := h(w, rc, err)
		if !handled {
			continue
		}
		if rerr := d.render(w, rc, mv); rerr != nil {
			d.requestLogger(rc).Error().Err(rerr).Msg("exception view rendering failed")
			if !w.wrote {
				d.renderError(w, rc, http.StatusInternalServerError, rerr)
			}
			return rerr
		}
		return nil
	}

	status := errors.HTTPStatusCode(err)
	event := d.requestLogger(rc).Debug()
	if status >= http.StatusInternalServerError {
		event = d.requestLogger(rc).Error()
	}
	event.Err(err).Str(logging.Path, rc.Path).Int(logging.StatusCode, status).Msg("handler failed")

	if !w.wrote {
		d.renderError(w, rc, status, err)
	}
	return err
}

func (d *Dispatcher) render(w *statusWriter, rc *RequestContext, mv *ModelAndView) error {
	if mv == nil {
		return nil
	}
	if d.views == nil {
		return fmt.Errorf("%w: no view resolver", view.ErrViewNotFound)
	}

	name := mv.ViewName
	if name == "" {
		name = defaultViewName(rc.Path)
	}
	status := mv.Status
	if status == 0 {
		status = http.StatusOK
	}

	v, err := d.views.ResolveView(name)
	if err != nil {
		return err
	}
	return v.Render(w, rc.Request, status, mv.Model)
}

// renderError renders the view "error/<status>" when it exists and falls
// back to a plain-text body. Details of server errors are not exposed.
func (d *Dispatcher) renderError(w *statusWriter, rc *RequestContext, status int, err error) {
	message := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		message = err.Error()
	}

	if d.views != nil {
		if v, verr := d.views.ResolveView(fmt.Sprintf("error/%d", status)); verr == nil {
			model := view.Model{"status": status, "path": rc.Path, "message": message}
			if rerr := v.Render(w, rc.Request, status, model); rerr == nil || w.wrote {
				return
			}
		}
	}
	http.Error(w, message, status)
}

func (d *Dispatcher) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}
	d.static.ServeHTTP(w, r)
}

// match picks the most specific route for path and method. When path
// matches only routes of other methods, allowed lists those methods.
func (d *Dispatcher) match(method, p string) (*route, map[string]string, []string) {
	var (
		best     *route
		bestVars map[string]string
		allowed  = map[string]bool{}
	)
	for _, rt := range d.routes {
		vars, ok := rt.pattern.Match(p)
		if !ok {
			continue
		}
		if !methodMatches(rt.method, method) {
			allowed[rt.method] = true
			continue
		}
		if best == nil || moreSpecific(rt.pattern, best.pattern) {
			best, bestVars = rt, vars
		}
	}
	if best != nil {
		return best, bestVars, nil
	}

	methods := make([]string, 0, len(allowed))
	for m := range allowed {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return nil, nil, methods
}

func methodMatches(routeMethod, method string) bool {
	return routeMethod == AnyMethod || routeMethod == method ||
		(method == http.MethodHead && routeMethod == http.MethodGet)
}

func (d *Dispatcher) requestLogger(rc *RequestContext) *logging.Logger {
	if id := logging.GetRequestID(rc.Context()); id != "" {
		return d.logger.With(logging.RequestID, id)
	}
	return d.logger
}

// defaultViewName derives a view name from a path: "/users/list.do"
// becomes "users/list" and "/" becomes "index".
func defaultViewName(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "index"
	}
	if ext := path.Ext(p); ext != "" && !strings.Contains(ext, "/") {
		p = strings.TrimSuffix(p, ext)
	}
	return p
}

// statusWriter records whether a response has been started.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
