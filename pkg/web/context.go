package web

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/text/language"

	"github.com/Combine-Capital/cqweb/pkg/i18n"
	"github.com/Combine-Capital/cqweb/pkg/session"
)

// RequestContext carries the per-request state shared by interceptors and
// the handler. It lives for one request only.
type RequestContext struct {
	Request  *http.Request
	Path     string
	Method   string
	Route    string // pattern of the matched route
	PathVars map[string]string

	locale   language.Tag
	sessions *session.Manager

	sessionOnce sync.Once
	session     *session.Session
	sessionErr  error

	attrs map[string]any
}

type requestContextKey struct{}

func newRequestContext(r *http.Request, locale language.Tag, sessions *session.Manager) *RequestContext {
	rc := &RequestContext{
		Path:     r.URL.Path,
		Method:   r.Method,
		PathVars: map[string]string{},
		locale:   locale,
		sessions: sessions,
		attrs:    map[string]any{},
	}
	ctx := context.WithValue(r.Context(), requestContextKey{}, rc)
	ctx = i18n.WithLocale(ctx, locale)
	rc.Request = r.WithContext(ctx)
	return rc
}

// FromContext returns the RequestContext of the request ctx belongs to.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

// Context returns the request context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// Locale returns the resolved locale.
func (rc *RequestContext) Locale() language.Tag {
	return rc.locale
}

// SetLocale changes the locale for the rest of the request, including the
// locale seen by views.
func (rc *RequestContext) SetLocale(tag language.Tag) {
	rc.locale = tag
	rc.Request = rc.Request.WithContext(i18n.WithLocale(rc.Request.Context(), tag))
}

// PathVar returns a path variable of the matched route.
func (rc *RequestContext) PathVar(name string) string {
	return rc.PathVars[name]
}

// Session loads the client session on first use. It returns nil without
// error when the client has no live session or sessions are not configured.
func (rc *RequestContext) Session() (*session.Session, error) {
	rc.sessionOnce.Do(func() {
		if rc.sessions != nil {
			rc.session, rc.sessionErr = rc.sessions.Load(rc.Request)
		}
	})
	return rc.session, rc.sessionErr
}

// Sessions returns the session manager, or nil.
func (rc *RequestContext) Sessions() *session.Manager {
	return rc.sessions
}

// Set stores a request attribute.
func (rc *RequestContext) Set(key string, v any) {
	rc.attrs[key] = v
}

// Get returns a request attribute.
func (rc *RequestContext) Get(key string) (any, bool) {
	v, ok := rc.attrs[key]
	return v, ok
}
