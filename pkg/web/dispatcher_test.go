package web

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/i18n"
	"github.com/Combine-Capital/cqweb/pkg/session"
	"github.com/Combine-Capital/cqweb/pkg/view"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingInterceptor struct {
	name   string
	rec    *recorder
	halt   bool
	preErr error
}

func (i *recordingInterceptor) PreHandle(w http.ResponseWriter, rc *RequestContext) (bool, error) {
	i.rec.add(i.name + ".pre")
	if i.halt {
		http.Error(w, "halted", http.StatusForbidden)
		return false, nil
	}
	return i.preErr == nil, i.preErr
}

func (i *recordingInterceptor) PostHandle(http.ResponseWriter, *RequestContext, *ModelAndView) error {
	i.rec.add(i.name + ".post")
	return nil
}

func (i *recordingInterceptor) OnException(http.ResponseWriter, *RequestContext, error) {
	i.rec.add(i.name + ".exception")
}

func (i *recordingInterceptor) AfterCompletion(_ http.ResponseWriter, _ *RequestContext, err error) {
	if err != nil {
		i.rec.add(i.name + ".after!")
		return
	}
	i.rec.add(i.name + ".after")
}

func testFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"views/home.html":          `home {{locale}}`,
		"views/about.html":         `about page`,
		"views/users/list.html":    `users: {{range .users}}{{.}} {{end}}`,
		"views/error/404.html":     `custom 404 for {{.path}}`,
		"resources/css/site.css":   `body { color: black; }`,
		"resources/js/app/main.js": `console.log(1)`,
	}
	for name, body := range files {
		if err := afero.WriteFile(fs, name, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *session.Manager) {
	t.Helper()
	fs := testFs(t)
	locales, err := i18n.NewCookieLocaleResolver(config.LocaleConfig{Default: "ko", CookieName: "CQWEB_LOCALE"})
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(session.NewMemoryStore(time.Minute), config.SessionConfig{CookieName: "SID", TTL: time.Minute})
	views := view.NewChain(view.NewBeanNameResolver(),
		view.NewTemplateResolver(fs, config.ViewConfig{Prefix: "views/", Suffix: ".html"}))

	base := []Option{
		WithViews(views),
		WithLocaleResolver(locales),
		WithSessions(sessions),
		WithStatic("/resources/", fs, "resources"),
	}
	d := NewDispatcher(append(base, opts...)...)
	d.AddInterceptor(NewLocaleChangeInterceptor("lang", locales))
	d.AddInterceptor(NewSessionInterceptor("user", "/login")).AddPathPatterns("/work")
	return d, sessions
}

func mustHandle(t *testing.T, d *Dispatcher, method, pattern string, h Handler) {
	t.Helper()
	if err := d.Handle(method, pattern, h); err != nil {
		t.Fatal(err)
	}
}

func serve(d http.Handler, method, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	for _, m := range mutate {
		m(r)
	}
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)
	return w
}

// TestInterceptorOrder verifies the hook order of a successful request
func TestInterceptorOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(WithViews(view.NewChain(view.NewBeanNameResolver())))
	for _, name := range []string{"a", "b", "c"} {
		d.AddInterceptor(&recordingInterceptor{name: name, rec: rec})
	}
	mustHandle(t, d, http.MethodGet, "/x", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		rec.add("handler")
		return NewModelAndView(view.JSONViewName).AddObject("ok", true), nil
	})

	w := serve(d, http.MethodGet, "/x")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := []string{"a.pre", "b.pre", "c.pre", "handler", "c.post", "b.post", "a.post", "c.after", "b.after", "a.after"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

// TestInterceptorHalt verifies a false PreHandle skips the handler and later interceptors
func TestInterceptorHalt(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher()
	d.AddInterceptor(&recordingInterceptor{name: "a", rec: rec})
	d.AddInterceptor(&recordingInterceptor{name: "b", rec: rec, halt: true})
	d.AddInterceptor(&recordingInterceptor{name: "c", rec: rec})
	mustHandle(t, d, http.MethodGet, "/x", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		rec.add("handler")
		return nil, nil
	})

	w := serve(d, http.MethodGet, "/x")
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	want := []string{"a.pre", "b.pre", "a.after"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

// TestInterceptorHandlerError verifies OnException and AfterCompletion on failure
func TestInterceptorHandlerError(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher()
	d.AddInterceptor(&recordingInterceptor{name: "a", rec: rec})
	d.AddInterceptor(&recordingInterceptor{name: "b", rec: rec})
	mustHandle(t, d, http.MethodGet, "/x", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		return nil, errors.NewInvalidInput("id", "required parameter missing")
	})

	w := serve(d, http.MethodGet, "/x")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "required parameter missing") {
		t.Errorf("response = %d %q", w.Code, w.Body.String())
	}
	want := []string{"a.pre", "b.pre", "b.exception", "a.exception", "b.after!", "a.after!"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestInterceptorPreHandleError(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher()
	d.AddInterceptor(&recordingInterceptor{name: "a", rec: rec})
	d.AddInterceptor(&recordingInterceptor{name: "b", rec: rec, preErr: errors.NewTemporary("store down", nil)})
	mustHandle(t, d, http.MethodGet, "/x", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		rec.add("handler")
		return nil, nil
	})

	w := serve(d, http.MethodGet, "/x")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if strings.Contains(w.Body.String(), "store down") {
		t.Errorf("5xx body leaked detail: %q", w.Body.String())
	}
	want := []string{"a.pre", "b.pre", "a.exception", "a.after!"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestInterceptorPathScope(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher()
	d.AddInterceptor(&recordingInterceptor{name: "admin", rec: rec}).
		AddPathPatterns("/admin/**").
		ExcludePathPatterns("/admin/login")
	for _, p := range []string{"/admin/users", "/admin/login", "/public"} {
		mustHandle(t, d, http.MethodGet, p, func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
			return nil, nil
		})
	}

	serve(d, http.MethodGet, "/admin/users")
	serve(d, http.MethodGet, "/admin/login")
	serve(d, http.MethodGet, "/public")

	// handlers returning a nil ModelAndView still see PostHandle
	want := []string{"admin.pre", "admin.post", "admin.after"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	bad := NewDispatcher()
	bad.AddInterceptor(InterceptorAdapter{}).AddPathPatterns("no-slash")
	if err := bad.Validate(); err == nil {
		t.Error("Validate() expected pattern error")
	}
}

// TestLocaleChange verifies ?lang=en is applied and persisted in the cookie
func TestLocaleChange(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mustHandle(t, d, http.MethodGet, "/", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		return NewModelAndView("home"), nil
	})

	w := serve(d, http.MethodGet, "/?lang=en")
	if w.Body.String() != "home en" {
		t.Errorf("body = %q, want home en", w.Body.String())
	}
	var locale *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "CQWEB_LOCALE" {
			locale = c
		}
	}
	if locale == nil || locale.Value != "en" {
		t.Fatalf("locale cookie = %+v", locale)
	}

	w = serve(d, http.MethodGet, "/", func(r *http.Request) { r.AddCookie(locale) })
	if w.Body.String() != "home en" {
		t.Errorf("next request body = %q, want home en", w.Body.String())
	}

	w = serve(d, http.MethodGet, "/")
	if w.Body.String() != "home ko" {
		t.Errorf("default body = %q, want home ko", w.Body.String())
	}

	w = serve(d, http.MethodGet, "/?lang=!!")
	if w.Body.String() != "home ko" || len(w.Result().Cookies()) != 0 {
		t.Errorf("invalid lang: body = %q cookies = %v", w.Body.String(), w.Result().Cookies())
	}
}

// TestSessionGate verifies /work needs a session before the handler runs
func TestSessionGate(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	called := 0
	mustHandle(t, d, http.MethodGet, "/work", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		called++
		s, _ := rc.Session()
		user, _ := s.Get("user")
		return NewModelAndView(view.JSONViewName).AddObject("user", user), nil
	})

	w := serve(d, http.MethodGet, "/work")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	w = serve(d, http.MethodGet, "/work", func(r *http.Request) { r.Header.Set("Accept", "text/html") })
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("browser response = %d %q", w.Code, w.Header().Get("Location"))
	}
	if called != 0 {
		t.Fatalf("handler ran %d times without a session", called)
	}

	empty := session.New()
	rec := httptest.NewRecorder()
	if err := sessions.Save(context.Background(), rec, empty); err != nil {
		t.Fatal(err)
	}
	w = serve(d, http.MethodGet, "/work", func(r *http.Request) { r.AddCookie(rec.Result().Cookies()[0]) })
	if w.Code != http.StatusUnauthorized || called != 0 {
		t.Errorf("session without marker: status = %d, called = %d", w.Code, called)
	}

	loggedIn := session.New()
	loggedIn.Set("user", "alice")
	rec = httptest.NewRecorder()
	if err := sessions.Save(context.Background(), rec, loggedIn); err != nil {
		t.Fatal(err)
	}
	w = serve(d, http.MethodGet, "/work", func(r *http.Request) { r.AddCookie(rec.Result().Cookies()[0]) })
	if w.Code != http.StatusOK || called != 1 || !strings.Contains(w.Body.String(), "alice") {
		t.Errorf("logged in: status = %d, called = %d, body = %q", w.Code, called, w.Body.String())
	}
}

// TestNotFoundAndMethodNotAllowed verifies unmatched requests
func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mustHandle(t, d, http.MethodPost, "/users", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return nil, nil
	})
	mustHandle(t, d, http.MethodPut, "/users", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return nil, nil
	})

	w := serve(d, http.MethodGet, "/nope")
	if w.Code != http.StatusNotFound || w.Body.String() != "custom 404 for /nope" {
		t.Errorf("404 = %d %q", w.Code, w.Body.String())
	}

	w = serve(d, http.MethodGet, "/users")
	if w.Code != http.StatusMethodNotAllowed || w.Header().Get("Allow") != "POST, PUT" {
		t.Errorf("405 = %d allow %q", w.Code, w.Header().Get("Allow"))
	}

	plain := NewDispatcher()
	w = serve(plain, http.MethodGet, "/nope")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Not Found") {
		t.Errorf("plain 404 = %d %q", w.Code, w.Body.String())
	}
}

func TestRouteSelection(t *testing.T) {
	d := NewDispatcher()
	for _, p := range []string{"/users/{id}", "/users/new", "/users/**"} {
		pattern := p
		mustHandle(t, d, http.MethodGet, pattern, func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
			w.Write([]byte(pattern + " " + rc.PathVar("id")))
			return nil, nil
		})
	}

	tests := map[string]string{
		"/users/new":  "/users/new ",
		"/users/42":   "/users/{id} 42",
		"/users/42/x": "/users/** ",
	}
	for path, want := range tests {
		if got := serve(d, http.MethodGet, path).Body.String(); got != want {
			t.Errorf("GET %s = %q, want %q", path, got, want)
		}
	}

	if err := d.Handle(http.MethodGet, "/users/new", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return nil, nil
	}); err == nil {
		t.Error("duplicate route should fail")
	}
	if got := d.RoutePattern(httptest.NewRequest(http.MethodGet, "/users/7", nil)); got != "/users/{id}" {
		t.Errorf("RoutePattern() = %q", got)
	}
	if got := d.RoutePattern(httptest.NewRequest(http.MethodGet, "/other", nil)); got != "unmatched" {
		t.Errorf("RoutePattern() = %q", got)
	}
	if w := serve(d, http.MethodHead, "/users/new"); w.Code != http.StatusOK {
		t.Errorf("HEAD falls back to GET, status = %d", w.Code)
	}
}

func TestViewControllerAndDefaultViewName(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.AddViewController("/about", "about"); err != nil {
		t.Fatal(err)
	}
	mustHandle(t, d, http.MethodGet, "/users/list.do", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return &ModelAndView{Model: view.Model{"users": []string{"alice", "bob"}}}, nil
	})

	if w := serve(d, http.MethodGet, "/about"); w.Body.String() != "about page" {
		t.Errorf("view controller body = %q", w.Body.String())
	}
	if w := serve(d, http.MethodGet, "/users/list.do"); w.Body.String() != "users: alice bob " {
		t.Errorf("default view body = %q", w.Body.String())
	}
}

func TestDefaultViewName(t *testing.T) {
	tests := map[string]string{
		"/":              "index",
		"/users":         "users",
		"/users/list.do": "users/list",
		"/a/b/":          "a/b",
	}
	for in, want := range tests {
		if got := defaultViewName(in); got != want {
			t.Errorf("defaultViewName(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestViewNotFound verifies an unknown view name is a server error
func TestViewNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mustHandle(t, d, http.MethodGet, "/broken", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return NewModelAndView("does/not/exist"), nil
	})

	w := serve(d, http.MethodGet, "/broken")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRedirectView(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mustHandle(t, d, http.MethodPost, "/logout", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return NewModelAndView("redirect:/"), nil
	})
	w := serve(d, http.MethodPost, "/logout")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("redirect = %d %q", w.Code, w.Header().Get("Location"))
	}
}

var errConflict = stderrors.New("conflict")

func TestExceptionHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.AddExceptionHandler(func(w http.ResponseWriter, rc *RequestContext, err error) (*ModelAndView, bool) {
		if !stderrors.Is(err, errConflict) {
			return nil, false
		}
		mv := NewModelAndView(view.JSONViewName).AddObject("error", "conflict")
		mv.Status = http.StatusConflict
		return mv, true
	})
	mustHandle(t, d, http.MethodGet, "/conflict", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return nil, errConflict
	})
	mustHandle(t, d, http.MethodGet, "/other", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		return nil, errors.NewNotFound("user", "42")
	})

	w := serve(d, http.MethodGet, "/conflict")
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"error":"conflict"`) {
		t.Errorf("handled = %d %q", w.Code, w.Body.String())
	}

	w = serve(d, http.MethodGet, "/other")
	if w.Code != http.StatusNotFound || w.Body.String() != "custom 404 for /other" {
		t.Errorf("unhandled = %d %q", w.Code, w.Body.String())
	}
}

// TestRequestTimeout verifies the request context is cancelled after the timeout
func TestRequestTimeout(t *testing.T) {
	d, _ := newTestDispatcher(t, WithRequestTimeout(20*time.Millisecond))
	mustHandle(t, d, http.MethodGet, "/slow", func(w http.ResponseWriter, rc *RequestContext) (*ModelAndView, error) {
		<-rc.Context().Done()
		return nil, rc.Context().Err()
	})

	w := serve(d, http.MethodGet, "/slow")
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestPanicRunsAfterCompletion(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher()
	d.AddInterceptor(&recordingInterceptor{name: "a", rec: rec})
	mustHandle(t, d, http.MethodGet, "/panic", func(http.ResponseWriter, *RequestContext) (*ModelAndView, error) {
		panic("boom")
	})

	h := errors.RecoveryMiddleware(nil)(d)
	w := serve(h, http.MethodGet, "/panic")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	want := []string{"a.pre", "a.after!"}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

// TestStaticResources verifies files under the static prefix bypass dispatch
func TestStaticResources(t *testing.T) {
	d, _ := newTestDispatcher(t)

	w := serve(d, http.MethodGet, "/resources/css/site.css")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "color: black") {
		t.Errorf("css = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q", ct)
	}

	if w := serve(d, http.MethodGet, "/resources/js/app/main.js"); w.Code != http.StatusOK {
		t.Errorf("nested file status = %d", w.Code)
	}
	if w := serve(d, http.MethodGet, "/resources/css/"); w.Code != http.StatusNotFound {
		t.Errorf("directory listing status = %d, want 404", w.Code)
	}
	if w := serve(d, http.MethodGet, "/resources/missing.png"); w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", w.Code)
	}
	if w := serve(d, http.MethodPost, "/resources/css/site.css"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
	if got := d.RoutePattern(httptest.NewRequest(http.MethodGet, "/resources/css/site.css", nil)); got != "/resources/**" {
		t.Errorf("RoutePattern() = %q", got)
	}
}
