package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/i18n"
)

// Messages looks up localized messages for templates.
type Messages interface {
	Message(code string, args []any, tag language.Tag) string
}

// TemplateResolver loads html/template files named prefix + name + suffix
// from a filesystem. Parsed templates are cached unless caching is off.
type TemplateResolver struct {
	fs            afero.Fs
	prefix        string
	suffix        string
	messages      Messages
	defaultLocale language.Tag
	funcs         template.FuncMap
	cache         bool

	mu        sync.RWMutex
	templates map[string]*template.Template
}

// TemplateOption configures a TemplateResolver.
type TemplateOption func(*TemplateResolver)

// WithMessages makes the msg template function look codes up in m.
func WithMessages(m Messages, defaultLocale language.Tag) TemplateOption {
	return func(t *TemplateResolver) {
		t.messages = m
		t.defaultLocale = defaultLocale
	}
}

// WithFuncs adds template functions.
func WithFuncs(funcs template.FuncMap) TemplateOption {
	return func(t *TemplateResolver) {
		for k, v := range funcs {
			t.funcs[k] = v
		}
	}
}

// WithCache turns the parsed template cache on or off.
func WithCache(enabled bool) TemplateOption {
	return func(t *TemplateResolver) {
		t.cache = enabled
	}
}

// NewTemplateResolver creates a resolver for the view settings of cfg.
func NewTemplateResolver(fs afero.Fs, cfg config.ViewConfig, opts ...TemplateOption) *TemplateResolver {
	t := &TemplateResolver{
		fs:            fs,
		prefix:        cfg.Prefix,
		suffix:        cfg.Suffix,
		defaultLocale: language.Und,
		funcs:         template.FuncMap{},
		cache:         true,
		templates:     make(map[string]*template.Template),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ResolveView implements Resolver.
func (t *TemplateResolver) ResolveView(name string) (View, error) {
	if t.cache {
		t.mu.RLock()
		tmpl, ok := t.templates[name]
		t.mu.RUnlock()
		if ok {
			return &templateView{resolver: t, tmpl: tmpl}, nil
		}
	}

	tmpl, err := t.load(name)
	if err != nil {
		return nil, err
	}

	if t.cache {
		t.mu.Lock()
		t.templates[name] = tmpl
		t.mu.Unlock()
	}
	return &templateView{resolver: t, tmpl: tmpl}, nil
}

func (t *TemplateResolver) load(name string) (*template.Template, error) {
	file := path.Clean(t.prefix + strings.TrimPrefix(name, "/") + t.suffix)
	if !t.within(file) {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, name)
	}

	data, err := afero.ReadFile(t.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrViewNotFound, name)
		}
		return nil, errors.NewPermanent("failed to read template "+file, err)
	}

	// Placeholder functions so that parsing succeeds; the real ones are
	// bound per request in Render.
	funcs := template.FuncMap{
		"msg":    func(string, ...any) string { return "" },
		"locale": func() string { return "" },
	}
	for k, v := range t.funcs {
		funcs[k] = v
	}

	tmpl, err := template.New(name).Funcs(funcs).Parse(string(data))
	if err != nil {
		return nil, errors.NewPermanent("failed to parse template "+file, err)
	}
	return tmpl, nil
}

// within reports whether file stays under the view prefix.
func (t *TemplateResolver) within(file string) bool {
	if file == ".." || strings.HasPrefix(file, "../") {
		return false
	}
	dir := path.Clean(t.prefix)
	if t.prefix == "" || dir == "." {
		return true
	}
	return strings.HasPrefix(file, dir+"/")
}

type templateView struct {
	resolver *TemplateResolver
	tmpl     *template.Template
}

func (v *templateView) ContentType() string { return "text/html; charset=utf-8" }

// Render executes the template with msg and locale bound to the request
// locale. Output is buffered so a failing template writes nothing.
func (v *templateView) Render(w http.ResponseWriter, r *http.Request, status int, model Model) error {
	tag, ok := i18n.LocaleFromContext(r.Context())
	if !ok {
		tag = v.resolver.defaultLocale
	}

	tmpl, err := v.tmpl.Clone()
	if err != nil {
		return errors.NewPermanent("failed to clone template", err)
	}
	messages := v.resolver.messages
	tmpl.Funcs(template.FuncMap{
		"msg": func(code string, args ...any) string {
			if messages == nil {
				return code
			}
			return messages.Message(code, args, tag)
		},
		"locale": func() string { return tag.String() },
	})

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, model); err != nil {
		return errors.NewPermanent("failed to render template "+v.tmpl.Name(), err)
	}

	w.Header().Set("Content-Type", v.ContentType())
	w.WriteHeader(status)
	_, err = w.Write(buf.Bytes())
	return err
}
