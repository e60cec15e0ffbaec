// Package view resolves logical view names to renderable views.
//
// A Chain asks its resolvers in order: usually a BeanNameResolver holding
// named views such as "jsonView", then a TemplateResolver that maps a name
// to prefix + name + suffix on the resource filesystem. Names starting with
// "redirect:" become redirects without consulting any resolver.
package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Combine-Capital/cqweb/pkg/errors"
)

// ErrViewNotFound is returned when no resolver knows a view name.
var ErrViewNotFound = errors.NewPermanent("view not found", nil)

// RedirectPrefix marks a view name as a redirect target.
const RedirectPrefix = "redirect:"

// Model is the data handed to a view.
type Model map[string]any

// View renders a model as the response body.
type View interface {
	ContentType() string
	Render(w http.ResponseWriter, r *http.Request, status int, model Model) error
}

// Resolver maps a view name to a View. It returns an error wrapping
// ErrViewNotFound when it does not know the name.
type Resolver interface {
	ResolveView(name string) (View, error)
}

// Chain tries each resolver in order.
type Chain struct {
	resolvers []Resolver
}

// NewChain creates a chain over resolvers in priority order.
func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

// Add appends a resolver with the lowest priority.
func (c *Chain) Add(r Resolver) {
	c.resolvers = append(c.resolvers, r)
}

// ResolveView implements Resolver.
func (c *Chain) ResolveView(name string) (View, error) {
	if target, ok := strings.CutPrefix(name, RedirectPrefix); ok {
		if target == "" {
			return nil, fmt.Errorf("%w: empty redirect target", ErrViewNotFound)
		}
		return RedirectView{URL: target}, nil
	}

	for _, r := range c.resolvers {
		v, err := r.ResolveView(name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrViewNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrViewNotFound, name)
}

// BeanNameResolver resolves views registered under a name.
type BeanNameResolver struct {
	views map[string]View
}

// NewBeanNameResolver creates a resolver that already knows "jsonView".
func NewBeanNameResolver() *BeanNameResolver {
	return &BeanNameResolver{
		views: map[string]View{JSONViewName: JSONView{}},
	}
}

// Register adds or replaces a named view.
func (b *BeanNameResolver) Register(name string, v View) {
	b.views[name] = v
}

// ResolveView implements Resolver.
func (b *BeanNameResolver) ResolveView(name string) (View, error) {
	if v, ok := b.views[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrViewNotFound, name)
}

// JSONViewName is the name JSONView is registered under.
const JSONViewName = "jsonView"

// JSONView renders the model as a JSON object.
type JSONView struct{}

// ContentType implements View.
func (JSONView) ContentType() string { return "application/json; charset=utf-8" }

// Render implements View.
func (v JSONView) Render(w http.ResponseWriter, r *http.Request, status int, model Model) error {
	if model == nil {
		model = Model{}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(model); err != nil {
		return errors.NewPermanent("failed to encode json view", err)
	}
	w.Header().Set("Content-Type", v.ContentType())
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// RedirectView answers with 302 Found. Relative targets starting with "/"
// are left to net/http to complete.
type RedirectView struct {
	URL string
}

// ContentType implements View.
func (RedirectView) ContentType() string { return "" }

// Render implements View. The status argument is ignored.
func (v RedirectView) Render(w http.ResponseWriter, r *http.Request, _ int, _ Model) error {
	http.Redirect(w, r, v.URL, http.StatusFound)
	return nil
}
