package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Combine-Capital/cqweb/pkg/app"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/session"
	"github.com/Combine-Capital/cqweb/pkg/view"
	"github.com/Combine-Capital/cqweb/pkg/web"
)

// registerRoutes builds the route table of the bundled application.
func registerRoutes(a *app.Context) error {
	d := a.Dispatcher
	attr := a.Config.Session.Attribute

	routes := []struct {
		method  string
		pattern string
		handler web.Handler
	}{
		{http.MethodGet, "/users/{id}", showUser(a)},
		{http.MethodGet, "/work", showWork(attr)},
		{http.MethodPost, "/login", login(attr)},
		{http.MethodPost, "/logout", logout},
	}
	for _, rt := range routes {
		if err := d.Handle(rt.method, rt.pattern, rt.handler); err != nil {
			return err
		}
	}

	for pattern, name := range map[string]string{"/": "home", "/login": "login"} {
		if err := d.AddViewController(pattern, name); err != nil {
			return err
		}
	}
	return nil
}

func showUser(a *app.Context) web.Handler {
	return func(w http.ResponseWriter, rc *web.RequestContext) (*web.ModelAndView, error) {
		raw := rc.PathVar("id")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.NewInvalidInputWithCause("id", "must be an integer", err)
		}
		records, err := a.Execute(rc.Context(), "user.getUser", map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, errors.NewNotFound("user", raw)
		}
		return web.NewModelAndView(view.JSONViewName).AddObject("user", records[0]), nil
	}
}

func showWork(attr string) web.Handler {
	return func(w http.ResponseWriter, rc *web.RequestContext) (*web.ModelAndView, error) {
		sess, err := rc.Session()
		if err != nil {
			return nil, err
		}
		user, _ := sess.Get(attr)
		return web.NewModelAndView("work").AddObject("user", user), nil
	}
}

func login(attr string) web.Handler {
	return func(w http.ResponseWriter, rc *web.RequestContext) (*web.ModelAndView, error) {
		name := strings.TrimSpace(rc.Request.PostFormValue("name"))
		if name == "" {
			return nil, errors.NewInvalidInput("name", "required")
		}

		sess, err := rc.Session()
		if err != nil {
			return nil, err
		}
		if sess == nil {
			sess = session.New()
		}
		sess.Set(attr, name)
		if err := rc.Sessions().Save(rc.Context(), w, sess); err != nil {
			return nil, err
		}
		return web.NewModelAndView(view.RedirectPrefix + "/work"), nil
	}
}

func logout(w http.ResponseWriter, rc *web.RequestContext) (*web.ModelAndView, error) {
	sess, err := rc.Session()
	if err != nil {
		return nil, err
	}
	if err := rc.Sessions().Destroy(rc.Context(), w, sess); err != nil {
		return nil, err
	}
	return web.NewModelAndView(view.RedirectPrefix + "/"), nil
}
