// Package i18n resolves request locales and looks up localized messages.
//
// Locales are golang.org/x/text/language tags. The CookieLocaleResolver
// keeps the chosen locale in a cookie and falls back to a configured
// default; MessageSource serves messages from .properties bundles.
package i18n

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/Combine-Capital/cqweb/pkg/config"
)

type localeKey struct{}

// WithLocale returns a copy of ctx carrying tag.
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey{}, tag)
}

// LocaleFromContext returns the locale stored in ctx.
func LocaleFromContext(ctx context.Context) (language.Tag, bool) {
	tag, ok := ctx.Value(localeKey{}).(language.Tag)
	return tag, ok
}

// ParseLocale parses a locale string. Both "ko_KR" and "ko-KR" are
// accepted. Ill-formed or unknown subtags are rejected.
func ParseLocale(s string) (language.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.Und, fmt.Errorf("empty locale")
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return language.Und, fmt.Errorf("invalid locale %q: %w", s, err)
	}
	return tag, nil
}

// LocaleResolver reads and persists the locale of a client.
type LocaleResolver interface {
	ResolveLocale(r *http.Request) language.Tag
	SetLocale(w http.ResponseWriter, r *http.Request, tag language.Tag)
}

// CookieLocaleResolver stores the locale in a cookie. Requests without a
// valid cookie get Default.
type CookieLocaleResolver struct {
	CookieName string
	Path       string
	MaxAge     int // seconds; 0 means a browser-session cookie
	Default    language.Tag
}

// NewCookieLocaleResolver builds a resolver from the locale settings.
func NewCookieLocaleResolver(cfg config.LocaleConfig) (*CookieLocaleResolver, error) {
	def, err := ParseLocale(cfg.Default)
	if err != nil {
		return nil, fmt.Errorf("locale.default: %w", err)
	}
	return &CookieLocaleResolver{
		CookieName: cfg.CookieName,
		Path:       "/",
		MaxAge:     int(cfg.CookieMaxAge.Seconds()),
		Default:    def,
	}, nil
}

// ResolveLocale implements LocaleResolver.
func (c *CookieLocaleResolver) ResolveLocale(r *http.Request) language.Tag {
	if cookie, err := r.Cookie(c.CookieName); err == nil {
		if tag, err := ParseLocale(cookie.Value); err == nil {
			return tag
		}
	}
	return c.Default
}

// SetLocale implements LocaleResolver.
func (c *CookieLocaleResolver) SetLocale(w http.ResponseWriter, r *http.Request, tag language.Tag) {
	path := c.Path
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName,
		Value:    tag.String(),
		Path:     path,
		MaxAge:   c.MaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
