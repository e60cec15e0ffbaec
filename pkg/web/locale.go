package web

import (
	"net/http"

	"github.com/Combine-Capital/cqweb/pkg/i18n"
	"github.com/Combine-Capital/cqweb/pkg/logging"
)

// LocaleChangeInterceptor switches the locale when the request carries the
// locale parameter, e.g. ?lang=en. The new locale is persisted through the
// resolver and applies to the current request. Invalid values are ignored.
type LocaleChangeInterceptor struct {
	InterceptorAdapter

	ParamName string
	Resolver  i18n.LocaleResolver
}

// NewLocaleChangeInterceptor creates the interceptor for paramName.
func NewLocaleChangeInterceptor(paramName string, resolver i18n.LocaleResolver) *LocaleChangeInterceptor {
	if paramName == "" {
		paramName = "lang"
	}
	return &LocaleChangeInterceptor{ParamName: paramName, Resolver: resolver}
}

// PreHandle implements Interceptor.
func (l *LocaleChangeInterceptor) PreHandle(w http.ResponseWriter, rc *RequestContext) (bool, error) {
	value := rc.Request.URL.Query().Get(l.ParamName)
	if value == "" {
		return true, nil
	}

	tag, err := i18n.ParseLocale(value)
	if err != nil {
		logging.FromContext(rc.Context()).Debug().
			Err(err).
			Str(l.ParamName, value).
			Msg("ignoring invalid locale parameter")
		return true, nil
	}

	if l.Resolver != nil {
		l.Resolver.SetLocale(w, rc.Request, tag)
	}
	rc.SetLocale(tag)
	return true, nil
}
