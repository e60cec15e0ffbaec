package web

import (
	"net/http"
	"strings"

	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/logging"
)

// SessionInterceptor stops requests that have no session carrying the
// marker attribute. Browsers are redirected to LoginPath when one is set;
// everyone else gets 401.
type SessionInterceptor struct {
	InterceptorAdapter

	Attribute string
	LoginPath string
}

// NewSessionInterceptor creates the interceptor for the given marker attribute.
func NewSessionInterceptor(attribute, loginPath string) *SessionInterceptor {
	if attribute == "" {
		attribute = "user"
	}
	return &SessionInterceptor{Attribute: attribute, LoginPath: loginPath}
}

// PreHandle implements Interceptor.
func (s *SessionInterceptor) PreHandle(w http.ResponseWriter, rc *RequestContext) (bool, error) {
	sess, err := rc.Session()
	if err != nil {
		return false, err
	}
	if sess.Has(s.Attribute) {
		return true, nil
	}

	logging.FromContext(rc.Context()).Debug().
		Str(logging.Path, rc.Path).
		Bool("has_session", sess != nil).
		Msg("session required")

	if s.LoginPath != "" && acceptsHTML(rc.Request) {
		http.Redirect(w, rc.Request, s.LoginPath, http.StatusFound)
		return false, nil
	}
	errors.WriteHTTPError(w, errors.NewUnauthorized("session required"))
	return false, nil
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
