package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rollbar/rollbar-go"
)

// ErrorReporter receives unexpected request failures.
type ErrorReporter interface {
	Report(r *http.Request, err error)
}

type nopReporter struct{}

func (nopReporter) Report(*http.Request, error) {}

type RollbarReporter struct{}

// NewRollbarReporter configures the global rollbar client. An empty token disables reporting.
func NewRollbarReporter(token, env, host string) *RollbarReporter {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(host)
	rollbar.SetEnabled(token != "")
	return &RollbarReporter{}
}

func (RollbarReporter) Report(r *http.Request, err error) {
	extras := map[string]interface{}{
		"request_id": middleware.GetReqID(r.Context()),
	}
	if user, uerr := userFromContext(r.Context()); uerr == nil {
		extras["user_id"] = user.UserID
		if user.Impersonation != nil {
			extras["impersonation_session"] = user.Impersonation.ID
		}
	}
	rollbar.Error(r, err, extras)
}

// Flush waits for queued reports to be sent.
func (RollbarReporter) Flush() {
	rollbar.Wait()
}
