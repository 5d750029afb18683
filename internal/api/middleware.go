package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const userContextKey contextKey = "user"

// UserContext is the acting user of a request. Caller is who presented the token; Profile is who
// the request acts as, which differs only while an admin impersonates someone.
type UserContext struct {
	UserID        string
	Email         string
	Token         string
	Profile       account.Profile
	Caller        account.Profile
	Impersonation *admin.Session
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, fmt.Errorf("%w: missing auth context", apperr.ErrUnauthorized)
	}
	return user, nil
}

func withUser(ctx context.Context, user UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"ip", clientIP(r),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// recoverer turns panics into a 500 and reports them.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			err := fmt.Errorf("panic: %v", rvr)
			s.log.Error("panic recovered",
				"err", err,
				"request_id", middleware.GetReqID(r.Context()),
				"path", r.URL.Path,
			)
			s.reporter.Report(r, err)
			if r.Header.Get("Connection") != "Upgrade" {
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		profile, err := s.accounts.EnsureProfile(r.Context(), identity)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		ctx := withUser(r.Context(), UserContext{
			UserID:  profile.ID,
			Email:   profile.Email,
			Token:   token,
			Profile: profile,
			Caller:  profile,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// impersonationMiddleware switches the acting user to the target of the caller's impersonation
// session and audits every mutating request made that way.
func (s *Server) impersonationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(impersonationHeader)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := userFromContext(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if _, err := s.admin.RequireAdmin(r.Context(), user.Caller.ID); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		target, sess, err := s.admin.ResolveImpersonation(r.Context(), user.Caller.ID, sessionID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		user.UserID = target.ID
		user.Email = target.Email
		user.Profile = target
		user.Impersonation = &sess
		r = r.WithContext(withUser(r.Context(), user))

		if !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ctx := context.WithoutCancel(r.Context())
		if err := s.admin.RecordImpersonatedWrite(ctx, sess, clientIP(r), r.Method, r.URL.Path, status); err != nil {
			s.log.Error("audit impersonated request", "err", err, "session_id", sess.ID, "path", r.URL.Path)
		}
	})
}

// activeMiddleware rejects suspended accounts. GET /v1/me stays open so the UI can show why.
func (s *Server) activeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if user.Profile.Suspended && !(r.Method == http.MethodGet && r.URL.Path == "/v1/me") {
			s.writeDomainError(w, r, apperr.ErrSuspended)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if _, err := s.admin.RequireAdmin(r.Context(), user.Caller.ID); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor builds the admin identity recorded on audit rows.
func actor(r *http.Request) (admin.Actor, error) {
	user, err := userFromContext(r.Context())
	if err != nil {
		return admin.Actor{}, err
	}
	return admin.Actor{AdminID: user.Caller.ID, IP: clientIP(r)}, nil
}
