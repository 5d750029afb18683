package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/apperr"
	"jeoparty/internal/auth"
	"jeoparty/internal/bank"
	"jeoparty/internal/billing"
	"jeoparty/internal/config"
	"jeoparty/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 1 << 16

	impersonationHeader = "X-Impersonation-Session"
)

// Authenticator signs users up and in against Supabase.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, displayName string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
}

// Deps are the services the server routes to.
type Deps struct {
	Auth     Authenticator
	Verifier auth.Verifier
	Accounts *account.Service
	Banks    *bank.Service
	Games    *game.Service
	Billing  *billing.Service
	Admin    *admin.Service
	Reporter ErrorReporter
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	auth     Authenticator
	verifier auth.Verifier
	accounts *account.Service
	banks    *bank.Service
	games    *game.Service
	billing  *billing.Service
	admin    *admin.Service
	reporter ErrorReporter
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		auth:     deps.Auth,
		verifier: deps.Verifier,
		accounts: deps.Accounts,
		banks:    deps.Banks,
		games:    deps.Games,
		billing:  deps.Billing,
		admin:    deps.Admin,
		reporter: reporter,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) joinLimit() int {
	if s.cfg.JoinRateLimit <= 0 {
		return 30
	}
	return s.cfg.JoinRateLimit
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(trustedRealIP(s.cfg.TrustedProxies))
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", impersonationHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Route("/join/{code}", func(r chi.Router) {
			r.Use(s.rateLimit(s.joinLimit(), time.Minute))
			r.Get("/", s.handleJoinLookup)
			r.Post("/teams/{teamID}/claim", s.handleJoinClaim)
			r.Post("/teams/{teamID}/wager", s.handleJoinWager)
			r.Post("/teams/{teamID}/answer", s.handleJoinAnswer)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.impersonationMiddleware)
				r.Use(s.activeMiddleware)

				r.Get("/me", s.handleMe)
				r.Patch("/me", s.handleUpdateMe)

				r.Get("/subscription", s.handleSubscription)
				r.Post("/subscription/checkout", s.handleCheckout)
				r.Post("/subscription/change", s.handleChangePlan)
				r.Post("/subscription/cancel", s.handleCancel)
				r.Post("/subscription/resume", s.handleResume)
				r.Post("/subscription/portal", s.handlePortal)

				r.Get("/banks", s.handleListBanks)
				r.Post("/banks", s.handleCreateBank)
				r.Get("/banks/{id}", s.handleGetBank)
				r.Patch("/banks/{id}", s.handleUpdateBank)
				r.Delete("/banks/{id}", s.handleDeleteBank)
				r.Post("/banks/{id}/copy", s.handleCopyBank)
				r.Get("/banks/{id}/questions", s.handleListQuestions)
				r.Post("/banks/{id}/questions", s.handleCreateQuestion)
				r.Patch("/banks/{id}/questions/{qid}", s.handleUpdateQuestion)
				r.Delete("/banks/{id}/questions/{qid}", s.handleDeleteQuestion)
				r.Get("/banks/{id}/board", s.handleBoard)

				r.Get("/games", s.handleListGames)
				r.Post("/games", s.handleCreateGame)
				r.Get("/games/{id}", s.handleGetGame)
				r.Delete("/games/{id}", s.handleDeleteGame)
				r.Post("/games/{id}/start", s.handleStartGame)
				r.Post("/games/{id}/end", s.handleEndGame)
				r.Post("/games/{id}/score", s.handleScore)
				r.Post("/games/{id}/final/advance", s.handleAdvanceFinal)
				r.Post("/games/{id}/teams", s.handleAddTeam)
				r.Patch("/games/{id}/teams/{teamID}", s.handleRenameTeam)
				r.Delete("/games/{id}/teams/{teamID}", s.handleRemoveTeam)
				r.Post("/games/{id}/teams/{teamID}/adjust", s.handleAdjustScore)
				r.Post("/games/{id}/teams/{teamID}/release", s.handleReleaseTeam)
				r.Post("/games/{id}/teams/{teamID}/judge", s.handleJudgeFinal)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)

				r.Get("/users", s.handleAdminListUsers)
				r.Get("/users/{id}", s.handleAdminGetUser)
				r.Post("/users/{id}/suspend", s.handleAdminSuspend)
				r.Post("/users/{id}/unsuspend", s.handleAdminUnsuspend)
				r.Post("/users/{id}/grant", s.handleAdminGrant)
				r.Delete("/users/{id}/grant", s.handleAdminRevokeGrant)
				r.Put("/users/{id}/plan", s.handleAdminSetCustomPlan)
				r.Delete("/users/{id}/plan", s.handleAdminClearCustomPlan)

				r.Post("/refunds", s.handleAdminRefund)

				r.Get("/impersonation", s.handleAdminActiveImpersonation)
				r.Post("/impersonation", s.handleAdminStartImpersonation)
				r.Post("/impersonation/{sessionID}/end", s.handleAdminEndImpersonation)

				r.Get("/audit", s.handleAdminAudit)
			})
		})
	})
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrSuspended), errors.Is(err, apperr.ErrLimit):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			"err", err,
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
		)
		s.reporter.Report(r, err)
		writeError(w, status, "internal server error")
		return
	}
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		writeJSON(w, status, map[string]any{"error": err.Error(), "fields": fields})
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperr.Invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Invalid("body", "could not read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperr.Invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func queryInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid(key, "must be an integer")
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Invalid(key, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	limit, offset = bank.Page(limit, offset)
	return limit, offset, nil
}

func listResponse[T any](items []T, total, limit, offset int) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{"items": items, "total": total, "limit": limit, "offset": offset}
}
