package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/apperr"
	"jeoparty/internal/plan"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := admin.UserFilter{
		Query:  q.Get("q"),
		Tier:   plan.Tier(q.Get("tier")),
		Status: plan.Status(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if v := strings.TrimSpace(q.Get("suspended")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeDomainError(w, r, apperr.Invalid("suspended", "must be true or false"))
			return
		}
		f.Suspended = &b
	}
	users, total, err := s.admin.ListUsers(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users, total, limit, offset))
}

func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	out, err := s.admin.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminSuspend(w http.ResponseWriter, r *http.Request) {
	s.adminReasonAction(w, r, s.admin.Suspend)
}

func (s *Server) handleAdminUnsuspend(w http.ResponseWriter, r *http.Request) {
	s.adminReasonAction(w, r, s.admin.Unsuspend)
}

func (s *Server) handleAdminRevokeGrant(w http.ResponseWriter, r *http.Request) {
	s.adminReasonAction(w, r, s.admin.RevokeGrant)
}

func (s *Server) handleAdminClearCustomPlan(w http.ResponseWriter, r *http.Request) {
	s.adminReasonAction(w, r, s.admin.ClearCustomPlan)
}

type reasonAction func(ctx context.Context, actor admin.Actor, userID, reason string) (account.Profile, error)

// adminReasonAction runs an admin action on the {id} user whose body is just a reason.
func (s *Server) adminReasonAction(w http.ResponseWriter, r *http.Request, fn reasonAction) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in admin.ReasonInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := fn(r.Context(), a, chi.URLParam(r, "id"), in.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in admin.GrantInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.admin.Grant(r.Context(), a, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminSetCustomPlan(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in admin.CustomPlanInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.admin.SetCustomPlan(r.Context(), a, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in admin.RefundInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.admin.Refund(r.Context(), a, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAdminActiveImpersonation(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	sess, err := s.admin.ActiveImpersonation(r.Context(), a.AdminID)
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleAdminStartImpersonation(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in admin.ImpersonationInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	sess, err := s.admin.StartImpersonation(r.Context(), a, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess, "header": impersonationHeader})
}

func (s *Server) handleAdminEndImpersonation(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.admin.EndImpersonation(r.Context(), a, chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, total, err := s.admin.AuditLog(r.Context(), admin.AuditFilter{
		AdminID:      q.Get("admin_id"),
		TargetUserID: q.Get("target_user_id"),
		Action:       q.Get("action"),
		Since:        since,
		Until:        until,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(entries, total, limit, offset))
}
