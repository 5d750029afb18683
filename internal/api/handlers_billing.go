package api

import (
	"fmt"
	"io"
	"net/http"

	"jeoparty/internal/apperr"
	"jeoparty/internal/billing"
)

// billingUser returns the acting user for billing changes. Impersonating admins may look but
// not move money on someone else's behalf.
func (s *Server) billingUser(r *http.Request) (UserContext, error) {
	user, err := userFromContext(r.Context())
	if err != nil {
		return UserContext{}, err
	}
	if user.Impersonation != nil {
		return UserContext{}, fmt.Errorf("%w: billing changes are not allowed while impersonating", apperr.ErrForbidden)
	}
	return user, nil
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.billing.Status(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	user, err := s.billingUser(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in billing.PlanInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	url, err := s.billing.Checkout(r.Context(), user.UserID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	user, err := s.billingUser(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in billing.PlanInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.billing.ChangePlan(r.Context(), user.UserID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, err := s.billingUser(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.billing.Cancel(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	user, err := s.billingUser(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.billing.Resume(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	user, err := s.billingUser(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	url, err := s.billing.Portal(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := s.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
