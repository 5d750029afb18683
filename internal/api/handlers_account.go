package api

import (
	"net/http"
	"strings"

	"jeoparty/internal/auth"
	"jeoparty/internal/validate"
)

type signupInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"omitempty,max=60,safetext"`
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in signupInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := validate.Struct(in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	session, err := s.auth.SignUp(r.Context(), in.Email, in.Password, in.DisplayName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// With email confirmation on, Supabase returns the user without a session.
	if session.User.ID != "" && session.AccessToken != "" {
		if _, err := s.accounts.EnsureProfile(r.Context(), identityOf(session, in.DisplayName)); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	if err := validate.Struct(in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	session, err := s.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if _, err := s.accounts.EnsureProfile(r.Context(), identityOf(session, "")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func identityOf(session auth.Session, displayName string) auth.Identity {
	name := session.User.DisplayName()
	if name == "" {
		name = displayName
	}
	return auth.Identity{UserID: session.User.ID, Email: session.User.Email, DisplayName: name}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	me, err := s.accounts.Me(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := map[string]any{
		"profile": me.Profile,
		"plan":    me.Plan,
		"usage":   me.Usage,
	}
	if user.Impersonation != nil {
		out["impersonation"] = user.Impersonation
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	profile, err := s.accounts.UpdateDisplayName(r.Context(), user.UserID, in.DisplayName)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
