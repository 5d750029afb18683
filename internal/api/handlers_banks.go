package api

import (
	"net/http"

	"jeoparty/internal/bank"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListBanks(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	banks, total, err := s.banks.ListBanks(r.Context(), user.UserID, bank.Filter{
		Scope:      q.Get("scope"),
		Subject:    q.Get("subject"),
		Difficulty: q.Get("difficulty"),
		Query:      q.Get("q"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(banks, total, limit, offset))
}

func (s *Server) handleCreateBank(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in bank.CreateBankInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.banks.CreateBank(r.Context(), user.UserID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBank(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.banks.GetBank(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBank(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in bank.UpdateBankInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.banks.UpdateBank(r.Context(), user.UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBank(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.banks.DeleteBank(r.Context(), user.UserID, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCopyBank(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.banks.CopyBank(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	qs, err := s.banks.ListQuestions(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if qs == nil {
		qs = []bank.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": qs})
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in bank.QuestionInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q, err := s.banks.CreateQuestion(r.Context(), user.UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in bank.UpdateQuestionInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q, err := s.banks.UpdateQuestion(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "qid"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.banks.DeleteQuestion(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "qid")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	board, err := s.banks.Board(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
