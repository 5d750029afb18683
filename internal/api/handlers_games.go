package api

import (
	"net/http"

	"jeoparty/internal/game"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
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
	games, total, err := s.games.ListGames(r.Context(), user.UserID, game.ListFilter{
		Status: game.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(games, total, limit, offset))
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in game.CreateGameInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	g, err := s.games.CreateGame(r.Context(), user.UserID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	g, err := s.games.GetGame(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.games.DeleteGame(r.Context(), user.UserID, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	g, err := s.games.StartGame(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.games.EndGame(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in game.ScoreInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	g, err := s.games.ScoreQuestion(r.Context(), user.UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleAdvanceFinal(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	g, err := s.games.AdvanceFinal(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type teamNameInput struct {
	Name string `json:"name"`
}

func (s *Server) handleAddTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in teamNameInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.AddTeam(r.Context(), user.UserID, chi.URLParam(r, "id"), in.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleRenameTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in teamNameInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.RenameTeam(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "teamID"), in.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRemoveTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.games.RemoveTeam(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "teamID")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdjustScore(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in struct {
		Delta int `json:"delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.AdjustScore(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "teamID"), in.Delta)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReleaseTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.ReleaseTeam(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "teamID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleJudgeFinal(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var in struct {
		Correct bool `json:"correct"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.JudgeFinal(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "teamID"), in.Correct)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Student join flow. No account; the device id proves which team a browser claimed.

func (s *Server) handleJoinLookup(w http.ResponseWriter, r *http.Request) {
	g, err := s.games.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleJoinClaim(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out, err := s.games.ClaimTeam(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "teamID"), in.DeviceID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJoinWager(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID string `json:"device_id"`
		Wager    int    `json:"wager"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.SubmitWager(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "teamID"), in.DeviceID, in.Wager)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleJoinAnswer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID string `json:"device_id"`
		Answer   string `json:"answer"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	t, err := s.games.SubmitFinalAnswer(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "teamID"), in.DeviceID, in.Answer)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
