package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"jeoparty/internal/apperr"
	"jeoparty/internal/game"
)

// assemble returns a copy of g with its teams attached. Callers hold s.mu.
func (s *Store) assemble(g game.Game) game.Game {
	g.DailyDoubles = slices.Clone(g.DailyDoubles)
	g.Answered = slices.Clone(g.Answered)
	g.Teams = []game.Team{}
	for _, t := range s.teams {
		if t.GameID == g.ID {
			g.Teams = append(g.Teams, t)
		}
	}
	sort.Slice(g.Teams, func(i, j int) bool { return g.Teams[i].Position < g.Teams[j].Position })
	return g
}

// teamNameTaken mirrors the (game_id, lower(name)) unique index. Callers hold s.mu.
func (s *Store) teamNameTaken(gameID, name, exceptID string) bool {
	for _, t := range s.teams {
		if t.GameID == gameID && t.ID != exceptID && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) newTeam(gameID, name string, position int, now time.Time) game.Team {
	t := game.Team{
		ID:        uuid.NewString(),
		GameID:    gameID,
		Name:      name,
		Position:  position,
		Status:    game.TeamPending,
		CreatedAt: now,
	}
	s.teams[t.ID] = t
	return t
}

func (s *Store) CreateGame(_ context.Context, g game.Game, teamNames []string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.games {
		if other.JoinCode == g.JoinCode {
			return game.Game{}, apperr.Conflict("join code already in use")
		}
	}
	now := s.now()
	g.ID = uuid.NewString()
	g.CreatedAt, g.UpdatedAt = now, now
	g.DailyDoubles = []string{}
	g.Answered = []string{}
	g.Teams = nil
	s.games[g.ID] = g
	for i, name := range teamNames {
		s.newTeam(g.ID, name, i+1, now)
	}
	return s.assemble(g), nil
}

func (s *Store) GetGame(_ context.Context, id string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return game.Game{}, apperr.NotFound("game")
	}
	return s.assemble(g), nil
}

func (s *Store) GetGameByCode(_ context.Context, code string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.JoinCode == code {
			return s.assemble(g), nil
		}
	}
	return game.Game{}, apperr.NotFound("game")
}

func (s *Store) ListGames(_ context.Context, f game.ListFilter) ([]game.Game, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.Game
	for _, g := range s.games {
		if f.TeacherID != "" && g.TeacherID != f.TeacherID {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		out = append(out, s.assemble(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) DeleteGame(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; !ok {
		return apperr.NotFound("game")
	}
	delete(s.games, id)
	for tid, t := range s.teams {
		if t.GameID == id {
			delete(s.teams, tid)
		}
	}
	return nil
}

func (s *Store) StartGame(_ context.Context, id string, dailyDoubles []string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return game.Game{}, apperr.NotFound("game")
	}
	if g.Status != game.StatusSetup {
		return game.Game{}, apperr.Conflict("game is %s", g.Status)
	}
	now := s.now()
	g.Status = game.StatusActive
	g.DailyDoubles = slices.Clone(dailyDoubles)
	if g.DailyDoubles == nil {
		g.DailyDoubles = []string{}
	}
	g.StartedAt = &now
	g.UpdatedAt = now
	s.games[id] = g
	return s.assemble(g), nil
}

// EndGame mirrors app.end_game.
func (s *Store) EndGame(_ context.Context, id, teacherID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok || g.TeacherID != teacherID {
		return false, apperr.NotFound("game")
	}
	if g.Status == game.StatusCompleted {
		return true, nil
	}
	now := s.now()
	g.Status = game.StatusCompleted
	if g.FinalPhase == game.FinalWager || g.FinalPhase == game.FinalAnswer {
		g.FinalPhase = game.FinalReveal
	}
	g.CompletedAt = &now
	g.UpdatedAt = now
	s.games[id] = g
	return false, nil
}

func (s *Store) ScoreQuestion(_ context.Context, u game.ScoreUpdate) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[u.GameID]
	if !ok {
		return game.Game{}, apperr.NotFound("game")
	}
	if g.Status != game.StatusActive || g.FinalPhase != game.FinalNone {
		return game.Game{}, apperr.Conflict("game is not accepting scores")
	}
	if slices.Contains(g.Answered, u.QuestionID) {
		return game.Game{}, apperr.Conflict("question already answered")
	}
	if u.TeamID != "" {
		t, ok := s.teams[u.TeamID]
		if !ok || t.GameID != g.ID {
			return game.Game{}, apperr.NotFound("team")
		}
		t.Score += u.Delta
		s.teams[t.ID] = t
	}
	g.Answered = append(slices.Clone(g.Answered), u.QuestionID)
	g.UpdatedAt = s.now()
	s.games[g.ID] = g
	return s.assemble(g), nil
}

func (s *Store) SetFinalPhase(_ context.Context, id string, from, to game.FinalPhase) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return game.Game{}, apperr.NotFound("game")
	}
	if g.Status != game.StatusActive || g.FinalPhase != from {
		return game.Game{}, apperr.Conflict("final round is at %s", g.FinalPhase)
	}
	g.FinalPhase = to
	g.UpdatedAt = s.now()
	s.games[id] = g
	return s.assemble(g), nil
}

func (s *Store) DeleteStaleGames(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, g := range s.games {
		if g.Status == game.StatusSetup && g.UpdatedAt.Before(before) {
			delete(s.games, id)
			for tid, t := range s.teams {
				if t.GameID == id {
					delete(s.teams, tid)
				}
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) AddTeam(_ context.Context, gameID, name string) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return game.Team{}, apperr.NotFound("game")
	}
	if s.teamNameTaken(gameID, name, "") {
		return game.Team{}, apperr.Conflict("team name %q is already used in this game", name)
	}
	pos := 0
	for _, t := range s.teams {
		if t.GameID == gameID && t.Position > pos {
			pos = t.Position
		}
	}
	now := s.now()
	g.UpdatedAt = now
	s.games[gameID] = g
	return s.newTeam(gameID, name, pos+1, now), nil
}

func (s *Store) team(id string) (game.Team, error) {
	t, ok := s.teams[id]
	if !ok {
		return game.Team{}, apperr.NotFound("team")
	}
	return t, nil
}

func (s *Store) RenameTeam(_ context.Context, teamID, name string) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return game.Team{}, err
	}
	if s.teamNameTaken(t.GameID, name, teamID) {
		return game.Team{}, apperr.Conflict("team name %q is already used in this game", name)
	}
	t.Name = name
	s.teams[teamID] = t
	return t, nil
}

func (s *Store) RemoveTeam(_ context.Context, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.team(teamID); err != nil {
		return err
	}
	delete(s.teams, teamID)
	return nil
}

func (s *Store) AdjustScore(_ context.Context, teamID string, delta int) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return game.Team{}, err
	}
	t.Score += delta
	s.teams[teamID] = t
	return t, nil
}

func (s *Store) JudgeFinal(_ context.Context, teamID string, correct bool, delta int) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return game.Team{}, err
	}
	if t.FinalCorrect != nil {
		return game.Team{}, apperr.Conflict("team already judged")
	}
	t.FinalCorrect = &correct
	t.Score += delta
	s.teams[teamID] = t
	return t, nil
}

// ClaimTeam mirrors app.claim_team.
func (s *Store) ClaimTeam(_ context.Context, teamID, deviceHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return false, err
	}
	if g := s.games[t.GameID]; g.Status == game.StatusCompleted {
		return false, apperr.Conflict("game is over")
	}
	if t.DeviceHash != "" && t.DeviceHash != deviceHash {
		return false, nil
	}
	if t.DeviceHash == "" {
		now := s.now()
		t.DeviceHash = deviceHash
		t.ClaimedAt = &now
	}
	t.Status = game.TeamConnected
	s.teams[teamID] = t
	return true, nil
}

func (s *Store) ReleaseTeam(_ context.Context, teamID string) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return game.Team{}, err
	}
	t.DeviceHash = ""
	t.ClaimedAt = nil
	t.Status = game.TeamPending
	s.teams[teamID] = t
	return t, nil
}

func (s *Store) SetFinalWager(_ context.Context, teamID string, wager int) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return game.Team{}, err
	}
	if g := s.games[t.GameID]; g.FinalPhase != game.FinalWager {
		return game.Team{}, apperr.Conflict("wagers are closed")
	}
	t.FinalWager = &wager
	s.teams[teamID] = t
	return t, nil
}

func (s *Store) SetFinalAnswer(_ context.Context, teamID, answer string) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return game.Team{}, err
	}
	if g := s.games[t.GameID]; g.FinalPhase != game.FinalAnswer {
		return game.Team{}, apperr.Conflict("answers are closed")
	}
	t.FinalAnswer = &answer
	s.teams[teamID] = t
	return t, nil
}
