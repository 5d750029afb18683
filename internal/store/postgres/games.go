package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"jeoparty/internal/apperr"
	"jeoparty/internal/game"
)

const gameColumns = `
	id::text, teacher_id::text, COALESCE(bank_id::text, ''), title, join_code, status, final_phase,
	timer_seconds, daily_double_count, daily_doubles, final_enabled, final_question, final_answer,
	answered, started_at, completed_at, created_at, updated_at`

func scanGame(row pgx.Row) (game.Game, error) {
	var (
		g             game.Game
		status, phase string
	)
	err := row.Scan(
		&g.ID, &g.TeacherID, &g.BankID, &g.Title, &g.JoinCode, &status, &phase,
		&g.TimerSeconds, &g.DailyDoubleCount, &g.DailyDoubles, &g.FinalEnabled, &g.FinalQuestion, &g.FinalAnswer,
		&g.Answered, &g.StartedAt, &g.CompletedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	g.Status = game.Status(status)
	g.FinalPhase = game.FinalPhase(phase)
	return g, err
}

const teamColumns = `
	id::text, game_id::text, name, position, score, status, COALESCE(device_hash, ''),
	claimed_at, final_wager, final_answer, final_correct, created_at`

func scanTeam(row pgx.Row) (game.Team, error) {
	var (
		t      game.Team
		status string
	)
	err := row.Scan(
		&t.ID, &t.GameID, &t.Name, &t.Position, &t.Score, &status, &t.DeviceHash,
		&t.ClaimedAt, &t.FinalWager, &t.FinalAnswer, &t.FinalCorrect, &t.CreatedAt,
	)
	t.Status = game.TeamStatus(status)
	return t, err
}

// attachTeams loads the teams for games in one query.
func attachTeams(ctx context.Context, q querier, games []game.Game) error {
	if len(games) == 0 {
		return nil
	}
	ids := make([]string, len(games))
	idx := make(map[string]int, len(games))
	for i := range games {
		ids[i] = games[i].ID
		idx[games[i].ID] = i
		games[i].Teams = []game.Team{}
	}
	rows, err := q.Query(ctx, `
		SELECT `+teamColumns+`
		FROM app.teams
		WHERE game_id = ANY($1::uuid[])
		ORDER BY game_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return err
		}
		i := idx[t.GameID]
		games[i].Teams = append(games[i].Teams, t)
	}
	return rows.Err()
}

func (s *Store) loadGame(ctx context.Context, q querier, cond string, arg any) (game.Game, error) {
	g, err := scanGame(q.QueryRow(ctx, `SELECT `+gameColumns+` FROM app.games WHERE `+cond, arg))
	if err != nil {
		return game.Game{}, mapErr(err, "game")
	}
	games := []game.Game{g}
	if err := attachTeams(ctx, q, games); err != nil {
		return game.Game{}, err
	}
	return games[0], nil
}

func (s *Store) CreateGame(ctx context.Context, g game.Game, teamNames []string) (game.Game, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.Game{}, err
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO app.games (teacher_id, bank_id, title, join_code, timer_seconds, daily_double_count,
		                       final_enabled, final_question, final_answer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id::text
	`, g.TeacherID, g.BankID, g.Title, g.JoinCode, g.TimerSeconds, g.DailyDoubleCount,
		g.FinalEnabled, g.FinalQuestion, g.FinalAnswer).Scan(&id)
	if err != nil {
		return game.Game{}, mapErr(err, "join code")
	}
	for i, name := range teamNames {
		_, err = tx.Exec(ctx, `
			INSERT INTO app.teams (game_id, name, position)
			VALUES ($1, $2, $3)
		`, id, name, i+1)
		if err != nil {
			return game.Game{}, mapErr(err, "team name")
		}
	}
	out, err := s.loadGame(ctx, tx, "id = $1", id)
	if err != nil {
		return game.Game{}, err
	}
	return out, tx.Commit(ctx)
}

func (s *Store) GetGame(ctx context.Context, id string) (game.Game, error) {
	return s.loadGame(ctx, s.db, "id = $1", id)
}

func (s *Store) GetGameByCode(ctx context.Context, code string) (game.Game, error) {
	return s.loadGame(ctx, s.db, "join_code = $1", code)
}

func (s *Store) ListGames(ctx context.Context, f game.ListFilter) ([]game.Game, int, error) {
	w := &where{}
	if f.TeacherID != "" {
		w.add("teacher_id = " + w.arg(f.TeacherID))
	}
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM app.games`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "game")
	}
	limit, offset := w.arg(f.Limit), w.arg(f.Offset)
	rows, err := s.db.Query(ctx, `SELECT `+gameColumns+` FROM app.games`+w.sql()+
		` ORDER BY created_at DESC, id LIMIT `+limit+` OFFSET `+offset, w.args...)
	if err != nil {
		return nil, 0, mapErr(err, "game")
	}
	out := []game.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := attachTeams(ctx, s.db, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) DeleteGame(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM app.games WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "game")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("game")
	}
	return nil
}

func (s *Store) StartGame(ctx context.Context, id string, dailyDoubles []string) (game.Game, error) {
	if dailyDoubles == nil {
		dailyDoubles = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE app.games
		SET status = 'active', daily_doubles = $2, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'setup'
	`, id, dailyDoubles)
	if err != nil {
		return game.Game{}, mapErr(err, "game")
	}
	if tag.RowsAffected() == 0 {
		return game.Game{}, apperr.Conflict("game is not in setup")
	}
	return s.GetGame(ctx, id)
}

func (s *Store) EndGame(ctx context.Context, id, teacherID string) (bool, error) {
	var already bool
	err := s.db.QueryRow(ctx, `SELECT app.end_game($1, $2)`, id, teacherID).Scan(&already)
	return already, mapErr(err, "game")
}

func (s *Store) ScoreQuestion(ctx context.Context, u game.ScoreUpdate) (game.Game, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.Game{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE app.games
		SET answered = array_append(answered, $2), updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND final_phase = 'none'
		  AND NOT ($2 = ANY(answered))
	`, u.GameID, u.QuestionID)
	if err != nil {
		return game.Game{}, mapErr(err, "game")
	}
	if tag.RowsAffected() == 0 {
		return game.Game{}, apperr.Conflict("question already answered or game not accepting scores")
	}
	if u.TeamID != "" {
		tag, err = tx.Exec(ctx, `
			UPDATE app.teams
			SET score = score + $3
			WHERE id = $1 AND game_id = $2
		`, u.TeamID, u.GameID, u.Delta)
		if err != nil {
			return game.Game{}, mapErr(err, "team")
		}
		if tag.RowsAffected() == 0 {
			return game.Game{}, apperr.NotFound("team")
		}
	}
	g, err := s.loadGame(ctx, tx, "id = $1", u.GameID)
	if err != nil {
		return game.Game{}, err
	}
	return g, tx.Commit(ctx)
}

func (s *Store) SetFinalPhase(ctx context.Context, id string, from, to game.FinalPhase) (game.Game, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.games
		SET final_phase = $3, updated_at = now()
		WHERE id = $1 AND status = 'active' AND final_phase = $2
	`, id, string(from), string(to))
	if err != nil {
		return game.Game{}, mapErr(err, "game")
	}
	if tag.RowsAffected() == 0 {
		return game.Game{}, apperr.Conflict("final round moved on")
	}
	return s.GetGame(ctx, id)
}

func (s *Store) DeleteStaleGames(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM app.games WHERE status = 'setup' AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) AddTeam(ctx context.Context, gameID, name string) (game.Team, error) {
	t, err := scanTeam(s.db.QueryRow(ctx, `
		INSERT INTO app.teams (game_id, name, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1
		FROM app.teams
		WHERE game_id = $1
		RETURNING `+teamColumns, gameID, name))
	return t, mapErr(err, "team name")
}

func (s *Store) updateTeam(ctx context.Context, sql string, args ...any) (game.Team, error) {
	t, err := scanTeam(s.db.QueryRow(ctx, sql+` RETURNING `+teamColumns, args...))
	return t, mapErr(err, "team")
}

func (s *Store) RenameTeam(ctx context.Context, teamID, name string) (game.Team, error) {
	t, err := scanTeam(s.db.QueryRow(ctx, `UPDATE app.teams SET name = $2 WHERE id = $1 RETURNING `+teamColumns, teamID, name))
	return t, mapErr(err, "team name")
}

func (s *Store) RemoveTeam(ctx context.Context, teamID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM app.teams WHERE id = $1`, teamID)
	if err != nil {
		return mapErr(err, "team")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("team")
	}
	return nil
}

func (s *Store) AdjustScore(ctx context.Context, teamID string, delta int) (game.Team, error) {
	return s.updateTeam(ctx, `UPDATE app.teams SET score = score + $2 WHERE id = $1`, teamID, delta)
}

func (s *Store) JudgeFinal(ctx context.Context, teamID string, correct bool, delta int) (game.Team, error) {
	t, err := s.updateTeam(ctx, `
		UPDATE app.teams
		SET final_correct = $2, score = score + $3
		WHERE id = $1 AND final_correct IS NULL`, teamID, correct, delta)
	if err != nil && errors.Is(err, apperr.ErrNotFound) {
		return game.Team{}, apperr.Conflict("team already judged")
	}
	return t, err
}

func (s *Store) ClaimTeam(ctx context.Context, teamID, deviceHash string) (bool, error) {
	var claimed bool
	err := s.db.QueryRow(ctx, `SELECT app.claim_team($1, $2)`, teamID, deviceHash).Scan(&claimed)
	return claimed, mapErr(err, "team")
}

func (s *Store) ReleaseTeam(ctx context.Context, teamID string) (game.Team, error) {
	return s.updateTeam(ctx, `
		UPDATE app.teams
		SET device_hash = NULL, claimed_at = NULL, status = 'pending'
		WHERE id = $1`, teamID)
}

func (s *Store) SetFinalWager(ctx context.Context, teamID string, wager int) (game.Team, error) {
	t, err := s.updateTeam(ctx, `
		UPDATE app.teams t
		SET final_wager = $2
		FROM app.games g
		WHERE t.id = $1 AND g.id = t.game_id AND g.final_phase = 'wager'`, teamID, wager)
	if err != nil && errors.Is(err, apperr.ErrNotFound) {
		return game.Team{}, apperr.Conflict("wagers are closed")
	}
	return t, err
}

func (s *Store) SetFinalAnswer(ctx context.Context, teamID, answer string) (game.Team, error) {
	t, err := s.updateTeam(ctx, `
		UPDATE app.teams t
		SET final_answer = $2
		FROM app.games g
		WHERE t.id = $1 AND g.id = t.game_id AND g.final_phase = 'answer'`, teamID, answer)
	if err != nil && errors.Is(err, apperr.ErrNotFound) {
		return game.Team{}, apperr.Conflict("answers are closed")
	}
	return t, err
}
