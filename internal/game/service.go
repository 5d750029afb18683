package game

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/bank"
	"jeoparty/internal/plan"
	"jeoparty/internal/validate"
)

type Store interface {
	GetProfile(ctx context.Context, id string) (account.Profile, error)
	CountOpenGames(ctx context.Context, teacherID string) (int, error)
	GetBank(ctx context.Context, id string) (bank.Bank, error)
	ListQuestions(ctx context.Context, bankID string) ([]bank.Question, error)

	CreateGame(ctx context.Context, g Game, teamNames []string) (Game, error)
	GetGame(ctx context.Context, id string) (Game, error)
	GetGameByCode(ctx context.Context, code string) (Game, error)
	ListGames(ctx context.Context, f ListFilter) ([]Game, int, error)
	DeleteGame(ctx context.Context, id string) error
	StartGame(ctx context.Context, id string, dailyDoubles []string) (Game, error)
	EndGame(ctx context.Context, id, teacherID string) (alreadyCompleted bool, err error)
	ScoreQuestion(ctx context.Context, u ScoreUpdate) (Game, error)
	SetFinalPhase(ctx context.Context, id string, from, to FinalPhase) (Game, error)
	DeleteStaleGames(ctx context.Context, before time.Time) (int64, error)

	AddTeam(ctx context.Context, gameID, name string) (Team, error)
	RenameTeam(ctx context.Context, teamID, name string) (Team, error)
	RemoveTeam(ctx context.Context, teamID string) error
	AdjustScore(ctx context.Context, teamID string, delta int) (Team, error)
	JudgeFinal(ctx context.Context, teamID string, correct bool, delta int) (Team, error)
	ClaimTeam(ctx context.Context, teamID, deviceHash string) (bool, error)
	ReleaseTeam(ctx context.Context, teamID string) (Team, error)
	SetFinalWager(ctx context.Context, teamID string, wager int) (Team, error)
	SetFinalAnswer(ctx context.Context, teamID, answer string) (Team, error)
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
	mu    sync.Mutex
	rand  *mathrand.Rand
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store: store,
		log:   logger,
		now:   time.Now,
		rand:  mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) planFor(ctx context.Context, userID string) (plan.Plan, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return plan.Plan{}, err
	}
	return p.Plan(s.now()), nil
}

func (s *Service) CreateGame(ctx context.Context, teacherID string, in CreateGameInput) (Game, error) {
	if err := validate.Struct(in); err != nil {
		return Game{}, err
	}
	names, err := validate.TeamNames(in.TeamNames)
	if err != nil {
		return Game{}, err
	}
	timer := DefaultTimerSeconds
	if in.TimerSeconds != nil {
		timer = *in.TimerSeconds
	}
	if timer != 0 && (timer < MinTimerSeconds || timer > MaxTimerSeconds) {
		return Game{}, apperr.Invalid("timer_seconds", fmt.Sprintf("must be 0 or between %d and %d", MinTimerSeconds, MaxTimerSeconds))
	}
	finalQ := strings.TrimSpace(in.FinalQuestion)
	finalA := strings.TrimSpace(in.FinalAnswer)
	if in.FinalEnabled {
		ve := &apperr.ValidationError{}
		if finalQ == "" {
			ve.Add("final_question", "is required when final round is enabled")
		}
		if finalA == "" {
			ve.Add("final_answer", "is required when final round is enabled")
		}
		if err := ve.OrNil(); err != nil {
			return Game{}, err
		}
	}

	pl, err := s.planFor(ctx, teacherID)
	if err != nil {
		return Game{}, err
	}
	if err := pl.CheckTeams(len(names)); err != nil {
		return Game{}, err
	}
	if timer != 0 && timer != DefaultTimerSeconds {
		if err := pl.Require(plan.FeatureCustomTimer); err != nil {
			return Game{}, err
		}
	}
	if in.DailyDoubleCount > 0 {
		if err := pl.Require(plan.FeatureDailyDouble); err != nil {
			return Game{}, err
		}
	}
	if in.FinalEnabled {
		if err := pl.Require(plan.FeatureFinalJeopardy); err != nil {
			return Game{}, err
		}
	}

	b, err := s.store.GetBank(ctx, in.BankID)
	if err != nil {
		return Game{}, err
	}
	if b.OwnerID != teacherID && !b.IsPublic {
		return Game{}, apperr.NotFound("bank")
	}
	questions, err := s.store.ListQuestions(ctx, b.ID)
	if err != nil {
		return Game{}, err
	}
	if len(questions) == 0 {
		return Game{}, apperr.Invalid("bank_id", "bank has no questions")
	}

	open, err := s.store.CountOpenGames(ctx, teacherID)
	if err != nil {
		return Game{}, err
	}
	if err := pl.CheckActiveGames(open); err != nil {
		return Game{}, err
	}

	g := Game{
		TeacherID:        teacherID,
		BankID:           b.ID,
		Title:            strings.TrimSpace(in.Title),
		Status:           StatusSetup,
		FinalPhase:       FinalNone,
		TimerSeconds:     timer,
		DailyDoubleCount: in.DailyDoubleCount,
		FinalEnabled:     in.FinalEnabled,
	}
	if in.FinalEnabled {
		g.FinalQuestion, g.FinalAnswer = finalQ, finalA
	}
	for attempt := 0; ; attempt++ {
		code, err := generateJoinCode()
		if err != nil {
			return Game{}, err
		}
		g.JoinCode = code
		created, err := s.store.CreateGame(ctx, g, names)
		if err == nil {
			s.log.Info("game created", "game_id", created.ID, "teacher_id", teacherID, "teams", len(names))
			return created, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt >= 4 {
			return Game{}, err
		}
	}
}

func (s *Service) ListGames(ctx context.Context, teacherID string, f ListFilter) ([]Game, int, error) {
	switch f.Status {
	case "", StatusSetup, StatusActive, StatusCompleted:
	default:
		return nil, 0, apperr.Invalid("status", "must be one of setup, active, completed")
	}
	f.TeacherID = teacherID
	f.Limit, f.Offset = bank.Page(f.Limit, f.Offset)
	return s.store.ListGames(ctx, f)
}

// GetGame returns a game owned by teacherID; other games read as not found.
func (s *Service) GetGame(ctx context.Context, teacherID, id string) (Game, error) {
	g, err := s.store.GetGame(ctx, id)
	if err != nil {
		return Game{}, err
	}
	if g.TeacherID != teacherID {
		return Game{}, apperr.NotFound("game")
	}
	return g, nil
}

func (s *Service) DeleteGame(ctx context.Context, teacherID, id string) error {
	g, err := s.GetGame(ctx, teacherID, id)
	if err != nil {
		return err
	}
	if g.Status == StatusActive {
		return apperr.Conflict("end the game before deleting it")
	}
	return s.store.DeleteGame(ctx, id)
}

func (s *Service) setupGame(ctx context.Context, teacherID, id string) (Game, error) {
	g, err := s.GetGame(ctx, teacherID, id)
	if err != nil {
		return Game{}, err
	}
	if g.Status != StatusSetup {
		return Game{}, apperr.Conflict("teams can only change while the game is in setup")
	}
	return g, nil
}

func (s *Service) AddTeam(ctx context.Context, teacherID, gameID, name string) (Team, error) {
	name, err := validate.TeamName(name)
	if err != nil {
		return Team{}, err
	}
	g, err := s.setupGame(ctx, teacherID, gameID)
	if err != nil {
		return Team{}, err
	}
	pl, err := s.planFor(ctx, teacherID)
	if err != nil {
		return Team{}, err
	}
	if err := pl.CheckTeams(len(g.Teams) + 1); err != nil {
		return Team{}, err
	}
	if teamNameTaken(g, name, "") {
		return Team{}, apperr.Conflict("team name %q is already used in this game", name)
	}
	return s.store.AddTeam(ctx, gameID, name)
}

func (s *Service) RenameTeam(ctx context.Context, teacherID, gameID, teamID, name string) (Team, error) {
	name, err := validate.TeamName(name)
	if err != nil {
		return Team{}, err
	}
	g, err := s.setupGame(ctx, teacherID, gameID)
	if err != nil {
		return Team{}, err
	}
	if _, ok := g.Team(teamID); !ok {
		return Team{}, apperr.NotFound("team")
	}
	if teamNameTaken(g, name, teamID) {
		return Team{}, apperr.Conflict("team name %q is already used in this game", name)
	}
	return s.store.RenameTeam(ctx, teamID, name)
}

func (s *Service) RemoveTeam(ctx context.Context, teacherID, gameID, teamID string) error {
	g, err := s.setupGame(ctx, teacherID, gameID)
	if err != nil {
		return err
	}
	if _, ok := g.Team(teamID); !ok {
		return apperr.NotFound("team")
	}
	if len(g.Teams)-1 < plan.MinTeams {
		return apperr.Conflict("a game needs at least %d teams", plan.MinTeams)
	}
	return s.store.RemoveTeam(ctx, teamID)
}

func teamNameTaken(g Game, name, exceptID string) bool {
	for _, t := range g.Teams {
		if t.ID != exceptID && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

// StartGame moves a game out of setup and draws its daily doubles.
func (s *Service) StartGame(ctx context.Context, teacherID, id string) (Game, error) {
	g, err := s.GetGame(ctx, teacherID, id)
	if err != nil {
		return Game{}, err
	}
	if !CanTransition(g.Status, StatusActive) {
		return Game{}, apperr.Conflict("game is %s", g.Status)
	}
	if len(g.Teams) < plan.MinTeams {
		return Game{}, apperr.Conflict("a game needs at least %d teams", plan.MinTeams)
	}
	var doubles []string
	if g.DailyDoubleCount > 0 {
		questions, err := s.store.ListQuestions(ctx, g.BankID)
		if err != nil {
			return Game{}, err
		}
		doubles = s.pickDailyDoubles(questions, g.DailyDoubleCount)
	}
	started, err := s.store.StartGame(ctx, id, doubles)
	if err != nil {
		return Game{}, err
	}
	s.log.Info("game started", "game_id", id, "teacher_id", teacherID, "daily_doubles", len(doubles))
	return started, nil
}

func (s *Service) pickDailyDoubles(questions []bank.Question, n int) []string {
	if n > len(questions) {
		n = len(questions)
	}
	s.mu.Lock()
	perm := s.rand.Perm(len(questions))
	s.mu.Unlock()
	out := make([]string, 0, n)
	for _, i := range perm[:n] {
		out = append(out, questions[i].ID)
	}
	return out
}

// EndGame is idempotent: ending a completed game reports AlreadyCompleted.
func (s *Service) EndGame(ctx context.Context, teacherID, id string) (EndResult, error) {
	already, err := s.store.EndGame(ctx, id, teacherID)
	if err != nil {
		return EndResult{}, err
	}
	if !already {
		s.log.Info("game ended", "game_id", id, "teacher_id", teacherID)
	}
	return EndResult{Status: StatusCompleted, AlreadyCompleted: already}, nil
}

func (s *Service) activeGame(ctx context.Context, teacherID, id string) (Game, error) {
	g, err := s.GetGame(ctx, teacherID, id)
	if err != nil {
		return Game{}, err
	}
	if g.Status != StatusActive {
		return Game{}, apperr.Conflict("game is %s", g.Status)
	}
	return g, nil
}

func (s *Service) ScoreQuestion(ctx context.Context, teacherID, gameID string, in ScoreInput) (Game, error) {
	if err := validate.Struct(in); err != nil {
		return Game{}, err
	}
	g, err := s.activeGame(ctx, teacherID, gameID)
	if err != nil {
		return Game{}, err
	}
	if g.FinalPhase != FinalNone {
		return Game{}, apperr.Conflict("the final round has started")
	}
	if g.IsAnswered(in.QuestionID) {
		return Game{}, apperr.Conflict("question already answered")
	}
	questions, err := s.store.ListQuestions(ctx, g.BankID)
	if err != nil {
		return Game{}, err
	}
	var q *bank.Question
	for i := range questions {
		if questions[i].ID == in.QuestionID {
			q = &questions[i]
			break
		}
	}
	if q == nil {
		return Game{}, apperr.Invalid("question_id", "is not on this game's board")
	}

	u := ScoreUpdate{GameID: g.ID, QuestionID: q.ID}
	if in.TeamID != "" {
		t, ok := g.Team(in.TeamID)
		if !ok {
			return Game{}, apperr.NotFound("team")
		}
		amount := q.PointValue
		if g.IsDailyDouble(q.ID) {
			maxWager := DailyDoubleMaxWager(t.Score)
			if in.Wager < MinDailyDoubleWager || in.Wager > maxWager {
				return Game{}, apperr.Invalid("wager", fmt.Sprintf("must be between %d and %d", MinDailyDoubleWager, maxWager))
			}
			amount = in.Wager
		}
		if !in.Correct {
			amount = -amount
		}
		u.TeamID, u.Delta = t.ID, amount
	}
	return s.store.ScoreQuestion(ctx, u)
}

// DailyDoubleMaxWager is the larger of the team's score and the top board value.
func DailyDoubleMaxWager(score int) int {
	return max(score, DailyDoubleFloor)
}

func (s *Service) AdjustScore(ctx context.Context, teacherID, gameID, teamID string, delta int) (Team, error) {
	if delta == 0 {
		return Team{}, apperr.Invalid("delta", "must not be zero")
	}
	if delta > 10000 || delta < -10000 {
		return Team{}, apperr.Invalid("delta", "must be between -10000 and 10000")
	}
	g, err := s.activeGame(ctx, teacherID, gameID)
	if err != nil {
		return Team{}, err
	}
	if _, ok := g.Team(teamID); !ok {
		return Team{}, apperr.NotFound("team")
	}
	t, err := s.store.AdjustScore(ctx, teamID, delta)
	if err != nil {
		return Team{}, err
	}
	s.log.Info("score adjusted", "game_id", gameID, "team_id", teamID, "delta", delta)
	return t, nil
}

// AdvanceFinal steps the final round none -> wager -> answer -> reveal.
func (s *Service) AdvanceFinal(ctx context.Context, teacherID, gameID string) (Game, error) {
	g, err := s.activeGame(ctx, teacherID, gameID)
	if err != nil {
		return Game{}, err
	}
	if !g.FinalEnabled {
		return Game{}, apperr.Conflict("final round is not enabled for this game")
	}
	next := g.FinalPhase.Next()
	if next == "" {
		return Game{}, apperr.Conflict("final round is already at %s", g.FinalPhase)
	}
	return s.store.SetFinalPhase(ctx, gameID, g.FinalPhase, next)
}

func (s *Service) JudgeFinal(ctx context.Context, teacherID, gameID, teamID string, correct bool) (Team, error) {
	g, err := s.activeGame(ctx, teacherID, gameID)
	if err != nil {
		return Team{}, err
	}
	if g.FinalPhase != FinalReveal {
		return Team{}, apperr.Conflict("answers are judged during reveal")
	}
	t, ok := g.Team(teamID)
	if !ok {
		return Team{}, apperr.NotFound("team")
	}
	if t.FinalCorrect != nil {
		return Team{}, apperr.Conflict("team already judged")
	}
	wager := 0
	if t.FinalWager != nil {
		wager = *t.FinalWager
	}
	if !correct {
		wager = -wager
	}
	return s.store.JudgeFinal(ctx, teamID, correct, wager)
}

func (s *Service) ReleaseTeam(ctx context.Context, teacherID, gameID, teamID string) (Team, error) {
	g, err := s.GetGame(ctx, teacherID, gameID)
	if err != nil {
		return Team{}, err
	}
	if _, ok := g.Team(teamID); !ok {
		return Team{}, apperr.NotFound("team")
	}
	return s.store.ReleaseTeam(ctx, teamID)
}

// SweepStaleGames removes setup games untouched for olderThan (StaleAfter when zero).
func (s *Service) SweepStaleGames(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = StaleAfter
	}
	n, err := s.store.DeleteStaleGames(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("stale games removed", "count", n)
	}
	return n, nil
}

func (s *Service) byCode(ctx context.Context, code string) (Game, error) {
	code, err := validate.JoinCode(code)
	if err != nil {
		return Game{}, err
	}
	return s.store.GetGameByCode(ctx, code)
}

// Lookup is the student join page view.
func (s *Service) Lookup(ctx context.Context, code string) (PublicGame, error) {
	g, err := s.byCode(ctx, code)
	if err != nil {
		return PublicGame{}, err
	}
	return g.Public(), nil
}

// ClaimTeam binds a team to a student device. Reclaiming from the same device succeeds.
func (s *Service) ClaimTeam(ctx context.Context, code, teamID, deviceID string) (ClaimResult, error) {
	deviceID, err := validate.DeviceID(deviceID)
	if err != nil {
		return ClaimResult{}, err
	}
	g, err := s.byCode(ctx, code)
	if err != nil {
		return ClaimResult{}, err
	}
	if g.Status == StatusCompleted {
		return ClaimResult{}, apperr.Conflict("game is over")
	}
	if _, ok := g.Team(teamID); !ok {
		return ClaimResult{}, apperr.NotFound("team")
	}
	pl, err := s.planFor(ctx, g.TeacherID)
	if err != nil {
		return ClaimResult{}, err
	}
	if err := pl.Require(plan.FeatureDeviceJoin); err != nil {
		return ClaimResult{}, err
	}
	claimed, err := s.store.ClaimTeam(ctx, teamID, HashDevice(g.ID, deviceID))
	if err != nil {
		return ClaimResult{}, err
	}
	if !claimed {
		return ClaimResult{}, apperr.Conflict("team is already claimed by another device")
	}
	return ClaimResult{TeamID: teamID, Claimed: true}, nil
}

func (s *Service) studentTeam(ctx context.Context, code, teamID, deviceID string, phase FinalPhase) (Game, Team, error) {
	deviceID, err := validate.DeviceID(deviceID)
	if err != nil {
		return Game{}, Team{}, err
	}
	g, err := s.byCode(ctx, code)
	if err != nil {
		return Game{}, Team{}, err
	}
	t, ok := g.Team(teamID)
	if !ok {
		return Game{}, Team{}, apperr.NotFound("team")
	}
	want := HashDevice(g.ID, deviceID)
	if !t.Claimed() || subtle.ConstantTimeCompare([]byte(t.DeviceHash), []byte(want)) != 1 {
		return Game{}, Team{}, fmt.Errorf("%w: this device has not claimed the team", apperr.ErrForbidden)
	}
	if g.Status != StatusActive || g.FinalPhase != phase {
		return Game{}, Team{}, apperr.Conflict("not accepting %ss right now", phase)
	}
	return g, t, nil
}

func (s *Service) SubmitWager(ctx context.Context, code, teamID, deviceID string, wager int) (Team, error) {
	_, t, err := s.studentTeam(ctx, code, teamID, deviceID, FinalWager)
	if err != nil {
		return Team{}, err
	}
	maxWager := max(t.Score, 0)
	if wager < 0 || wager > maxWager {
		return Team{}, apperr.Invalid("wager", fmt.Sprintf("must be between 0 and %d", maxWager))
	}
	return s.store.SetFinalWager(ctx, teamID, wager)
}

func (s *Service) SubmitFinalAnswer(ctx context.Context, code, teamID, deviceID, answer string) (Team, error) {
	answer, err := validate.Text("answer", answer, 1, validate.FinalAnswerMax)
	if err != nil {
		return Team{}, err
	}
	_, _, err = s.studentTeam(ctx, code, teamID, deviceID, FinalAnswer)
	if err != nil {
		return Team{}, err
	}
	return s.store.SetFinalAnswer(ctx, teamID, answer)
}

// HashDevice derives the stored device fingerprint; raw device ids are never persisted.
func HashDevice(gameID, deviceID string) string {
	sum := sha256.Sum256([]byte(gameID + ":" + deviceID))
	return hex.EncodeToString(sum[:])
}

func generateJoinCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, JoinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}
