package game_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/bank"
	"jeoparty/internal/game"
	"jeoparty/internal/plan"
	"jeoparty/internal/store/memory"
)

type fixture struct {
	svc       *game.Service
	store     *memory.Store
	teacher   account.Profile
	bank      bank.Bank
	questions []bank.Question
}

func newFixture(t *testing.T, tier plan.Tier, points ...int) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	teacher := st.PutProfile(account.Profile{Email: "t@example.com", Tier: tier, Status: plan.StatusActive})
	b, err := st.CreateBank(ctx, bank.Bank{OwnerID: teacher.ID, Title: "Unit", Difficulty: bank.DifficultyEasy, Categories: []string{"Science"}})
	require.NoError(t, err)
	if len(points) == 0 {
		points = []int{100, 200}
	}
	var qs []bank.Question
	for _, pv := range points {
		q, err := st.CreateQuestion(ctx, bank.Question{BankID: b.ID, Category: "Science", PointValue: pv, Question: "Q", Answer: "A"})
		require.NoError(t, err)
		qs = append(qs, q)
	}
	return &fixture{svc: game.NewService(st, nil), store: st, teacher: teacher, bank: b, questions: qs}
}

func (f *fixture) create(t *testing.T, in game.CreateGameInput) game.Game {
	t.Helper()
	if in.BankID == "" {
		in.BankID = f.bank.ID
	}
	if in.Title == "" {
		in.Title = "Friday review"
	}
	if in.TeamNames == nil {
		in.TeamNames = []string{"Red", "Blue"}
	}
	g, err := f.svc.CreateGame(context.Background(), f.teacher.ID, in)
	require.NoError(t, err)
	return g
}

func ptr[T any](v T) *T { return &v }

func TestCreateGame(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	g := f.create(t, game.CreateGameInput{})

	assert.Equal(t, game.StatusSetup, g.Status)
	assert.Equal(t, game.FinalNone, g.FinalPhase)
	assert.Equal(t, game.DefaultTimerSeconds, g.TimerSeconds)
	assert.Len(t, g.JoinCode, game.JoinCodeLength)
	require.Len(t, g.Teams, 2)
	assert.Equal(t, "Red", g.Teams[0].Name)
	assert.Equal(t, game.TeamPending, g.Teams[0].Status)
}

func TestCreateGamePlanGates(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	base := game.CreateGameInput{BankID: f.bank.ID, Title: "G", TeamNames: []string{"A", "B"}}

	in := base
	in.TimerSeconds = ptr(60)
	_, err := f.svc.CreateGame(ctx, f.teacher.ID, in)
	assert.ErrorIs(t, err, apperr.ErrLimit)

	in = base
	in.DailyDoubleCount = 1
	_, err = f.svc.CreateGame(ctx, f.teacher.ID, in)
	assert.ErrorIs(t, err, apperr.ErrLimit)

	in = base
	in.FinalEnabled, in.FinalQuestion, in.FinalAnswer = true, "Q", "A"
	_, err = f.svc.CreateGame(ctx, f.teacher.ID, in)
	assert.ErrorIs(t, err, apperr.ErrLimit)

	in = base
	in.TeamNames = []string{"1", "2", "3", "4", "5", "6"}
	_, err = f.svc.CreateGame(ctx, f.teacher.ID, in)
	assert.ErrorIs(t, err, apperr.ErrLimit)

	f.create(t, game.CreateGameInput{})
	_, err = f.svc.CreateGame(ctx, f.teacher.ID, base)
	assert.ErrorIs(t, err, apperr.ErrLimit, "free plan allows one open game")
}

func TestCreateGameValidation(t *testing.T) {
	f := newFixture(t, plan.TierPremium)
	ctx := context.Background()

	_, err := f.svc.CreateGame(ctx, f.teacher.ID, game.CreateGameInput{BankID: f.bank.ID, Title: "G", TeamNames: []string{"A"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.CreateGame(ctx, f.teacher.ID, game.CreateGameInput{BankID: f.bank.ID, Title: "G", TeamNames: []string{"A", "B"}, TimerSeconds: ptr(3)})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.CreateGame(ctx, f.teacher.ID, game.CreateGameInput{BankID: f.bank.ID, Title: "G", TeamNames: []string{"A", "B"}, FinalEnabled: true})
	require.ErrorIs(t, err, apperr.ErrValidation)
	fields := apperr.FieldsOf(err)
	assert.Contains(t, fields, "final_question")
	assert.Contains(t, fields, "final_answer")

	empty, err := f.store.CreateBank(ctx, bank.Bank{OwnerID: f.teacher.ID, Title: "Empty", Difficulty: bank.DifficultyEasy, Categories: []string{"X"}})
	require.NoError(t, err)
	_, err = f.svc.CreateGame(ctx, f.teacher.ID, game.CreateGameInput{BankID: empty.ID, Title: "G", TeamNames: []string{"A", "B"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	other := f.store.PutProfile(account.Profile{Email: "o@example.com", Tier: plan.TierPremium, Status: plan.StatusActive})
	_, err = f.svc.CreateGame(ctx, other.ID, game.CreateGameInput{BankID: f.bank.ID, Title: "G", TeamNames: []string{"A", "B"}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTeamsOnlyChangeDuringSetup(t *testing.T) {
	f := newFixture(t, plan.TierBasic)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})

	added, err := f.svc.AddTeam(ctx, f.teacher.ID, g.ID, "Green")
	require.NoError(t, err)
	assert.Equal(t, 3, added.Position)

	_, err = f.svc.AddTeam(ctx, f.teacher.ID, g.ID, "green")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	renamed, err := f.svc.RenameTeam(ctx, f.teacher.ID, g.ID, added.ID, "Emerald")
	require.NoError(t, err)
	assert.Equal(t, "Emerald", renamed.Name)

	require.NoError(t, f.svc.RemoveTeam(ctx, f.teacher.ID, g.ID, added.ID))
	assert.ErrorIs(t, f.svc.RemoveTeam(ctx, f.teacher.ID, g.ID, g.Teams[0].ID), apperr.ErrConflict)

	_, err = f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	_, err = f.svc.AddTeam(ctx, f.teacher.ID, g.ID, "Late")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestScoringFlow(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})
	red := g.Teams[0]

	_, err := f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID, TeamID: red.ID, Correct: true})
	assert.ErrorIs(t, err, apperr.ErrConflict, "game not started")

	g, err = f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	assert.Empty(t, g.DailyDoubles)

	g, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[1].ID, TeamID: red.ID, Correct: true})
	require.NoError(t, err)
	got, _ := g.Team(red.ID)
	assert.Equal(t, 200, got.Score)
	assert.True(t, g.IsAnswered(f.questions[1].ID))

	_, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[1].ID, TeamID: red.ID, Correct: true})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	g, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID, TeamID: red.ID, Correct: false})
	require.NoError(t, err)
	got, _ = g.Team(red.ID)
	assert.Equal(t, 100, got.Score)

	adjusted, err := f.svc.AdjustScore(ctx, f.teacher.ID, g.ID, red.ID, -250)
	require.NoError(t, err)
	assert.Equal(t, -150, adjusted.Score)

	_, err = f.svc.AdjustScore(ctx, f.teacher.ID, g.ID, red.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestScoreWithoutTeamMarksAnswered(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})
	_, err := f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)

	g, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID})
	require.NoError(t, err)
	assert.True(t, g.IsAnswered(f.questions[0].ID))
	for _, team := range g.Teams {
		assert.Zero(t, team.Score)
	}
}

func TestDailyDoubleWager(t *testing.T) {
	f := newFixture(t, plan.TierBasic, 100, 200)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{DailyDoubleCount: 2})
	g, err := f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	require.Len(t, g.DailyDoubles, 2)
	red := g.Teams[0]

	_, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID, TeamID: red.ID, Correct: true, Wager: 4})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID, TeamID: red.ID, Correct: true, Wager: 501})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	g, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID, TeamID: red.ID, Correct: true, Wager: 500})
	require.NoError(t, err)
	got, _ := g.Team(red.ID)
	assert.Equal(t, 500, got.Score)

	assert.Equal(t, 500, game.DailyDoubleMaxWager(-300))
	assert.Equal(t, 1200, game.DailyDoubleMaxWager(1200))
}

func TestEndGameIsIdempotent(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})

	res, err := f.svc.EndGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)

	res, err = f.svc.EndGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyCompleted)
	assert.Equal(t, game.StatusCompleted, res.Status)

	other := f.store.PutProfile(account.Profile{Email: "o@example.com"})
	_, err = f.svc.EndGame(ctx, other.ID, g.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestDeleteGame(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})
	_, err := f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteGame(ctx, f.teacher.ID, g.ID), apperr.ErrConflict)
	_, err = f.svc.EndGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteGame(ctx, f.teacher.ID, g.ID))

	games, total, err := f.svc.ListGames(ctx, f.teacher.ID, game.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, games)
}

func TestStudentClaimAndFinalRound(t *testing.T) {
	f := newFixture(t, plan.TierBasic)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{FinalEnabled: true, FinalQuestion: "Largest planet?", FinalAnswer: "Jupiter"})
	red, blue := g.Teams[0], g.Teams[1]

	view, err := f.svc.Lookup(ctx, " "+g.JoinCode+" ")
	require.NoError(t, err)
	assert.Empty(t, view.FinalQuestion)
	assert.Len(t, view.Teams, 2)

	res, err := f.svc.ClaimTeam(ctx, g.JoinCode, red.ID, "device-red-1")
	require.NoError(t, err)
	assert.True(t, res.Claimed)

	_, err = f.svc.ClaimTeam(ctx, g.JoinCode, red.ID, "device-red-1")
	require.NoError(t, err, "same device may reclaim")

	_, err = f.svc.ClaimTeam(ctx, g.JoinCode, red.ID, "device-intruder")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.ClaimTeam(ctx, g.JoinCode, blue.ID, "device-blue-1")
	require.NoError(t, err)

	_, err = f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	_, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[1].ID, TeamID: red.ID, Correct: true})
	require.NoError(t, err)

	_, err = f.svc.SubmitWager(ctx, g.JoinCode, red.ID, "device-red-1", 100)
	assert.ErrorIs(t, err, apperr.ErrConflict, "wagers not open yet")

	g, err = f.svc.AdvanceFinal(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, game.FinalWager, g.FinalPhase)

	_, err = f.svc.ScoreQuestion(ctx, f.teacher.ID, g.ID, game.ScoreInput{QuestionID: f.questions[0].ID, TeamID: red.ID, Correct: true})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.SubmitWager(ctx, g.JoinCode, red.ID, "device-blue-1", 100)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.SubmitWager(ctx, g.JoinCode, red.ID, "device-red-1", 201)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.SubmitWager(ctx, g.JoinCode, red.ID, "device-red-1", 150)
	require.NoError(t, err)
	_, err = f.svc.SubmitWager(ctx, g.JoinCode, blue.ID, "device-blue-1", 0)
	require.NoError(t, err)

	g, err = f.svc.AdvanceFinal(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	view, err = f.svc.Lookup(ctx, g.JoinCode)
	require.NoError(t, err)
	assert.Equal(t, "Largest planet?", view.FinalQuestion)

	_, err = f.svc.SubmitFinalAnswer(ctx, g.JoinCode, red.ID, "device-red-1", "Jupiter")
	require.NoError(t, err)
	_, err = f.svc.SubmitFinalAnswer(ctx, g.JoinCode, blue.ID, "device-blue-1", "<script>alert(1)</script>")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.JudgeFinal(ctx, f.teacher.ID, g.ID, red.ID, true)
	assert.ErrorIs(t, err, apperr.ErrConflict, "judging happens at reveal")

	g, err = f.svc.AdvanceFinal(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, game.FinalReveal, g.FinalPhase)
	_, err = f.svc.AdvanceFinal(ctx, f.teacher.ID, g.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	judged, err := f.svc.JudgeFinal(ctx, f.teacher.ID, g.ID, red.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 350, judged.Score)
	_, err = f.svc.JudgeFinal(ctx, f.teacher.ID, g.ID, red.ID, false)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	judged, err = f.svc.JudgeFinal(ctx, f.teacher.ID, g.ID, blue.ID, false)
	require.NoError(t, err)
	assert.Zero(t, judged.Score)
}

func TestEndGameClosesOpenFinalRound(t *testing.T) {
	f := newFixture(t, plan.TierBasic)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{FinalEnabled: true, FinalQuestion: "Largest planet?", FinalAnswer: "Jupiter"})
	red := g.Teams[0]
	_, err := f.svc.ClaimTeam(ctx, g.JoinCode, red.ID, "device-red-1")
	require.NoError(t, err)
	_, err = f.svc.StartGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	g, err = f.svc.AdvanceFinal(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	require.Equal(t, game.FinalWager, g.FinalPhase)

	_, err = f.svc.EndGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)

	view, err := f.svc.Lookup(ctx, g.JoinCode)
	require.NoError(t, err)
	assert.Equal(t, game.StatusCompleted, view.Status)
	assert.Equal(t, game.FinalReveal, view.FinalPhase)

	got, err := f.svc.GetGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, game.FinalReveal, got.FinalPhase)

	_, err = f.svc.SubmitWager(ctx, g.JoinCode, red.ID, "device-red-1", 0)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	plain := f.create(t, game.CreateGameInput{})
	_, err = f.svc.EndGame(ctx, f.teacher.ID, plain.ID)
	require.NoError(t, err)
	got, err = f.svc.GetGame(ctx, f.teacher.ID, plain.ID)
	require.NoError(t, err)
	assert.Equal(t, game.FinalNone, got.FinalPhase, "games that never reached the final stay as they were")
}

func TestReleaseTeamAllowsNewDevice(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})
	red := g.Teams[0]

	_, err := f.svc.ClaimTeam(ctx, g.JoinCode, red.ID, "device-old-1")
	require.NoError(t, err)
	released, err := f.svc.ReleaseTeam(ctx, f.teacher.ID, g.ID, red.ID)
	require.NoError(t, err)
	assert.False(t, released.Claimed())
	assert.Equal(t, game.TeamPending, released.Status)

	_, err = f.svc.ClaimTeam(ctx, g.JoinCode, red.ID, "device-new-1")
	require.NoError(t, err)
}

func TestClaimRequiresValidInput(t *testing.T) {
	f := newFixture(t, plan.TierFree)
	ctx := context.Background()
	g := f.create(t, game.CreateGameInput{})

	_, err := f.svc.ClaimTeam(ctx, g.JoinCode, g.Teams[0].ID, "short")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.ClaimTeam(ctx, "bad!", g.Teams[0].ID, "device-abc-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.EndGame(ctx, f.teacher.ID, g.ID)
	require.NoError(t, err)
	_, err = f.svc.ClaimTeam(ctx, g.JoinCode, g.Teams[0].ID, "device-abc-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestHashDevice(t *testing.T) {
	a := game.HashDevice("g1", "device")
	assert.Len(t, a, 64)
	assert.Equal(t, a, game.HashDevice("g1", "device"))
	assert.NotEqual(t, a, game.HashDevice("g2", "device"))
}

func TestSweepStaleGames(t *testing.T) {
	f := newFixture(t, plan.TierPremium)
	ctx := context.Background()
	f.store.Now = func() time.Time { return time.Now().Add(-40 * 24 * time.Hour) }
	old := f.create(t, game.CreateGameInput{})
	f.store.Now = time.Now
	fresh := f.create(t, game.CreateGameInput{})

	n, err := f.svc.SweepStaleGames(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.GetGame(ctx, f.teacher.ID, old.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.GetGame(ctx, f.teacher.ID, fresh.ID)
	assert.NoError(t, err)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, game.CanTransition(game.StatusSetup, game.StatusActive))
	assert.True(t, game.CanTransition(game.StatusActive, game.StatusCompleted))
	assert.False(t, game.CanTransition(game.StatusCompleted, game.StatusActive))
	assert.False(t, game.CanTransition(game.StatusActive, game.StatusSetup))
}
