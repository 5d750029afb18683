package game

import "time"

type Status string

const (
	StatusSetup     Status = "setup"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// CanTransition reports whether the status machine allows from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusSetup:
		return to == StatusActive || to == StatusCompleted
	case StatusActive:
		return to == StatusCompleted
	default:
		return false
	}
}

type FinalPhase string

const (
	FinalNone   FinalPhase = "none"
	FinalWager  FinalPhase = "wager"
	FinalAnswer FinalPhase = "answer"
	FinalReveal FinalPhase = "reveal"
)

// Next returns the phase that follows p, or "" at the end.
func (p FinalPhase) Next() FinalPhase {
	switch p {
	case FinalNone:
		return FinalWager
	case FinalWager:
		return FinalAnswer
	case FinalAnswer:
		return FinalReveal
	default:
		return ""
	}
}

type TeamStatus string

const (
	TeamPending   TeamStatus = "pending"
	TeamConnected TeamStatus = "connected"
)

const (
	DefaultTimerSeconds = 30
	MinTimerSeconds     = 5
	MaxTimerSeconds     = 120
	MaxDailyDoubles     = 2

	MinDailyDoubleWager = 5
	DailyDoubleFloor    = 500

	JoinCodeLength = 6
	StaleAfter     = 30 * 24 * time.Hour
)

type Game struct {
	ID               string     `json:"id"`
	TeacherID        string     `json:"teacher_id"`
	BankID           string     `json:"bank_id"`
	Title            string     `json:"title"`
	JoinCode         string     `json:"join_code"`
	Status           Status     `json:"status"`
	FinalPhase       FinalPhase `json:"final_phase"`
	TimerSeconds     int        `json:"timer_seconds"`
	DailyDoubleCount int        `json:"daily_double_count"`
	DailyDoubles     []string   `json:"daily_doubles"`
	FinalEnabled     bool       `json:"final_enabled"`
	FinalQuestion    string     `json:"final_question,omitempty"`
	FinalAnswer      string     `json:"final_answer,omitempty"`
	Answered         []string   `json:"answered"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Teams            []Team     `json:"teams"`
}

func (g Game) Team(id string) (Team, bool) {
	for _, t := range g.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}

func (g Game) IsAnswered(questionID string) bool {
	for _, id := range g.Answered {
		if id == questionID {
			return true
		}
	}
	return false
}

func (g Game) IsDailyDouble(questionID string) bool {
	for _, id := range g.DailyDoubles {
		if id == questionID {
			return true
		}
	}
	return false
}

type Team struct {
	ID           string     `json:"id"`
	GameID       string     `json:"game_id"`
	Name         string     `json:"name"`
	Position     int        `json:"position"`
	Score        int        `json:"score"`
	Status       TeamStatus `json:"status"`
	DeviceHash   string     `json:"-"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	FinalWager   *int       `json:"final_wager,omitempty"`
	FinalAnswer  *string    `json:"final_answer,omitempty"`
	FinalCorrect *bool      `json:"final_correct,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (t Team) Claimed() bool {
	return t.DeviceHash != ""
}

// PublicGame is what students see on the join page.
type PublicGame struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Status        Status       `json:"status"`
	FinalPhase    FinalPhase   `json:"final_phase"`
	FinalQuestion string       `json:"final_question,omitempty"`
	Teams         []PublicTeam `json:"teams"`
}

type PublicTeam struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Status  TeamStatus `json:"status"`
	Claimed bool       `json:"claimed"`
	Score   int        `json:"score"`
}

func (g Game) Public() PublicGame {
	out := PublicGame{
		ID:         g.ID,
		Title:      g.Title,
		Status:     g.Status,
		FinalPhase: g.FinalPhase,
		Teams:      make([]PublicTeam, 0, len(g.Teams)),
	}
	if g.FinalPhase == FinalAnswer || g.FinalPhase == FinalReveal {
		out.FinalQuestion = g.FinalQuestion
	}
	for _, t := range g.Teams {
		out.Teams = append(out.Teams, PublicTeam{ID: t.ID, Name: t.Name, Status: t.Status, Claimed: t.Claimed(), Score: t.Score})
	}
	return out
}

type ListFilter struct {
	TeacherID string
	Status    Status
	Limit     int
	Offset    int
}

type CreateGameInput struct {
	BankID           string   `json:"bank_id" validate:"required,uuid"`
	Title            string   `json:"title" validate:"notblank,max=100,safetext"`
	TeamNames        []string `json:"team_names" validate:"required"`
	TimerSeconds     *int     `json:"timer_seconds"`
	DailyDoubleCount int      `json:"daily_double_count" validate:"min=0,max=2"`
	FinalEnabled     bool     `json:"final_enabled"`
	FinalQuestion    string   `json:"final_question" validate:"max=500,safetext"`
	FinalAnswer      string   `json:"final_answer" validate:"max=500,safetext"`
}

type ScoreInput struct {
	QuestionID string `json:"question_id" validate:"required,uuid"`
	TeamID     string `json:"team_id" validate:"omitempty,uuid"`
	Correct    bool   `json:"correct"`
	Wager      int    `json:"wager"`
}

// ScoreUpdate is applied atomically by the store: the question is marked answered and
// the team's score moves by Delta, or nothing changes.
type ScoreUpdate struct {
	GameID     string
	QuestionID string
	TeamID     string
	Delta      int
}

type EndResult struct {
	Status           Status `json:"status"`
	AlreadyCompleted bool   `json:"already_completed"`
}

type ClaimResult struct {
	TeamID  string `json:"team_id"`
	Claimed bool   `json:"claimed"`
}
