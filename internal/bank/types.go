package bank

import (
	"time"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"

	MaxCategories = 6
)

type Bank struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Subject       string    `json:"subject"`
	Difficulty    string    `json:"difficulty"`
	IsPublic      bool      `json:"is_public"`
	Categories    []string  `json:"categories"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Question struct {
	ID         string    `json:"id"`
	BankID     string    `json:"bank_id"`
	Category   string    `json:"category"`
	PointValue int       `json:"point_value"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	ScopeMine   = "mine"
	ScopePublic = "public"
	ScopeAll    = "all"
)

// Filter selects banks for listing. ScopeAll means owned by OwnerID or public.
type Filter struct {
	Scope      string
	OwnerID    string
	Subject    string
	Difficulty string
	Query      string
	Limit      int
	Offset     int
}

type Board struct {
	BankID     string   `json:"bank_id"`
	Title      string   `json:"title"`
	Columns    []Column `json:"columns"`
	Filled     int      `json:"filled"`
	TotalCells int      `json:"total_cells"`
}

type Column struct {
	Category string `json:"category"`
	Cells    []Cell `json:"cells"`
}

type Cell struct {
	PointValue int    `json:"point_value"`
	QuestionID string `json:"question_id,omitempty"`
}

type CreateBankInput struct {
	Title       string   `json:"title" validate:"notblank,max=100,safetext"`
	Description string   `json:"description" validate:"max=500,safetext"`
	Subject     string   `json:"subject" validate:"max=50,safetext"`
	Difficulty  string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	IsPublic    bool     `json:"is_public"`
	Categories  []string `json:"categories" validate:"min=1,max=6,dive,notblank,max=50,safetext"`
}

type UpdateBankInput struct {
	Title       *string  `json:"title" validate:"omitempty,notblank,max=100,safetext"`
	Description *string  `json:"description" validate:"omitempty,max=500,safetext"`
	Subject     *string  `json:"subject" validate:"omitempty,max=50,safetext"`
	Difficulty  *string  `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	IsPublic    *bool    `json:"is_public"`
	Categories  []string `json:"categories" validate:"omitempty,min=1,max=6,dive,notblank,max=50,safetext"`
}

type QuestionInput struct {
	Category   string `json:"category" validate:"notblank,max=50"`
	PointValue int    `json:"point_value" validate:"pointvalue"`
	Question   string `json:"question" validate:"notblank,max=500,safetext"`
	Answer     string `json:"answer" validate:"notblank,max=500,safetext"`
	ImageURL   string `json:"image_url" validate:"omitempty,max=500,httpsurl"`
}

type UpdateQuestionInput struct {
	Category   *string `json:"category" validate:"omitempty,notblank,max=50"`
	PointValue *int    `json:"point_value" validate:"omitempty,pointvalue"`
	Question   *string `json:"question" validate:"omitempty,notblank,max=500,safetext"`
	Answer     *string `json:"answer" validate:"omitempty,notblank,max=500,safetext"`
	ImageURL   *string `json:"image_url" validate:"omitempty,max=500,httpsurl"`
}
