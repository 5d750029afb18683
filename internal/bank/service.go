package bank

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/plan"
	"jeoparty/internal/validate"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
	maxTitle        = 100
)

type Store interface {
	GetProfile(ctx context.Context, id string) (account.Profile, error)
	CountBanks(ctx context.Context, ownerID string) (int, error)

	CreateBank(ctx context.Context, b Bank) (Bank, error)
	GetBank(ctx context.Context, id string) (Bank, error)
	ListBanks(ctx context.Context, f Filter) ([]Bank, int, error)
	UpdateBank(ctx context.Context, b Bank) (Bank, error)
	DeleteBank(ctx context.Context, id string) error
	BankInUse(ctx context.Context, id string) (bool, error)
	CopyBank(ctx context.Context, srcID string, dst Bank) (Bank, error)

	ListQuestions(ctx context.Context, bankID string) ([]Question, error)
	GetQuestion(ctx context.Context, id string) (Question, error)
	CreateQuestion(ctx context.Context, q Question) (Question, error)
	UpdateQuestion(ctx context.Context, q Question) (Question, error)
	DeleteQuestion(ctx context.Context, id string) error
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger, now: time.Now}
}

func (s *Service) planFor(ctx context.Context, userID string) (plan.Plan, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return plan.Plan{}, err
	}
	return p.Plan(s.now()), nil
}

func (s *Service) CreateBank(ctx context.Context, userID string, in CreateBankInput) (Bank, error) {
	if err := validate.Struct(in); err != nil {
		return Bank{}, err
	}
	cats, err := normalizeCategories(in.Categories)
	if err != nil {
		return Bank{}, err
	}
	pl, err := s.planFor(ctx, userID)
	if err != nil {
		return Bank{}, err
	}
	if in.IsPublic {
		if err := pl.Require(plan.FeaturePublicBanks); err != nil {
			return Bank{}, err
		}
	}
	count, err := s.store.CountBanks(ctx, userID)
	if err != nil {
		return Bank{}, err
	}
	if err := pl.CheckBanks(count); err != nil {
		return Bank{}, err
	}

	difficulty := in.Difficulty
	if difficulty == "" {
		difficulty = DifficultyMedium
	}
	b, err := s.store.CreateBank(ctx, Bank{
		OwnerID:     userID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Subject:     strings.TrimSpace(in.Subject),
		Difficulty:  difficulty,
		IsPublic:    in.IsPublic,
		Categories:  cats,
	})
	if err != nil {
		return Bank{}, err
	}
	s.log.Info("bank created", "bank_id", b.ID, "owner_id", userID)
	return b, nil
}

func (s *Service) ListBanks(ctx context.Context, userID string, f Filter) ([]Bank, int, error) {
	switch f.Scope {
	case "":
		f.Scope = ScopeMine
	case ScopeMine, ScopePublic, ScopeAll:
	default:
		return nil, 0, apperr.Invalid("scope", "must be one of mine, public, all")
	}
	if f.Difficulty != "" && !slices.Contains([]string{DifficultyEasy, DifficultyMedium, DifficultyHard}, f.Difficulty) {
		return nil, 0, apperr.Invalid("difficulty", "must be one of easy, medium, hard")
	}
	f.OwnerID = userID
	f.Query = strings.TrimSpace(f.Query)
	f.Subject = strings.TrimSpace(f.Subject)
	f.Limit, f.Offset = Page(f.Limit, f.Offset)
	return s.store.ListBanks(ctx, f)
}

// Page clamps paging parameters.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetBank returns a bank the user owns or one that is public.
func (s *Service) GetBank(ctx context.Context, userID, id string) (Bank, error) {
	b, err := s.store.GetBank(ctx, id)
	if err != nil {
		return Bank{}, err
	}
	if b.OwnerID != userID && !b.IsPublic {
		return Bank{}, apperr.NotFound("bank")
	}
	return b, nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (Bank, error) {
	b, err := s.GetBank(ctx, userID, id)
	if err != nil {
		return Bank{}, err
	}
	if b.OwnerID != userID {
		return Bank{}, fmt.Errorf("%w: only the owner can modify this bank", apperr.ErrForbidden)
	}
	return b, nil
}

func (s *Service) UpdateBank(ctx context.Context, userID, id string, in UpdateBankInput) (Bank, error) {
	if err := validate.Struct(in); err != nil {
		return Bank{}, err
	}
	b, err := s.owned(ctx, userID, id)
	if err != nil {
		return Bank{}, err
	}
	if in.Title != nil {
		b.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		b.Description = strings.TrimSpace(*in.Description)
	}
	if in.Subject != nil {
		b.Subject = strings.TrimSpace(*in.Subject)
	}
	if in.Difficulty != nil && *in.Difficulty != "" {
		b.Difficulty = *in.Difficulty
	}
	if in.IsPublic != nil && *in.IsPublic != b.IsPublic {
		if *in.IsPublic {
			pl, err := s.planFor(ctx, userID)
			if err != nil {
				return Bank{}, err
			}
			if err := pl.Require(plan.FeaturePublicBanks); err != nil {
				return Bank{}, err
			}
		}
		b.IsPublic = *in.IsPublic
	}
	if in.Categories != nil {
		cats, err := normalizeCategories(in.Categories)
		if err != nil {
			return Bank{}, err
		}
		questions, err := s.store.ListQuestions(ctx, id)
		if err != nil {
			return Bank{}, err
		}
		for _, q := range questions {
			if !slices.Contains(cats, q.Category) {
				return Bank{}, apperr.Conflict("category %q still has questions", q.Category)
			}
		}
		b.Categories = cats
	}
	return s.store.UpdateBank(ctx, b)
}

// DeleteBank refuses while a setup or active game uses the bank.
func (s *Service) DeleteBank(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	inUse, err := s.store.BankInUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return apperr.Conflict("bank is used by a game that has not finished")
	}
	if err := s.store.DeleteBank(ctx, id); err != nil {
		return err
	}
	s.log.Info("bank deleted", "bank_id", id, "owner_id", userID)
	return nil
}

// CopyBank clones a readable bank and its questions into a private bank owned by the caller.
func (s *Service) CopyBank(ctx context.Context, userID, id string) (Bank, error) {
	src, err := s.GetBank(ctx, userID, id)
	if err != nil {
		return Bank{}, err
	}
	pl, err := s.planFor(ctx, userID)
	if err != nil {
		return Bank{}, err
	}
	count, err := s.store.CountBanks(ctx, userID)
	if err != nil {
		return Bank{}, err
	}
	if err := pl.CheckBanks(count); err != nil {
		return Bank{}, err
	}
	dst := src
	dst.ID = ""
	dst.OwnerID = userID
	dst.IsPublic = false
	dst.Title = copyTitle(src.Title)
	dst.Categories = slices.Clone(src.Categories)
	b, err := s.store.CopyBank(ctx, src.ID, dst)
	if err != nil {
		return Bank{}, err
	}
	s.log.Info("bank copied", "src_id", src.ID, "bank_id", b.ID, "owner_id", userID)
	return b, nil
}

func copyTitle(title string) string {
	t := "Copy of " + title
	if utf8.RuneCountInString(t) <= maxTitle {
		return t
	}
	return string([]rune(t)[:maxTitle])
}

func (s *Service) ListQuestions(ctx context.Context, userID, bankID string) ([]Question, error) {
	if _, err := s.GetBank(ctx, userID, bankID); err != nil {
		return nil, err
	}
	return s.store.ListQuestions(ctx, bankID)
}

func (s *Service) CreateQuestion(ctx context.Context, userID, bankID string, in QuestionInput) (Question, error) {
	if err := validate.Struct(in); err != nil {
		return Question{}, err
	}
	b, err := s.owned(ctx, userID, bankID)
	if err != nil {
		return Question{}, err
	}
	q := Question{
		BankID:     bankID,
		Category:   strings.TrimSpace(in.Category),
		PointValue: in.PointValue,
		Question:   strings.TrimSpace(in.Question),
		Answer:     strings.TrimSpace(in.Answer),
		ImageURL:   strings.TrimSpace(in.ImageURL),
	}
	if err := s.checkQuestion(ctx, userID, b, q, true); err != nil {
		return Question{}, err
	}
	return s.store.CreateQuestion(ctx, q)
}

func (s *Service) UpdateQuestion(ctx context.Context, userID, bankID, questionID string, in UpdateQuestionInput) (Question, error) {
	if err := validate.Struct(in); err != nil {
		return Question{}, err
	}
	b, err := s.owned(ctx, userID, bankID)
	if err != nil {
		return Question{}, err
	}
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	if q.BankID != bankID {
		return Question{}, apperr.NotFound("question")
	}
	prevImage := q.ImageURL
	if in.Category != nil {
		q.Category = strings.TrimSpace(*in.Category)
	}
	if in.PointValue != nil {
		q.PointValue = *in.PointValue
	}
	if in.Question != nil {
		q.Question = strings.TrimSpace(*in.Question)
	}
	if in.Answer != nil {
		q.Answer = strings.TrimSpace(*in.Answer)
	}
	if in.ImageURL != nil {
		q.ImageURL = strings.TrimSpace(*in.ImageURL)
	}
	// An unchanged image survives a downgrade.
	if err := s.checkQuestion(ctx, userID, b, q, q.ImageURL != prevImage); err != nil {
		return Question{}, err
	}
	return s.store.UpdateQuestion(ctx, q)
}

func (s *Service) checkQuestion(ctx context.Context, userID string, b Bank, q Question, checkImage bool) error {
	if !slices.Contains(b.Categories, q.Category) {
		return apperr.Invalid("category", "must be one of the bank's categories")
	}
	if checkImage && q.ImageURL != "" {
		pl, err := s.planFor(ctx, userID)
		if err != nil {
			return err
		}
		if err := pl.Require(plan.FeatureQuestionImages); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) DeleteQuestion(ctx context.Context, userID, bankID, questionID string) error {
	if _, err := s.owned(ctx, userID, bankID); err != nil {
		return err
	}
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if q.BankID != bankID {
		return apperr.NotFound("question")
	}
	return s.store.DeleteQuestion(ctx, questionID)
}

func (s *Service) Board(ctx context.Context, userID, bankID string) (Board, error) {
	b, err := s.GetBank(ctx, userID, bankID)
	if err != nil {
		return Board{}, err
	}
	questions, err := s.store.ListQuestions(ctx, bankID)
	if err != nil {
		return Board{}, err
	}
	return BuildBoard(b, questions), nil
}

// BuildBoard lays questions out by category column and point row.
func BuildBoard(b Bank, questions []Question) Board {
	idx := make(map[string]string, len(questions))
	for _, q := range questions {
		idx[cellKey(q.Category, q.PointValue)] = q.ID
	}
	board := Board{BankID: b.ID, Title: b.Title}
	for _, cat := range b.Categories {
		col := Column{Category: cat}
		for _, pv := range validate.PointValues {
			id := idx[cellKey(cat, pv)]
			if id != "" {
				board.Filled++
			}
			col.Cells = append(col.Cells, Cell{PointValue: pv, QuestionID: id})
		}
		board.Columns = append(board.Columns, col)
	}
	board.TotalCells = len(b.Categories) * len(validate.PointValues)
	return board
}

func cellKey(category string, points int) string {
	return fmt.Sprintf("%s\x00%d", category, points)
}

func normalizeCategories(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for i, c := range in {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if seen[key] {
			return nil, apperr.Invalid(fmt.Sprintf("categories[%d]", i), "duplicate category")
		}
		seen[key] = true
		out = append(out, c)
	}
	return out, nil
}
