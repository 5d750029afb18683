package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"jeoparty/internal/apperr"
	"jeoparty/internal/bank"
	"jeoparty/internal/game"
)

// withCount fills QuestionCount. Callers hold s.mu.
func (s *Store) withCount(b bank.Bank) bank.Bank {
	n := 0
	for _, q := range s.questions {
		if q.BankID == b.ID {
			n++
		}
	}
	b.QuestionCount = n
	b.Categories = slices.Clone(b.Categories)
	return b
}

func (s *Store) CreateBank(_ context.Context, b bank.Bank) (bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[b.OwnerID]; !ok {
		return bank.Bank{}, apperr.NotFound("profile")
	}
	now := s.now()
	b.ID = uuid.NewString()
	b.Categories = slices.Clone(b.Categories)
	b.CreatedAt, b.UpdatedAt = now, now
	s.banks[b.ID] = b
	return s.withCount(b), nil
}

func (s *Store) GetBank(_ context.Context, id string) (bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.banks[id]
	if !ok {
		return bank.Bank{}, apperr.NotFound("bank")
	}
	return s.withCount(b), nil
}

func (s *Store) ListBanks(_ context.Context, f bank.Filter) ([]bank.Bank, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(f.Query)
	var out []bank.Bank
	for _, b := range s.banks {
		switch f.Scope {
		case bank.ScopeMine:
			if b.OwnerID != f.OwnerID {
				continue
			}
		case bank.ScopePublic:
			if !b.IsPublic {
				continue
			}
		default:
			if b.OwnerID != f.OwnerID && !b.IsPublic {
				continue
			}
		}
		if f.Subject != "" && !strings.EqualFold(b.Subject, f.Subject) {
			continue
		}
		if f.Difficulty != "" && b.Difficulty != f.Difficulty {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(b.Title), q) && !strings.Contains(strings.ToLower(b.Description), q) {
			continue
		}
		out = append(out, s.withCount(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) UpdateBank(_ context.Context, b bank.Bank) (bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.banks[b.ID]
	if !ok {
		return bank.Bank{}, apperr.NotFound("bank")
	}
	cur.Title = b.Title
	cur.Description = b.Description
	cur.Subject = b.Subject
	cur.Difficulty = b.Difficulty
	cur.IsPublic = b.IsPublic
	cur.Categories = slices.Clone(b.Categories)
	cur.UpdatedAt = s.now()
	s.banks[b.ID] = cur
	return s.withCount(cur), nil
}

func (s *Store) DeleteBank(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banks[id]; !ok {
		return apperr.NotFound("bank")
	}
	delete(s.banks, id)
	for qid, q := range s.questions {
		if q.BankID == id {
			delete(s.questions, qid)
		}
	}
	for gid, g := range s.games {
		if g.BankID == id {
			g.BankID = ""
			s.games[gid] = g
		}
	}
	return nil
}

func (s *Store) BankInUse(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.BankID == id && g.Status != game.StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CopyBank(_ context.Context, srcID string, dst bank.Bank) (bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banks[srcID]; !ok {
		return bank.Bank{}, apperr.NotFound("bank")
	}
	now := s.now()
	dst.ID = uuid.NewString()
	dst.Categories = slices.Clone(dst.Categories)
	dst.CreatedAt, dst.UpdatedAt = now, now
	s.banks[dst.ID] = dst
	for _, q := range s.questions {
		if q.BankID != srcID {
			continue
		}
		q.ID = uuid.NewString()
		q.BankID = dst.ID
		q.CreatedAt, q.UpdatedAt = now, now
		s.questions[q.ID] = q
	}
	return s.withCount(dst), nil
}

func (s *Store) ListQuestions(_ context.Context, bankID string) ([]bank.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bank.Question
	for _, q := range s.questions {
		if q.BankID == bankID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].PointValue < out[j].PointValue
	})
	return out, nil
}

func (s *Store) GetQuestion(_ context.Context, id string) (bank.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return bank.Question{}, apperr.NotFound("question")
	}
	return q, nil
}

// cellTaken mirrors UNIQUE(bank_id, category, point_value). Callers hold s.mu.
func (s *Store) cellTaken(q bank.Question) bool {
	for _, other := range s.questions {
		if other.ID != q.ID && other.BankID == q.BankID && other.Category == q.Category && other.PointValue == q.PointValue {
			return true
		}
	}
	return false
}

func (s *Store) CreateQuestion(_ context.Context, q bank.Question) (bank.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banks[q.BankID]; !ok {
		return bank.Question{}, apperr.NotFound("bank")
	}
	if s.cellTaken(q) {
		return bank.Question{}, apperr.Conflict("a %d question already exists in %q", q.PointValue, q.Category)
	}
	now := s.now()
	q.ID = uuid.NewString()
	q.CreatedAt, q.UpdatedAt = now, now
	s.questions[q.ID] = q
	return q, nil
}

func (s *Store) UpdateQuestion(_ context.Context, q bank.Question) (bank.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.questions[q.ID]
	if !ok {
		return bank.Question{}, apperr.NotFound("question")
	}
	if s.cellTaken(q) {
		return bank.Question{}, apperr.Conflict("a %d question already exists in %q", q.PointValue, q.Category)
	}
	q.BankID = cur.BankID
	q.CreatedAt = cur.CreatedAt
	q.UpdatedAt = s.now()
	s.questions[q.ID] = q
	return q, nil
}

func (s *Store) DeleteQuestion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return apperr.NotFound("question")
	}
	delete(s.questions, id)
	return nil
}
