package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"jeoparty/internal/apperr"
	"jeoparty/internal/bank"
)

const bankColumns = `
	b.id::text, b.owner_id::text, b.title, b.description, b.subject, b.difficulty,
	b.is_public, b.categories,
	(SELECT COUNT(1) FROM app.questions q WHERE q.bank_id = b.id),
	b.created_at, b.updated_at`

func scanBank(row pgx.Row) (bank.Bank, error) {
	var b bank.Bank
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Title, &b.Description, &b.Subject, &b.Difficulty,
		&b.IsPublic, &b.Categories, &b.QuestionCount, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

const questionColumns = `id::text, bank_id::text, category, point_value, question, answer, image_url, created_at, updated_at`

func scanQuestion(row pgx.Row) (bank.Question, error) {
	var q bank.Question
	err := row.Scan(&q.ID, &q.BankID, &q.Category, &q.PointValue, &q.Question, &q.Answer, &q.ImageURL, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (s *Store) CreateBank(ctx context.Context, b bank.Bank) (bank.Bank, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO app.question_banks (owner_id, title, description, subject, difficulty, is_public, categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text
	`, b.OwnerID, b.Title, b.Description, b.Subject, b.Difficulty, b.IsPublic, b.Categories).Scan(&id)
	if err != nil {
		return bank.Bank{}, mapErr(err, "bank")
	}
	return s.GetBank(ctx, id)
}

func (s *Store) GetBank(ctx context.Context, id string) (bank.Bank, error) {
	b, err := scanBank(s.db.QueryRow(ctx, `SELECT `+bankColumns+` FROM app.question_banks b WHERE b.id = $1`, id))
	return b, mapErr(err, "bank")
}

func (s *Store) ListBanks(ctx context.Context, f bank.Filter) ([]bank.Bank, int, error) {
	w := &where{}
	switch f.Scope {
	case bank.ScopeMine:
		w.add("b.owner_id = " + w.arg(f.OwnerID))
	case bank.ScopePublic:
		w.add("b.is_public")
	default:
		w.add("(b.owner_id = " + w.arg(f.OwnerID) + " OR b.is_public)")
	}
	if f.Subject != "" {
		w.add("lower(b.subject) = " + w.arg(strings.ToLower(f.Subject)))
	}
	if f.Difficulty != "" {
		w.add("b.difficulty = " + w.arg(f.Difficulty))
	}
	if f.Query != "" {
		n := w.arg("%" + strings.ToLower(f.Query) + "%")
		w.add("(lower(b.title) LIKE " + n + " OR lower(b.description) LIKE " + n + ")")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM app.question_banks b`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "bank")
	}
	limit, offset := w.arg(f.Limit), w.arg(f.Offset)
	rows, err := s.db.Query(ctx, `SELECT `+bankColumns+` FROM app.question_banks b`+w.sql()+
		` ORDER BY b.updated_at DESC, b.id LIMIT `+limit+` OFFSET `+offset, w.args...)
	if err != nil {
		return nil, 0, mapErr(err, "bank")
	}
	defer rows.Close()
	out := []bank.Bank{}
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateBank(ctx context.Context, b bank.Bank) (bank.Bank, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.question_banks
		SET title = $2, description = $3, subject = $4, difficulty = $5,
		    is_public = $6, categories = $7, updated_at = now()
		WHERE id = $1
	`, b.ID, b.Title, b.Description, b.Subject, b.Difficulty, b.IsPublic, b.Categories)
	if err != nil {
		return bank.Bank{}, mapErr(err, "bank")
	}
	if tag.RowsAffected() == 0 {
		return bank.Bank{}, apperr.NotFound("bank")
	}
	return s.GetBank(ctx, b.ID)
}

func (s *Store) DeleteBank(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM app.question_banks WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "bank")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bank")
	}
	return nil
}

func (s *Store) BankInUse(ctx context.Context, id string) (bool, error) {
	var inUse bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM app.games WHERE bank_id = $1 AND status IN ('setup', 'active')
		)
	`, id).Scan(&inUse)
	return inUse, mapErr(err, "bank")
}

func (s *Store) CopyBank(ctx context.Context, srcID string, dst bank.Bank) (bank.Bank, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return bank.Bank{}, err
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO app.question_banks (owner_id, title, description, subject, difficulty, is_public, categories)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		RETURNING id::text
	`, dst.OwnerID, dst.Title, dst.Description, dst.Subject, dst.Difficulty, dst.Categories).Scan(&id)
	if err != nil {
		return bank.Bank{}, mapErr(err, "bank")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO app.questions (bank_id, category, point_value, question, answer, image_url)
		SELECT $2, category, point_value, question, answer, image_url
		FROM app.questions
		WHERE bank_id = $1
	`, srcID, id)
	if err != nil {
		return bank.Bank{}, mapErr(err, "bank")
	}
	if err := tx.Commit(ctx); err != nil {
		return bank.Bank{}, err
	}
	return s.GetBank(ctx, id)
}

func (s *Store) ListQuestions(ctx context.Context, bankID string) ([]bank.Question, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+questionColumns+`
		FROM app.questions
		WHERE bank_id = $1
		ORDER BY category, point_value
	`, bankID)
	if err != nil {
		return nil, mapErr(err, "bank")
	}
	defer rows.Close()
	out := []bank.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) GetQuestion(ctx context.Context, id string) (bank.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(ctx, `SELECT `+questionColumns+` FROM app.questions WHERE id = $1`, id))
	return q, mapErr(err, "question")
}

func (s *Store) CreateQuestion(ctx context.Context, q bank.Question) (bank.Question, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return bank.Question{}, err
	}
	defer tx.Rollback(ctx)

	out, err := scanQuestion(tx.QueryRow(ctx, `
		INSERT INTO app.questions (bank_id, category, point_value, question, answer, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+questionColumns,
		q.BankID, q.Category, q.PointValue, q.Question, q.Answer, q.ImageURL))
	if err != nil {
		return bank.Question{}, mapErr(err, "question for this category and point value")
	}
	if _, err := tx.Exec(ctx, `UPDATE app.question_banks SET updated_at = now() WHERE id = $1`, q.BankID); err != nil {
		return bank.Question{}, err
	}
	return out, tx.Commit(ctx)
}

func (s *Store) UpdateQuestion(ctx context.Context, q bank.Question) (bank.Question, error) {
	out, err := scanQuestion(s.db.QueryRow(ctx, `
		UPDATE app.questions
		SET category = $2, point_value = $3, question = $4, answer = $5, image_url = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+questionColumns,
		q.ID, q.Category, q.PointValue, q.Question, q.Answer, q.ImageURL))
	return out, mapErr(err, "question for this category and point value")
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM app.questions WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "question")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("question")
	}
	return nil
}
