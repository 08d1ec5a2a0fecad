package store

import (
	"context"
	"fmt"

	"github.com/pbaille/factserp/internal/domain"
)

const upsertQuestion = `
	INSERT INTO questions (fact_id, text, score, is_fetchable, is_main, position)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(fact_id, is_main, position) DO UPDATE SET
		text = excluded.text,
		score = excluded.score,
		is_fetchable = excluded.is_fetchable
`

// ReplaceQuestions writes the curated questions of a fact, in order, plus its
// main statement. Existing rows are updated in place so that evidence
// attached to them survives a reload.
func (s *Store) ReplaceQuestions(ctx context.Context, factID int64, curated []domain.Question, main domain.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin questions: %w", err)
	}
	defer tx.Rollback()

	for i, q := range curated {
		if _, err := tx.ExecContext(ctx, upsertQuestion, factID, q.Text, q.Score, q.IsFetchable, false, i); err != nil {
			return fmt.Errorf("upsert question: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM questions WHERE fact_id = ? AND is_main = 0 AND position >= ?",
		factID, len(curated),
	); err != nil {
		return fmt.Errorf("prune questions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, upsertQuestion, factID, main.Text, main.Score, main.IsFetchable, true, 0); err != nil {
		return fmt.Errorf("upsert main question: %w", err)
	}

	return tx.Commit()
}

// ListQuestions returns every question of a fact in rank order
func (s *Store) ListQuestions(ctx context.Context, factID int64) ([]domain.Question, error) {
	return s.queryQuestions(ctx, `
		SELECT id, fact_id, text, score, is_fetchable, is_main, position
		FROM questions WHERE fact_id = ?
		ORDER BY score DESC, id ASC
	`, factID)
}

// FetchableQuestions returns the fetchable questions of a fact in rank order
func (s *Store) FetchableQuestions(ctx context.Context, factID int64) ([]domain.Question, error) {
	return s.queryQuestions(ctx, `
		SELECT id, fact_id, text, score, is_fetchable, is_main, position
		FROM questions WHERE fact_id = ? AND is_fetchable = 1
		ORDER BY score DESC, id ASC
	`, factID)
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]domain.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.FactID, &q.Text, &q.Score, &q.IsFetchable, &q.IsMain, &q.Position); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
