package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quiz-session-sync/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const questionColumns = `qq.id, qq.quiz_id, q.category_id, qq.text, qq.options, qq.correct_answer, qq.translations,
	qq.explanation, qq.is_active`

// Catalog loads categories and questions from Postgres. It backs the question caches and the
// theme picker.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// ResolveCategory finds an enabled category by canonical slug or id.
func (c *Catalog) ResolveCategory(ctx context.Context, slug string) (domain.Category, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, slug, name, localized_names, enabled, min_question_count, sort_order
		FROM quiz_categories WHERE enabled AND (id = $1 OR slug = $1) LIMIT 1`, slug)
	if err != nil {
		return domain.Category{}, fmt.Errorf("resolve category: %w", err)
	}
	categories, err := scanCategories(rows)
	if err != nil {
		return domain.Category{}, err
	}
	if len(categories) == 0 {
		return domain.Category{}, domain.ErrInvalidCategory
	}
	return categories[0], nil
}

// LoadQuestions returns the active questions of the category's active quizzes.
func (c *Catalog) LoadQuestions(ctx context.Context, categoryID string) ([]domain.Question, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+questionColumns+`
		FROM quiz_questions qq JOIN quizzes q ON q.id = qq.quiz_id
		WHERE q.category_id = $1 AND q.is_active AND qq.is_active
		ORDER BY q.id, qq.sort_order, qq.id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	questions := make([]domain.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (c *Catalog) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	q, err := scanQuestion(c.pool.QueryRow(ctx, `SELECT `+questionColumns+`
		FROM quiz_questions qq JOIN quizzes q ON q.id = qq.quiz_id WHERE qq.id = $1`, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, err
}

func (c *Catalog) EnabledCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, slug, name, localized_names, enabled, min_question_count, sort_order
		FROM quiz_categories WHERE enabled ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return scanCategories(rows)
}

func (c *Catalog) ActiveQuestionCounts(ctx context.Context, categoryIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(categoryIDs))
	if len(categoryIDs) == 0 {
		return counts, nil
	}
	rows, err := c.pool.Query(ctx, `SELECT q.category_id, COUNT(qq.id)
		FROM quizzes q JOIN quiz_questions qq ON qq.quiz_id = q.id AND qq.is_active
		WHERE q.is_active AND q.category_id = ANY($1)
		GROUP BY q.category_id`, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func scanCategories(rows pgx.Rows) ([]domain.Category, error) {
	defer rows.Close()
	out := make([]domain.Category, 0)
	for rows.Next() {
		var (
			c         domain.Category
			localized []byte
		)
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &localized, &c.Enabled, &c.MinQuestionCount, &c.SortOrder); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if len(localized) > 0 {
			if err := json.Unmarshal(localized, &c.LocalizedNames); err != nil {
				return nil, fmt.Errorf("decode category names: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q            domain.Question
		options      []byte
		translations []byte
	)
	if err := row.Scan(&q.ID, &q.QuizID, &q.CategoryID, &q.Text, &options, &q.CorrectAnswer, &translations,
		&q.Explanation, &q.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Question{}, err
		}
		return domain.Question{}, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if len(translations) > 0 {
		if err := json.Unmarshal(translations, &q.Translations); err != nil {
			return domain.Question{}, fmt.Errorf("unmarshal translations: %w", err)
		}
	}
	return q, nil
}
