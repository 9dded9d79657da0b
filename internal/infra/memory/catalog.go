package memory

import (
	"context"
	"sort"

	"quiz-session-sync/internal/domain"
)

// StaticCatalog serves categories and questions from memory. It implements QuestionLoader and
// app.CategoryCatalog (useful for tests/demos and as the device-local question cache).
type StaticCatalog struct {
	categories []domain.Category
	questions  map[string]domain.Question
	order      []string
}

func NewStaticCatalog(categories []domain.Category, questions []domain.Question) *StaticCatalog {
	c := &StaticCatalog{
		categories: append([]domain.Category(nil), categories...),
		questions:  make(map[string]domain.Question, len(questions)),
	}
	for _, q := range questions {
		if _, dup := c.questions[q.ID]; !dup {
			c.order = append(c.order, q.ID)
		}
		c.questions[q.ID] = q
	}
	return c
}

// ResolveCategory matches an enabled category by canonical slug or id.
func (c *StaticCatalog) ResolveCategory(_ context.Context, slug string) (domain.Category, error) {
	for _, cat := range c.categories {
		if !cat.Enabled {
			continue
		}
		if cat.ID == slug || domain.NormalizeCategorySlug(cat.Slug) == slug {
			return cat, nil
		}
	}
	return domain.Category{}, domain.ErrInvalidCategory
}

func (c *StaticCatalog) LoadQuestions(_ context.Context, categoryID string) ([]domain.Question, error) {
	out := make([]domain.Question, 0)
	for _, id := range c.order {
		q := c.questions[id]
		if q.CategoryID == categoryID && q.Active {
			out = append(out, q)
		}
	}
	return out, nil
}

func (c *StaticCatalog) LoadQuestion(_ context.Context, questionID string) (domain.Question, error) {
	if q, ok := c.questions[questionID]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (c *StaticCatalog) EnabledCategories(_ context.Context) ([]domain.Category, error) {
	out := make([]domain.Category, 0, len(c.categories))
	for _, cat := range c.categories {
		if cat.Enabled {
			out = append(out, cat)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (c *StaticCatalog) ActiveQuestionCounts(_ context.Context, categoryIDs []string) (map[string]int, error) {
	wanted := make(map[string]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		wanted[id] = true
	}
	counts := make(map[string]int, len(categoryIDs))
	for _, q := range c.questions {
		if q.Active && wanted[q.CategoryID] {
			counts[q.CategoryID]++
		}
	}
	return counts, nil
}
