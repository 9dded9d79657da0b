package app

import (
	"context"
	"sort"

	"quiz-session-sync/internal/domain"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ThemeQuery asks which themes can serve QuestionCount questions, labelled in Language.
type ThemeQuery struct {
	QuestionCount int
	Language      string
}

// ThemeResolver computes theme availability from the catalog.
type ThemeResolver struct {
	catalog  CategoryCatalog
	defaults domain.Settings
}

func NewThemeResolver(catalog CategoryCatalog, defaults domain.Settings) *ThemeResolver {
	if defaults == (domain.Settings{}) {
		defaults = domain.DefaultSettings
	}
	return &ThemeResolver{catalog: catalog, defaults: defaults}
}

// GetThemeAvailability keeps enabled categories whose active question count reaches both the
// category minimum and the requested count, ordered by sort order then label.
func (r *ThemeResolver) GetThemeAvailability(ctx context.Context, q ThemeQuery) ([]domain.ThemeAvailability, error) {
	required := q.QuestionCount
	if required <= 0 {
		required = r.defaults.QuestionCount
	}
	required = max(1, required)
	lang := q.Language
	if lang == "" {
		lang = "en"
	}

	categories, err := r.catalog.EnabledCategories(ctx)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return []domain.ThemeAvailability{}, nil
	}
	ids := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	counts, err := r.catalog.ActiveQuestionCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ThemeAvailability, 0, len(categories))
	for _, c := range categories {
		if !c.Enabled {
			continue
		}
		minCount := c.MinQuestionCount
		if minCount <= 0 {
			minCount = r.defaults.QuestionCount
		}
		minCount = max(1, minCount)
		available := counts[c.ID]
		if available < max(minCount, required) {
			continue
		}
		slug := c.Slug
		if slug == "" {
			slug = c.Name
		}
		out = append(out, domain.ThemeAvailability{
			CategoryID:             c.ID,
			Slug:                   domain.NormalizeCategorySlug(slug),
			Label:                  c.Label(lang),
			AvailableQuestionCount: available,
			MinQuestionCount:       minCount,
			SortOrder:              c.SortOrder,
		})
	}

	col := collate.New(language.Make(lang), collate.IgnoreCase)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return col.CompareString(out[i].Label, out[j].Label) < 0
	})
	return out, nil
}
