package domain

import "strings"

// Translation overrides the text of a question for one language.
type Translation struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// Question is an active or retired multiple-choice question.
type Question struct {
	ID            string                 `json:"id"`
	QuizID        string                 `json:"quiz_id"`
	CategoryID    string                 `json:"category_id"`
	Text          string                 `json:"text"`
	Options       []string               `json:"options"`
	CorrectAnswer string                 `json:"correct_answer"`
	Translations  map[string]Translation `json:"translations,omitempty"`
	Explanation   string                 `json:"explanation,omitempty"`
	Active        bool                   `json:"active"`
}

// Localize returns the question with text, options and correct answer in language when available.
func (q Question) Localize(language string) Question {
	t, ok := q.Translations[language]
	if !ok {
		return q
	}
	out := q
	if t.Text != "" {
		out.Text = t.Text
	}
	if len(t.Options) > 0 {
		out.Options = t.Options
	}
	if t.CorrectAnswer != "" {
		out.CorrectAnswer = t.CorrectAnswer
	}
	return out
}

// Usable reports whether the question can be played.
func (q Question) Usable() bool {
	return q.Active && len(q.Options) >= 2 && strings.TrimSpace(q.CorrectAnswer) != ""
}

// Accepts reports whether selected matches the canonical correct answer or a localized one.
// The client never supplies correctness.
func (q Question) Accepts(selected string) bool {
	selected = strings.TrimSpace(selected)
	if selected == "" {
		return false
	}
	if selected == strings.TrimSpace(q.CorrectAnswer) {
		return true
	}
	for _, t := range q.Translations {
		if t.CorrectAnswer != "" && selected == strings.TrimSpace(t.CorrectAnswer) {
			return true
		}
	}
	return false
}

// DrawQuestions picks count usable questions from pool after shuffling it with shuffle.
func DrawQuestions(pool []Question, count int, shuffle func(n int, swap func(i, j int))) ([]Question, error) {
	usable := make([]Question, 0, len(pool))
	for _, q := range pool {
		if q.Usable() {
			usable = append(usable, q)
		}
	}
	if count < 1 || len(usable) < count {
		return nil, ErrInsufficientQuestions
	}
	if shuffle != nil {
		shuffle(len(usable), func(i, j int) { usable[i], usable[j] = usable[j], usable[i] })
	}
	return usable[:count], nil
}

// QuestionIDs extracts ids preserving order.
func QuestionIDs(questions []Question) []string {
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids
}
