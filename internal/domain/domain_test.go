package domain

import (
	"errors"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestNormalizeSettingsClamps(t *testing.T) {
	got := NormalizeSettings(SettingsInput{
		QuestionCount: intPtr(0),
		ResponseTime:  intPtr(2),
		Jokers:        intPtr(-3),
	}, DefaultSettings)
	want := Settings{QuestionCount: 1, ResponseTime: 5, Jokers: 0, Helps: 1}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if got := NormalizeSettings(SettingsInput{}, DefaultSettings); got != DefaultSettings {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestNormalizeCategorySlug(t *testing.T) {
	cases := map[string]string{
		"":                 SlugQuran,
		"Aléatoire":        SlugQuran,
		"Le Saint Coran":   SlugQuran,
		"Prophètes":        SlugProphets,
		"Companions":       SlugSahaba,
		"Les compagnons":   SlugSahaba,
		"Fiqh basics":      SlugFiqh,
		"Ramadan":          SlugFiqh,
		"Five Pillars":     SlugFiqh,
		"Sunnah":           SlugSeerah,
		"  astronomy  ":    "astronomy",
		"brand-new-theme":  "brand-new-theme",
	}
	for input, want := range cases {
		if got := NormalizeCategorySlug(input); got != want {
			t.Fatalf("NormalizeCategorySlug(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{State: StateLobby, QuestionIDs: []string{"q1", "q2"}}

	if _, _, err := Advance(s, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition advancing lobby, got %v", err)
	}

	s, changed, err := Start(s, now)
	if err != nil || !changed || s.State != StateInProgress || s.CurrentQuestionIndex != 0 {
		t.Fatalf("start: %+v changed=%v err=%v", s, changed, err)
	}
	if _, _, err := Start(s, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second start, got %v", err)
	}

	s, _, _ = Advance(s, now)
	if s.CurrentQuestionIndex != 1 || s.State != StateInProgress {
		t.Fatalf("expected index 1 in progress, got %+v", s)
	}
	s, _, _ = Advance(s, now)
	if s.State != StateFinished || s.CurrentQuestionIndex != 1 {
		t.Fatalf("expected finished at index 1, got %+v", s)
	}
	for i := 0; i < 3; i++ {
		next, changed, err := Advance(s, now)
		if err != nil || changed || next.State != StateFinished || next.CurrentQuestionIndex != 1 {
			t.Fatalf("advance past end should be a no-op, got %+v changed=%v err=%v", next, changed, err)
		}
	}
	if _, changed, err := Finish(s, now); err != nil || changed {
		t.Fatalf("finish of finished should be no-op, changed=%v err=%v", changed, err)
	}
	if _, _, err := Cancel(s, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition cancelling finished session, got %v", err)
	}
}

func TestAdvanceFromIgnoresOutdatedIndex(t *testing.T) {
	now := time.Now()
	s := Session{State: StateInProgress, QuestionIDs: []string{"q1", "q2", "q3"}, CurrentQuestionIndex: 1}
	next, changed, err := AdvanceFrom(0)(s, now)
	if err != nil || changed || next.CurrentQuestionIndex != 1 {
		t.Fatalf("expected no-op, got %+v changed=%v err=%v", next, changed, err)
	}
	next, changed, _ = AdvanceFrom(1)(s, now)
	if !changed || next.CurrentQuestionIndex != 2 {
		t.Fatalf("expected advance to 2, got %+v", next)
	}
}

func TestQuestionAcceptsCanonicalOrLocalized(t *testing.T) {
	q := Question{
		Options:       []string{"Makkah", "Madinah"},
		CorrectAnswer: "Makkah",
		Translations:  map[string]Translation{"fr": {CorrectAnswer: "La Mecque"}},
		Active:        true,
	}
	if !q.Accepts("Makkah") || !q.Accepts(" La Mecque ") {
		t.Fatalf("expected canonical and localized answers to be accepted")
	}
	if q.Accepts("Madinah") || q.Accepts("") {
		t.Fatalf("expected wrong and empty answers to be rejected")
	}
	if got := q.Localize("fr").CorrectAnswer; got != "La Mecque" {
		t.Fatalf("expected localized correct answer, got %q", got)
	}
}

func TestDrawQuestionsSkipsUnusable(t *testing.T) {
	pool := []Question{
		{ID: "a", Options: []string{"x", "y"}, CorrectAnswer: "x", Active: true},
		{ID: "b", Options: []string{"x"}, CorrectAnswer: "x", Active: true},
		{ID: "c", Options: []string{"x", "y"}, CorrectAnswer: "y", Active: false},
		{ID: "d", Options: []string{"x", "y"}, CorrectAnswer: "y", Active: true},
	}
	got, err := DrawQuestions(pool, 2, nil)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Fatalf("unexpected draw %+v", QuestionIDs(got))
	}
	if _, err := DrawQuestions(pool, 3, nil); !errors.Is(err, ErrInsufficientQuestions) {
		t.Fatalf("expected insufficient questions, got %v", err)
	}
}

func TestRankTieBreaks(t *testing.T) {
	base := time.Now()
	entries := Rank([]Player{
		{ID: "p1", DisplayName: "Zed", Score: 2, UpdatedAt: base.Add(time.Second)},
		{ID: "p2", DisplayName: "Amy", Score: 3, UpdatedAt: base.Add(2 * time.Second)},
		{ID: "p3", DisplayName: "Bob", Score: 2, UpdatedAt: base},
	})
	if entries[0].PlayerID != "p2" || entries[1].PlayerID != "p3" || entries[2].PlayerID != "p1" {
		t.Fatalf("unexpected order %+v", entries)
	}
	if entries[1].Rank != 2 || entries[2].Rank != 2 {
		t.Fatalf("expected shared rank for equal scores, got %+v", entries)
	}
}

func TestSummarizeOfflineSession(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	s := OfflineHotseatSession{
		ID:         "local-1",
		Mode:       ModeHotseat,
		CategoryID: "cat-1",
		StartedAt:  start,
		FinishedAt: &end,
		Answers: []OfflineHotseatAnswer{
			{IsCorrect: true}, {IsCorrect: false}, {IsCorrect: true},
		},
	}
	item := s.Summarize()
	if item.Score != 2 || item.TotalQuestions != 3 || item.Accuracy != 66.67 || item.DurationSec != 95 {
		t.Fatalf("unexpected summary %+v", item)
	}
	if item.Source != OfflineSource {
		t.Fatalf("expected offline source, got %q", item.Source)
	}
}
