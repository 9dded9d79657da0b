package domain

import "strings"

// DefaultSettings apply when the host leaves a knob unset.
var DefaultSettings = Settings{
	QuestionCount: 5,
	ResponseTime:  30,
	Jokers:        1,
	Helps:         1,
}

// SettingsInput is a partial Settings; nil fields take the defaults.
type SettingsInput struct {
	QuestionCount *int `json:"question_count,omitempty" yaml:"question_count"`
	ResponseTime  *int `json:"response_time,omitempty" yaml:"response_time"`
	Jokers        *int `json:"jokers,omitempty" yaml:"jokers"`
	Helps         *int `json:"helps,omitempty" yaml:"helps"`
}

// NormalizeSettings fills defaults and clamps: question count >= 1, response time >= 5s,
// joker and help counts >= 0.
func NormalizeSettings(in SettingsInput, defaults Settings) Settings {
	pick := func(v *int, fallback int) int {
		if v == nil {
			return fallback
		}
		return *v
	}
	return Settings{
		QuestionCount: max(1, pick(in.QuestionCount, defaults.QuestionCount)),
		ResponseTime:  max(5, pick(in.ResponseTime, defaults.ResponseTime)),
		Jokers:        max(0, pick(in.Jokers, defaults.Jokers)),
		Helps:         max(0, pick(in.Helps, defaults.Helps)),
	}
}

// Canonical category slugs.
const (
	SlugQuran    = "quran"
	SlugProphets = "prophets"
	SlugSahaba   = "sahaba"
	SlugFiqh     = "fiqh"
	SlugSeerah   = "seerah"
)

var slugAliases = []struct {
	needles []string
	slug    string
}{
	{[]string{"quran", "coran"}, SlugQuran},
	{[]string{"proph"}, SlugProphets},
	{[]string{"compan", "compagn", "sahaba"}, SlugSahaba},
	{[]string{"fiqh", "juris"}, SlugFiqh},
	{[]string{"sunna", "seerah"}, SlugSeerah},
	{[]string{"ramadan", "pillar", "pili", "faith", "foi"}, SlugFiqh},
}

// NormalizeCategorySlug maps free-text, legacy or translated theme labels onto the canonical slug set.
// Unrecognized input is returned lower-cased and trimmed so new slugs still resolve.
func NormalizeCategorySlug(input string) string {
	raw := strings.ToLower(strings.TrimSpace(input))
	switch raw {
	case "", "random", "aléatoire", "aleatoire":
		return SlugQuran
	}
	for _, alias := range slugAliases {
		for _, needle := range alias.needles {
			if strings.Contains(raw, needle) {
				return alias.slug
			}
		}
	}
	return raw
}
