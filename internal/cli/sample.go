package cli

import (
	"quiz-session-sync/internal/domain"
	"quiz-session-sync/internal/infra/memory"
)

// sampleCatalog is the demo catalog used when no Postgres is configured.
func sampleCatalog() *memory.StaticCatalog {
	categories := []domain.Category{
		{ID: "cat-quran", Slug: domain.SlugQuran, Name: "Quran", LocalizedNames: map[string]string{"fr": "Coran"}, Enabled: true, MinQuestionCount: 3, SortOrder: 1},
		{ID: "cat-prophets", Slug: domain.SlugProphets, Name: "Prophets", LocalizedNames: map[string]string{"fr": "Prophètes"}, Enabled: true, MinQuestionCount: 3, SortOrder: 2},
		{ID: "cat-fiqh", Slug: domain.SlugFiqh, Name: "Fiqh", Enabled: false, SortOrder: 3},
	}
	questions := []domain.Question{
		sample("qr-1", "cat-quran", "How many surahs are in the Quran?", []string{"100", "114", "120"}, "114",
			domain.Translation{Text: "Combien de sourates compte le Coran ?"}),
		sample("qr-2", "cat-quran", "Which surah opens the Quran?", []string{"Al-Fatiha", "Al-Baqara", "An-Nas"}, "Al-Fatiha",
			domain.Translation{Text: "Quelle sourate ouvre le Coran ?"}),
		sample("qr-3", "cat-quran", "What is the longest surah?", []string{"Al-Baqara", "Al-Imran", "Yasin"}, "Al-Baqara",
			domain.Translation{Text: "Quelle est la plus longue sourate ?"}),
		sample("qr-4", "cat-quran", "In which month was the Quran first revealed?", []string{"Ramadan", "Muharram", "Shawwal"}, "Ramadan",
			domain.Translation{Text: "Durant quel mois le Coran fut-il révélé ?"}),
		sample("qr-5", "cat-quran", "How many juz divide the Quran?", []string{"20", "30", "40"}, "30",
			domain.Translation{Text: "En combien de juz le Coran est-il divisé ?"}),
		sample("qr-6", "cat-quran", "Which surah is called the heart of the Quran?", []string{"Yasin", "Al-Mulk", "Al-Kahf"}, "Yasin",
			domain.Translation{Text: "Quelle sourate est appelée le cœur du Coran ?"}),
		sample("pr-1", "cat-prophets", "Which prophet built the Ark?", []string{"Nuh", "Musa", "Isa"}, "Nuh",
			domain.Translation{Text: "Quel prophète construisit l'Arche ?", Options: []string{"Noé", "Moïse", "Jésus"}, CorrectAnswer: "Noé"}),
		sample("pr-2", "cat-prophets", "Which prophet was swallowed by a whale?", []string{"Yunus", "Yusuf", "Ayyub"}, "Yunus",
			domain.Translation{Text: "Quel prophète fut avalé par une baleine ?", Options: []string{"Jonas", "Joseph", "Job"}, CorrectAnswer: "Jonas"}),
		sample("pr-3", "cat-prophets", "Which prophet is known as Khalilullah?", []string{"Ibrahim", "Ismail", "Ishaq"}, "Ibrahim",
			domain.Translation{Text: "Quel prophète est surnommé Khalilullah ?", Options: []string{"Abraham", "Ismaël", "Isaac"}, CorrectAnswer: "Abraham"}),
	}
	return memory.NewStaticCatalog(categories, questions)
}

func sample(id, categoryID, text string, options []string, correct string, fr domain.Translation) domain.Question {
	return domain.Question{
		ID:            id,
		QuizID:        categoryID + "-starter",
		CategoryID:    categoryID,
		Text:          text,
		Options:       options,
		CorrectAnswer: correct,
		Translations:  map[string]domain.Translation{"fr": fr},
		Active:        true,
	}
}
