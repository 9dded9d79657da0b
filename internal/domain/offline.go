package domain

import (
	"math"
	"time"
)

// OfflineSource tags attempt history replayed from the device outbox.
const OfflineSource = "offline_sync"

// OfflineHotseatPlayer is a local seat with no account identity.
type OfflineHotseatPlayer struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	SeatOrder   int    `json:"seatOrder"`
	Score       int    `json:"score"`
}

// OfflineHotseatAnswer records one local turn.
type OfflineHotseatAnswer struct {
	PlayerID       string    `json:"playerId"`
	QuestionIndex  int       `json:"questionIndex"`
	QuestionID     string    `json:"questionId"`
	SelectedAnswer string    `json:"selectedAnswer"`
	IsCorrect      bool      `json:"isCorrect"`
	ResponseMs     int       `json:"responseMs"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// OfflineHotseatSession is a self-contained session played on one device.
type OfflineHotseatSession struct {
	ID                   string                 `json:"id"`
	Mode                 Mode                   `json:"mode"`
	State                State                  `json:"state"`
	CategorySlug         string                 `json:"categorySlug"`
	CategoryID           string                 `json:"categoryId,omitempty"`
	Settings             Settings               `json:"settings"`
	Questions            []Question             `json:"questions"`
	Players              []OfflineHotseatPlayer `json:"players"`
	Answers              []OfflineHotseatAnswer `json:"answers"`
	CurrentQuestionIndex int                    `json:"currentQuestionIndex"`
	CurrentSeatOrder     int                    `json:"currentSeatOrder"`
	QuestionStartedAt    time.Time              `json:"questionStartedAt"`
	StartedAt            time.Time              `json:"startedAt"`
	FinishedAt           *time.Time             `json:"finishedAt,omitempty"`
	UpdatedAt            time.Time              `json:"updatedAt"`
}

// CurrentPlayer returns the seat whose turn it is.
func (s *OfflineHotseatSession) CurrentPlayer() (*OfflineHotseatPlayer, bool) {
	for i := range s.Players {
		if s.Players[i].SeatOrder == s.CurrentSeatOrder {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// CurrentQuestion returns the question being played.
func (s *OfflineHotseatSession) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// OfflineAttemptQueueItem summarizes a completed offline session awaiting upload.
type OfflineAttemptQueueItem struct {
	LocalSessionID string    `json:"localSessionId"`
	Mode           Mode      `json:"mode"`
	CategoryID     string    `json:"categoryId,omitempty"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Accuracy       float64   `json:"accuracy"`
	DurationSec    int       `json:"durationSec"`
	CompletedAt    time.Time `json:"completedAt"`
	Source         string    `json:"source"`
}

// Summarize builds the queue item for a finished offline session: correct cells over answered cells.
func (s *OfflineHotseatSession) Summarize() OfflineAttemptQueueItem {
	correct := 0
	for _, a := range s.Answers {
		if a.IsCorrect {
			correct++
		}
	}
	total := len(s.Answers)
	accuracy := 0.0
	if total > 0 {
		accuracy = math.Round(float64(correct)/float64(total)*10000) / 100
	}
	completed := s.UpdatedAt
	if s.FinishedAt != nil {
		completed = *s.FinishedAt
	}
	return OfflineAttemptQueueItem{
		LocalSessionID: s.ID,
		Mode:           s.Mode,
		CategoryID:     s.CategoryID,
		Score:          correct,
		TotalQuestions: total,
		Accuracy:       accuracy,
		DurationSec:    int(completed.Sub(s.StartedAt).Round(time.Second) / time.Second),
		CompletedAt:    completed,
		Source:         OfflineSource,
	}
}

// Record converts a queue item into the attempt-history row for userID.
func (i OfflineAttemptQueueItem) Record(userID string) AttemptRecord {
	return AttemptRecord{
		UserID:         userID,
		LocalSessionID: i.LocalSessionID,
		Mode:           i.Mode,
		CategoryID:     i.CategoryID,
		Score:          i.Score,
		TotalQuestions: i.TotalQuestions,
		Accuracy:       i.Accuracy,
		DurationSec:    i.DurationSec,
		CompletedAt:    i.CompletedAt,
		Source:         i.Source,
	}
}
