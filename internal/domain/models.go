package domain

import "time"

// Mode selects how a session is played.
type Mode string

const (
	ModeSolo    Mode = "solo"
	ModeDuo     Mode = "duo"
	ModeGroup   Mode = "group"
	ModeHotseat Mode = "hotseat"
)

// HasJoinCode reports whether sessions of this mode are joinable by code.
func (m Mode) HasJoinCode() bool {
	return m == ModeDuo || m == ModeGroup
}

// Capacity is the maximum number of seated players for an online mode.
func (m Mode) Capacity() int {
	switch m {
	case ModeSolo:
		return 1
	case ModeDuo:
		return 2
	default:
		return MaxPlayers
	}
}

// State is the lifecycle state of a session.
type State string

const (
	StateLobby      State = "lobby"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled
}

// PlayerStatus tracks a player's presence in the lobby.
type PlayerStatus string

const (
	PlayerJoined PlayerStatus = "joined"
	PlayerLeft   PlayerStatus = "left"
	PlayerReady  PlayerStatus = "ready"
)

// MaxPlayers bounds group and hot-seat rosters.
const MaxPlayers = 8

// Settings are the per-session knobs chosen by the host.
type Settings struct {
	QuestionCount int `json:"question_count"`
	ResponseTime  int `json:"response_time"`
	Jokers        int `json:"jokers"`
	Helps         int `json:"helps"`
}

// ResponseDuration is the time a player has to answer one question.
func (s Settings) ResponseDuration() time.Duration {
	return time.Duration(s.ResponseTime) * time.Second
}

// Session is the authoritative row for one shared quiz.
type Session struct {
	ID                   string     `json:"id"`
	Mode                 Mode       `json:"mode"`
	State                State      `json:"state"`
	HostUserID           string     `json:"host_user_id"`
	JoinCode             string     `json:"join_code,omitempty"`
	CategoryID           string     `json:"category_id"`
	QuestionIDs          []string   `json:"question_ids"`
	Settings             Settings   `json:"settings"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	QuestionStartedAt    *time.Time `json:"question_started_at,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CurrentQuestionID returns the question id at the current index, or "" when out of range.
func (s Session) CurrentQuestionID() string {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionIDs) {
		return ""
	}
	return s.QuestionIDs[s.CurrentQuestionIndex]
}

// QuestionDeadline is when the current question's response window closes.
func (s Session) QuestionDeadline() (time.Time, bool) {
	if s.State != StateInProgress || s.QuestionStartedAt == nil {
		return time.Time{}, false
	}
	return s.QuestionStartedAt.Add(s.Settings.ResponseDuration()), true
}

// Player is a seat in a session. UserID is empty for local hot-seat players.
type Player struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	UserID      string       `json:"user_id,omitempty"`
	DisplayName string       `json:"display_name"`
	SeatOrder   int          `json:"seat_order"`
	Status      PlayerStatus `json:"status"`
	Score       int          `json:"score"`
	JokersLeft  int          `json:"jokers_left"`
	HelpsLeft   int          `json:"helps_left"`
	JoinedAt    time.Time    `json:"joined_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Answer is one recorded submission. At most one exists per (session, player, question index).
type Answer struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	PlayerID       string    `json:"player_id"`
	QuestionID     string    `json:"question_id"`
	QuestionIndex  int       `json:"question_index"`
	SelectedAnswer string    `json:"selected_answer"`
	IsCorrect      bool      `json:"is_correct"`
	ResponseMs     *int      `json:"response_ms,omitempty"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// Snapshot is a consistent read of a session with its players and answers.
type Snapshot struct {
	Session Session  `json:"session"`
	Players []Player `json:"players"`
	Answers []Answer `json:"answers"`
}

// SubmitResult is returned by answer submission.
type SubmitResult struct {
	PlayerID             string `json:"playerId"`
	IsCorrect            bool   `json:"isCorrect"`
	Score                int    `json:"score"`
	State                State  `json:"state"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
	AlreadyAnswered      bool   `json:"alreadyAnswered"`
}

// LifelineType names a consumable aid.
type LifelineType string

const (
	LifelineJoker LifelineType = "joker"
	LifelineHelp  LifelineType = "help"
)

// LifelineBalance is what a player has left after consuming a lifeline.
type LifelineBalance struct {
	PlayerID   string `json:"playerId"`
	JokersLeft int    `json:"jokersLeft"`
	HelpsLeft  int    `json:"helpsLeft"`
}

// Category is a quiz theme.
type Category struct {
	ID               string            `json:"id"`
	Slug             string            `json:"slug"`
	Name             string            `json:"name"`
	LocalizedNames   map[string]string `json:"localized_names,omitempty"`
	Enabled          bool              `json:"enabled"`
	MinQuestionCount int               `json:"min_question_count"`
	SortOrder        int               `json:"sort_order"`
}

// Label returns the category name in language, falling back to the default name.
func (c Category) Label(language string) string {
	if name := c.LocalizedNames[language]; name != "" {
		return name
	}
	return c.Name
}

// ThemeAvailability describes a category that can serve a requested question count.
type ThemeAvailability struct {
	CategoryID             string `json:"categoryId"`
	Slug                   string `json:"slug"`
	Label                  string `json:"label"`
	AvailableQuestionCount int    `json:"availableQuestionCount"`
	MinQuestionCount       int    `json:"minQuestionCount"`
	SortOrder              int    `json:"sortOrder"`
}

// Presence is a lightweight heartbeat for a connected participant.
type Presence struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// ChangeKind names the stream a change belongs to.
type ChangeKind string

const (
	ChangeSession  ChangeKind = "session"
	ChangePlayers  ChangeKind = "players"
	ChangeAnswers  ChangeKind = "answers"
	ChangePresence ChangeKind = "presence"
)

// Change is a pub/sub notification. Session is set only for session changes and may be nil.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	SessionID string     `json:"sessionId"`
	Session   *Session   `json:"session,omitempty"`
	At        time.Time  `json:"at"`
}

// LeaderboardEntry is a ranked view of a player.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// AttemptRecord is a row of server-side attempt history.
type AttemptRecord struct {
	UserID         string    `json:"user_id"`
	LocalSessionID string    `json:"local_session_id"`
	Mode           Mode      `json:"mode"`
	CategoryID     string    `json:"category_id,omitempty"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	Accuracy       float64   `json:"accuracy"`
	DurationSec    int       `json:"duration_sec"`
	CompletedAt    time.Time `json:"completed_at"`
	Source         string    `json:"source"`
}

// SyncResult reports the outcome of an outbox replay.
type SyncResult struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Remaining int `json:"remaining"`
}
