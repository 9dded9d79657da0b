package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
)

type answerKey struct {
	sessionID string
	playerID  string
	index     int
}

// SessionStore is an in-memory implementation of app.SessionStore. One mutex serializes every
// write, which is the in-process equivalent of a row lock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	codes    map[string]string
	players  map[string][]domain.Player
	answers  map[string][]domain.Answer
	answered map[answerKey]int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
		codes:    make(map[string]string),
		players:  make(map[string][]domain.Player),
		answers:  make(map[string][]domain.Answer),
		answered: make(map[answerKey]int),
	}
}

var (
	_ app.SessionStore      = (*SessionStore)(nil)
	_ app.AtomicAnswerStore = (*SessionStore)(nil)
)

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session, host domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return domain.ErrStorageConflict
	}
	if session.JoinCode != "" {
		if _, taken := s.codes[session.JoinCode]; taken {
			return domain.ErrStorageConflict
		}
		s.codes[session.JoinCode] = session.ID
	}
	host.SessionID = session.ID
	host.SeatOrder = 1
	s.sessions[session.ID] = cloneSession(session)
	s.players[session.ID] = []domain.Player{host}
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) UpdateSession(_ context.Context, sessionID string, now time.Time, tr domain.Transition) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, false, domain.ErrSessionNotFound
	}
	next, changed, err := tr(cloneSession(current), now)
	if err != nil {
		return cloneSession(current), false, err
	}
	if changed {
		s.sessions[sessionID] = cloneSession(next)
	}
	return next, changed, nil
}

func (s *SessionStore) Snapshot(_ context.Context, sessionID string) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return domain.Snapshot{
		Session: cloneSession(session),
		Players: s.playersLocked(sessionID),
		Answers: s.answersLocked(sessionID),
	}, nil
}

func (s *SessionStore) AddPlayer(_ context.Context, player domain.Player, capacity int) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[player.SessionID]
	if !ok {
		return domain.Player{}, domain.ErrSessionNotFound
	}
	seated := s.players[player.SessionID]
	for _, p := range seated {
		if player.UserID != "" && p.UserID == player.UserID {
			return p, nil
		}
	}
	if session.State != domain.StateLobby {
		return domain.Player{}, domain.ErrSessionNotJoinable
	}
	if capacity > 0 && len(seated) >= capacity {
		return domain.Player{}, domain.ErrSessionFull
	}
	seat := 0
	for _, p := range seated {
		seat = max(seat, p.SeatOrder)
	}
	player.SeatOrder = seat + 1
	s.players[player.SessionID] = append(seated, player)
	return player, nil
}

func (s *SessionStore) GetPlayer(_ context.Context, sessionID, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.playerIndexLocked(sessionID, func(p domain.Player) bool { return p.ID == playerID }); i >= 0 {
		return s.players[sessionID][i], nil
	}
	return domain.Player{}, domain.ErrPlayerNotInSession
}

func (s *SessionStore) FindPlayerByUser(_ context.Context, sessionID, userID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return domain.Player{}, domain.ErrSessionNotFound
	}
	if i := s.playerByUserLocked(sessionID, userID); i >= 0 {
		return s.players[sessionID][i], nil
	}
	return domain.Player{}, domain.ErrPlayerNotInSession
}

func (s *SessionStore) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.playersLocked(sessionID), nil
}

func (s *SessionStore) IncrementScore(_ context.Context, sessionID, playerID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.playerIndexLocked(sessionID, func(p domain.Player) bool { return p.ID == playerID })
	if i < 0 {
		return 0, domain.ErrPlayerNotInSession
	}
	p := &s.players[sessionID][i]
	p.Score++
	p.UpdatedAt = now
	return p.Score, nil
}

func (s *SessionStore) DecrementLifeline(_ context.Context, sessionID, playerID string, kind domain.LifelineType, now time.Time) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.playerIndexLocked(sessionID, func(p domain.Player) bool { return p.ID == playerID })
	if i < 0 {
		return domain.Player{}, domain.ErrPlayerNotInSession
	}
	p := &s.players[sessionID][i]
	var counter *int
	switch kind {
	case domain.LifelineJoker:
		counter = &p.JokersLeft
	case domain.LifelineHelp:
		counter = &p.HelpsLeft
	default:
		return domain.Player{}, domain.ErrInvalidLifeline
	}
	if *counter <= 0 {
		return domain.Player{}, domain.ErrNoLifelinesLeft
	}
	*counter--
	p.UpdatedAt = now
	return *p, nil
}

func (s *SessionStore) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.answersLocked(sessionID), nil
}

func (s *SessionStore) GetAnswer(_ context.Context, sessionID, playerID string, questionIndex int) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.answered[answerKey{sessionID, playerID, questionIndex}]
	if !ok {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return s.answers[sessionID][i], nil
}

// InsertAnswer writes the answer only while its question is the current one.
func (s *SessionStore) InsertAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[answer.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if err := domain.CheckAnswerable(session, answer.QuestionIndex); err != nil {
		return err
	}
	return s.insertAnswerLocked(answer)
}

// RecordAnswer validates, inserts and scores under the store lock.
func (s *SessionStore) RecordAnswer(_ context.Context, req app.AnswerRequest) (domain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[req.SessionID]
	if !ok {
		return domain.SubmitResult{}, domain.ErrSessionNotFound
	}
	if err := domain.CheckAnswerable(session, req.QuestionIndex); err != nil {
		return domain.SubmitResult{}, err
	}
	pi := s.playerByUserLocked(req.SessionID, req.UserID)
	if pi < 0 {
		return domain.SubmitResult{}, domain.ErrPlayerNotInSession
	}
	player := &s.players[req.SessionID][pi]
	result := domain.SubmitResult{
		PlayerID:             player.ID,
		State:                session.State,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
	}

	err := s.insertAnswerLocked(domain.Answer{
		ID:             req.AnswerID,
		SessionID:      req.SessionID,
		PlayerID:       player.ID,
		QuestionID:     req.QuestionID,
		QuestionIndex:  req.QuestionIndex,
		SelectedAnswer: req.SelectedAnswer,
		IsCorrect:      req.IsCorrect,
		ResponseMs:     req.ResponseMs,
		AnsweredAt:     req.Now,
	})
	if errors.Is(err, domain.ErrStorageConflict) {
		existing := s.answers[req.SessionID][s.answered[answerKey{req.SessionID, player.ID, req.QuestionIndex}]]
		result.IsCorrect = existing.IsCorrect
		result.Score = player.Score
		result.AlreadyAnswered = true
		return result, nil
	}
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if req.IsCorrect {
		player.Score++
		player.UpdatedAt = req.Now
	}
	result.IsCorrect = req.IsCorrect
	result.Score = player.Score
	return result, nil
}

func (s *SessionStore) insertAnswerLocked(answer domain.Answer) error {
	if _, ok := s.sessions[answer.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	key := answerKey{answer.SessionID, answer.PlayerID, answer.QuestionIndex}
	if _, exists := s.answered[key]; exists {
		return domain.ErrStorageConflict
	}
	s.answered[key] = len(s.answers[answer.SessionID])
	s.answers[answer.SessionID] = append(s.answers[answer.SessionID], answer)
	return nil
}

func (s *SessionStore) playerIndexLocked(sessionID string, match func(domain.Player) bool) int {
	for i, p := range s.players[sessionID] {
		if match(p) {
			return i
		}
	}
	return -1
}

func (s *SessionStore) playerByUserLocked(sessionID, userID string) int {
	if userID == "" {
		return -1
	}
	return s.playerIndexLocked(sessionID, func(p domain.Player) bool { return p.UserID == userID })
}

func (s *SessionStore) playersLocked(sessionID string) []domain.Player {
	out := append([]domain.Player(nil), s.players[sessionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SeatOrder < out[j].SeatOrder })
	return out
}

func (s *SessionStore) answersLocked(sessionID string) []domain.Answer {
	out := append([]domain.Answer(nil), s.answers[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QuestionIndex != out[j].QuestionIndex {
			return out[i].QuestionIndex < out[j].QuestionIndex
		}
		return out[i].AnsweredAt.Before(out[j].AnsweredAt)
	})
	return out
}

func cloneSession(s domain.Session) domain.Session {
	s.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	return s
}
