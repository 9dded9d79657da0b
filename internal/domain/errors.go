package domain

import "errors"

var (
	// ErrInvalidCategory is returned when a slug resolves to no enabled category.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInsufficientQuestions is returned when a category cannot supply the requested question count.
	ErrInsufficientQuestions = errors.New("not enough questions for selected theme")
	// ErrSessionNotFound is returned for unknown session ids and unknown or expired join codes.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionNotJoinable is returned when joining a session that has left the lobby.
	ErrSessionNotJoinable = errors.New("quiz session is not joinable")
	// ErrSessionFull is returned when the mode's seat capacity is reached.
	ErrSessionFull = errors.New("quiz session is full")
	// ErrInvalidTransition is returned when a lifecycle change is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrInvalidMode is returned when a mode cannot be used for the requested operation.
	ErrInvalidMode = errors.New("invalid session mode")
	// ErrPlayerNotInSession is returned when the caller has no seat in the session.
	ErrPlayerNotInSession = errors.New("player not in session")
	// ErrStaleQuestion is returned for submissions targeting a question that is not current.
	ErrStaleQuestion = errors.New("question is no longer current")
	// ErrQuestionNotFound indicates a question id is unknown to the question bank.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAnswerNotFound is returned when no answer is recorded for a player and question.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrNoLifelinesLeft is returned when the requested lifeline counter is already zero.
	ErrNoLifelinesLeft = errors.New("no lifelines left")
	// ErrInvalidLifeline is returned for an unknown lifeline type.
	ErrInvalidLifeline = errors.New("invalid lifeline type")
	// ErrNotEnoughPlayers is returned when a hot-seat session has fewer than two players.
	ErrNotEnoughPlayers = errors.New("offline hot-seat requires at least 2 players")
	// ErrNotAuthenticated is returned when an operation needs an account identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrStorageConflict marks a transient write race (unique or concurrent update). Safe to retry.
	ErrStorageConflict = errors.New("storage conflict")
)
