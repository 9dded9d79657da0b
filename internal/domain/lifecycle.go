package domain

import "time"

// Transition computes the next session row from the current one. It reports whether anything
// changed; stores persist the result only when it did. Stores run transitions while holding the
// row exclusively, so the input is always the latest committed state.
type Transition func(s Session, now time.Time) (Session, bool, error)

// Start moves a lobby session to its first question.
func Start(s Session, now time.Time) (Session, bool, error) {
	if s.State != StateLobby {
		return s, false, ErrInvalidTransition
	}
	s.State = StateInProgress
	s.CurrentQuestionIndex = 0
	s.StartedAt = &now
	s.QuestionStartedAt = &now
	s.UpdatedAt = now
	return s, true, nil
}

// Advance moves to the next question, or finishes the session after the last one.
// Advancing a finished session is a no-op so duplicate timers converge.
func Advance(s Session, now time.Time) (Session, bool, error) {
	switch s.State {
	case StateFinished:
		return s, false, nil
	case StateInProgress:
	default:
		return s, false, ErrInvalidTransition
	}
	if s.CurrentQuestionIndex+1 >= len(s.QuestionIDs) {
		s.State = StateFinished
		s.FinishedAt = &now
		s.UpdatedAt = now
		return s, true, nil
	}
	s.CurrentQuestionIndex++
	s.QuestionStartedAt = &now
	s.UpdatedAt = now
	return s, true, nil
}

// AdvanceFrom advances only when fromIndex is still the authoritative current index.
// A request for an index that has already moved on is accepted as a no-op.
func AdvanceFrom(fromIndex int) Transition {
	return func(s Session, now time.Time) (Session, bool, error) {
		if s.State == StateInProgress && s.CurrentQuestionIndex != fromIndex {
			return s, false, nil
		}
		return Advance(s, now)
	}
}

// Finish ends the session early. Finishing twice is a no-op.
func Finish(s Session, now time.Time) (Session, bool, error) {
	switch s.State {
	case StateFinished:
		return s, false, nil
	case StateCancelled:
		return s, false, ErrInvalidTransition
	}
	s.State = StateFinished
	s.FinishedAt = &now
	s.UpdatedAt = now
	return s, true, nil
}

// Cancel aborts a session that has not finished.
func Cancel(s Session, now time.Time) (Session, bool, error) {
	switch s.State {
	case StateCancelled:
		return s, false, nil
	case StateFinished:
		return s, false, ErrInvalidTransition
	}
	s.State = StateCancelled
	s.FinishedAt = &now
	s.UpdatedAt = now
	return s, true, nil
}

// CheckAnswerable validates that questionIndex can be answered now.
func CheckAnswerable(s Session, questionIndex int) error {
	if s.State != StateInProgress {
		return ErrStaleQuestion
	}
	if questionIndex != s.CurrentQuestionIndex {
		return ErrStaleQuestion
	}
	if s.CurrentQuestionID() == "" {
		return ErrQuestionNotFound
	}
	return nil
}
