package app

import (
	"context"
	"errors"
	"time"

	"quiz-session-sync/internal/domain"

	"github.com/google/uuid"
)

// AnswerPipelineOptions tunes an AnswerPipeline.
type AnswerPipelineOptions struct {
	Now func() time.Time
	// Stepwise forces the portable read-validate-insert-increment path even when the store
	// offers an atomic one.
	Stepwise bool
}

// AnswerPipeline validates, records and scores answers exactly once per (session, player, question).
type AnswerPipeline struct {
	store    SessionStore
	bank     QuestionBank
	bus      Bus
	now      func() time.Time
	stepwise bool
}

func NewAnswerPipeline(store SessionStore, bank QuestionBank, bus Bus, opts AnswerPipelineOptions) *AnswerPipeline {
	p := &AnswerPipeline{store: store, bank: bank, bus: bus, now: opts.Now, stepwise: opts.Stepwise}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// SubmitAnswerInput is one player's answer. The player is derived from UserID.
type SubmitAnswerInput struct {
	SessionID      string
	UserID         string
	QuestionIndex  int
	SelectedAnswer string
	ResponseMs     *int
}

// SubmitAnswer records the answer. A repeated submission for the same question returns the
// recorded result with AlreadyAnswered set instead of scoring twice.
func (p *AnswerPipeline) SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (domain.SubmitResult, error) {
	if in.UserID == "" {
		return domain.SubmitResult{}, domain.ErrNotAuthenticated
	}
	session, err := p.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if err := domain.CheckAnswerable(session, in.QuestionIndex); err != nil {
		return domain.SubmitResult{}, err
	}
	// question_ids never change after the draw, so correctness can be computed before the write.
	question, err := p.bank.GetQuestion(ctx, session.CurrentQuestionID())
	if err != nil {
		return domain.SubmitResult{}, err
	}

	req := AnswerRequest{
		SessionID:      in.SessionID,
		UserID:         in.UserID,
		QuestionIndex:  in.QuestionIndex,
		QuestionID:     question.ID,
		SelectedAnswer: in.SelectedAnswer,
		IsCorrect:      question.Accepts(in.SelectedAnswer),
		ResponseMs:     in.ResponseMs,
		AnswerID:       uuid.NewString(),
		Now:            p.now(),
	}

	var result domain.SubmitResult
	if atomic, ok := p.store.(AtomicAnswerStore); ok && !p.stepwise {
		result, err = atomic.RecordAnswer(ctx, req)
	} else {
		result, err = p.recordStepwise(ctx, req)
	}
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if !result.AlreadyAnswered {
		publishChange(ctx, p.bus, domain.Change{Kind: domain.ChangeAnswers, SessionID: in.SessionID, At: req.Now})
		if result.IsCorrect {
			publishChange(ctx, p.bus, domain.Change{Kind: domain.ChangePlayers, SessionID: in.SessionID, At: req.Now})
		}
	}
	return result, nil
}

// recordStepwise revalidates every step and survives a duplicate-insert race by re-reading the
// winning answer.
func (p *AnswerPipeline) recordStepwise(ctx context.Context, req AnswerRequest) (domain.SubmitResult, error) {
	session, err := p.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if err := domain.CheckAnswerable(session, req.QuestionIndex); err != nil {
		return domain.SubmitResult{}, err
	}
	player, err := p.store.FindPlayerByUser(ctx, req.SessionID, req.UserID)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	err = p.store.InsertAnswer(ctx, domain.Answer{
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
		return p.recordedResult(ctx, session, player.ID, req.QuestionIndex)
	}
	if err != nil {
		return domain.SubmitResult{}, err
	}

	score := player.Score
	if req.IsCorrect {
		if score, err = p.store.IncrementScore(ctx, req.SessionID, player.ID, req.Now); err != nil {
			return domain.SubmitResult{}, err
		}
	} else if latest, err := p.store.GetPlayer(ctx, req.SessionID, player.ID); err == nil {
		score = latest.Score
	}

	return domain.SubmitResult{
		PlayerID:             player.ID,
		IsCorrect:            req.IsCorrect,
		Score:                score,
		State:                session.State,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
	}, nil
}

func (p *AnswerPipeline) recordedResult(ctx context.Context, session domain.Session, playerID string, questionIndex int) (domain.SubmitResult, error) {
	existing, err := p.store.GetAnswer(ctx, session.ID, playerID, questionIndex)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	player, err := p.store.GetPlayer(ctx, session.ID, playerID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return domain.SubmitResult{
		PlayerID:             playerID,
		IsCorrect:            existing.IsCorrect,
		Score:                player.Score,
		State:                session.State,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		AlreadyAnswered:      true,
	}, nil
}
