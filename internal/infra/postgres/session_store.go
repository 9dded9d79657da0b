package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	sessionColumns = `id, mode, state, host_user_id, COALESCE(join_code, ''), category_id, question_ids, settings,
		current_question_index, question_started_at, started_at, finished_at, created_at, updated_at`
	playerColumns = `id, session_id, COALESCE(user_id, ''), display_name, seat_order, status, score,
		jokers_left, helps_left, joined_at, updated_at`
	answerColumns = `id, session_id, player_id, question_id, question_index, selected_answer, is_correct,
		response_ms, answered_at`
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// SessionStore persists sessions, players and answers in Postgres. Uniqueness and the lifeline
// floor are enforced by constraints and conditional updates; transitions take a row lock.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

var (
	_ app.SessionStore      = (*SessionStore)(nil)
	_ app.AtomicAnswerStore = (*SessionStore)(nil)
)

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session, host domain.Player) error {
	questionIDs, err := json.Marshal(session.QuestionIDs)
	if err != nil {
		return fmt.Errorf("encode question ids: %w", err)
	}
	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	host.SessionID = session.ID
	host.SeatOrder = 1

	return s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO quiz_sessions
			(id, mode, state, host_user_id, join_code, category_id, question_ids, settings,
			 current_question_index, question_started_at, started_at, finished_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			session.ID, session.Mode, session.State, session.HostUserID, session.JoinCode, session.CategoryID,
			questionIDs, settings, session.CurrentQuestionIndex, session.QuestionStartedAt, session.StartedAt,
			session.FinishedAt, session.CreatedAt, session.UpdatedAt)
		if err != nil {
			return mapWriteError("insert session", err)
		}
		return insertPlayer(ctx, tx, host)
	})
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return getSession(ctx, s.pool, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1`, sessionID)
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return getSession(ctx, s.pool, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE join_code = $1`, code)
}

// UpdateSession locks the row with SELECT ... FOR UPDATE so concurrent advances apply one at a time.
func (s *SessionStore) UpdateSession(ctx context.Context, sessionID string, now time.Time, tr domain.Transition) (domain.Session, bool, error) {
	var (
		next    domain.Session
		changed bool
	)
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := getSession(ctx, tx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1 FOR UPDATE`, sessionID)
		if err != nil {
			return err
		}
		next, changed, err = tr(current, now)
		if err != nil {
			next = current
			return err
		}
		if !changed {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE quiz_sessions
			SET state = $2, current_question_index = $3, question_started_at = $4, started_at = $5,
			    finished_at = $6, updated_at = $7
			WHERE id = $1`,
			sessionID, next.State, next.CurrentQuestionIndex, next.QuestionStartedAt, next.StartedAt,
			next.FinishedAt, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return next, false, err
	}
	return next, changed, nil
}

// Snapshot reads the three tables in one repeatable-read transaction.
func (s *SessionStore) Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1`, sessionID)
		if err != nil {
			return err
		}
		players, err := listPlayers(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		answers, err := listAnswers(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		snapshot = domain.Snapshot{Session: session, Players: players, Answers: answers}
		return nil
	})
	return snapshot, err
}

// AddPlayer locks the session row so concurrent joins see each other's seats.
func (s *SessionStore) AddPlayer(ctx context.Context, player domain.Player, capacity int) (domain.Player, error) {
	var seated domain.Player
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var state domain.State
		err := tx.QueryRow(ctx, `SELECT state FROM quiz_sessions WHERE id = $1 FOR UPDATE`, player.SessionID).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if player.UserID != "" {
			existing, err := getPlayer(ctx, tx, `SELECT `+playerColumns+` FROM quiz_session_players WHERE session_id = $1 AND user_id = $2`,
				player.SessionID, player.UserID)
			if err == nil {
				seated = existing
				return nil
			}
			if !errors.Is(err, domain.ErrPlayerNotInSession) {
				return err
			}
		}
		if state != domain.StateLobby {
			return domain.ErrSessionNotJoinable
		}
		var count, lastSeat int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(MAX(seat_order), 0) FROM quiz_session_players WHERE session_id = $1`,
			player.SessionID).Scan(&count, &lastSeat); err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		if capacity > 0 && count >= capacity {
			return domain.ErrSessionFull
		}
		player.SeatOrder = lastSeat + 1
		if err := insertPlayer(ctx, tx, player); err != nil {
			return err
		}
		seated = player
		return nil
	})
	return seated, err
}

func (s *SessionStore) GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	return getPlayer(ctx, s.pool, `SELECT `+playerColumns+` FROM quiz_session_players WHERE session_id = $1 AND id = $2`, sessionID, playerID)
}

func (s *SessionStore) FindPlayerByUser(ctx context.Context, sessionID, userID string) (domain.Player, error) {
	return getPlayer(ctx, s.pool, `SELECT `+playerColumns+` FROM quiz_session_players WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
}

func (s *SessionStore) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	return listPlayers(ctx, s.pool, sessionID)
}

func (s *SessionStore) IncrementScore(ctx context.Context, sessionID, playerID string, now time.Time) (int, error) {
	return incrementScore(ctx, s.pool, sessionID, playerID, now)
}

// DecrementLifeline only matches rows whose counter is still positive, so two taps on the last
// lifeline cannot both succeed.
func (s *SessionStore) DecrementLifeline(ctx context.Context, sessionID, playerID string, kind domain.LifelineType, now time.Time) (domain.Player, error) {
	var column string
	switch kind {
	case domain.LifelineJoker:
		column = "jokers_left"
	case domain.LifelineHelp:
		column = "helps_left"
	default:
		return domain.Player{}, domain.ErrInvalidLifeline
	}
	player, err := getPlayer(ctx, s.pool, `UPDATE quiz_session_players
		SET `+column+` = `+column+` - 1, updated_at = $3
		WHERE session_id = $1 AND id = $2 AND `+column+` > 0
		RETURNING `+playerColumns, sessionID, playerID, now)
	if !errors.Is(err, domain.ErrPlayerNotInSession) {
		return player, err
	}
	if _, lookupErr := s.GetPlayer(ctx, sessionID, playerID); lookupErr != nil {
		return domain.Player{}, lookupErr
	}
	return domain.Player{}, domain.ErrNoLifelinesLeft
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	return listAnswers(ctx, s.pool, sessionID)
}

func (s *SessionStore) GetAnswer(ctx context.Context, sessionID, playerID string, questionIndex int) (domain.Answer, error) {
	return getAnswer(ctx, s.pool, sessionID, playerID, questionIndex)
}

// InsertAnswer holds the session row FOR SHARE so the answer is only written while its question
// is current; an advance waits for the insert to commit.
func (s *SessionStore) InsertAnswer(ctx context.Context, answer domain.Answer) error {
	return s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1 FOR SHARE`, answer.SessionID)
		if err != nil {
			return err
		}
		if err := domain.CheckAnswerable(session, answer.QuestionIndex); err != nil {
			return err
		}
		return insertAnswer(ctx, tx, answer)
	})
}

// RecordAnswer validates and scores in one transaction. The session row is held FOR SHARE so
// answers for the same question proceed in parallel while an advance waits for them.
func (s *SessionStore) RecordAnswer(ctx context.Context, req app.AnswerRequest) (domain.SubmitResult, error) {
	var result domain.SubmitResult
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = $1 FOR SHARE`, req.SessionID)
		if err != nil {
			return err
		}
		if err := domain.CheckAnswerable(session, req.QuestionIndex); err != nil {
			return err
		}
		player, err := getPlayer(ctx, tx, `SELECT `+playerColumns+` FROM quiz_session_players WHERE session_id = $1 AND user_id = $2`,
			req.SessionID, req.UserID)
		if err != nil {
			return err
		}
		result = domain.SubmitResult{
			PlayerID:             player.ID,
			IsCorrect:            req.IsCorrect,
			Score:                player.Score,
			State:                session.State,
			CurrentQuestionIndex: session.CurrentQuestionIndex,
		}

		err = insertAnswer(ctx, tx, domain.Answer{
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
			// The winner's transaction has committed by the time ON CONFLICT reports the row.
			existing, err := getAnswer(ctx, tx, req.SessionID, player.ID, req.QuestionIndex)
			if err != nil {
				return err
			}
			latest, err := getPlayer(ctx, tx, `SELECT `+playerColumns+` FROM quiz_session_players WHERE session_id = $1 AND id = $2`,
				req.SessionID, player.ID)
			if err != nil {
				return err
			}
			result.IsCorrect = existing.IsCorrect
			result.Score = latest.Score
			result.AlreadyAnswered = true
			return nil
		}
		if err != nil {
			return err
		}
		if req.IsCorrect {
			if result.Score, err = incrementScore(ctx, tx, req.SessionID, player.ID, req.Now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return result, nil
}

func (s *SessionStore) inTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapWriteError("commit", err)
	}
	return nil
}

func getSession(ctx context.Context, q querier, sql string, args ...interface{}) (domain.Session, error) {
	var (
		session     domain.Session
		questionIDs []byte
		settings    []byte
	)
	err := q.QueryRow(ctx, sql, args...).Scan(
		&session.ID, &session.Mode, &session.State, &session.HostUserID, &session.JoinCode, &session.CategoryID,
		&questionIDs, &settings, &session.CurrentQuestionIndex, &session.QuestionStartedAt, &session.StartedAt,
		&session.FinishedAt, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal(questionIDs, &session.QuestionIDs); err != nil {
		return domain.Session{}, fmt.Errorf("decode question ids: %w", err)
	}
	if err := json.Unmarshal(settings, &session.Settings); err != nil {
		return domain.Session{}, fmt.Errorf("decode settings: %w", err)
	}
	return session, nil
}

func getPlayer(ctx context.Context, q querier, sql string, args ...interface{}) (domain.Player, error) {
	player, err := scanPlayer(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotInSession
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("load player: %w", err)
	}
	return player, nil
}

func scanPlayer(row pgx.Row) (domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.DisplayName, &p.SeatOrder, &p.Status, &p.Score,
		&p.JokersLeft, &p.HelpsLeft, &p.JoinedAt, &p.UpdatedAt)
	return p, err
}

func listPlayers(ctx context.Context, q querier, sessionID string) ([]domain.Player, error) {
	rows, err := q.Query(ctx, `SELECT `+playerColumns+` FROM quiz_session_players WHERE session_id = $1 ORDER BY seat_order`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	players := make([]domain.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func insertPlayer(ctx context.Context, q querier, p domain.Player) error {
	_, err := q.Exec(ctx, `INSERT INTO quiz_session_players
		(id, session_id, user_id, display_name, seat_order, status, score, jokers_left, helps_left, joined_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.SessionID, p.UserID, p.DisplayName, p.SeatOrder, p.Status, p.Score, p.JokersLeft, p.HelpsLeft,
		p.JoinedAt, p.UpdatedAt)
	return mapWriteError("insert player", err)
}

func incrementScore(ctx context.Context, q querier, sessionID, playerID string, now time.Time) (int, error) {
	var score int
	err := q.QueryRow(ctx, `UPDATE quiz_session_players SET score = score + 1, updated_at = $3
		WHERE session_id = $1 AND id = $2 RETURNING score`, sessionID, playerID, now).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrPlayerNotInSession
	}
	if err != nil {
		return 0, fmt.Errorf("increment score: %w", err)
	}
	return score, nil
}

func scanAnswer(row pgx.Row) (domain.Answer, error) {
	var a domain.Answer
	err := row.Scan(&a.ID, &a.SessionID, &a.PlayerID, &a.QuestionID, &a.QuestionIndex, &a.SelectedAnswer,
		&a.IsCorrect, &a.ResponseMs, &a.AnsweredAt)
	return a, err
}

func getAnswer(ctx context.Context, q querier, sessionID, playerID string, questionIndex int) (domain.Answer, error) {
	answer, err := scanAnswer(q.QueryRow(ctx, `SELECT `+answerColumns+` FROM quiz_session_answers
		WHERE session_id = $1 AND player_id = $2 AND question_index = $3`, sessionID, playerID, questionIndex))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("load answer: %w", err)
	}
	return answer, nil
}

func listAnswers(ctx context.Context, q querier, sessionID string) ([]domain.Answer, error) {
	rows, err := q.Query(ctx, `SELECT `+answerColumns+` FROM quiz_session_answers WHERE session_id = $1
		ORDER BY question_index, answered_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()
	answers := make([]domain.Answer, 0)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// insertAnswer relies on the (session_id, player_id, question_index) unique constraint.
func insertAnswer(ctx context.Context, q querier, a domain.Answer) error {
	tag, err := q.Exec(ctx, `INSERT INTO quiz_session_answers
		(id, session_id, player_id, question_id, question_index, selected_answer, is_correct, response_ms, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, player_id, question_index) DO NOTHING`,
		a.ID, a.SessionID, a.PlayerID, a.QuestionID, a.QuestionIndex, a.SelectedAnswer, a.IsCorrect, a.ResponseMs, a.AnsweredAt)
	if err != nil {
		return mapWriteError("insert answer", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStorageConflict
	}
	return nil
}

// mapWriteError turns unique violations and serialization failures into ErrStorageConflict.
func mapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%s: %w", op, domain.ErrStorageConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
