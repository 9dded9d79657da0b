package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"

	"github.com/gorilla/websocket"
)

var errNotHost = errors.New("only the host can do that")

type WSHandler struct {
	svc      Services
	auth     *Authenticator
	upgrader websocket.Upgrader
}

func NewWSHandler(svc Services, auth *Authenticator) *WSHandler {
	return &WSHandler{
		svc:  svc,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex  int    `json:"questionIndex"`
	SelectedAnswer string `json:"selectedAnswer"`
	ResponseMs     *int   `json:"responseMs"`
}

type lifelinePayload struct {
	Kind domain.LifelineType `json:"kind"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// connection is one seated player's socket. Only the writer goroutine touches conn for writes.
type connection struct {
	sessionID string
	userID    string
	playerID  string
	send      chan outboundMessage[any]
	closing   chan struct{}
	writerOut chan struct{}
}

// push drops the message once the connection is shutting down.
func (c *connection) push(typ string, payload any) {
	select {
	case c.send <- outboundMessage[any]{Type: typ, Payload: payload}:
	case <-c.closing:
	case <-c.writerOut:
	}
}

func (c *connection) fail(err error) {
	payload, _ := classify(err)
	c.push("error", payload)
}

// ServeWS upgrades a seated player's request and streams the session to them.
// Query: sessionId, name, and userId or token.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	snapshot, err := h.svc.Coordinator.GetSessionSnapshot(r.Context(), sessionID)
	if err != nil {
		payload, _ := classify(err)
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: payload})
		return
	}
	var self *domain.Player
	for i := range snapshot.Players {
		if snapshot.Players[i].UserID == userID {
			self = &snapshot.Players[i]
		}
	}
	if self == nil {
		payload, _ := classify(domain.ErrPlayerNotInSession)
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: payload})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = self.DisplayName
	}

	c := &connection{
		sessionID: sessionID,
		userID:    userID,
		playerID:  self.ID,
		send:      make(chan outboundMessage[any], 16),
		closing:   make(chan struct{}),
		writerOut: make(chan struct{}),
	}

	go func() {
		defer close(c.writerOut)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	feed := h.svc.Realtime.Feed(sessionID, &domain.Presence{UserID: userID, DisplayName: name})
	feed.Session.On(func(s domain.Session) { c.push("session", s) })
	feed.Players.On(func(p []domain.Player) { c.push("players", p) })
	feed.Answers.On(func(a []domain.Answer) { c.push("answers", a) })
	feed.Presence.On(func(p []domain.Presence) { c.push("presence", p) })
	feed.Errors.On(func(err error) { log.Printf("ws feed for session %s: %v", sessionID, err) })

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	if err := feed.Start(feedCtx); err != nil {
		c.fail(err)
	} else {
		c.push("snapshot", feed.View())
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				break
			}
			h.handle(r.Context(), c, inbound)
		}
	}

	close(c.closing)
	feed.Close()
	cancelFeed()
	close(c.send)
	<-c.writerOut
}

func (h *WSHandler) handle(ctx context.Context, c *connection, inbound inboundMessage) {
	switch inbound.Type {
	case "start", "advance", "finish", "cancel":
		session, err := h.hostAction(ctx, c, inbound.Type)
		if err != nil {
			c.fail(err)
			return
		}
		c.push("session", session)
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.push("error", errorPayload{Code: "invalid_payload", Message: "invalid answer payload"})
			return
		}
		result, err := h.svc.Answers.SubmitAnswer(ctx, app.SubmitAnswerInput{
			SessionID:      c.sessionID,
			UserID:         c.userID,
			QuestionIndex:  payload.QuestionIndex,
			SelectedAnswer: payload.SelectedAnswer,
			ResponseMs:     payload.ResponseMs,
		})
		if err != nil {
			c.fail(err)
			return
		}
		c.push("answerResult", result)
	case "lifeline":
		var payload lifelinePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.push("error", errorPayload{Code: "invalid_payload", Message: "invalid lifeline payload"})
			return
		}
		balance, err := h.svc.Lifelines.ConsumeLifeline(ctx, c.sessionID, c.playerID, payload.Kind)
		if err != nil {
			c.fail(err)
			return
		}
		c.push("lifeline", balance)
	case "leaderboard":
		entries, err := h.svc.Coordinator.Leaderboard(ctx, c.sessionID)
		if err != nil {
			c.fail(err)
			return
		}
		c.push("leaderboard", entries)
	default:
		c.push("error", errorPayload{Code: "unsupported", Message: "unsupported message type"})
	}
}

func (h *WSHandler) hostAction(ctx context.Context, c *connection, action string) (domain.Session, error) {
	current, err := h.svc.Coordinator.GetSessionSnapshot(ctx, c.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if current.Session.HostUserID != c.userID {
		return domain.Session{}, errNotHost
	}

	var session domain.Session
	switch action {
	case "start":
		session, err = h.svc.Coordinator.StartSession(ctx, c.sessionID)
	case "advance":
		session, err = h.svc.Coordinator.AdvanceQuestion(ctx, c.sessionID)
	case "finish":
		session, err = h.svc.Coordinator.FinishSession(ctx, c.sessionID)
	case "cancel":
		session, err = h.svc.Coordinator.CancelSession(ctx, c.sessionID)
	}
	if err != nil {
		return domain.Session{}, err
	}
	if h.svc.Pacer != nil {
		h.svc.Pacer.Schedule(session)
	}
	return session, nil
}
