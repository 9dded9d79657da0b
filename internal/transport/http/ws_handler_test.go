package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
	"quiz-session-sync/internal/infra/memory"

	"github.com/gorilla/websocket"
)

type testServer struct {
	server      *httptest.Server
	coordinator *app.SessionCoordinator
	auth        *Authenticator
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	store := memory.NewSessionStore()
	catalog := sampleCatalog()
	bank := memory.NewQuestionBank(catalog, time.Minute)
	bus := memory.NewBus(time.Minute)

	coordinator := app.NewSessionCoordinator(store, bank, bus, app.CoordinatorOptions{})
	svc := Services{
		Coordinator: coordinator,
		Answers:     app.NewAnswerPipeline(store, bank, bus, app.AnswerPipelineOptions{}),
		Lifelines:   app.NewLifelineLedger(store, bus, nil),
		Themes:      app.NewThemeResolver(catalog, domain.Settings{}),
		Realtime:    app.NewRealtimeSyncClient(bus, store, app.RealtimeOptions{Heartbeat: time.Second}),
	}
	auth := NewAuthenticator(secret)

	mux := http.NewServeMux()
	NewAPI(svc, auth).Register(mux)
	mux.HandleFunc("/ws", NewWSHandler(svc, auth).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{server: server, coordinator: coordinator, auth: auth}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + s.server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSessionFlow(t *testing.T) {
	ts := newTestServer(t, "")
	created, err := ts.coordinator.CreateSession(context.Background(), app.CreateSessionInput{
		Mode:            domain.ModeSolo,
		CategorySlug:    "quran",
		Settings:        domain.SettingsInput{QuestionCount: intPtr(2)},
		HostUserID:      "u1",
		HostDisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	conn := ts.dial(t, "sessionId="+created.SessionID+"&userId=u1&name=Alice")

	// Expect snapshot first.
	readUntil(conn, t, "snapshot")

	send(t, conn, "start", nil)
	var session domain.Session
	decode(t, readUntil(conn, t, "session"), &session)
	if session.State != domain.StateInProgress {
		t.Fatalf("expected in progress, got %s", session.State)
	}

	snapshot, _ := ts.coordinator.GetSessionSnapshot(context.Background(), created.SessionID)
	first := snapshot.Session.QuestionIDs[0]
	send(t, conn, "answer", map[string]any{"questionIndex": 0, "selectedAnswer": correctAnswers[first]})
	var result domain.SubmitResult
	decode(t, readUntil(conn, t, "answerResult"), &result)
	if !result.IsCorrect || result.Score != 1 {
		t.Fatalf("expected correct answer scoring 1, got %+v", result)
	}

	// A retry of the same answer is reported, not scored.
	send(t, conn, "answer", map[string]any{"questionIndex": 0, "selectedAnswer": correctAnswers[first]})
	decode(t, readUntil(conn, t, "answerResult"), &result)
	if !result.AlreadyAnswered || result.Score != 1 {
		t.Fatalf("expected already answered with score 1, got %+v", result)
	}

	send(t, conn, "lifeline", map[string]any{"kind": "joker"})
	var balance domain.LifelineBalance
	decode(t, readUntil(conn, t, "lifeline"), &balance)
	if balance.JokersLeft != 0 {
		t.Fatalf("expected joker spent, got %+v", balance)
	}

	send(t, conn, "answer", map[string]any{"questionIndex": 1, "selectedAnswer": "x"})
	var failure errorPayload
	decode(t, readUntil(conn, t, "error"), &failure)
	if failure.Code != "stale_question" {
		t.Fatalf("expected stale_question, got %+v", failure)
	}
}

func TestWebSocketRejectsOutsiders(t *testing.T) {
	ts := newTestServer(t, "")
	created, err := ts.coordinator.CreateSession(context.Background(), app.CreateSessionInput{
		Mode: domain.ModeGroup, CategorySlug: "quran", Settings: domain.SettingsInput{QuestionCount: intPtr(2)}, HostUserID: "u1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	conn := ts.dial(t, "sessionId="+created.SessionID+"&userId=stranger")
	var failure errorPayload
	decode(t, readUntil(conn, t, "error"), &failure)
	if failure.Code != "player_not_in_session" {
		t.Fatalf("expected player_not_in_session, got %+v", failure)
	}
}

func TestWebSocketHostOnlyActions(t *testing.T) {
	ts := newTestServer(t, "secret")
	created, err := ts.coordinator.CreateSession(context.Background(), app.CreateSessionInput{
		Mode: domain.ModeGroup, CategorySlug: "quran", Settings: domain.SettingsInput{QuestionCount: intPtr(2)}, HostUserID: "u1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := ts.coordinator.JoinSessionByCode(context.Background(), created.JoinCode, "u2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	token, err := ts.auth.IssueToken("u2", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	conn := ts.dial(t, "sessionId="+created.SessionID+"&token="+token)
	readUntil(conn, t, "snapshot")

	send(t, conn, "start", nil)
	var failure errorPayload
	decode(t, readUntil(conn, t, "error"), &failure)
	if failure.Code != "not_host" {
		t.Fatalf("expected not_host, got %+v", failure)
	}
}

func TestAPIJoinAndThemes(t *testing.T) {
	ts := newTestServer(t, "")

	body := strings.NewReader(`{"mode":"duo","categorySlug":"Coran","displayName":"Ana","settings":{"question_count":2}}`)
	resp, err := http.Post(ts.server.URL+"/api/sessions?userId=u1", "application/json", body)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created app.CreateSessionResult
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	join := func(user string) int {
		r, err := http.Post(ts.server.URL+"/api/sessions/join?userId="+user, "application/json",
			strings.NewReader(`{"code":"`+strings.ToLower(created.JoinCode)+`","displayName":"`+user+`"}`))
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		r.Body.Close()
		return r.StatusCode
	}
	if status := join("u2"); status != http.StatusOK {
		t.Fatalf("expected join ok, got %d", status)
	}
	if status := join("u3"); status != http.StatusConflict {
		t.Fatalf("expected duo to be full, got %d", status)
	}

	themes, err := http.Get(ts.server.URL + "/api/themes?questionCount=3")
	if err != nil {
		t.Fatalf("themes: %v", err)
	}
	defer themes.Body.Close()
	var available []domain.ThemeAvailability
	if err := json.NewDecoder(themes.Body).Decode(&available); err != nil {
		t.Fatalf("decode themes: %v", err)
	}
	if len(available) != 1 || available[0].Slug != "quran" {
		t.Fatalf("expected only quran to serve 3 questions, got %+v", available)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips realtime updates until a message of type expect arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) json.RawMessage {
	t.Helper()
	for i := 0; i < 50; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message", expect)
	return nil
}

func decode(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
}

func intPtr(v int) *int { return &v }

var correctAnswers = map[string]string{"q1": "4", "q2": "6", "q3": "8", "q4": "Uhud"}

func sampleCatalog() *memory.StaticCatalog {
	return memory.NewStaticCatalog(
		[]domain.Category{
			{ID: "cat-quran", Slug: "quran", Name: "Quran", Enabled: true, MinQuestionCount: 1, SortOrder: 1},
			{ID: "cat-seerah", Slug: "seerah", Name: "Seerah", Enabled: true, MinQuestionCount: 1, SortOrder: 2},
		},
		[]domain.Question{
			{ID: "q1", CategoryID: "cat-quran", Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4", Active: true},
			{ID: "q2", CategoryID: "cat-quran", Text: "3+3?", Options: []string{"6", "7"}, CorrectAnswer: "6", Active: true},
			{ID: "q3", CategoryID: "cat-quran", Text: "4+4?", Options: []string{"8", "9"}, CorrectAnswer: "8", Active: true},
			{ID: "q4", CategoryID: "cat-seerah", Text: "Battle?", Options: []string{"Badr", "Uhud"}, CorrectAnswer: "Uhud", Active: true},
		},
	)
}
