package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
)

// Services are the engine components exposed over HTTP.
type Services struct {
	Coordinator *app.SessionCoordinator
	Answers     *app.AnswerPipeline
	Lifelines   *app.LifelineLedger
	Themes      *app.ThemeResolver
	Realtime    *app.RealtimeSyncClient
	// Pacer is optional; without it sessions advance only on host request.
	Pacer *app.Pacer
}

// API serves the JSON endpoints used before a websocket is opened.
type API struct {
	svc  Services
	auth *Authenticator
}

func NewAPI(svc Services, auth *Authenticator) *API {
	return &API{svc: svc, auth: auth}
}

// Register mounts the routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("POST /api/sessions/join", a.joinSession)
	mux.HandleFunc("GET /api/sessions/{id}", a.snapshot)
	mux.HandleFunc("GET /api/sessions/{id}/leaderboard", a.leaderboard)
	mux.HandleFunc("GET /api/themes", a.themes)
}

type createSessionRequest struct {
	Mode         domain.Mode          `json:"mode"`
	CategorySlug string               `json:"categorySlug"`
	Settings     domain.SettingsInput `json:"settings"`
	DisplayName  string               `json:"displayName"`
}

type joinSessionRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	userID, err := a.auth.UserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := a.svc.Coordinator.CreateSession(r.Context(), app.CreateSessionInput{
		Mode:            req.Mode,
		CategorySlug:    req.CategorySlug,
		Settings:        req.Settings,
		HostUserID:      userID,
		HostDisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) joinSession(w http.ResponseWriter, r *http.Request) {
	userID, err := a.auth.UserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := a.svc.Coordinator.JoinSessionByCode(r.Context(), req.Code, userID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.svc.Coordinator.GetSessionSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.Coordinator.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) themes(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("questionCount"))
	themes, err := a.svc.Themes.GetThemeAvailability(r.Context(), app.ThemeQuery{
		QuestionCount: count,
		Language:      r.URL.Query().Get("lang"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, themes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response failed: %v", err)
	}
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrNotAuthenticated, "not_authenticated", http.StatusUnauthorized},
	{domain.ErrInvalidCategory, "invalid_category", http.StatusBadRequest},
	{domain.ErrInvalidMode, "invalid_mode", http.StatusBadRequest},
	{domain.ErrInvalidLifeline, "invalid_lifeline", http.StatusBadRequest},
	{domain.ErrInsufficientQuestions, "insufficient_questions", http.StatusUnprocessableEntity},
	{domain.ErrSessionNotFound, "session_not_found", http.StatusNotFound},
	{domain.ErrPlayerNotInSession, "player_not_in_session", http.StatusForbidden},
	{domain.ErrSessionNotJoinable, "session_not_joinable", http.StatusConflict},
	{domain.ErrSessionFull, "session_full", http.StatusConflict},
	{domain.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{domain.ErrStaleQuestion, "stale_question", http.StatusConflict},
	{domain.ErrNoLifelinesLeft, "no_lifelines_left", http.StatusConflict},
	{domain.ErrStorageConflict, "storage_conflict", http.StatusConflict},
	{errNotHost, "not_host", http.StatusForbidden},
}

// classify maps domain errors onto a stable code and HTTP status.
func classify(err error) (errorPayload, int) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return errorPayload{Code: e.code, Message: err.Error()}, e.status
		}
	}
	log.Printf("unexpected error: %v", err)
	return errorPayload{Code: "internal", Message: "internal error"}, http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	payload, status := classify(err)
	writeJSON(w, status, payload)
}
