package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/persona/internal/chat"
	"github.com/kalambet/persona/internal/storage"
)

type ChatRequest struct {
	Message   string `json:"message" validate:"required,max=4000"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

func handleChatMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		resp, err := deps.Chat.ProcessMessage(r.Context(), UserID(r.Context()), req.Message, req.SessionID)
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, resp)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process message: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", deps.SessionListLimit, 100)
		sessions, err := deps.Chat.ListSessions(r.Context(), UserID(r.Context()), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cs, err := deps.Chat.SessionFor(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
		if errors.Is(err, chat.ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, cs)
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Chat.DeleteSession(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
		if errors.Is(err, chat.ErrSessionNotFound) || errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"questions": deps.Chat.SuggestedQuestions()})
	}
}
