package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

type CreateUserRequest struct {
	ID    string `json:"id" validate:"omitempty,max=128"`
	Name  string `json:"name" validate:"required,max=256"`
	Email string `json:"email" validate:"omitempty,email"`
}

func handleCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		if _, err := deps.Store.GetUser(r.Context(), req.ID); err == nil {
			httpError(w, http.StatusConflict, "conflict", "user %s already exists", req.ID)
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check user: %v", err)
			return
		}

		u := storage.User{ID: req.ID, Name: req.Name, Email: req.Email, CreatedAt: time.Now().UTC(), IsActive: true}
		if err := deps.Store.CreateUser(r.Context(), u); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create user: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func handleGetMe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := deps.Store.GetUser(r.Context(), UserID(r.Context()))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get user: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func handleGetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Profiles.GetPreferences(r.Context(), UserID(r.Context()))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get preferences: %v", err)
			return
		}
		if prefs == nil {
			httpError(w, http.StatusNotFound, "not_found", "preferences have not been aggregated yet")
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	}
}

func handlePutPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var prefs storage.UserPreferences
		if !decodeBody(w, r, maxRequestBodySize, &prefs) {
			return
		}
		err := deps.Profiles.UpdatePreferences(r.Context(), UserID(r.Context()), prefs)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleRebuild(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Profiles.Rebuild(r.Context(), UserID(r.Context()))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rebuild preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	}
}

func handleInsights(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insights, err := deps.Profiles.Insights(r.Context(), UserID(r.Context()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate insights: %v", err)
			return
		}
		if insights == nil {
			insights = []profile.Insight{}
		}
		writeJSON(w, http.StatusOK, insights)
	}
}
