package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chatsync/internal/domain"
	"chatsync/internal/service"
)

type profileCreateRequest struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type statusRequest struct {
	Status domain.Presence `json:"status"`
	At     time.Time       `json:"at"`
}

func handleCreateProfile(profiles *service.ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		p, err := profiles.Create(r.Context(), CallerID(r), req.ID, service.ProfileCreateInput{
			Username:  req.Username,
			Email:     req.Email,
			AvatarURL: req.AvatarURL,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleSearchProfiles(profiles *service.ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := profiles.Search(r.Context(), CallerID(r), r.URL.Query().Get("q"), queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(list))
	}
}

func handleGetProfile(profiles *service.ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := profiles.Get(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleUpdateStatus(profiles *service.ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		p, err := profiles.UpdateStatus(r.Context(), CallerID(r), chi.URLParam(r, "userID"), req.Status, req.At)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePing(profiles *service.ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := profiles.Ping(r.Context(), CallerID(r), chi.URLParam(r, "userID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
