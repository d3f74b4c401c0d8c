package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chatsync/internal/domain"
	"chatsync/internal/service"
)

type chatCreateRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Kind domain.ChatKind `json:"type"`
}

type participantsAddRequest struct {
	UserIDs []string `json:"user_ids"`
}

type touchRequest struct {
	At time.Time `json:"at"`
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func handleListChats(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		directOnly := r.URL.Query().Get("kind") == string(domain.ChatDirect)
		list, err := chats.ListForUser(r.Context(), CallerID(r), queryLimit(r), directOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(list))
	}
}

func handleCreateChat(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		chat, err := chats.Create(r.Context(), CallerID(r), service.ChatCreateInput{
			ID:   req.ID,
			Name: req.Name,
			Kind: req.Kind,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	}
}

func handleGetChat(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chat, err := chats.Get(r.Context(), CallerID(r), chi.URLParam(r, "chatID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

func handleTouchChat(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req touchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if err := chats.Touch(r.Context(), CallerID(r), chi.URLParam(r, "chatID"), req.At); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListParticipants(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := chats.Participants(r.Context(), CallerID(r), chi.URLParam(r, "chatID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(list))
	}
}

func handleAddParticipants(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req participantsAddRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if err := chats.AddParticipants(r.Context(), CallerID(r), chi.URLParam(r, "chatID"), req.UserIDs); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleIsParticipant(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := chats.IsParticipant(r.Context(), CallerID(r), chi.URLParam(r, "chatID"), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, domain.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"participant": true})
	}
}

func handleRemoveParticipant(chats *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := chats.RemoveParticipant(r.Context(), CallerID(r), chi.URLParam(r, "chatID"), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
