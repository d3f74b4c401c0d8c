package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chatsync/internal/domain"
	"chatsync/internal/service"
)

type messageCreateRequest struct {
	ID        string             `json:"id"`
	Content   string             `json:"content"`
	Type      domain.MessageType `json:"message_type"`
	CreatedAt time.Time          `json:"created_at"`
}

func handleCreateMessage(msgs *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		msg, err := msgs.Create(r.Context(), CallerID(r), chi.URLParam(r, "chatID"), service.MessageCreateInput{
			ID:        req.ID,
			Content:   req.Content,
			Type:      req.Type,
			CreatedAt: req.CreatedAt,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(msgs *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := msgs.ListRecent(r.Context(), CallerID(r), chi.URLParam(r, "chatID"), queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(list))
	}
}

func handleGetMessage(msgs *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := msgs.Get(r.Context(), CallerID(r), chi.URLParam(r, "messageID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleMarkRead(msgs *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed, err := msgs.MarkRead(r.Context(), CallerID(r), chi.URLParam(r, "chatID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(changed))
	}
}
