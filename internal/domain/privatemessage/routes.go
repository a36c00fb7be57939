package privatemessage

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns private message router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)

	r.Get("/", h.Inbox)
	r.Post("/", h.Send)
	r.Get("/can-send/{userId}", h.CanSend)

	r.Get("/unread", h.Unread)
	r.Post("/read-all", h.MarkAllRead)

	r.Get("/conversations/{userId}", h.Conversation)
	r.Post("/conversations/{userId}/read", h.MarkConversationRead)

	r.Get("/{id}", h.GetMessage)
	r.Post("/{id}/read", h.MarkRead)

	return r
}
