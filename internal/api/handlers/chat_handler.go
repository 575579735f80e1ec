package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatkit-api/internal/services"
)

// MaxMessageLength bounds the chat input; longer payloads are rejected
// before any model or ledger work happens.
const MaxMessageLength = 2000

type ChatHandler struct {
	chatService      services.ChatService
	rateLimitService services.RateLimitService
}

func NewChatHandler(chatService services.ChatService, rateLimitService services.RateLimitService) *ChatHandler {
	return &ChatHandler{
		chatService:      chatService,
		rateLimitService: rateLimitService,
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type usageResponse struct {
	Used        int    `json:"used"`
	Remaining   int    `json:"remaining"`
	Limit       int    `json:"limit"`
	WindowHours int    `json:"window_hours"`
	CanQuery    bool   `json:"can_query"`
	Plan        string `json:"plan,omitempty"`
}

func (h *ChatHandler) parseMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return "", false
	}

	if req.Message == "" {
		http.Error(w, "Message must not be empty", http.StatusBadRequest)
		return "", false
	}
	if len(req.Message) > MaxMessageLength {
		http.Error(w, fmt.Sprintf("Message must not exceed %d characters", MaxMessageLength), http.StatusBadRequest)
		return "", false
	}

	return req.Message, true
}

// Chat handles one non-streaming conversation turn and replies with the
// assistant text as plain text.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	message, ok := h.parseMessage(w, r)
	if !ok {
		return
	}

	reply, err := h.chatService.Invoke(
		r.Context(),
		user.ID,
		services.ThreadID(user.ID),
		services.NewMainCallID(),
		message,
	)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(reply))
}

// ChatStream replies as a server-sent-event stream, one fragment per event.
// Fragment production stops when the client disconnects.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	message, ok := h.parseMessage(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	fragments, err := h.chatService.Stream(
		r.Context(),
		user.ID,
		services.ThreadID(user.ID),
		services.NewMainCallID(),
		message,
	)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for fragment := range fragments {
		fmt.Fprintf(w, "data: %s\n\n", fragment)
		flusher.Flush()
	}
}

// Usage reports the caller's current quota state.
func (h *ChatHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.rateLimitService.Check(r.Context(), user, time.Now())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(usageResponse{
		Used:        status.Used,
		Remaining:   status.Remaining,
		Limit:       status.Limit,
		WindowHours: status.WindowHours,
		CanQuery:    status.Allowed,
		Plan:        status.PlanName,
	})
}
