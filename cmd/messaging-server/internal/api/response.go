package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rbaliyan/messaging"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// SnapshotResponse is the last-message preview of a thread.
type SnapshotResponse struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Excerpt   string    `json:"excerpt"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadResponse is one thread as seen by the caller.
type ThreadResponse struct {
	ID               string            `json:"id"`
	Subject          string            `json:"subject,omitempty"`
	Participants     []string          `json:"participants"`
	ParticipantNames map[string]string `json:"participant_names,omitempty"`
	LastMessage      *SnapshotResponse `json:"last_message,omitempty"`
	MessageCount     int64             `json:"message_count"`
	UnreadCount      int64             `json:"unread_count"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// MessageResponse is one stored message.
type MessageResponse struct {
	ID           string                    `json:"id"`
	ThreadID     string                    `json:"thread_id"`
	SenderID     string                    `json:"sender_id"`
	SenderName   string                    `json:"sender_name,omitempty"`
	ReceiverID   string                    `json:"receiver_id"`
	ReceiverName string                    `json:"receiver_name,omitempty"`
	Subject      string                    `json:"subject,omitempty"`
	Body         string                    `json:"body"`
	Type         string                    `json:"type"`
	IsRead       bool                      `json:"is_read"`
	ReadAt       *time.Time                `json:"read_at,omitempty"`
	ReplyToID    string                    `json:"reply_to_id,omitempty"`
	Attachments  []messaging.AttachmentRef `json:"attachments,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// ThreadListResponse is a page of threads.
type ThreadListResponse struct {
	Threads []ThreadResponse `json:"threads"`
	Total   int64            `json:"total"`
	HasMore bool             `json:"has_more"`
}

// MessageListResponse is a page of messages.
type MessageListResponse struct {
	Messages []MessageResponse `json:"messages"`
	Total    int64             `json:"total"`
	HasMore  bool              `json:"has_more"`
}

// ReadResponse reports how many messages a read operation flipped.
type ReadResponse struct {
	Marked int64 `json:"marked"`
	// Failed lists threads that could not be marked.
	Failed []string `json:"failed,omitempty"`
}

// DeleteResponse reports the rows a delete removed.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// BetweenResponse names the thread two users share.
type BetweenResponse struct {
	ThreadID string `json:"thread_id"`
}

// StatsResponse holds the caller's aggregate counters.
type StatsResponse struct {
	Threads        int64 `json:"threads"`
	UnreadThreads  int64 `json:"unread_threads"`
	UnreadMessages int64 `json:"unread_messages"`
}

func toSnapshot(s *messaging.MessageSnapshot) *SnapshotResponse {
	if s == nil {
		return nil
	}
	return &SnapshotResponse{
		MessageID: s.MessageID,
		SenderID:  s.SenderID,
		Excerpt:   s.Excerpt,
		Type:      string(s.Type),
		CreatedAt: s.CreatedAt,
	}
}

func toThread(t *messaging.ThreadSummary) ThreadResponse {
	return ThreadResponse{
		ID:               t.ID,
		Subject:          t.Subject,
		Participants:     t.Participants,
		ParticipantNames: t.ParticipantNames,
		LastMessage:      toSnapshot(t.LastMessage),
		MessageCount:     t.MessageCount,
		UnreadCount:      t.UnreadCount,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func toMessage(m *messaging.Message) MessageResponse {
	return MessageResponse{
		ID:           m.ID,
		ThreadID:     m.ThreadID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		ReceiverID:   m.ReceiverID,
		ReceiverName: m.ReceiverName,
		Subject:      m.Subject,
		Body:         m.Body,
		Type:         string(m.Type),
		IsRead:       m.IsRead,
		ReadAt:       m.ReadAt,
		ReplyToID:    m.ReplyToID,
		Attachments:  m.Attachments,
		CreatedAt:    m.CreatedAt,
	}
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, messaging.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, messaging.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, messaging.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, messaging.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, messaging.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, messaging.ErrStoreUnavailable), errors.Is(err, messaging.ErrNotConnected):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

// respondServiceError writes err using the service error mapping.
// Internal errors are logged and their text is not returned.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: http.StatusText(status), Code: code}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		resp.Message = err.Error()
	}
	if ve, ok := messaging.IsValidationError(err); ok {
		resp.Field = ve.Field
		resp.Message = ve.Message
	}
	h.respondJSON(w, status, resp)
}
