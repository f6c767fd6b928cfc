// Package api exposes the messaging service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rbaliyan/messaging"
	"github.com/rbaliyan/messaging/retry"
)

// UserIDHeader carries the authenticated caller. Authentication itself
// happens upstream of this server.
const UserIDHeader = "X-User-ID"

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

type ctxKey struct{}

// Handler holds dependencies for API handlers.
type Handler struct {
	service messaging.Service
	policy  retry.Policy
	logger  *slog.Logger
}

// NewHandler creates a new API handler. Sends are retried with policy.
func NewHandler(service messaging.Service, policy retry.Policy, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, policy: policy, logger: logger}
}

// Routes returns the HTTP routes for the handler.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireUser)

		r.Post("/messages", h.HandleSend)
		r.Get("/stats", h.HandleStats)

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", h.HandleListThreads)
			r.Post("/read", h.HandleMarkRead)
			r.Get("/between/{other}", h.HandleBetween)
			r.Get("/{id}", h.HandleGetThread)
			r.Delete("/{id}", h.HandleDeleteThread)
			r.Post("/{id}/read", h.HandleMarkThreadRead)
			r.Get("/{id}/messages", h.HandleListMessages)
		})
	})
	return r
}

// requireUser rejects requests without a caller identity.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			h.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", UserIDHeader+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logRequests writes one structured record per request.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) client(r *http.Request) messaging.Conversations {
	userID, _ := r.Context().Value(ctxKey{}).(string)
	return h.service.Client(userID)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}
	return true
}

// listOptions parses limit, offset and unread query parameters.
func (h *Handler) listOptions(w http.ResponseWriter, r *http.Request) (messaging.ListOptions, bool) {
	var opts messaging.ListOptions
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: http.StatusText(http.StatusBadRequest), Code: "INVALID_INPUT", Field: name,
				Message: "must be a non-negative integer",
			})
			return opts, false
		}
		*dst = n
	}
	if v := q.Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.respondJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: http.StatusText(http.StatusBadRequest), Code: "INVALID_INPUT", Field: "unread",
				Message: "must be a boolean",
			})
			return opts, false
		}
		opts.UnreadOnly = b
	}
	return opts, true
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.service.IsConnected() {
		h.respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "service not connected")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSend handles POST /v1/messages
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req messaging.SendRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := retry.Send(r.Context(), h.client(r), req, h.policy)
	if err != nil {
		var re *retry.Error
		if errors.As(err, &re) {
			h.logger.DebugContext(r.Context(), "send failed", "attempts", re.Attempts, "reason", re.Reason)
			err = re.Last
		}
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toMessage(msg))
}

// HandleMarkThreadRead handles POST /v1/threads/{id}/read
func (h *Handler) HandleMarkThreadRead(w http.ResponseWriter, r *http.Request) {
	marked, err := h.client(r).MarkThreadRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ReadResponse{Marked: marked})
}

// MarkReadRequest selects threads for POST /v1/threads/read.
// An empty list marks every thread.
type MarkReadRequest struct {
	ThreadIDs []string `json:"thread_ids,omitempty"`
}

// HandleMarkRead handles POST /v1/threads/read
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !h.decode(w, r, &req) {
		return
	}
	client := h.client(r)

	if len(req.ThreadIDs) > 0 {
		result, err := client.MarkThreadsRead(r.Context(), req.ThreadIDs)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		if result.HasFailures() {
			h.logger.WarnContext(r.Context(), "mark threads read partially failed", "error", result.Err())
		}
		h.respondJSON(w, http.StatusOK, ReadResponse{Marked: result.TotalMarked(), Failed: result.FailedIDs()})
		return
	}

	marked, err := client.MarkAllRead(r.Context())
	if err != nil {
		if pe, ok := messaging.IsPartialRead(err); ok {
			h.logger.WarnContext(r.Context(), "mark all read partially failed", "failed", len(pe.Failed), "error", err)
			h.respondJSON(w, http.StatusOK, ReadResponse{Marked: pe.Marked, Failed: pe.FailedIDs()})
			return
		}
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ReadResponse{Marked: marked})
}

// HandleDeleteThread handles DELETE /v1/threads/{id}
func (h *Handler) HandleDeleteThread(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.client(r).DeleteThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, DeleteResponse{Deleted: deleted})
}

// HandleListThreads handles GET /v1/threads
func (h *Handler) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	list, err := h.client(r).Threads(r.Context(), opts)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	resp := ThreadListResponse{
		Threads: make([]ThreadResponse, 0, len(list.Threads)),
		Total:   list.Total,
		HasMore: list.HasMore,
	}
	for _, t := range list.Threads {
		resp.Threads = append(resp.Threads, toThread(t))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// HandleBetween handles GET /v1/threads/between/{other}
func (h *Handler) HandleBetween(w http.ResponseWriter, r *http.Request) {
	threadID, err := h.client(r).FindThreadWith(r.Context(), chi.URLParam(r, "other"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, BetweenResponse{ThreadID: threadID})
}

// HandleGetThread handles GET /v1/threads/{id}
func (h *Handler) HandleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.client(r).Thread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toThread(thread))
}

// HandleListMessages handles GET /v1/threads/{id}/messages
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	list, err := h.client(r).Messages(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	resp := MessageListResponse{
		Messages: make([]MessageResponse, 0, len(list.Messages)),
		Total:    list.Total,
		HasMore:  list.HasMore,
	}
	for _, m := range list.Messages {
		resp.Messages = append(resp.Messages, toMessage(m))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.client(r).Stats(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, StatsResponse{
		Threads:        stats.Threads,
		UnreadThreads:  stats.UnreadThreads,
		UnreadMessages: stats.UnreadMessages,
	})
}
