package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rbaliyan/messaging"
	"github.com/rbaliyan/messaging/retry"
	"github.com/rbaliyan/messaging/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	service messaging.Service
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := messaging.NewService(
		messaging.WithStore(memory.New()),
		messaging.WithLogger(logger),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	policy := retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond}
	return &testServer{t: t, service: svc, handler: NewHandler(svc, policy, logger).Routes()}
}

// do performs a request as user and decodes the JSON response into out when non-nil.
func (s *testServer) do(method, path, user string, body any, out any) int {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (s *testServer) send(user string, req messaging.SendRequest) MessageResponse {
	s.t.Helper()
	var msg MessageResponse
	code := s.do(http.MethodPost, "/v1/messages", user, req, &msg)
	require.Equal(s.t, http.StatusCreated, code)
	return msg
}

func TestMissingUser(t *testing.T) {
	s := newTestServer(t)

	var resp ErrorResponse
	code := s.do(http.MethodGet, "/v1/threads", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", resp.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", nil, nil))

	require.NoError(t, s.service.Close(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/healthz", "", nil, nil))
}

func TestConversationFlow(t *testing.T) {
	s := newTestServer(t)

	first := s.send("alice", messaging.SendRequest{ReceiverID: "bob", Subject: "Listing 42", Body: "Still available?"})
	assert.Equal(t, "alice", first.SenderID)
	assert.Equal(t, "bob", first.ReceiverID)
	assert.NotEmpty(t, first.ThreadID)

	reply := s.send("bob", messaging.SendRequest{ThreadID: first.ThreadID, Body: "Yes"})
	assert.Equal(t, first.ThreadID, reply.ThreadID)
	assert.Equal(t, "alice", reply.ReceiverID)

	var between BetweenResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/threads/between/bob", "alice", nil, &between))
	assert.Equal(t, first.ThreadID, between.ThreadID)

	var list ThreadListResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/threads?unread=true", "alice", nil, &list))
	require.Len(t, list.Threads, 1)
	assert.Equal(t, int64(1), list.Threads[0].UnreadCount)
	assert.Equal(t, int64(2), list.Threads[0].MessageCount)
	require.NotNil(t, list.Threads[0].LastMessage)
	assert.Equal(t, reply.ID, list.Threads[0].LastMessage.MessageID)

	var msgs MessageListResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/threads/"+first.ThreadID+"/messages", "alice", nil, &msgs))
	assert.Len(t, msgs.Messages, 2)
	assert.Equal(t, int64(2), msgs.Total)

	var read ReadResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/threads/"+first.ThreadID+"/read", "alice", nil, &read))
	assert.Equal(t, int64(1), read.Marked)

	var thread ThreadResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/threads/"+first.ThreadID, "alice", nil, &thread))
	assert.Zero(t, thread.UnreadCount)

	var stats StatsResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/stats", "bob", nil, &stats))
	assert.Equal(t, int64(1), stats.Threads)
	assert.Zero(t, stats.UnreadMessages, "replying read bob's side of the thread")

	var deleted DeleteResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/v1/threads/"+first.ThreadID, "bob", nil, &deleted))
	assert.Equal(t, int64(3), deleted.Deleted)

	var resp ErrorResponse
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/threads/"+first.ThreadID, "alice", nil, &resp))
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestMarkRead(t *testing.T) {
	s := newTestServer(t)

	var threadIDs []string
	for _, sender := range []string{"bob", "carol", "dave"} {
		msg := s.send(sender, messaging.SendRequest{ReceiverID: "alice", Body: "hi from " + sender})
		s.send(sender, messaging.SendRequest{ThreadID: msg.ThreadID, Body: "again"})
		threadIDs = append(threadIDs, msg.ThreadID)
	}

	var read ReadResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/threads/read", "alice",
		MarkReadRequest{ThreadIDs: threadIDs[:1]}, &read))
	assert.Equal(t, int64(2), read.Marked)
	assert.Empty(t, read.Failed)

	read = ReadResponse{}
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/threads/read", "alice", nil, &read))
	assert.Equal(t, int64(4), read.Marked)

	read = ReadResponse{}
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/threads/read", "alice", nil, &read))
	assert.Zero(t, read.Marked)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	msg := s.send("alice", messaging.SendRequest{ReceiverID: "bob", Body: "hello"})

	tests := []struct {
		name      string
		method    string
		path      string
		user      string
		body      any
		wantCode  int
		wantField string
	}{
		{"forbidden read", http.MethodGet, "/v1/threads/" + msg.ThreadID, "mallory", nil, http.StatusForbidden, ""},
		{"forbidden delete", http.MethodDelete, "/v1/threads/" + msg.ThreadID, "mallory", nil, http.StatusForbidden, ""},
		{"unknown thread", http.MethodPost, "/v1/threads/00000000-0000-0000-0000-000000000000/read", "alice", nil, http.StatusNotFound, ""},
		{"no shared thread", http.MethodGet, "/v1/threads/between/zed", "alice", nil, http.StatusNotFound, ""},
		{"empty body", http.MethodPost, "/v1/messages", "alice", messaging.SendRequest{ReceiverID: "bob"}, http.StatusBadRequest, "body"},
		{"send to self", http.MethodPost, "/v1/messages", "alice", messaging.SendRequest{ReceiverID: "alice", Body: "me"}, http.StatusBadRequest, "receiver_id"},
		{"bad limit", http.MethodGet, "/v1/threads?limit=-1", "alice", nil, http.StatusBadRequest, "limit"},
		{"bad unread flag", http.MethodGet, "/v1/threads?unread=sometimes", "alice", nil, http.StatusBadRequest, "unread"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			code := s.do(tt.method, tt.path, tt.user, tt.body, &resp)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, resp.Field)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{"body": 5}`))
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{messaging.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", messaging.ErrForbidden), http.StatusForbidden},
		{messaging.ErrNotFound, http.StatusNotFound},
		{&messaging.ValidationError{Field: "body", Message: "required"}, http.StatusBadRequest},
		{messaging.ErrConflict, http.StatusConflict},
		{messaging.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{messaging.ErrNotConnected, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := errorStatus(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
