// ABOUTME: Tests for the catalog client against an httptest server.
// ABOUTME: Verifies paths, auth header, payloads, and status-code error mapping.

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/chat/conversations/user/u-1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1","customerId":"c-1","customerHandle":"carlos","status":"OPEN"},
			{"id":"2","customerId":"c-2","customerHandle":"lucia","assigneeId":"s-1","assigneeHandle":"maria","status":"OPEN"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	convs, err := c.Conversations(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "carlos", convs[0].CustomerHandle)
	assert.Equal(t, "s-1", convs[1].AssigneeID)
}

func TestMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/conversations/42/messages", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"m-1","conversationId":"42","senderId":"c-1","senderHandle":"carlos","body":"hola"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	msgs, err := c.Messages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hola", msgs[0].Body)
}

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/conversations", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c-1", body["customerId"])

		_, _ = w.Write([]byte(`{"id":"9","customerId":"c-1","customerHandle":"carlos","status":"OPEN"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	conv, err := c.CreateConversation(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "9", conv.ID)
}

func TestAssign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/chat/conversations/42/assign", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s-1", body["staffId"])

		_, _ = w.Write([]byte(`{"id":"42","customerId":"c-1","assigneeId":"s-1","assigneeHandle":"maria","status":"OPEN"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	conv, err := c.Assign(context.Background(), "42", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", conv.AssigneeID)
}

func TestAssign_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	_, err := c.Assign(context.Background(), "42", "s-2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCloseConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/chat/conversations/42/close", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"42","status":"CLOSED"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	conv, err := c.CloseConversation(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", conv.Status)
}

func TestWaitingConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/conversations/waiting", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"5","customerId":"c-9","customerHandle":"pedro","status":"OPEN"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)
	convs, err := c.WaitingConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Empty(t, convs[0].AssigneeID)
}

func TestErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/conversations/missing/messages":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0, nil)

	_, err := c.Messages(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Conversations(context.Background(), "u-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "unexpected status 500")
}
