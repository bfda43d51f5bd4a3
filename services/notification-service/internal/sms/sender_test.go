package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, " tok ", "CleanRoute")
	require.NoError(t, s.Send(context.Background(), "+15550001", "on the way"))
	assert.Equal(t, "Bearer tok", authz)
	assert.Equal(t, map[string]string{"to": "+15550001", "body": "on the way", "sender": "CleanRoute"}, got)
}

func TestWebhookSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "", "").Send(context.Background(), "+1", "x")
	assert.EqualError(t, err, "sms webhook returned 502")

	err = NewWebhookSender("", "", "").Send(context.Background(), "+1", "x")
	assert.Error(t, err)

	assert.NoError(t, NoopSender{}.Send(context.Background(), "+1", "x"))
}
