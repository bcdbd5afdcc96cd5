package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, tokenCalls *int32, messages chan<- map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/app_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":             0,
			"msg":              "ok",
			"app_access_token": "t-123",
			"expire":           7200,
		})
	})
	mux.HandleFunc("/open-apis/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t-123", r.Header.Get("Authorization"))
		assert.Equal(t, "chat_id", r.URL.Query().Get("receive_id_type"))
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		messages <- body
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"msg":  "ok",
			"data": map[string]string{"message_id": "om_1"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSendCardCachesToken(t *testing.T) {
	var tokenCalls int32
	messages := make(chan map[string]interface{}, 2)
	srv := newTestServer(t, &tokenCalls, messages)

	client := NewClient("app", "secret", WithBaseURL(srv.URL))
	card := NewRescueSessionCard("RESCUE/240315/AM", "早班", "2024-03-15", "WO-001")

	require.NoError(t, client.SendCard(context.Background(), "oc_chat", card))
	require.NoError(t, client.SendCard(context.Background(), "oc_chat", card))

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))

	body := <-messages
	assert.Equal(t, "oc_chat", body["receive_id"])
	assert.Equal(t, "interactive", body["msg_type"])
	assert.Contains(t, body["content"], "RESCUE/240315/AM")
}

func TestDoRequestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/app_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 10003, "msg": "invalid app"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient("app", "bad", WithBaseURL(srv.URL))
	err := client.SendCard(context.Background(), "oc_chat", NewSessionClosedCard("L1/240315/AM", "早班", "2024-03-15 18:00", 2, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10003")
}

func TestSessionClosedCardTemplate(t *testing.T) {
	assert.Equal(t, "green", NewSessionClosedCard("s", "shift", "now", 2, 2).Header.Template)
	assert.Equal(t, "red", NewSessionClosedCard("s", "shift", "now", 2, 1).Header.Template)
}
