package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendBatchesOfOneHundred(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var msgs []Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msgs))
		assert.LessOrEqual(t, len(msgs), 100)

		tickets := make([]Ticket, len(msgs))
		for i := range tickets {
			tickets[i] = Ticket{Status: "ok", ID: fmt.Sprint(i)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	defer srv.Close()

	msgs := make([]Message, 250)
	for i := range msgs {
		msgs[i] = Message{To: fmt.Sprintf("ExponentPushToken[%d]", i), Title: "t", Body: "b"}
	}

	tickets, err := NewExpoClient(srv.URL, "secret").Send(context.Background(), msgs)
	require.NoError(t, err)
	assert.Len(t, tickets, 250)
	assert.Equal(t, int32(3), requests.Load())
}

func TestSendReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewExpoClient(srv.URL, "").Send(context.Background(), []Message{{To: "ExponentPushToken[x]"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestIsExpoToken(t *testing.T) {
	assert.True(t, IsExpoToken("ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"))
	assert.True(t, IsExpoToken("ExpoPushToken[abc]"))
	assert.False(t, IsExpoToken("fcm:abc"))
	assert.False(t, IsExpoToken("ExponentPushToken[abc"))
}
