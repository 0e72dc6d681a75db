package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sendgrid/sendgrid-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/learnhub/internal/domain/instructor"
)

func newTestNotifier(t *testing.T, status int, got *map[string]any) *SendGrid {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	req := sendgrid.GetRequest("SG.test", "/v3/mail/send", srv.URL)
	req.Method = "POST"
	return NewSendGrid(&sendgrid.Client{Request: req}, Config{FromEmail: "noreply@learnhub.example.com", FromName: "LearnHub"})
}

func TestSendGrid_NotifyDecision(t *testing.T) {
	var body map[string]any
	n := newTestNotifier(t, http.StatusAccepted, &body)

	err := n.NotifyDecision(context.Background(), instructor.Profile{
		ID: "p1", Email: "ada@example.com", Status: instructor.StatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, "Your instructor application was approved", body["subject"])
	from, ok := body["from"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "noreply@learnhub.example.com", from["email"])
}

func TestSendGrid_Failure(t *testing.T) {
	n := newTestNotifier(t, http.StatusUnauthorized, nil)

	err := n.NotifyDecision(context.Background(), instructor.Profile{
		ID: "p1", Email: "ada@example.com", Status: instructor.StatusRejected,
	})
	require.Error(t, err)
}

func TestSendGrid_SkipsMissingEmail(t *testing.T) {
	n := newTestNotifier(t, http.StatusInternalServerError, nil)

	require.NoError(t, n.NotifyDecision(context.Background(), instructor.Profile{ID: "p1"}))
}

func TestNew(t *testing.T) {
	assert.IsType(t, Log{}, New(Config{}))
	assert.IsType(t, &SendGrid{}, New(Config{APIKey: "SG.key", FromEmail: "a@b.c"}))
}
