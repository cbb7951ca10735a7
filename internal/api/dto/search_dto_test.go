package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotification_QueryHint(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "originalQuery wins over other fields",
			body: `{"jobId":"j1","payload":{"originalQuery":"linux","query":"ignored"}}`,
			want: "linux",
		},
		{
			name: "query is the second choice",
			body: `{"jobId":"j1","payload":{"query":"docker basics"}}`,
			want: "docker basics",
		},
		{
			name: "nested input object is searched too",
			body: `{"jobId":"j1","payload":{"input":{"searchTerm":"kubernetes"}}}`,
			want: "kubernetes",
		},
		{
			name: "top-level fields win over nested input",
			body: `{"jobId":"j1","payload":{"query":"outer","input":{"query":"inner"}}}`,
			want: "outer",
		},
		{
			name: "blank values are skipped",
			body: `{"jobId":"j1","payload":{"originalQuery":"   ","query":"fallback"}}`,
			want: "fallback",
		},
		{
			name: "non-string values are skipped",
			body: `{"jobId":"j1","payload":{"originalQuery":42,"query":"real"}}`,
			want: "real",
		},
		{
			name: "no payload",
			body: `{"jobId":"j1"}`,
			want: "",
		},
		{
			name: "no resolvable field",
			body: `{"jobId":"j1","payload":{"unrelated":"stuff"}}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n WebhookNotification
			require.NoError(t, json.Unmarshal([]byte(tt.body), &n))
			assert.Equal(t, tt.want, n.QueryHint())
		})
	}
}

func TestWebhookNotification_Failed(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{"job.completed", false},
		{"job.finished", false},
		{"", false},
		{"job.failed", true},
		{"JOB.FAILED", true},
		{"failed", true},
		{"error", true},
		{"job.error", true},
	}

	for _, tt := range tests {
		t.Run("eventType "+tt.eventType, func(t *testing.T) {
			n := WebhookNotification{EventType: tt.eventType}
			assert.Equal(t, tt.want, n.Failed())
		})
	}
}

func TestWebhookNotification_FailureReason(t *testing.T) {
	t.Run("top-level error field wins", func(t *testing.T) {
		n := WebhookNotification{
			Error:   "quota exhausted",
			Payload: map[string]interface{}{"error": "ignored"},
		}
		assert.Equal(t, "quota exhausted", n.FailureReason())
	})

	t.Run("payload fields are consulted in order", func(t *testing.T) {
		n := WebhookNotification{
			Payload: map[string]interface{}{"errorMessage": "scrape blocked"},
		}
		assert.Equal(t, "scrape blocked", n.FailureReason())
	})

	t.Run("empty when nothing resolvable", func(t *testing.T) {
		n := WebhookNotification{}
		assert.Empty(t, n.FailureReason())
	})
}
