package dto

import (
	"strings"
	"time"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// AdmitSearchRequest is the body of POST /api/v1/searches
type AdmitSearchRequest struct {
	Query string `json:"query" binding:"required"`
}

// SearchResultDTO is one canonical result on the wire
type SearchResultDTO struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Source      string `json:"source"`
}

// SearchStatusResponse is the polling shape returned for an entry
type SearchStatusResponse struct {
	RequestID     string            `json:"request_id"`
	JobID         string            `json:"job_id,omitempty"`
	Query         string            `json:"query"`
	Status        string            `json:"status"`
	Results       []SearchResultDTO `json:"results,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	QueuePosition *int              `json:"queue_position,omitempty"`
	CreatedAt     string            `json:"created_at"`
	ExpiresAt     string            `json:"expires_at"`
}

// AdmitSearchResponse is the admission outcome: the entry state plus whether
// an existing entry was reused instead of starting a new provider job.
type AdmitSearchResponse struct {
	SearchStatusResponse
	Cached bool `json:"cached"`
}

// FromEntry converts a domain entry to its wire shape.
func FromEntry(e *domain.Entry) SearchStatusResponse {
	resp := SearchStatusResponse{
		RequestID:     e.RequestID,
		JobID:         e.JobID,
		Query:         e.Query,
		Status:        string(e.Status),
		ErrorMessage:  e.ErrorMessage,
		QueuePosition: e.QueuePosition,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		ExpiresAt:     e.ExpiresAt.Format(time.RFC3339),
	}
	if len(e.Results) > 0 {
		resp.Results = make([]SearchResultDTO, len(e.Results))
		for i, r := range e.Results {
			resp.Results[i] = SearchResultDTO{
				Title:       r.Title,
				URL:         r.URL,
				Description: r.Description,
				Type:        string(r.Type),
				Source:      r.Source,
			}
		}
	}
	return resp
}

// PurgeResponse reports how many expired entries an on-demand purge removed.
type PurgeResponse struct {
	Removed int `json:"removed"`
}

// WebhookNotification is the provider's callback payload. Field casing
// follows the provider's API, not ours. Payload is kept loose because the
// provider includes different fields per job type and version.
type WebhookNotification struct {
	JobID     string                 `json:"jobId"`
	DatasetID string                 `json:"datasetId"`
	EventType string                 `json:"eventType"`
	Error     string                 `json:"error"`
	Payload   map[string]interface{} `json:"payload"`
}

// queryHintFields are checked in priority order when recovering the original
// query from a notification for a job this system has no record of.
var queryHintFields = []string{"originalQuery", "query", "searchTerm"}

// QueryHint digs the original query text out of the payload, if present.
func (n *WebhookNotification) QueryHint() string {
	if n.Payload == nil {
		return ""
	}
	for _, field := range queryHintFields {
		if s := stringField(n.Payload, field); s != "" {
			return s
		}
	}
	if input, ok := n.Payload["input"].(map[string]interface{}); ok {
		for _, field := range queryHintFields {
			if s := stringField(input, field); s != "" {
				return s
			}
		}
	}
	return ""
}

// Failed reports whether the notification describes a failed job rather
// than a finished one.
func (n *WebhookNotification) Failed() bool {
	switch strings.ToLower(n.EventType) {
	case "job.failed", "job.error", "failed", "error":
		return true
	}
	return false
}

// FailureReason extracts the provider's failure description, falling back
// through the known payload fields.
func (n *WebhookNotification) FailureReason() string {
	if n.Error != "" {
		return n.Error
	}
	for _, field := range []string{"error", "errorMessage", "reason"} {
		if s := stringField(n.Payload, field); s != "" {
			return s
		}
	}
	return ""
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
