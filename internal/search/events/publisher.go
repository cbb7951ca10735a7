// Package events broadcasts terminal search transitions onto the message
// bus so downstream consumers (content linking, notifications) can react
// without polling the status endpoint.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/shared/rabbitmq"
)

const (
	routingKeyCompleted = "search.completed"
	routingKeyFailed    = "search.failed"
)

// terminalEvent is the wire shape of one terminal transition.
type terminalEvent struct {
	RequestID    string    `json:"request_id"`
	JobID        string    `json:"job_id,omitempty"`
	Query        string    `json:"query"`
	Status       string    `json:"status"`
	ResultCount  int       `json:"result_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Publisher emits search lifecycle events over RabbitMQ.
type Publisher struct {
	logger *slog.Logger
	client *rabbitmq.Client
}

// NewPublisher wraps an established RabbitMQ client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		logger: logger,
		client: client,
	}
}

// PublishTerminal emits one event for an entry that reached a terminal
// status. Completed entries go out under search.completed, errors and
// timeouts under search.failed.
func (p *Publisher) PublishTerminal(ctx context.Context, e *domain.Entry) error {
	key := routingKeyFailed
	if e.Status == domain.StatusCompleted {
		key = routingKeyCompleted
	}

	body, err := json.Marshal(terminalEvent{
		RequestID:    e.RequestID,
		JobID:        e.JobID,
		Query:        e.NormalizedQuery,
		Status:       string(e.Status),
		ResultCount:  len(e.Results),
		ErrorMessage: e.ErrorMessage,
		FinishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode terminal event: %w", err)
	}

	if err := p.client.PublishWithKey(ctx, key, body, "application/json"); err != nil {
		return err
	}

	p.logger.Debug("Published search event",
		slog.String("routing_key", key),
		slog.String("request_id", e.RequestID),
	)
	return nil
}
