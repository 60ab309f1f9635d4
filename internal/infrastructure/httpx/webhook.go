package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var _ application.EventPublisher = (*WebhookPublisher)(nil)

// WebhookPublisher POSTs each outbox event to a fixed URL. Receivers should
// dedupe on X-Event-Id: a relay tick that fails after some deliveries
// resends them.
type WebhookPublisher struct {
	Client *Client
	URL    string
}

type webhookBody struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func NewWebhookPublisher(c *Client, url string) *WebhookPublisher {
	return &WebhookPublisher{Client: c, URL: url}
}

func (p *WebhookPublisher) Publish(ctx context.Context, e domain.OutboxEvent) error {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(webhookBody{
		ID:          e.ID,
		Type:        e.Type,
		AggregateID: e.AggregateID,
		Payload:     payload,
		CreatedAt:   e.CreatedAt,
	})
	if err != nil {
		return err
	}
	return p.Client.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Id", strconv.FormatInt(e.ID, 10))
		req.Header.Set("X-Event-Type", e.Type)
		return req, nil
	}, nil)
}
