// Package push talks to the external push-notification collaborator.
// Delivery is fire-and-forget: failures are reported back for logging
// only and never abort a signaling flow.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adwski/call-signaling/backend/model"
	"github.com/rs/zerolog"
)

const defaultSendTimeout = 5 * time.Second

var (
	ErrSend      = errors.New("unable to send push payload")
	ErrNoAddress = errors.New("no push address registered")
)

// Sender delivers a payload to a user's registered device.
type Sender interface {
	Send(ctx context.Context, addr string, payload model.PushPayload) error
}

// AddressBook stores per-user push-delivery addresses.
type AddressBook interface {
	Get(ctx context.Context, userID string) (string, error)
	Put(ctx context.Context, userID, addr string) error
	Delete(ctx context.Context, userID string) error
}

// WebhookSender posts payloads as JSON to a fixed collaborator endpoint.
type WebhookSender struct {
	logger zerolog.Logger
	client *http.Client
	url    string
}

func NewWebhookSender(logger *zerolog.Logger, url string) *WebhookSender {
	return &WebhookSender{
		logger: logger.With().Str("component", "push-webhook").Logger(),
		client: &http.Client{Timeout: defaultSendTimeout},
		url:    url,
	}
}

func (ws *WebhookSender) Send(ctx context.Context, addr string, payload model.PushPayload) error {
	b, err := json.Marshal(struct {
		Address string `json:"address"`
		model.PushPayload
	}{Address: addr, PushPayload: payload})
	if err != nil {
		return errors.Join(ErrSend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(b))
	if err != nil {
		return errors.Join(ErrSend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ws.client.Do(req)
	if err != nil {
		return errors.Join(ErrSend, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return errors.Join(ErrSend, fmt.Errorf("collaborator responded with %d", resp.StatusCode))
	}
	ws.logger.Debug().
		Str("type", payload.Type).
		Str("roomID", payload.Room).
		Msg("push payload delivered")
	return nil
}

// NopSender drops every payload. Used when no collaborator is configured.
type NopSender struct{}

func (NopSender) Send(context.Context, string, model.PushPayload) error {
	return nil
}
