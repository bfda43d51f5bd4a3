package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookSender posts {"to","body","sender"} to an SMS gateway bridge.
type WebhookSender struct {
	url      string
	token    string
	senderID string
	http     *http.Client
}

func NewWebhookSender(url, token, senderID string) *WebhookSender {
	return &WebhookSender{
		url:      strings.TrimSpace(url),
		token:    strings.TrimSpace(token),
		senderID: strings.TrimSpace(senderID),
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

func (s *WebhookSender) Send(ctx context.Context, to, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	raw, err := json.Marshal(struct {
		To     string `json:"to"`
		Body   string `json:"body"`
		Sender string `json:"sender,omitempty"`
	}{To: to, Body: body, Sender: s.senderID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NoopSender drops messages; used when no SMS bridge is configured.
type NoopSender struct{}

func (NoopSender) ProviderID() string { return "sms-noop" }

func (NoopSender) Send(context.Context, string, string) error { return nil }
