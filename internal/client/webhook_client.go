package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookClient hands messages to an HTTP endpoint that answers 202 with a
// JSON messageId.
type WebhookClient struct {
	url         string
	countryCode string
	client      *http.Client
}

type WebhookOption func(*WebhookClient)

func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(c *WebhookClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithWebhookCountryCode normalizes addresses before posting them.
func WithWebhookCountryCode(cc string) WebhookOption {
	return func(c *WebhookClient) { c.countryCode = cc }
}

func NewWebhookClient(url string, opts ...WebhookOption) *WebhookClient {
	c := &WebhookClient{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

func (c *WebhookClient) Send(ctx context.Context, address, body string) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("%w: webhook url not configured", ErrUnavailable)
	}

	phone := address
	if c.countryCode != "" {
		if digits := NormalizePhone(address, c.countryCode); isDigits(digits) {
			phone = "+" + digits
		}
	}

	reqBody, err := json.Marshal(sendRequest{
		PhoneNumber: phone,
		Message:     body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(respBody))
	}

	var sr sendResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(respBody))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(respBody))
	}

	return sr.MessageID, nil
}
