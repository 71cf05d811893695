// Package messenger implements the Facebook Messenger webhook contract:
// subscription verification, payload parsing, and Graph API sends.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrVerification  = errors.New("messenger: webhook verification failed")
	ErrNotConfigured = errors.New("messenger: page access token not configured")
)

// VerifyWebhook checks a GET /webhook subscription request. On success it
// returns the challenge value to echo back as an integer.
func VerifyWebhook(mode, token, challenge, verifyToken string) (int, error) {
	if mode != "subscribe" || token != verifyToken || verifyToken == "" {
		return 0, ErrVerification
	}
	n, err := strconv.Atoi(challenge)
	if err != nil {
		return 0, fmt.Errorf("messenger: non-integer challenge %q: %w", challenge, ErrVerification)
	}
	return n, nil
}

// Inbound is one user message extracted from a webhook delivery.
type Inbound struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

type webhookPayload struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParsePayload extracts text messages from a webhook POST body. Events
// without a sender id or message text (delivery receipts, attachments,
// read events) are skipped rather than being errors.
func ParsePayload(body []byte) ([]Inbound, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("messenger: decode payload: %w", err)
	}
	var out []Inbound
	for _, e := range p.Entry {
		for _, m := range e.Messaging {
			if m.Sender.ID == "" || m.Message.Text == "" {
				continue
			}
			out = append(out, Inbound{SenderID: m.Sender.ID, Text: m.Message.Text})
		}
	}
	return out, nil
}

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// Client sends messages through the Graph API.
type Client struct {
	graphURL    string
	accessToken string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient creates a Graph API client. graphURL "" uses the production
// endpoint; tests point it at a local server.
func NewClient(graphURL, accessToken string, logger *slog.Logger) *Client {
	if graphURL == "" {
		graphURL = defaultGraphURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		graphURL:    graphURL,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Send delivers a text message to a recipient.
func (c *Client) Send(ctx context.Context, recipientID, text string) error {
	if c.accessToken == "" {
		return ErrNotConfigured
	}

	var payload sendRequest
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messenger: encode send: %w", err)
	}

	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", c.graphURL, url.QueryEscape(c.accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("messenger: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messenger: send to %s: status %d: %s", recipientID, resp.StatusCode, detail)
	}

	c.logger.Debug("messenger: message sent", "recipient", recipientID, "len", len(text))
	return nil
}
