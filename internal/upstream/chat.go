// Package upstream relays chat messages to the workflow webhook that backs a bot.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/zks-preview/pkg/logger"
)

var (
	// ErrNoWebhook means neither the code nor the deployment names a webhook.
	ErrNoWebhook = errors.New("no chat webhook configured")
	// ErrUnavailable covers timeouts, transport errors, non-2xx and empty answers.
	ErrUnavailable = errors.New("chat upstream unavailable")
)

const maxResponseBytes = 1 << 20

// Message is the body posted to the webhook.
type Message struct {
	Message    string `json:"message"`
	SessionID  string `json:"sessionId"`
	Email      string `json:"email"`
	AccessCode string `json:"accessCode"`
	BotName    string `json:"botName,omitempty"`
	Greeting   string `json:"greeting,omitempty"`
}

type ChatClient struct {
	defaultURL string
	client     *http.Client
}

func NewChatClient(defaultURL string, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatClient{
		defaultURL: strings.TrimSpace(defaultURL),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts msg to webhookURL, or to the default webhook when it is empty, and
// returns the bot's answer.
func (c *ChatClient) Send(ctx context.Context, webhookURL string, msg Message) (string, error) {
	url := strings.TrimSpace(webhookURL)
	if url == "" {
		url = c.defaultURL
	}
	if url == "" {
		return "", ErrNoWebhook
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	logger.DebugContext(ctx, "Relaying chat message", "session_id", msg.SessionID, "access_code", msg.AccessCode)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	answer := ExtractAnswer(raw)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", ErrUnavailable)
	}
	return answer, nil
}

var answerFields = []string{"output", "response", "text", "message"}

// ExtractAnswer reads the bot reply from a webhook body. It accepts an object with
// one of the answer fields, an array whose first element is such an object, or
// plain text.
func ExtractAnswer(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			return fromObject(obj)
		}
	case '[':
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err == nil {
			if len(arr) == 0 {
				return ""
			}
			return fromObject(arr[0])
		}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(trimmed)
}

func fromObject(obj map[string]json.RawMessage) string {
	for _, key := range answerFields {
		v, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
