package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// AssistClient calls the AI assist function. The function is a plain
// JSON endpoint, not the relay API, so it has its own error mapping.
type AssistClient struct {
	url   string
	token string
	hc    *http.Client
}

func NewAssistClient(endpoint, token string, hc *http.Client) *AssistClient {
	if hc == nil {
		hc = NewHTTPClient()
	}
	return &AssistClient{url: endpoint, token: token, hc: hc}
}

// Feedback asks for a tip for a learner at level discussing topic.
// Rate limiting is ErrRateLimited and an exhausted quota is
// ErrQuotaExceeded; both are safe to show and carry on.
func (c *AssistClient) Feedback(ctx context.Context, level, topic string) (models.AIFeedback, error) {
	var fb models.AIFeedback

	body, err := json.Marshal(models.AIFeedbackRequest{Level: level, Topic: topic})
	if err != nil {
		return fb, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fb, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fb, fmt.Errorf("ai assist: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fb, fmt.Errorf("ai assist: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fb, ErrRateLimited
	case resp.StatusCode == http.StatusPaymentRequired:
		return fb, ErrQuotaExceeded
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := assistError(raw)
		if strings.Contains(strings.ToLower(msg), "quota") {
			return fb, ErrQuotaExceeded
		}
		return fb, &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, &fb); err != nil {
		return fb, fmt.Errorf("ai assist: decode: %w", err)
	}
	if fb.Type == "" {
		fb.Type = models.FeedbackTip
	}
	return fb, nil
}

// assistError pulls a message out of {"error": "..."} or returns the raw
// text.
func assistError(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
