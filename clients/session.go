package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// SessionClient admits the participant to a lesson session.
type SessionClient struct {
	api *api
}

func NewSessionClient(baseURL, token string, hc *http.Client) *SessionClient {
	return &SessionClient{api: newAPI(baseURL, token, hc)}
}

// Token returns the relay topic, a room token for it and the ICE servers.
// Exactly one of lessonID and groupID is normally set; groupID wins.
func (c *SessionClient) Token(ctx context.Context, lessonID, groupID string) (*models.SessionTokenResponse, error) {
	body, err := json.Marshal(models.SessionTokenRequest{LessonID: lessonID, GroupID: groupID})
	if err != nil {
		return nil, err
	}

	var resp models.SessionTokenResponse
	if err := c.api.do(ctx, http.MethodPost, "/api/sessions/token", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	return &resp, nil
}

// Presence lists who is subscribed to topic right now.
func (c *SessionClient) Presence(ctx context.Context, topic string) (*models.Presence, error) {
	var p models.Presence
	if err := c.api.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(topic)+"/presence", "", nil, &p); err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	return &p, nil
}
