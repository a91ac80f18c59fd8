package models

import (
	"fmt"
	"strings"
)

// TopicFor names the realtime channel of a session: the lesson id for an
// individual lesson, group_{groupID} for a recurring group session.
func TopicFor(lessonID, groupID string) (string, error) {
	switch {
	case groupID != "":
		return "group_" + groupID, nil
	case lessonID != "":
		return lessonID, nil
	default:
		return "", fmt.Errorf("lesson_id or group_id is required")
	}
}

// IsGroupTopic reports whether topic belongs to a group session.
func IsGroupTopic(topic string) bool {
	return strings.HasPrefix(topic, "group_")
}

// ICEServer mirrors the RTCIceServer dictionary.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SessionTokenRequest is the body of POST /api/sessions/token.
type SessionTokenRequest struct {
	LessonID string `json:"lesson_id"`
	GroupID  string `json:"group_id"`
}

// SessionTokenResponse authorises one user on one session topic.
type SessionTokenResponse struct {
	Topic      string      `json:"topic"`
	RoomToken  string      `json:"room_token"`
	ICEServers []ICEServer `json:"ice_servers"`
}

// Presence lists the users subscribed to a topic.
type Presence struct {
	Topic   string   `json:"topic"`
	UserIDs []string `json:"user_ids"`
}
