package services

import (
	"context"
	"fmt"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

// TopicMembersGetter lists the users subscribed to a relay topic.
// Implemented by ws.Hub.
type TopicMembersGetter interface {
	TopicMembers(topic string) []string
}

// SessionService admits users to lesson sessions.
type SessionService interface {
	// Token resolves the session topic and returns a room token for it
	// together with the ICE servers to use.
	Token(ctx context.Context, user *models.AuthUser, req *models.SessionTokenRequest) (*models.SessionTokenResponse, error)
	Presence(topic string) (*models.Presence, error)
}

type sessionService struct {
	tokens   RoomTokenService
	ice      ICEService
	profiles ProfileService
	members  TopicMembersGetter
}

// NewSessionService, constructor.
func NewSessionService(tokens RoomTokenService, ice ICEService, profiles ProfileService, members TopicMembersGetter) SessionService {
	return &sessionService{
		tokens:   tokens,
		ice:      ice,
		profiles: profiles,
		members:  members,
	}
}

func (s *sessionService) Token(ctx context.Context, user *models.AuthUser, req *models.SessionTokenRequest) (*models.SessionTokenResponse, error) {
	topic, err := models.TopicFor(req.LessonID, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	profile, err := s.profiles.Ensure(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile: %w", err)
	}

	token, err := s.tokens.Mint(user, profile.DisplayName, topic)
	if err != nil {
		return nil, err
	}

	servers, err := s.ice.Servers()
	if err != nil {
		return nil, err
	}

	return &models.SessionTokenResponse{
		Topic:      topic,
		RoomToken:  token,
		ICEServers: servers,
	}, nil
}

func (s *sessionService) Presence(topic string) (*models.Presence, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", pkg.ErrBadRequest)
	}
	members := s.members.TopicMembers(topic)
	if members == nil {
		members = []string{}
	}
	return &models.Presence{Topic: topic, UserIDs: members}, nil
}
