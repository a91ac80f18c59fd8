package services

import (
	"fmt"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/auth"
)

// RoomTokenService mints and verifies topic-scoped room tokens.
//
// Tokens use the LiveKit access token format (an HS256 JWT with a "video"
// grant), so the same token would also admit the user to a LiveKit room
// named after the topic.
type RoomTokenService interface {
	Mint(user *models.AuthUser, displayName, topic string) (string, error)
	// Verify checks signature and expiry and returns the token's identity
	// and room.
	Verify(token string) (identity, room string, err error)
}

type roomTokenService struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// NewRoomTokenService, constructor.
func NewRoomTokenService(apiKey, apiSecret string, ttl time.Duration) RoomTokenService {
	return &roomTokenService{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
	}
}

func (s *roomTokenService) Mint(user *models.AuthUser, displayName, topic string) (string, error) {
	canPublish := true
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(s.apiKey, s.apiSecret)

	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           topic,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at.AddGrant(grant).
		SetIdentity(user.ID).
		SetName(displayName).
		SetValidFor(s.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate room token: %w", err)
	}
	return token, nil
}

// roomClaims is the subset of the LiveKit claim set the relay checks.
type roomClaims struct {
	jwt.RegisteredClaims
	Video *struct {
		RoomJoin bool   `json:"roomJoin"`
		Room     string `json:"room"`
	} `json:"video"`
}

func (s *roomTokenService) Verify(token string) (string, string, error) {
	claims := &roomClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.apiSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.apiKey),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", "", fmt.Errorf("%w: invalid room token", pkg.ErrUnauthorized)
	}

	if claims.Video == nil || !claims.Video.RoomJoin || claims.Video.Room == "" {
		return "", "", fmt.Errorf("%w: room token has no join grant", pkg.ErrForbidden)
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("%w: room token has no identity", pkg.ErrUnauthorized)
	}

	return claims.Subject, claims.Video.Room, nil
}
