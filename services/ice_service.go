package services

import (
	"fmt"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/pion/turn/v4"
)

// ICEService hands out the ICE server list a participant passes to its
// peer connections.
type ICEService interface {
	Servers() ([]models.ICEServer, error)
}

type iceService struct {
	stunURLs   []string
	turnURLs   []string
	turnSecret string
	ttl        time.Duration
}

// NewICEService, constructor. TURN is left out when turnSecret or turnURLs
// is empty.
func NewICEService(stunURLs, turnURLs []string, turnSecret string, ttl time.Duration) ICEService {
	return &iceService{
		stunURLs:   stunURLs,
		turnURLs:   turnURLs,
		turnSecret: turnSecret,
		ttl:        ttl,
	}
}

// Servers returns STUN plus, when configured, TURN with time-limited REST
// credentials (username "<expiry>", HMAC-SHA1 password) that coturn and
// pion/turn servers accept with the same shared secret.
func (s *iceService) Servers() ([]models.ICEServer, error) {
	var servers []models.ICEServer

	if len(s.stunURLs) > 0 {
		servers = append(servers, models.ICEServer{URLs: s.stunURLs})
	}

	if len(s.turnURLs) == 0 || s.turnSecret == "" {
		return servers, nil
	}

	username, password, err := turn.GenerateLongTermCredentials(s.turnSecret, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to generate turn credentials: %w", err)
	}

	servers = append(servers, models.ICEServer{
		URLs:       s.turnURLs,
		Username:   username,
		Credential: password,
	})
	return servers, nil
}
