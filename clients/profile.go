package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/cache"
)

// PlaceholderName labels a participant whose profile could not be fetched.
const PlaceholderName = "Participant"

const (
	profileTTL   = 5 * time.Minute
	profileSweep = time.Minute
)

// ProfileClient resolves participant identities, caching them for a few
// minutes.
type ProfileClient struct {
	api   *api
	cache *cache.TTLCache[string, models.Profile]
}

func NewProfileClient(baseURL, token string, hc *http.Client) *ProfileClient {
	return &ProfileClient{
		api:   newAPI(baseURL, token, hc),
		cache: cache.New[string, models.Profile](profileTTL, profileSweep),
	}
}

// Get returns userID's profile. When the fetch fails the error is returned
// together with a placeholder profile the caller may still display.
// Placeholders are not cached.
func (c *ProfileClient) Get(ctx context.Context, userID string) (models.Profile, error) {
	p, err := c.cache.GetOrLoad(userID, func() (models.Profile, error) {
		var p models.Profile
		if err := c.api.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(userID), "", nil, &p); err != nil {
			return p, err
		}
		if p.DisplayName == "" {
			p.DisplayName = PlaceholderName
		}
		return p, nil
	})
	if err != nil {
		return Placeholder(userID), fmt.Errorf("profile %s: %w", userID, err)
	}
	return p, nil
}

// Me returns the caller's own profile. It is not cached.
func (c *ProfileClient) Me(ctx context.Context) (models.Profile, error) {
	var p models.Profile
	if err := c.api.do(ctx, http.MethodGet, "/api/profiles/me", "", nil, &p); err != nil {
		return models.Profile{}, fmt.Errorf("own profile: %w", err)
	}
	return p, nil
}

// Close stops the cache sweeper.
func (c *ProfileClient) Close() {
	c.cache.Close()
}

func Placeholder(userID string) models.Profile {
	return models.Profile{UserID: userID, DisplayName: PlaceholderName}
}
