package server

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const MojangSessionServerUrl = "https://sessionserver.mojang.com"

// the session server rate limits profile lookups
const defaultProfileCacheTtl = time.Hour

// ProfileResolver looks up the current username of a player UUID
type ProfileResolver interface {
	UsernameForUuid(ctx context.Context, id uuid.UUID) (string, error)
}

type mojangProfile struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type cachedName struct {
	name    string
	expires time.Time
}

// MojangProfileResolver looks up profiles with Mojang's session server and caches the results
type MojangProfileResolver struct {
	sessionServer *apiClient

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedName
	ttl   time.Duration
}

func NewMojangProfileResolver(sessionServerUrl string, timeout time.Duration, ttl time.Duration) *MojangProfileResolver {
	return &MojangProfileResolver{
		sessionServer: newApiClient(sessionServerUrl, "", timeout),
		cache:         make(map[uuid.UUID]cachedName),
		ttl:           ttl,
	}
}

func (r *MojangProfileResolver) UsernameForUuid(ctx context.Context, id uuid.UUID) (string, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.name, nil
	}

	content, err := r.sessionServer.get(ctx, "/session/minecraft/profile/"+url.PathEscape(undashed(id)))
	if err != nil {
		return "", errors.Wrap(err, "failed to look up profile")
	}
	var profile mojangProfile
	if err := json.Unmarshal(content, &profile); err != nil {
		return "", errors.Wrap(err, "failed to parse profile")
	}
	if profile.Name == "" {
		return "", errors.Errorf("profile %s has no name", id)
	}

	r.mu.Lock()
	r.cache[id] = cachedName{name: profile.Name, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	logrus.
		WithField("uuid", id).
		WithField("player", profile.Name).
		Debug("Resolved player profile")
	return profile.Name, nil
}

func undashed(id uuid.UUID) string {
	s := id.String()
	return s[0:8] + s[9:13] + s[14:18] + s[19:23] + s[24:]
}

// parsePlayerUuid accepts the dashed and undashed forms Mojang uses
func parsePlayerUuid(s string) (uuid.UUID, bool) {
	if len(s) != 32 && len(s) != 36 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
