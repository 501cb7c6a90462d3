package server

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AccessPolicyClient provides the mode and roster that decide who may join
type AccessPolicyClient interface {
	FetchPolicy(ctx context.Context) (*AccessPolicySnapshot, error)
}

// HttpAccessPolicyClient reads the mode and roster from the access control API
type HttpAccessPolicyClient struct {
	api *apiClient
}

func NewHttpAccessPolicyClient(baseUrl string, authKey string, timeout time.Duration) *HttpAccessPolicyClient {
	return &HttpAccessPolicyClient{
		api: newApiClient(baseUrl, authKey, timeout),
	}
}

func (c *HttpAccessPolicyClient) FetchPolicy(ctx context.Context) (*AccessPolicySnapshot, error) {
	mode, err := c.fetchMode(ctx)
	if err != nil {
		return nil, err
	}
	roster, err := c.fetchRoster(ctx)
	if err != nil {
		return nil, err
	}
	return &AccessPolicySnapshot{Mode: mode, Roster: roster}, nil
}

func (c *HttpAccessPolicyClient) fetchMode(ctx context.Context) (Mode, error) {
	content, err := c.api.get(ctx, "/mode")
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch proxy mode")
	}
	// The mode comes back as a JSON or bare string, quotes are not significant
	mode := strings.TrimSpace(string(content))
	mode = strings.NewReplacer(`"`, "", "'", "").Replace(mode)
	return Mode(mode), nil
}

func (c *HttpAccessPolicyClient) fetchRoster(ctx context.Context) ([]string, error) {
	content, err := c.api.get(ctx, "/players")
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch roster")
	}
	var roster []string
	if err := json.Unmarshal(content, &roster); err != nil {
		return nil, errors.Wrap(err, "failed to parse roster")
	}
	return roster, nil
}

// FileAccessPolicyClient reads the mode and roster from a local file on every fetch,
// so edits apply to the next connection. See ParseRosterFile for the accepted formats.
type FileAccessPolicyClient struct {
	path string
}

func NewFileAccessPolicyClient(path string) *FileAccessPolicyClient {
	return &FileAccessPolicyClient{path: path}
}

func (c *FileAccessPolicyClient) FetchPolicy(_ context.Context) (*AccessPolicySnapshot, error) {
	return ParseRosterFile(c.path)
}

// ParseRosterFile accepts either a JSON object with mode and players or plain text
// whose first entry is the mode followed by the roster entries.
func ParseRosterFile(path string) (*AccessPolicySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read roster file")
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return parseRosterText(string(data)), nil
	}

	snapshot := &AccessPolicySnapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, errors.Wrap(err, "could not parse roster file")
	}
	return snapshot, nil
}

// rosterResolvingPolicy replaces roster entries that are player UUIDs with the player's name.
// The fetch fails when any of them cannot be resolved.
type rosterResolvingPolicy struct {
	delegate AccessPolicyClient
	resolver ProfileResolver
}

func NewRosterResolvingPolicy(delegate AccessPolicyClient, resolver ProfileResolver) AccessPolicyClient {
	return &rosterResolvingPolicy{
		delegate: delegate,
		resolver: resolver,
	}
}

func (p *rosterResolvingPolicy) FetchPolicy(ctx context.Context) (*AccessPolicySnapshot, error) {
	snapshot, err := p.delegate.FetchPolicy(ctx)
	if err != nil {
		return nil, err
	}

	resolved := make([]string, 0, len(snapshot.Roster))
	for _, entry := range snapshot.Roster {
		id, ok := parsePlayerUuid(entry)
		if !ok {
			resolved = append(resolved, entry)
			continue
		}
		name, err := p.resolver.UsernameForUuid(ctx, id)
		if err != nil {
			// an unresolved entry matches no username, so it must not silently drop out of the roster
			return nil, errors.Wrapf(err, "could not resolve roster entry %s", entry)
		}
		resolved = append(resolved, name)
	}

	return &AccessPolicySnapshot{Mode: snapshot.Mode, Roster: resolved}, nil
}
