package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRosterService(t *testing.T, mode string, players string) *httptest.Server {
	svc := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("authorization") != "secret" {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch request.URL.Path {
		case "/mode":
			_, _ = writer.Write([]byte(mode))
		case "/players":
			_, _ = writer.Write([]byte(players))
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(svc.Close)
	return svc
}

func TestHttpAccessPolicyClient_FetchPolicy(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		wantMode Mode
	}{
		{name: "json string", mode: `"whitelist"`, wantMode: ModeWhitelist},
		{name: "bare", mode: "blacklist\n", wantMode: ModeBlacklist},
		{name: "single quoted", mode: `'whitelist'`, wantMode: ModeWhitelist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newRosterService(t, tt.mode, `["steve","alex"]`)
			client := NewHttpAccessPolicyClient(svc.URL+"/", "secret", time.Second)

			snapshot, err := client.FetchPolicy(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, snapshot.Mode)
			assert.Equal(t, []string{"steve", "alex"}, snapshot.Roster)
		})
	}
}

func TestHttpAccessPolicyClient_Failures(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		svc := newRosterService(t, "whitelist", "[]")
		client := NewHttpAccessPolicyClient(svc.URL, "wrong", time.Second)
		_, err := client.FetchPolicy(context.Background())
		assert.True(t, errors.Is(err, ErrUnexpectedStatus), "got %v", err)
	})

	t.Run("malformed roster", func(t *testing.T) {
		svc := newRosterService(t, "whitelist", "steve,alex")
		client := NewHttpAccessPolicyClient(svc.URL, "secret", time.Second)
		_, err := client.FetchPolicy(context.Background())
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		svc := newRosterService(t, "whitelist", "[]")
		url := svc.URL
		svc.Close()
		client := NewHttpAccessPolicyClient(url, "secret", time.Second)
		_, err := client.FetchPolicy(context.Background())
		assert.Error(t, err)
	})
}

func TestParseRosterFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *AccessPolicySnapshot
	}{
		{
			name:    "json",
			content: `{"mode":"blacklist","players":["griefer"]}`,
			want:    &AccessPolicySnapshot{Mode: ModeBlacklist, Roster: []string{"griefer"}},
		},
		{
			name:    "plain lines",
			content: "# who may join\nwhitelist\nsteve\n\nalex\n",
			want:    &AccessPolicySnapshot{Mode: ModeWhitelist, Roster: []string{"steve", "alex"}},
		},
		{
			name:    "plain commas",
			content: "Blacklist, griefer, troll\r\n",
			want:    &AccessPolicySnapshot{Mode: ModeBlacklist, Roster: []string{"griefer", "troll"}},
		},
		{
			name:    "empty",
			content: "",
			want:    &AccessPolicySnapshot{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fileName := filepath.Join(t.TempDir(), "roster")
			require.NoError(t, os.WriteFile(fileName, []byte(tt.content), 0644))

			got, err := NewFileAccessPolicyClient(fileName).FetchPolicy(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRosterFile_Errors(t *testing.T) {
	_, err := ParseRosterFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	fileName := filepath.Join(t.TempDir(), "roster.json")
	require.NoError(t, os.WriteFile(fileName, []byte(`{"mode":`), 0644))
	_, err = ParseRosterFile(fileName)
	assert.Error(t, err)
}

type fakeResolver struct {
	names map[uuid.UUID]string
}

func (r fakeResolver) UsernameForUuid(_ context.Context, id uuid.UUID) (string, error) {
	if name, ok := r.names[id]; ok {
		return name, nil
	}
	return "", errors.New("unknown profile")
}

func TestRosterResolvingPolicy(t *testing.T) {
	known := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")

	policy := NewRosterResolvingPolicy(
		staticPolicy{snapshot: &AccessPolicySnapshot{
			Mode:   ModeWhitelist,
			Roster: []string{"069a79f444e94726a5befca90e38aaf5", "alex"},
		}},
		fakeResolver{names: map[uuid.UUID]string{known: "Notch"}},
	)

	snapshot, err := policy.FetchPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeWhitelist, snapshot.Mode)
	assert.Equal(t, []string{"Notch", "alex"}, snapshot.Roster)

	failing := NewRosterResolvingPolicy(staticPolicy{err: errors.New("down")}, fakeResolver{})
	_, err = failing.FetchPolicy(context.Background())
	assert.Error(t, err)
}

func TestRosterResolvingPolicy_UnresolvedEntryFailsFetch(t *testing.T) {
	for _, mode := range []Mode{ModeBlacklist, ModeWhitelist} {
		t.Run(string(mode), func(t *testing.T) {
			policy := NewRosterResolvingPolicy(
				staticPolicy{snapshot: &AccessPolicySnapshot{
					Mode:   mode,
					Roster: []string{"alex", "853c80ef-3c37-49fd-aa49-938b674adae6"},
				}},
				fakeResolver{},
			)

			snapshot, err := policy.FetchPolicy(context.Background())
			assert.Error(t, err)
			assert.Nil(t, snapshot)
		})
	}
}
