package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notchUuid = "069a79f4-44e9-4726-a5be-fca90e38aaf5"

func newMojangApi(t *testing.T, lookups *int32) *httptest.Server {
	svc := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		atomic.AddInt32(lookups, 1)
		switch request.URL.Path {
		case "/session/minecraft/profile/069a79f444e94726a5befca90e38aaf5":
			_, _ = writer.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`))
		default:
			writer.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(svc.Close)
	return svc
}

func TestMojangProfileResolver_UsernameForUuid(t *testing.T) {
	var lookups int32
	svc := newMojangApi(t, &lookups)
	resolver := NewMojangProfileResolver(svc.URL, time.Second, time.Minute)

	name, err := resolver.UsernameForUuid(context.Background(), uuid.MustParse(notchUuid))
	require.NoError(t, err)
	assert.Equal(t, "Notch", name)

	name, err = resolver.UsernameForUuid(context.Background(), uuid.MustParse(notchUuid))
	require.NoError(t, err)
	assert.Equal(t, "Notch", name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&lookups), "second lookup is served from the cache")

	_, err = resolver.UsernameForUuid(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestMojangProfileResolver_CacheExpires(t *testing.T) {
	var lookups int32
	svc := newMojangApi(t, &lookups)
	resolver := NewMojangProfileResolver(svc.URL, time.Second, 0)

	for i := 0; i < 2; i++ {
		_, err := resolver.UsernameForUuid(context.Background(), uuid.MustParse(notchUuid))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&lookups))
}

func TestParsePlayerUuid(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{input: notchUuid, ok: true},
		{input: "069a79f444e94726a5befca90e38aaf5", ok: true},
		{input: "steve", ok: false},
		{input: "{069a79f4-44e9-4726-a5be-fca90e38aaf5}", ok: false},
		{input: "urn:uuid:069a79f4-44e9-4726-a5be-fca90e38aaf5", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, ok := parsePlayerUuid(tt.input)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, notchUuid, id.String())
				assert.Equal(t, "069a79f444e94726a5befca90e38aaf5", undashed(id))
			}
		})
	}
}
