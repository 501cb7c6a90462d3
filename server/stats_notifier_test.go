package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsNotifier(t *testing.T) {
	api, svc := newPlayerApi(t, http.StatusAccepted)
	notifier := NewStatsNotifier(svc.URL, "secret", time.Second)
	ctx := context.Background()

	require.NoError(t, notifier.NotifyConnected(ctx, "10.0.0.1:1000"))
	require.NoError(t, notifier.NotifyDecision(ctx, "10.0.0.1:1000", "Steve", DecisionAllow, ""))
	require.NoError(t, notifier.NotifyDecision(ctx, "10.0.0.2:2000", "Alex", DecisionReject, "rejected"))
	require.NoError(t, notifier.NotifyDisconnected(ctx, "10.0.0.1:1000", "Steve", "peer_closed"))

	// events are delivered in the background and may arrive in any order
	require.Eventually(t, func() bool {
		return len(api.recorded()) == 4
	}, 3*time.Second, 10*time.Millisecond)

	events := make(map[string]StatsEventPayload)
	for _, request := range api.recorded() {
		assert.Equal(t, "/events", request.path)
		assert.Equal(t, "secret", request.auth)
		var payload StatsEventPayload
		require.NoError(t, json.Unmarshal([]byte(request.body), &payload))
		events[payload.Event] = payload
	}

	assert.Equal(t, "10.0.0.1:1000", events[StatsEventConnect].Client)
	assert.Empty(t, events[StatsEventConnect].Player)
	assert.Equal(t, "Steve", events[StatsEventAllow].Player)
	assert.Equal(t, "Alex", events[StatsEventReject].Player)
	assert.Equal(t, "rejected", events[StatsEventReject].Reason)
	assert.Equal(t, "peer_closed", events[StatsEventDisconnect].Reason)
}
