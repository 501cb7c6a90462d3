package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StatsNotifier implements ConnectionNotifier by posting events to the stats API.
// The payload is a JSON object defined by StatsEventPayload.
type StatsNotifier struct {
	api     *apiClient
	timeout time.Duration
}

const (
	StatsEventConnect    = "connect"
	StatsEventAllow      = "allow"
	StatsEventReject     = "reject"
	StatsEventDisconnect = "disconnect"
)

type StatsEventPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Client    string    `json:"client"`
	Player    string    `json:"player,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

func NewStatsNotifier(baseUrl string, authKey string, timeout time.Duration) *StatsNotifier {
	return &StatsNotifier{
		api:     newApiClient(baseUrl, authKey, timeout),
		timeout: timeout,
	}
}

func (s *StatsNotifier) NotifyConnected(_ context.Context, clientAddr string) error {
	return s.send(&StatsEventPayload{
		Event:     StatsEventConnect,
		Timestamp: time.Now(),
		Client:    clientAddr,
	})
}

func (s *StatsNotifier) NotifyDecision(_ context.Context, clientAddr string, player string, decision Decision, reason string) error {
	event := StatsEventReject
	if decision == DecisionAllow {
		event = StatsEventAllow
	}
	return s.send(&StatsEventPayload{
		Event:     event,
		Timestamp: time.Now(),
		Client:    clientAddr,
		Player:    player,
		Reason:    reason,
	})
}

func (s *StatsNotifier) NotifyDisconnected(_ context.Context, clientAddr string, player string, reason string) error {
	return s.send(&StatsEventPayload{
		Event:     StatsEventDisconnect,
		Timestamp: time.Now(),
		Client:    clientAddr,
		Player:    player,
		Reason:    reason,
	})
}

// send delivers the event in the background. The connection's context is not used
// as events are often sent while it is being torn down.
func (s *StatsNotifier) send(payload *StatsEventPayload) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if _, err := s.api.postJSON(ctx, "/events", payload); err != nil {
			logrus.
				WithError(err).
				WithField("event", payload.Event).
				Warn("Failed to send stats event")
		}
	}()

	return nil
}
