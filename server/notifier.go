package server

import (
	"context"
)

type ConnectionNotifier interface {
	// NotifyConnected is called once the backend connection for a client succeeded.
	NotifyConnected(ctx context.Context, clientAddr string) error

	// NotifyDecision is called after the access decision for a player was made.
	NotifyDecision(ctx context.Context, clientAddr string, player string, decision Decision, reason string) error

	// NotifyDisconnected is called after a connection was cleaned up.
	NotifyDisconnected(ctx context.Context, clientAddr string, player string, reason string) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyConnected(context.Context, string) error { return nil }

func (noopNotifier) NotifyDecision(context.Context, string, string, Decision, string) error {
	return nil
}

func (noopNotifier) NotifyDisconnected(context.Context, string, string, string) error { return nil }
