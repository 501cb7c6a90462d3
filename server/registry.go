package server

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectionInfo is a point-in-time view of one registered connection
type ConnectionInfo struct {
	Address   string    `json:"address"`
	Player    string    `json:"player,omitempty"`
	Phase     string    `json:"phase"`
	SessionID string    `json:"sessionId"`
	Opened    time.Time `json:"opened"`
}

type connectionEntry struct {
	conn      net.Conn
	cancel    context.CancelFunc
	sessionID string
	player    string
	phase     Phase
	opened    time.Time
}

// ConnectionRegistry tracks every accepted client connection by its remote address
type ConnectionRegistry struct {
	sync.RWMutex
	entries map[string]*connectionEntry
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		entries: make(map[string]*connectionEntry),
	}
}

func (r *ConnectionRegistry) Add(address string, conn net.Conn, cancel context.CancelFunc, sessionID string) {
	r.Lock()
	defer r.Unlock()

	r.entries[address] = &connectionEntry{
		conn:      conn,
		cancel:    cancel,
		sessionID: sessionID,
		phase:     PhaseLogin,
		opened:    time.Now(),
	}
}

// Update records progress of the connection registered at address, if any
func (r *ConnectionRegistry) Update(address string, player string, phase Phase) {
	r.Lock()
	defer r.Unlock()

	if entry, ok := r.entries[address]; ok {
		entry.player = player
		entry.phase = phase
	}
}

// Remove deletes the entry for address if it still belongs to sessionID.
// Removing an absent entry is not an error.
func (r *ConnectionRegistry) Remove(address string, sessionID string) bool {
	r.Lock()
	defer r.Unlock()

	if entry, ok := r.entries[address]; ok && entry.sessionID == sessionID {
		delete(r.entries, address)
		return true
	}
	return false
}

func (r *ConnectionRegistry) Contains(address string) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.entries[address]
	return ok
}

// Close cancels the session of the connection at address, which closes its sockets
func (r *ConnectionRegistry) Close(address string) bool {
	r.RLock()
	entry, ok := r.entries[address]
	r.RUnlock()

	if !ok {
		return false
	}
	logrus.
		WithField("client", address).
		WithField("player", entry.player).
		Info("Closing connection on request")
	entry.cancel()
	return true
}

func (r *ConnectionRegistry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.entries)
}

func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.RLock()
	defer r.RUnlock()

	result := make([]ConnectionInfo, 0, len(r.entries))
	for address, entry := range r.entries {
		result = append(result, ConnectionInfo{
			Address:   address,
			Player:    entry.player,
			Phase:     entry.phase.String(),
			SessionID: entry.sessionID,
			Opened:    entry.opened,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Opened.Before(result[j].Opened)
	})
	return result
}

// PresenceObserver is told about players entering and leaving the PlayerRegistry
type PresenceObserver interface {
	PlayerJoined(ctx context.Context, username string, address string) error
	PlayerLeft(ctx context.Context, username string) error
}

// PlayerRegistry maps usernames to the address of the connection that logged in with them
type PlayerRegistry struct {
	sync.RWMutex
	players   map[string]string
	observers []PresenceObserver
}

func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{
		players: make(map[string]string),
	}
}

func (r *PlayerRegistry) AddObserver(observer PresenceObserver) {
	r.Lock()
	defer r.Unlock()
	r.observers = append(r.observers, observer)
}

func (r *PlayerRegistry) Put(ctx context.Context, username string, address string) {
	r.Lock()
	if previous, exists := r.players[username]; exists && previous != address {
		logrus.
			WithField("player", username).
			WithField("previous", previous).
			WithField("client", address).
			Warn("Player is already connected from another address")
	}
	r.players[username] = address
	observers := r.observers
	r.Unlock()

	for _, observer := range observers {
		if err := observer.PlayerJoined(ctx, username, address); err != nil {
			logrus.WithError(err).WithField("player", username).Warn("Presence observer failed")
		}
	}
}

func (r *PlayerRegistry) Lookup(username string) (string, bool) {
	r.RLock()
	defer r.RUnlock()
	address, ok := r.players[username]
	return address, ok
}

// Remove deletes username only while it still maps to address, so an older connection
// for the same player cannot evict a newer one.
func (r *PlayerRegistry) Remove(ctx context.Context, username string, address string) bool {
	r.Lock()
	current, ok := r.players[username]
	if !ok || current != address {
		r.Unlock()
		return false
	}
	delete(r.players, username)
	observers := r.observers
	r.Unlock()

	for _, observer := range observers {
		if err := observer.PlayerLeft(ctx, username); err != nil {
			logrus.WithError(err).WithField("player", username).Warn("Presence observer failed")
		}
	}
	return true
}

func (r *PlayerRegistry) Snapshot() map[string]string {
	r.RLock()
	defer r.RUnlock()

	result := make(map[string]string, len(r.players))
	for k, v := range r.players {
		result[k] = v
	}
	return result
}
