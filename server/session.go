package server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/itzg/mc-seat-proxy/mcproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Phase int

const (
	PhaseLogin Phase = iota
	PhaseDeciding
	PhaseRelaying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseLogin:
		return "login"
	case PhaseDeciding:
		return "deciding"
	case PhaseRelaying:
		return "relaying"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type closeReason string

const (
	closePeer         closeReason = "peer_closed"
	closeIoFault      closeReason = "io_fault"
	closeRejected     closeReason = "rejected"
	closePolicyFault  closeReason = "policy_fault"
	closeSeatFault    closeReason = "seat_fault"
	closeLoginTimeout closeReason = "login_timeout"
	closeCancelled    closeReason = "cancelled"
)

type sessionResult struct {
	reason closeReason
	err    error
}

type policyResult struct {
	snapshot *AccessPolicySnapshot
	err      error
}

// session drives one client connection and its backend connection from login through relay to cleanup
type session struct {
	connector   *Connector
	id          string
	clientConn  net.Conn
	backendConn net.Conn
	clientAddr  string

	ctx    context.Context
	cancel context.CancelFunc

	policy chan policyResult

	mu              sync.Mutex
	username        string
	phase           Phase
	decisionMade    bool
	seatSwapPending bool
	relaying        bool

	cleanupOnce sync.Once
}

func newSession(ctx context.Context, connector *Connector, id string, clientConn, backendConn net.Conn) *session {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &session{
		connector:   connector,
		id:          id,
		clientConn:  clientConn,
		backendConn: backendConn,
		clientAddr:  clientConn.RemoteAddr().String(),
		ctx:         sessionCtx,
		cancel:      cancel,
		policy:      make(chan policyResult, 1),
		phase:       PhaseLogin,
	}
}

func (s *session) logger() *logrus.Entry {
	entry := logrus.WithField("client", s.clientAddr)
	if username := s.getUsername(); username != "" {
		entry = entry.WithField("player", username)
	}
	return entry
}

// run blocks until the session is over and cleaned up
func (s *session) run() {
	// the policy is fetched once per connection, it is only awaited when a decision is due
	go s.fetchPolicy()

	if timeout := s.connector.loginTimeout; timeout > 0 {
		if err := s.clientConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			s.logger().WithError(err).Error("Failed to set login deadline")
			s.connector.metrics.Errors.With("type", "read_deadline").Add(1)
		}
	}

	results := make(chan sessionResult, 2)
	go func() {
		results <- s.pumpClient()
	}()
	go func() {
		results <- s.pumpBackend()
	}()

	var result sessionResult
	pending := 2
	select {
	case result = <-results:
		pending--
	case <-s.ctx.Done():
		result = sessionResult{reason: closeCancelled}
	}

	s.shutdown()
	for ; pending > 0; pending-- {
		<-results
	}

	s.cleanup(result)
}

func (s *session) fetchPolicy() {
	snapshot, err := s.connector.policy.FetchPolicy(s.ctx)
	s.policy <- policyResult{snapshot: snapshot, err: err}
}

func (s *session) awaitPolicy() (*AccessPolicySnapshot, error) {
	select {
	case result := <-s.policy:
		return result.snapshot, result.err
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// pumpClient relays client to backend, inspecting chunks until the access decision is made
func (s *session) pumpClient() sessionResult {
	buf := make([]byte, mcproto.MaxChunkSize)
	for {
		n, err := s.clientConn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if s.getPhase() == PhaseLogin {
				if result := s.inspect(chunk); result != nil {
					return *result
				}
			}

			if _, err := s.backendConn.Write(chunk); err != nil {
				return s.writeResult(err, "backend")
			}
			s.connector.metrics.BytesTransmitted.With("direction", "upstream").Add(float64(n))
		}
		if err != nil {
			return s.readResult(err, "client")
		}
	}
}

// pumpBackend relays backend to client without any inspection beyond the inert status check
func (s *session) pumpBackend() sessionResult {
	buf := make([]byte, mcproto.MaxChunkSize)
	motd := s.connector.getBackendMotd()
	for {
		n, err := s.backendConn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if motd != "" && s.getPhase() == PhaseLogin && mcproto.IsMotdPacket(chunk, motd) {
				s.logger().Debug("Relaying backend status response")
				s.connector.metrics.StatusResponses.Add(1)
			}

			if _, err := s.clientConn.Write(chunk); err != nil {
				return s.writeResult(err, "client")
			}
			s.connector.metrics.BytesTransmitted.With("direction", "downstream").Add(float64(n))
		}
		if err != nil {
			return s.readResult(err, "backend")
		}
	}
}

// inspect looks at a login phase chunk. A non-nil result ends the session without
// forwarding the chunk.
func (s *session) inspect(chunk []byte) *sessionResult {
	username := s.getUsername()

	if username != "" && mcproto.IsEncryptionResponse(chunk) {
		s.setPhase(PhaseDeciding)
		return s.decide(username)
	}

	if username == "" {
		if name := mcproto.DecodeLoginUsername(chunk); name != "" {
			s.mu.Lock()
			s.username = name
			s.mu.Unlock()
			s.connector.connections.Update(s.clientAddr, name, PhaseLogin)
			s.logger().Info("Player is logging in")
		}
	}
	return nil
}

func (s *session) decide(username string) *sessionResult {
	s.mu.Lock()
	if s.decisionMade {
		s.mu.Unlock()
		return nil
	}
	s.decisionMade = true
	s.mu.Unlock()

	c := s.connector
	c.players.Put(s.ctx, username, s.clientAddr)
	c.connections.Update(s.clientAddr, username, PhaseDeciding)

	snapshot, err := s.awaitPolicy()
	if err != nil {
		if s.ctx.Err() != nil {
			return &sessionResult{reason: closeCancelled}
		}
		c.metrics.Errors.With("type", "policy").Add(1)
		c.metrics.Decisions.With("decision", DecisionReject.String()).Add(1)
		_ = c.notifier.NotifyDecision(s.ctx, s.clientAddr, username, DecisionReject, string(closePolicyFault))
		return &sessionResult{reason: closePolicyFault, err: err}
	}

	decision := Decide(snapshot, username)
	c.metrics.Decisions.With("decision", decision.String()).Add(1)
	s.logger().
		WithField("mode", snapshot.Mode).
		WithField("decision", decision).
		Debug("Made access decision")

	if decision != DecisionAllow {
		_ = c.notifier.NotifyDecision(s.ctx, s.clientAddr, username, decision, string(closeRejected))
		return &sessionResult{reason: closeRejected}
	}

	// fill in follows every sit out attempt, successful or not
	s.mu.Lock()
	s.seatSwapPending = true
	s.mu.Unlock()
	c.metrics.SeatsVacated.Add(1)

	if err := c.seats.SitOut(s.ctx, username, s.clientAddr); err != nil {
		c.metrics.Errors.With("type", "sit_out").Add(1)
		_ = c.notifier.NotifyDecision(s.ctx, s.clientAddr, username, DecisionReject, string(closeSeatFault))
		return &sessionResult{reason: closeSeatFault, err: err}
	}

	// the freed seat has to show up on the backend before the login completes
	timer := time.NewTimer(c.seatSwapDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
		return &sessionResult{reason: closeCancelled}
	}

	if c.loginTimeout > 0 {
		if err := s.clientConn.SetReadDeadline(noDeadline); err != nil {
			c.metrics.Errors.With("type", "read_deadline").Add(1)
			return &sessionResult{reason: closeIoFault, err: errors.Wrap(err, "failed to clear login deadline")}
		}
	}

	s.mu.Lock()
	s.phase = PhaseRelaying
	s.relaying = true
	s.mu.Unlock()
	c.connections.Update(s.clientAddr, username, PhaseRelaying)
	c.metrics.ActivePlayers.Add(1)
	_ = c.notifier.NotifyDecision(s.ctx, s.clientAddr, username, DecisionAllow, "")

	s.logger().Info("Player allowed")
	return nil
}

func (s *session) readResult(err error, side string) sessionResult {
	if errors.Is(err, io.EOF) {
		return sessionResult{reason: closePeer}
	}
	if s.ctx.Err() != nil {
		return sessionResult{reason: closeCancelled}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return sessionResult{reason: closeLoginTimeout, err: err}
	}
	return sessionResult{reason: closeIoFault, err: errors.Wrapf(err, "reading from %s", side)}
}

func (s *session) writeResult(err error, side string) sessionResult {
	if s.ctx.Err() != nil {
		return sessionResult{reason: closeCancelled}
	}
	return sessionResult{reason: closeIoFault, err: errors.Wrapf(err, "writing to %s", side)}
}

// shutdown unblocks both pumps. It may be called any number of times.
func (s *session) shutdown() {
	s.cancel()
	// either socket may already be closed by its peer
	_ = s.clientConn.Close()
	_ = s.backendConn.Close()
}

// cleanup releases the seat and registry entries held by the session. Only the first call has any effect.
func (s *session) cleanup(result sessionResult) {
	s.cleanupOnce.Do(func() {
		s.shutdown()

		s.mu.Lock()
		s.phase = PhaseClosed
		username := s.username
		seatSwapPending := s.seatSwapPending
		relaying := s.relaying
		s.mu.Unlock()

		c := s.connector
		logger := s.logger().WithField("reason", result.reason)

		if seatSwapPending {
			// the session context is gone by now, the fill in gets its own
			ctx, cancel := context.WithTimeout(context.Background(), c.apiTimeout)
			if err := c.seats.FillIn(ctx, username, s.clientAddr); err != nil {
				logger.WithError(err).Error("Failed to fill in seat")
				c.metrics.Errors.With("type", "fill_in").Add(1)
			}
			cancel()
			c.metrics.SeatsVacated.Add(-1)
		}
		if relaying {
			c.metrics.ActivePlayers.Add(-1)
		}

		if username != "" {
			c.players.Remove(context.Background(), username, s.clientAddr)
		}
		c.connections.Remove(s.clientAddr, s.id)

		_ = c.notifier.NotifyDisconnected(context.Background(), s.clientAddr, username, string(result.reason))

		switch result.reason {
		case closePeer, closeCancelled:
			logger.Debug("Connection closed")
		case closeRejected:
			logger.Info("Player rejected")
		case closeLoginTimeout:
			logger.Info("Login did not complete in time")
			c.metrics.Errors.With("type", "login_timeout").Add(1)
		case closeIoFault:
			logger.WithError(result.err).Warn("Error observed on connection relay")
			c.metrics.Errors.With("type", "relay").Add(1)
		default:
			logger.WithError(result.err).Warn("Connection closed after failed access decision")
		}
	})
}

func (s *session) getUsername() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *session) getPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *session) setPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}
