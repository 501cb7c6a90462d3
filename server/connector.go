package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/semaphore"
)

var noDeadline time.Time

// BackendResolver provides the host:port new connections are relayed to
type BackendResolver interface {
	Backend() string
}

// ConnectorTimings collects the durations a connector applies to each connection
type ConnectorTimings struct {
	SeatSwapDelay      time.Duration
	BackendDialTimeout time.Duration
	LoginTimeout       time.Duration
	ApiTimeout         time.Duration
	ShutdownTimeout    time.Duration
}

func NewConnector(ctx context.Context, metrics *ConnectorMetrics, backend BackendResolver,
	policy AccessPolicyClient, seats SeatCoordinator, timings ConnectorTimings) *Connector {

	// sessions outlive ctx while draining, so they hang off their own context
	sessionsCtx, cancelSessions := context.WithCancel(context.Background())

	return &Connector{
		ctx:                ctx,
		sessionsCtx:        sessionsCtx,
		cancelSessions:     cancelSessions,
		metrics:            metrics,
		backend:            backend,
		policy:             policy,
		seats:              seats,
		connections:        NewConnectionRegistry(),
		players:            NewPlayerRegistry(),
		notifier:           noopNotifier{},
		clientFilter:       NewClientFilterAllowAll(),
		seatSwapDelay:      timings.SeatSwapDelay,
		backendDialTimeout: timings.BackendDialTimeout,
		loginTimeout:       timings.LoginTimeout,
		apiTimeout:         timings.ApiTimeout,
		shutdownTimeout:    timings.ShutdownTimeout,
	}
}

type Connector struct {
	ctx            context.Context
	sessionsCtx    context.Context
	cancelSessions context.CancelFunc

	metrics  *ConnectorMetrics
	backend  BackendResolver
	policy   AccessPolicyClient
	seats    SeatCoordinator
	notifier ConnectionNotifier

	connections *ConnectionRegistry
	players     *PlayerRegistry

	clientFilter *ClientFilter
	limiter      *semaphore.Weighted

	sendProxyProto    bool
	receiveProxyProto bool
	trustedProxyNets  []*net.IPNet
	ngrokToken        string
	ngrokRemoteAddr   string

	seatSwapDelay      time.Duration
	backendDialTimeout time.Duration
	loginTimeout       time.Duration
	apiTimeout         time.Duration
	shutdownTimeout    time.Duration

	motdLock    sync.RWMutex
	backendMotd string

	activeConnections sync.WaitGroup
}

func (c *Connector) UseClientFilter(filter *ClientFilter) {
	c.clientFilter = filter
}

func (c *Connector) UseConnectionNotifier(notifier ConnectionNotifier) {
	c.notifier = notifier
}

func (c *Connector) UseMaxConnections(maxConnections int) {
	if maxConnections > 0 {
		c.limiter = semaphore.NewWeighted(int64(maxConnections))
	}
}

func (c *Connector) UseSendProxyProto(enabled bool) {
	c.sendProxyProto = enabled
}

func (c *Connector) UseReceiveProxyProto(trustedProxyNets []*net.IPNet) {
	c.trustedProxyNets = trustedProxyNets
	c.receiveProxyProto = true
}

func (c *Connector) UseNgrok(ngrokConfig NgrokConfig) {
	c.ngrokToken = ngrokConfig.Token
	c.ngrokRemoteAddr = ngrokConfig.RemoteAddr
}

// UseBackendMotd sets the backend's status description that backend status responses are checked against
func (c *Connector) UseBackendMotd(motd string) {
	c.motdLock.Lock()
	defer c.motdLock.Unlock()
	c.backendMotd = motd
}

func (c *Connector) getBackendMotd() string {
	c.motdLock.RLock()
	defer c.motdLock.RUnlock()
	return c.backendMotd
}

func (c *Connector) Connections() *ConnectionRegistry {
	return c.connections
}

func (c *Connector) Players() *PlayerRegistry {
	return c.players
}

func (c *Connector) StartAcceptingConnections(listenAddress string, connRateLimit int) error {
	ln, err := c.createListener(listenAddress)
	if err != nil {
		return err
	}

	go c.acceptConnections(ln, connRateLimit)

	return nil
}

func (c *Connector) createListener(listenAddress string) (net.Listener, error) {
	if c.ngrokToken != "" {
		var opts []config.TCPEndpointOption
		if c.ngrokRemoteAddr != "" {
			opts = append(opts, config.WithRemoteAddr(c.ngrokRemoteAddr))
		}
		ngrokTun, err := ngrok.Listen(c.ctx,
			config.TCPEndpoint(opts...),
			ngrok.WithAuthtoken(c.ngrokToken),
		)
		if err != nil {
			return nil, errors.Wrap(err, "unable to start ngrok tunnel")
		}
		logrus.WithField("ngrokUrl", ngrokTun.URL()).Info("Listening for Minecraft client connections via ngrok tunnel")
		return ngrokTun, nil
	}

	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to listen on %s", listenAddress)
	}
	logrus.WithField("listenAddress", listenAddress).Info("Listening for Minecraft client connections")

	if c.receiveProxyProto {
		proxyListener := &proxyproto.Listener{
			Listener: listener,
			Policy:   c.createProxyProtoPolicy(),
		}
		logrus.Info("Using PROXY protocol listener")
		return proxyListener, nil
	}

	return listener, nil
}

func (c *Connector) createProxyProtoPolicy() func(upstream net.Addr) (proxyproto.Policy, error) {
	return func(upstream net.Addr) (proxyproto.Policy, error) {
		trustedIpNets := c.trustedProxyNets

		if len(trustedIpNets) == 0 {
			logrus.Debug("No trusted proxy networks configured, using the PROXY header by default")
			return proxyproto.USE, nil
		}

		upstreamIP := upstream.(*net.TCPAddr).IP
		for _, ipNet := range trustedIpNets {
			if ipNet.Contains(upstreamIP) {
				logrus.WithField("upstream", upstream).Debug("IP is in trusted proxies, using the PROXY header")
				return proxyproto.USE, nil
			}
		}

		logrus.WithField("upstream", upstream).Debug("IP is not in trusted proxies, discarding PROXY header")
		return proxyproto.IGNORE, nil
	}
}

func (c *Connector) acceptConnections(ln net.Listener, connRateLimit int) {
	//noinspection GoUnhandledErrorResult
	defer ln.Close()

	go func() {
		// unblocks Accept
		<-c.ctx.Done()
		_ = ln.Close()
	}()

	bucket := ratelimit.NewBucketWithRate(float64(connRateLimit), int64(connRateLimit*2))

	for {
		if c.limiter != nil {
			if err := c.limiter.Acquire(c.ctx, 1); err != nil {
				return
			}
		}

		select {
		case <-c.ctx.Done():
			c.release()
			return

		case <-time.After(bucket.Take(1)):
			c.metrics.RateLimitAvailable.Set(float64(bucket.Available()))
			conn, err := ln.Accept()
			if err != nil {
				c.release()
				if c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logrus.WithError(err).Error("Failed to accept connection")
				continue
			}

			c.activeConnections.Add(1)
			go func() {
				defer c.activeConnections.Done()
				defer c.release()
				c.HandleConnection(conn)
			}()
		}
	}
}

func (c *Connector) release() {
	if c.limiter != nil {
		c.limiter.Release(1)
	}
}

// AcceptConnection provides a way to externally supply a connection to consume.
// Note that this will skip rate limiting and the connection limit.
func (c *Connector) AcceptConnection(conn net.Conn) {
	c.activeConnections.Add(1)
	go func() {
		defer c.activeConnections.Done()
		c.HandleConnection(conn)
	}()
}

// WaitForConnections blocks until active connections finish. Connections still running after
// the shutdown timeout are cancelled.
func (c *Connector) WaitForConnections() {
	done := make(chan struct{})
	go func() {
		c.activeConnections.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(c.shutdownTimeout):
		logrus.
			WithField("remaining", c.connections.Len()).
			Warn("Shutdown timeout exceeded, closing remaining connections")
		c.cancelSessions()
		<-done
	}
}

func (c *Connector) HandleConnection(frontendConn net.Conn) {
	c.metrics.ConnectionsFrontend.Add(1)
	//noinspection GoUnhandledErrorResult
	defer frontendConn.Close()

	clientAddr := frontendConn.RemoteAddr()
	address := clientAddr.String()
	logrus.
		WithField("client", address).
		Info("Got connection")
	defer logrus.WithField("client", address).Debug("Closing frontend connection")

	if !c.clientFilter.Allow(clientAddr) {
		logrus.WithField("client", address).Debug("Client filtered")
		c.metrics.Errors.With("type", "client_filtered").Add(1)
		return
	}

	ctx, cancel := context.WithCancel(c.sessionsCtx)
	defer cancel()

	sessionID := uuid.NewString()
	c.connections.Add(address, frontendConn, cancel, sessionID)

	backendHostPort := c.backend.Backend()
	logrus.
		WithField("client", address).
		WithField("backendHostPort", backendHostPort).
		Debug("Connecting to backend")
	dialer := &net.Dialer{Timeout: c.backendDialTimeout}
	backendConn, err := dialer.DialContext(ctx, "tcp", backendHostPort)
	if err != nil {
		logrus.
			WithError(err).
			WithField("client", address).
			WithField("backend", backendHostPort).
			Warn("Unable to connect to backend")
		c.metrics.Errors.With("type", "backend_failed").Add(1)
		c.connections.Remove(address, sessionID)
		return
	}

	c.metrics.ConnectionsBackend.Add(1)
	c.metrics.ActiveConnections.Add(1)
	defer c.metrics.ActiveConnections.Add(-1)

	if c.sendProxyProto {
		if err := c.writeProxyHeader(backendConn, clientAddr, backendHostPort); err != nil {
			logrus.
				WithError(err).
				WithField("client", address).
				Error("Failed to write PROXY header")
			c.metrics.Errors.With("type", "proxy_write").Add(1)
			_ = backendConn.Close()
			c.connections.Remove(address, sessionID)
			return
		}
	}

	_ = c.notifier.NotifyConnected(ctx, address)

	newSession(ctx, c, sessionID, frontendConn, backendConn).run()
}

func (c *Connector) writeProxyHeader(backendConn net.Conn, clientAddr net.Addr, backendHostPort string) error {
	remoteHostStr, _, _ := net.SplitHostPort(backendHostPort)
	sourceAddrStr, sourcePortStr, _ := net.SplitHostPort(clientAddr.String())
	sourcePort, _ := strconv.Atoi(sourcePortStr)

	sourceIP := net.ParseIP(sourceAddrStr)
	transport := proxyproto.TCPv4
	if sourceIP != nil && sourceIP.To4() == nil {
		transport = proxyproto.TCPv6
	}

	header := &proxyproto.Header{
		Version:           2,
		Command:           proxyproto.PROXY,
		TransportProtocol: transport,
		SourceAddr: &net.TCPAddr{
			IP:   sourceIP,
			Port: sourcePort,
		},
		DestinationAddr: &net.TCPAddr{
			IP: net.ParseIP(remoteHostStr),
		},
	}

	_, err := header.WriteTo(backendConn)
	return err
}
