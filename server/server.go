package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultBind = ":25565"

// ConfigError indicates the server could not be created from the given configuration
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// BindError indicates the listener for client connections could not be started
type BindError struct {
	Err error
}

func (e *BindError) Error() string {
	return "could not start listening: " + e.Err.Error()
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

type Server struct {
	ctx              context.Context
	config           *Config
	connector        *Connector
	seats            *HttpSeatCoordinator
	backend          *BackendTarget
	configLoader     *ProxyConfigLoader
	presence         *RedisPresence
	cpuProfileFile   *os.File
	reloadConfigChan chan struct{}
}

// ResolveAddresses fills the bind, backend and API addresses that were not given directly
// from the proxy config file, if one is configured.
func ResolveAddresses(config *Config) error {
	if config.ProxyConfigPath != "" {
		proxyConfig, err := ReadProxyConfig(config.ProxyConfigPath)
		if err != nil {
			return err
		}
		if config.Bind == "" && proxyConfig.Proxy.Bind.IsSet() {
			config.Bind = proxyConfig.Proxy.Bind.HostPort()
		}
		if config.Backend == "" && proxyConfig.Proxy.ProxyTo.IsSet() {
			config.Backend = proxyConfig.Proxy.ProxyTo.HostPort()
		}
		if config.ApiBinding == "" && proxyConfig.Api.Bind.IsSet() {
			config.ApiBinding = proxyConfig.Api.Bind.HostPort()
		}
	}

	if config.Bind == "" {
		config.Bind = defaultBind
	}
	return nil
}

func validateConfig(config *Config) error {
	var missing []string
	if config.Backend == "" {
		missing = append(missing, "backend")
	}
	if config.PlayerApiUrl == "" {
		missing = append(missing, "player-api-url")
	}
	if config.RosterApiUrl == "" && config.RosterFile == "" {
		missing = append(missing, "roster-api-url or roster-file")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if _, _, err := net.SplitHostPort(config.Backend); err != nil {
		return fmt.Errorf("backend must be host:port: %w", err)
	}
	return nil
}

func NewServer(ctx context.Context, config *Config) (*Server, error) {
	if err := ResolveAddresses(config); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if err := validateConfig(config); err != nil {
		return nil, &ConfigError{Err: err}
	}

	var cpuProfileFile *os.File
	if config.CpuProfile != "" {
		var err error
		cpuProfileFile, err = os.Create(config.CpuProfile)
		if err != nil {
			return nil, fmt.Errorf("could not create cpu profile file: %w", err)
		}

		logrus.WithField("file", config.CpuProfile).Info("Starting cpu profiling")
		err = pprof.StartCPUProfile(cpuProfileFile)
		if err != nil {
			_ = cpuProfileFile.Close()
			return nil, fmt.Errorf("could not start cpu profile: %w", err)
		}
	}

	metricsBuilder := NewMetricsBuilder(config.MetricsBackend, &config.MetricsBackendConfig)

	var policy AccessPolicyClient
	if config.RosterFile != "" {
		logrus.WithField("file", config.RosterFile).Info("Using roster file for access control")
		policy = NewFileAccessPolicyClient(config.RosterFile)
	} else {
		logrus.WithField("url", config.RosterApiUrl).Info("Using access control API")
		policy = NewHttpAccessPolicyClient(config.RosterApiUrl, config.ApiAuthKey, config.ApiTimeout)
	}
	if config.ResolveRosterUuids {
		policy = NewRosterResolvingPolicy(policy,
			NewMojangProfileResolver(MojangSessionServerUrl, config.ApiTimeout, defaultProfileCacheTtl))
	}

	seats := NewHttpSeatCoordinator(config.PlayerApiUrl, config.ApiAuthKey, config.ApiTimeout)
	backend := NewBackendTarget(config.Backend)

	var configLoader *ProxyConfigLoader
	if config.ProxyConfigPath != "" {
		configLoader = NewProxyConfigLoader(config.ProxyConfigPath, backend)
		if config.ProxyConfigWatch {
			if err := configLoader.WatchForChanges(ctx); err != nil {
				return nil, configErrorf("could not watch for changes to proxy config file: %w", err)
			}
		}
	}

	if config.ConnectionRateLimit < 1 {
		config.ConnectionRateLimit = 1
	}

	connector := NewConnector(ctx,
		metricsBuilder.BuildConnectorMetrics(),
		backend,
		policy,
		seats,
		ConnectorTimings{
			SeatSwapDelay:      config.SeatSwapDelay,
			BackendDialTimeout: config.BackendDialTimeout,
			LoginTimeout:       config.LoginTimeout,
			ApiTimeout:         config.ApiTimeout,
			ShutdownTimeout:    config.ShutdownTimeout,
		})
	connector.UseSendProxyProto(config.UseProxyProtocol)
	connector.UseMaxConnections(config.MaxConnections)

	clientFilter, err := NewClientFilter(config.ClientsToAllow, config.ClientsToDeny)
	if err != nil {
		return nil, configErrorf("could not create client filter: %w", err)
	}
	connector.UseClientFilter(clientFilter)

	if config.StatsApiUrl != "" {
		logrus.WithField("url", config.StatsApiUrl).
			Info("Using stats API for connection events")
		connector.UseConnectionNotifier(
			NewStatsNotifier(config.StatsApiUrl, config.ApiAuthKey, config.ApiTimeout))
	}

	if config.Ngrok.Token != "" {
		connector.UseNgrok(config.Ngrok)
	}

	if config.ReceiveProxyProtocol {
		trustedIpNets := make([]*net.IPNet, 0)
		for _, ip := range config.TrustedProxies {
			_, ipNet, err := net.ParseCIDR(ip)
			if err != nil {
				return nil, configErrorf("could not parse trusted proxy CIDR block: %w", err)
			}
			trustedIpNets = append(trustedIpNets, ipNet)
		}

		connector.UseReceiveProxyProto(trustedIpNets)
	}

	var presence *RedisPresence
	if config.Redis.Addr != "" {
		presence, err = NewRedisPresence(ctx, config.Redis)
		if err != nil {
			return nil, fmt.Errorf("could not start redis presence mirror: %w", err)
		}
		connector.Players().AddObserver(presence)
	}

	err = metricsBuilder.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not start metrics reporter: %w", err)
	}

	if config.ApiBinding != "" {
		StartApiServer(ctx, config.ApiBinding,
			NewApiRoutes(connector, strings.EqualFold(config.MetricsBackend, MetricsBackendPrometheus)))
	}

	return &Server{
		ctx:              ctx,
		config:           config,
		connector:        connector,
		seats:            seats,
		backend:          backend,
		configLoader:     configLoader,
		presence:         presence,
		cpuProfileFile:   cpuProfileFile,
		reloadConfigChan: make(chan struct{}),
	}, nil
}

// ReloadConfig indicates that an external request, such as a SIGHUP,
// is requesting the proxy config file to be reloaded, if enabled
func (s *Server) ReloadConfig() {
	select {
	case s.reloadConfigChan <- struct{}{}:
	case <-s.ctx.Done():
	}
}

// AcceptConnection provides a way to externally supply a connection to consume
// Note that this will skip rate limiting.
func (s *Server) AcceptConnection(conn net.Conn) {
	s.connector.AcceptConnection(conn)
}

// Run will run the server until the context is done or a fatal error occurs.
// A BindError is returned if client connections could not be accepted.
func (s *Server) Run() error {
	defer s.stopProfiling()
	if s.presence != nil {
		//goland:noinspection GoUnhandledErrorResult
		defer s.presence.Close()
	}

	s.prepareSeats()
	s.learnBackendMotd()

	err := s.connector.StartAcceptingConnections(s.config.Bind, s.config.ConnectionRateLimit)
	if err != nil {
		return &BindError{Err: err}
	}

	for {
		select {
		case <-s.reloadConfigChan:
			if s.configLoader == nil {
				logrus.Debug("No proxy config file to reload")
				continue
			}
			if err := s.configLoader.Reload(); err != nil {
				logrus.WithError(err).
					Error("Could not re-read the proxy config file")
			}

		case <-s.ctx.Done():
			logrus.Info("Server Stopping. Waiting for connections to complete...")
			s.connector.WaitForConnections()
			logrus.Info("Stopped")
			return nil
		}
	}
}

func (s *Server) prepareSeats() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.ApiTimeout)
	defer cancel()
	if err := s.seats.JoinAll(ctx); err != nil {
		logrus.WithError(err).Warn("Could not ask the player API to join all seats")
	}
}

func (s *Server) learnBackendMotd() {
	motd, err := FetchBackendMotd(s.ctx, s.backend.Backend(), s.config.BackendDialTimeout)
	if err != nil {
		logrus.WithError(err).
			WithField("backend", s.backend.Backend()).
			Warn("Could not fetch backend status")
		return
	}
	s.connector.UseBackendMotd(motd)
}

func (s *Server) stopProfiling() {
	if s.cpuProfileFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuProfileFile.Close()
	}
}
