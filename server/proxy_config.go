package server

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const debounceConfigRereadDuration = time.Second * 5

// ProxyEndpoint is one address/port pair of the proxy config file
type ProxyEndpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (e ProxyEndpoint) IsSet() bool {
	return e.Port != 0
}

func (e ProxyEndpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// ProxyConfigSchema declares the schema of the json file that provides the proxy's addresses
type ProxyConfigSchema struct {
	Proxy struct {
		Bind    ProxyEndpoint `json:"bind"`
		ProxyTo ProxyEndpoint `json:"proxy_to"`
	} `json:"proxy"`
	Api struct {
		Bind ProxyEndpoint `json:"bind"`
	} `json:"api"`
}

func ReadProxyConfig(fileName string) (*ProxyConfigSchema, error) {
	var config ProxyConfigSchema

	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "Could not load the proxy config file")
	}

	if err := json.Unmarshal(content, &config); err != nil {
		return nil, errors.Wrap(err, "Could not parse the json proxy config file")
	}

	return &config, nil
}

// BackendTarget holds the backend address new connections are relayed to.
// Connections already relaying keep the backend they dialed.
type BackendTarget struct {
	sync.RWMutex
	hostPort string
}

func NewBackendTarget(hostPort string) *BackendTarget {
	return &BackendTarget{hostPort: hostPort}
}

func (t *BackendTarget) Backend() string {
	t.RLock()
	defer t.RUnlock()
	return t.hostPort
}

func (t *BackendTarget) SetBackend(hostPort string) {
	t.Lock()
	defer t.Unlock()
	if t.hostPort != hostPort {
		logrus.
			WithField("previous", t.hostPort).
			WithField("backend", hostPort).
			Info("Backend changed")
	}
	t.hostPort = hostPort
}

// ProxyConfigLoader re-reads the proxy config file and applies its proxy_to to a BackendTarget.
// Bind addresses are only read at startup.
type ProxyConfigLoader struct {
	fileName string
	target   *BackendTarget
}

func NewProxyConfigLoader(fileName string, target *BackendTarget) *ProxyConfigLoader {
	return &ProxyConfigLoader{
		fileName: fileName,
		target:   target,
	}
}

func (l *ProxyConfigLoader) Reload() error {
	config, err := ReadProxyConfig(l.fileName)
	if err != nil {
		return err
	}
	if !config.Proxy.ProxyTo.IsSet() {
		return errors.New("proxy config file is missing proxy.proxy_to")
	}

	logrus.WithField("proxyConfig", l.fileName).Info("Re-loading proxy config file")
	l.target.SetBackend(config.Proxy.ProxyTo.HostPort())
	return nil
}

func (l *ProxyConfigLoader) WatchForChanges(ctx context.Context) error {
	return l.watch(ctx, debounceConfigRereadDuration)
}

func (l *ProxyConfigLoader) watch(ctx context.Context, debounce time.Duration) error {
	if l.fileName == "" {
		return errors.New("proxy config file needs to be specified first")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Could not create a watcher")
	}

	err = watcher.Add(l.fileName)
	if err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "Could not watch the proxy config file")
	}

	go func() {
		logrus.WithField("file", l.fileName).Info("Watching proxy config file")

		debounceTimerChan := make(<-chan time.Time)
		var debounceTimer *time.Timer

		//goland:noinspection GoUnhandledErrorResult
		defer watcher.Close()
		for {
			select {

			case event, ok := <-watcher.Events:
				if !ok {
					logrus.Debug("Watcher events channel closed")
					return
				}
				logrus.
					WithField("file", event.Name).
					WithField("op", event.Op).
					Trace("fs event received")
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if debounceTimer == nil {
						debounceTimer = time.NewTimer(debounce)
					} else {
						debounceTimer.Reset(debounce)
					}
					debounceTimerChan = debounceTimer.C
					logrus.WithField("delay", debounce).Debug("Will re-read config file after delay")
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("Error while watching proxy config file")

			case <-debounceTimerChan:
				if err := l.Reload(); err != nil {
					logrus.
						WithError(err).
						WithField("proxyConfig", l.fileName).
						Error("Could not re-read the proxy config file")
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
