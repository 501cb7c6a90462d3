package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/metrics"

	kitlogrus "github.com/go-kit/kit/log/logrus"
	discardMetrics "github.com/go-kit/kit/metrics/discard"
	expvarMetrics "github.com/go-kit/kit/metrics/expvar"
	kitinflux "github.com/go-kit/kit/metrics/influx"
	prometheusMetrics "github.com/go-kit/kit/metrics/prometheus"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type MetricsBuilder interface {
	BuildConnectorMetrics() *ConnectorMetrics
	Start(ctx context.Context) error
}

const (
	MetricsBackendExpvar     = "expvar"
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendInfluxDB   = "influxdb"
	MetricsBackendDiscard    = "discard"
)

type MetricsBackendConfig struct {
	Influxdb struct {
		Interval        time.Duration     `default:"1m"`
		Tags            map[string]string `usage:"any extra tags to be included with all reported metrics"`
		Addr            string
		Username        string
		Password        string
		Database        string
		RetentionPolicy string
	}
}

// NewMetricsBuilder creates a new MetricsBuilder based on the specified backend.
// If the backend is not recognized, a discard builder is returned.
// config can be nil if the backend is not influxdb.
func NewMetricsBuilder(backend string, config *MetricsBackendConfig) MetricsBuilder {
	switch strings.ToLower(backend) {
	case MetricsBackendExpvar:
		return &expvarMetricsBuilder{}
	case MetricsBackendPrometheus:
		return &prometheusMetricsBuilder{}
	case MetricsBackendInfluxDB:
		return &influxMetricsBuilder{config: config}
	case MetricsBackendDiscard:
		return &discardMetricsBuilder{}
	default:
		return &discardMetricsBuilder{}
	}
}

// ConnectorMetrics are labelled as follows:
// Errors by "type", BytesTransmitted by "direction", Decisions by "decision"
type ConnectorMetrics struct {
	Errors              metrics.Counter
	BytesTransmitted    metrics.Counter
	ConnectionsFrontend metrics.Counter
	ConnectionsBackend  metrics.Counter
	ActiveConnections   metrics.Gauge
	ActivePlayers       metrics.Gauge
	Decisions           metrics.Counter
	SeatsVacated        metrics.Gauge
	StatusResponses     metrics.Counter
	RateLimitAvailable  metrics.Gauge
}

type expvarMetricsBuilder struct {
}

func (b expvarMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b expvarMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	c := expvarMetrics.NewCounter("connections")
	return &ConnectorMetrics{
		Errors:              expvarMetrics.NewCounter("errors").With("subsystem", "connector"),
		BytesTransmitted:    expvarMetrics.NewCounter("bytes"),
		ConnectionsFrontend: c,
		ConnectionsBackend:  c,
		ActiveConnections:   expvarMetrics.NewGauge("active_connections"),
		ActivePlayers:       expvarMetrics.NewGauge("active_players"),
		Decisions:           expvarMetrics.NewCounter("decisions"),
		SeatsVacated:        expvarMetrics.NewGauge("seats_vacated"),
		StatusResponses:     expvarMetrics.NewCounter("status_responses"),
		RateLimitAvailable:  expvarMetrics.NewGauge("rate_limit_available"),
	}
}

type discardMetricsBuilder struct {
}

func (b discardMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b discardMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors:              discardMetrics.NewCounter(),
		BytesTransmitted:    discardMetrics.NewCounter(),
		ConnectionsFrontend: discardMetrics.NewCounter(),
		ConnectionsBackend:  discardMetrics.NewCounter(),
		ActiveConnections:   discardMetrics.NewGauge(),
		ActivePlayers:       discardMetrics.NewGauge(),
		Decisions:           discardMetrics.NewCounter(),
		SeatsVacated:        discardMetrics.NewGauge(),
		StatusResponses:     discardMetrics.NewCounter(),
		RateLimitAvailable:  discardMetrics.NewGauge(),
	}
}

type influxMetricsBuilder struct {
	config  *MetricsBackendConfig
	metrics *kitinflux.Influx
}

func (b *influxMetricsBuilder) Start(ctx context.Context) error {
	influxConfig := &b.config.Influxdb
	if influxConfig.Addr == "" {
		return errors.New("influx addr is required")
	}

	ticker := time.NewTicker(influxConfig.Interval)
	client, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     influxConfig.Addr,
		Username: influxConfig.Username,
		Password: influxConfig.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to create influx http client: %w", err)
	}

	go b.metrics.WriteLoop(ctx, ticker.C, client)

	logrus.WithField("addr", influxConfig.Addr).
		Debug("reporting metrics to influxdb")

	return nil
}

func (b *influxMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	influxConfig := &b.config.Influxdb

	metrics := kitinflux.New(influxConfig.Tags, influx.BatchPointsConfig{
		Database:        influxConfig.Database,
		RetentionPolicy: influxConfig.RetentionPolicy,
	}, kitlogrus.NewLogger(logrus.StandardLogger()))

	b.metrics = metrics

	c := metrics.NewCounter("mc_seat_proxy_connections")
	return &ConnectorMetrics{
		Errors:              metrics.NewCounter("mc_seat_proxy_errors"),
		BytesTransmitted:    metrics.NewCounter("mc_seat_proxy_transmitted_bytes"),
		ConnectionsFrontend: c.With("side", "frontend"),
		ConnectionsBackend:  c.With("side", "backend"),
		ActiveConnections:   metrics.NewGauge("mc_seat_proxy_connections_active"),
		ActivePlayers:       metrics.NewGauge("mc_seat_proxy_players_active"),
		Decisions:           metrics.NewCounter("mc_seat_proxy_decisions"),
		SeatsVacated:        metrics.NewGauge("mc_seat_proxy_seats_vacated"),
		StatusResponses:     metrics.NewCounter("mc_seat_proxy_status_responses"),
		RateLimitAvailable:  metrics.NewGauge("mc_seat_proxy_rate_limit_available"),
	}
}

type prometheusMetricsBuilder struct {
}

func (b prometheusMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b prometheusMetricsBuilder) BuildConnectorMetrics() *ConnectorMetrics {
	return &ConnectorMetrics{
		Errors: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_seat_proxy",
			Name:      "errors",
			Help:      "The total number of errors",
		}, []string{"type"})),
		BytesTransmitted: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_seat_proxy",
			Name:      "bytes",
			Help:      "The total number of bytes transmitted",
		}, []string{"direction"})),
		ConnectionsFrontend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mc_seat_proxy",
			Subsystem:   "frontend",
			Name:        "connections",
			Help:        "The total number of connections",
			ConstLabels: prometheus.Labels{"side": "frontend"},
		}, nil)),
		ConnectionsBackend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mc_seat_proxy",
			Subsystem:   "backend",
			Name:        "connections",
			Help:        "The total number of backend connections",
			ConstLabels: prometheus.Labels{"side": "backend"},
		}, nil)),
		ActiveConnections: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mc_seat_proxy",
			Name:      "active_connections",
			Help:      "The number of active connections",
		}, nil)),
		ActivePlayers: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mc_seat_proxy",
			Name:      "active_players",
			Help:      "The number of allowed players currently relayed",
		}, nil)),
		Decisions: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_seat_proxy",
			Name:      "decisions",
			Help:      "The total number of access decisions",
		}, []string{"decision"})),
		SeatsVacated: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mc_seat_proxy",
			Name:      "seats_vacated",
			Help:      "The number of seats currently given up for proxied players",
		}, nil)),
		StatusResponses: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mc_seat_proxy",
			Name:      "status_responses",
			Help:      "The total number of backend status responses carrying the known MOTD",
		}, nil)),
		RateLimitAvailable: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mc_seat_proxy",
			Name:      "rate_limit_available",
			Help:      "The number of available tokens in the rate limit bucket",
		}, nil)),
	}
}
