// Package influx records device presence history in InfluxDB. Every
// completed tracker cycle becomes one point per device and a scope summary,
// written through the client's non-blocking batched write API.
package influx

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/apwatch/internal/tracker"
	"github.com/HerbHall/apwatch/pkg/plugin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

const pingTimeout = 5 * time.Second

var (
	pointsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apwatch_influx_points_total",
		Help: "Points handed to the InfluxDB write buffer.",
	})
	writeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apwatch_influx_write_errors_total",
		Help: "Asynchronous InfluxDB write failures.",
	})
)

func init() {
	prometheus.MustRegister(pointsWritten, writeErrors)
}

// pointWriter is the part of api.WriteAPI the module uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Module implements the InfluxDB history plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config

	mu     sync.RWMutex
	client influxdb2.Client
	writer pointWriter
	wg     sync.WaitGroup
}

// New creates a new InfluxDB plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "influx",
		Version:     "0.1.0",
		Description: "Writes per-device presence and signal history to InfluxDB",
		Roles:       []string{"history"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()

	if deps.Config != nil {
		if deps.Config.IsSet("enabled") {
			m.cfg.Enabled = deps.Config.GetBool("enabled")
		}
		if u := deps.Config.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if t := deps.Config.GetString("token"); t != "" {
			m.cfg.Token = t
		}
		if o := deps.Config.GetString("org"); o != "" {
			m.cfg.Org = o
		}
		if b := deps.Config.GetString("bucket"); b != "" {
			m.cfg.Bucket = b
		}
		if n := deps.Config.GetInt("batch_size"); n > 0 {
			m.cfg.BatchSize = uint(n)
		}
		if d := deps.Config.GetDuration("flush_interval"); d > 0 {
			m.cfg.FlushInterval = d
		}
	}

	m.logger.Info("influx module initialized",
		zap.Bool("enabled", m.cfg.Enabled),
		zap.String("url", m.cfg.URL),
		zap.String("org", m.cfg.Org),
		zap.String("bucket", m.cfg.Bucket),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("influx module started (no-op: disabled)")
		return nil
	}

	client := influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(m.cfg.BatchSize).
			SetFlushInterval(uint(m.cfg.FlushInterval.Milliseconds())), //nolint:gosec // G115: positive duration
	)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if ok, err := client.Ping(ctx); err != nil || !ok {
		// Writes are buffered and retried, so a server that is down at
		// startup is not fatal.
		m.logger.Warn("influxdb not reachable at startup", zap.String("url", m.cfg.URL), zap.Error(err))
	}

	writeAPI := client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	errs := writeAPI.Errors()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for err := range errs {
			writeErrors.Inc()
			m.logger.Warn("influxdb write failed", zap.Error(err))
		}
	}()

	m.mu.Lock()
	m.client = client
	m.writer = writeAPI
	m.mu.Unlock()
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	client, writer := m.client, m.writer
	m.client, m.writer = nil, nil
	m.mu.Unlock()

	if writer != nil {
		writer.Flush()
	}
	if client != nil {
		client.Close()
	}
	m.wg.Wait()
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: tracker.TopicCycleCompleted, Handler: m.writeCycle},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if !m.cfg.Enabled {
		return plugin.HealthStatus{Status: "healthy", Message: "disabled"}
	}
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "not started"}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		msg := "influxdb not healthy"
		if err != nil {
			msg = err.Error()
		}
		return plugin.HealthStatus{Status: "degraded", Message: msg}
	}
	return plugin.HealthStatus{Status: "healthy", Message: "writing to " + m.cfg.Bucket}
}

func (m *Module) writeCycle(_ context.Context, event plugin.Event) {
	var cycle tracker.CycleEvent
	switch v := event.Payload.(type) {
	case tracker.CycleEvent:
		cycle = v
	case *tracker.CycleEvent:
		if v == nil {
			return
		}
		cycle = *v
	default:
		m.logger.Debug("unexpected cycle payload", zap.String("topic", event.Topic))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.writer == nil {
		return
	}
	points := pointsFor(cycle)
	for _, p := range points {
		m.writer.WritePoint(p)
	}
	pointsWritten.Add(float64(len(points)))
}
