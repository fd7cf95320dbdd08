package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/breaker"
	"aquabridge/internal/buffer"
	"aquabridge/internal/config"
	"aquabridge/internal/logging"
	"aquabridge/internal/metrics"
	"aquabridge/internal/mqtt"
	"aquabridge/internal/queue"
	"aquabridge/internal/resource"
)

// State is the bridge lifecycle state.
type State string

const (
	StateInit       State = "init"
	StateConnecting State = "connecting"
	StateSubscribed State = "subscribed"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateUnhealthy  State = "unhealthy"
	StateDraining   State = "draining"
	StateStopped    State = "stopped"
)

// Thresholds for the emergency flush hysteresis.
const (
	emergencyFlushPercent = 95.0
	emergencyClearPercent = 90.0
	saturationGrace       = 10 * time.Second
)

// Manager coordinates the bridge components: MQTT intake, per-topic
// buffers, the batch publisher and the resource monitor.
type Manager struct {
	mu     sync.RWMutex
	cfg    *config.Config
	logger *logrus.Logger

	mqttClient *mqtt.Client
	buffers    *buffer.Set
	publisher  *Publisher
	cb         *breaker.Breaker
	monitor    *resource.Monitor
	metrics    *metrics.BridgeMetrics

	state     State
	startTime time.Time
	rejecting bool // true while the emergency memory gate is closed
}

// NewManager wires the bridge from configuration and an already
// connected queue client.
func NewManager(cfg *config.Config, q queue.Publisher, logger *logrus.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		buffers:   buffer.NewSet(),
		metrics:   metrics.NewBridgeMetrics(),
		state:     StateInit,
		startTime: time.Now(),
	}

	m.buffers.Add(queue.TopicSensorReadings, cfg.BufferMax)
	m.buffers.Add(queue.TopicDeviceRegistration, cfg.BufferMax)

	m.cb = breaker.New(breaker.Config{
		Name:               "publish",
		Timeout:            time.Duration(cfg.BreakerTimeoutMS) * time.Millisecond,
		ErrorRateThreshold: cfg.BreakerErrorThreshold,
		ResetAfter:         time.Duration(cfg.BreakerResetAfterSec) * time.Second,
	}, logging.NewServiceLogger(logger, "breaker"))

	m.publisher = NewPublisher(BatchLimits{
		MaxMessages: cfg.BatchMaxMsgs,
		MaxBytes:    cfg.BatchMaxBytes,
		MaxLatency:  cfg.BatchLatency(),
	}, q, m.cb, m.metrics, logging.NewServiceLogger(logger, "publisher"))

	m.monitor = resource.NewMonitor(time.Second, logging.NewServiceLogger(logger, "resource-monitor"))

	m.mqttClient = mqtt.NewClient(mqtt.Config{
		BrokerURL: cfg.MQTTBrokerURL,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		ClientID:  cfg.MQTTClientID,
	}, m.handleMessage, logging.NewServiceLogger(logger, "mqtt"))

	return m
}

// Metrics exposes the bridge metric set for the ops HTTP server.
func (m *Manager) Metrics() *metrics.BridgeMetrics {
	return m.metrics
}

// Monitor exposes the resource monitor for the ops HTTP server.
func (m *Manager) Monitor() *resource.Monitor {
	return m.monitor
}

// Buffers exposes per-topic buffer depths for the ops HTTP server.
func (m *Manager) Buffers() *buffer.Set {
	return m.buffers
}

// Breaker exposes the publish circuit breaker state.
func (m *Manager) Breaker() *breaker.Breaker {
	return m.cb
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Uptime returns how long the bridge has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state != s {
		m.logger.WithFields(logrus.Fields{"from": string(m.state), "to": string(s)}).
			Info("Bridge state change")
		m.state = s
	}
	m.mu.Unlock()
}

// Run starts the bridge and blocks until ctx is cancelled, then performs
// a final synchronous drain bounded by a 10 second deadline.
func (m *Manager) Run(ctx context.Context) error {
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go m.monitor.Run(monitorCtx)

	m.setState(StateConnecting)
	if err := m.mqttClient.Start(ctx); err != nil {
		return err
	}

	connCtx, cancelConn := context.WithTimeout(ctx, 30*time.Second)
	err := m.mqttClient.AwaitConnection(connCtx)
	cancelConn()
	if err != nil {
		// autopaho keeps retrying in the background; buffers simply stay
		// empty until the broker is reachable.
		m.logger.WithError(err).Warn("MQTT initial connection timed out, retrying in background")
	} else {
		m.setState(StateSubscribed)
	}
	m.setState(StateRunning)

	// Publisher workers take flush requests off a shared channel so a
	// slow queue cannot stall the receive loop or the resource ticks.
	flushCh := make(chan string, 16)
	var workers sync.WaitGroup
	for i := 0; i < m.cfg.PublishWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			// Detached from ctx so an in-flight publish can finish
			// during shutdown; retries and breaker timeouts bound it.
			for topic := range flushCh {
				m.flushTopic(context.Background(), topic, "worker")
			}
		}()
	}

	requestFlush := func(topic string) {
		select {
		case flushCh <- topic:
		default:
			// A flush for this cycle is already queued.
		}
	}

	ticker := time.NewTicker(m.cfg.FlushInterval())
	defer ticker.Stop()

	healthTicker := time.NewTicker(time.Second)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(flushCh)
			workers.Wait()
			m.shutdown()
			return nil

		case <-ticker.C:
			for _, b := range m.buffers.All() {
				requestFlush(b.Topic())
			}

		case topic := <-m.buffers.FlushSignal():
			requestFlush(topic)

		case <-healthTicker.C:
			m.observeResources(ctx)
		}
	}
}

// handleMessage is the MQTT intake path. Readings are rejected while the
// emergency memory gate is closed; rejected messages are counted drops.
func (m *Manager) handleMessage(kind mqtt.MessageKind, deviceID string, payload []byte) {
	m.metrics.Received.Inc()

	m.mu.RLock()
	rejecting := m.rejecting
	m.mu.RUnlock()
	if rejecting {
		m.metrics.Failed.Inc()
		return
	}

	topic := queue.TopicSensorReadings
	if kind == mqtt.KindRegistration {
		topic = queue.TopicDeviceRegistration
	}

	accepted := m.buffers.Push(buffer.Item{
		DeviceID:   deviceID,
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
	if !accepted {
		m.metrics.Failed.Inc()
	}
}

// observeResources updates gauges, applies the emergency flush rules and
// recomputes the health state.
func (m *Manager) observeResources(ctx context.Context) {
	sample := m.monitor.Current()

	m.metrics.MemoryRSS.Set(float64(sample.RSSBytes))
	m.metrics.HeapUsed.Set(float64(sample.HeapUsedBytes))
	m.metrics.CPUUsage.Set(sample.CPUPercent)
	if m.cb.IsOpen() {
		m.metrics.CircuitOpen.Set(1)
	} else {
		m.metrics.CircuitOpen.Set(0)
	}

	m.mu.Lock()
	switch {
	case sample.MemUtilization >= emergencyFlushPercent && !m.rejecting:
		m.rejecting = true
		m.mu.Unlock()
		m.logger.WithField("utilization", sample.MemUtilization).
			Error("Memory critical, emergency flush and intake gate closed")
		m.flushAll(ctx, "emergency")
	case sample.MemUtilization <= emergencyClearPercent && m.rejecting:
		m.rejecting = false
		m.mu.Unlock()
		m.logger.WithField("utilization", sample.MemUtilization).
			Info("Memory recovered, intake gate reopened")
	default:
		m.mu.Unlock()
	}

	m.reclassify(sample)
}

// reclassify maps the current resource and buffer picture onto the
// Running / Degraded / Unhealthy states.
func (m *Manager) reclassify(sample resource.Sample) {
	current := m.State()
	if current == StateDraining || current == StateStopped || current == StateInit || current == StateConnecting {
		return
	}

	saturated := false
	for _, b := range m.buffers.All() {
		if b.OverCapacitySince() > saturationGrace {
			saturated = true
			break
		}
	}

	switch {
	case sample.MemoryLevel() == resource.LevelCritical ||
		sample.CPULevel() == resource.LevelCritical || saturated:
		m.setState(StateUnhealthy)
	case sample.MemoryLevel() == resource.LevelWarning ||
		sample.CPULevel() == resource.LevelWarning || m.cb.IsOpen():
		m.setState(StateDegraded)
	default:
		m.setState(StateRunning)
	}
}

// flushAll drains every non-empty buffer.
func (m *Manager) flushAll(ctx context.Context, reason string) {
	for _, b := range m.buffers.All() {
		m.flushTopic(ctx, b.Topic(), reason)
	}
}

// flushTopic drains one buffer and publishes its contents.
func (m *Manager) flushTopic(ctx context.Context, topic, reason string) {
	b := m.buffers.Get(topic)
	if b == nil {
		return
	}
	items := b.Drain()
	if len(items) == 0 {
		return
	}

	m.metrics.Flushes.Inc()
	published, failed := m.publisher.Publish(ctx, topic, items)
	m.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"reason":    reason,
		"published": published,
		"failed":    failed,
	}).Debug("Buffer flushed")
}

// shutdown performs the final synchronous drain with a bounded deadline
// before disconnecting from the broker.
func (m *Manager) shutdown() {
	m.setState(StateDraining)

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.flushAll(drainCtx, "shutdown")

	if err := m.mqttClient.Stop(drainCtx); err != nil {
		m.logger.WithError(err).Warn("MQTT disconnect failed during shutdown")
	}

	m.setState(StateStopped)
}
