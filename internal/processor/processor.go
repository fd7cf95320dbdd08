package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aquabridge/internal/queue"
	"aquabridge/internal/store"
	"aquabridge/internal/types"
)

// Drop reasons surfaced by validation. Dropped messages are acked, not
// redelivered; only persistence failures before the reading is durable
// propagate back to the queue.
var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrUnregisteredDevice = errors.New("unregistered device, data rejected")
	ErrMissingLocation    = errors.New("device missing location")
)

// Config holds stream processor tunables.
type Config struct {
	HistoryInterval int           `json:"historyInterval"`
	StatusThrottle  time.Duration `json:"statusThrottle"`
	AlertCooldown   time.Duration `json:"alertCooldown"`
	CacheCapacity   int           `json:"cacheCapacity"`
	StoreTimeout    time.Duration `json:"storeTimeout"`
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{
		HistoryInterval: 5,
		StatusThrottle:  5 * time.Minute,
		AlertCooldown:   5 * time.Minute,
		CacheCapacity:   1000,
		StoreTimeout:    10 * time.Second,
	}
}

// AlertNotifier fans out a created alert; implemented by notify.Notifier.
type AlertNotifier interface {
	Dispatch(ctx context.Context, alert *types.Alert, device *types.Device) []string
}

// AlertHook observes committed alerts, e.g. the admin websocket feed.
type AlertHook func(alert *types.Alert)

// Stats tracks processing outcomes.
type Stats struct {
	Processed     int64 `json:"processed"`
	Dropped       int64 `json:"dropped"`
	AlertsCreated int64 `json:"alertsCreated"`
	AlertsDeduped int64 `json:"alertsDeduped"`
	HistoryWrites int64 `json:"historyWrites"`
	StatusWrites  int64 `json:"statusWrites"`
}

// Processor is the stream processor: it validates queued sensor
// readings, persists them, evaluates thresholds and trends, and creates
// deduplicated alerts with best-effort notification fan-out.
type Processor struct {
	cfg        Config
	devices    *store.DeviceStore
	alerts     *store.AlertStore
	timeseries *store.TimeSeriesStore
	thresholds *types.AlertThresholdConfig
	cache      *DedupCache
	sampler    *Sampler
	throttle   *StatusThrottle
	notifier   AlertNotifier
	hook       AlertHook
	logger     *logrus.Entry
	stats      Stats
	statsMu    sync.Mutex
}

// New creates a processor. The threshold config is loaded once by the
// caller; an empty config disables threshold alerting.
func New(
	cfg Config,
	devices *store.DeviceStore,
	alerts *store.AlertStore,
	timeseries *store.TimeSeriesStore,
	thresholds *types.AlertThresholdConfig,
	notifier AlertNotifier,
	logger *logrus.Entry,
) *Processor {
	return &Processor{
		cfg:        cfg,
		devices:    devices,
		alerts:     alerts,
		timeseries: timeseries,
		thresholds: thresholds,
		cache:      NewDedupCache(cfg.AlertCooldown, cfg.CacheCapacity),
		sampler:    NewSampler(cfg.HistoryInterval),
		throttle:   NewStatusThrottle(cfg.StatusThrottle),
		notifier:   notifier,
		logger:     logger,
	}
}

// SetAlertHook registers an observer for committed alerts.
func (p *Processor) SetAlertHook(hook AlertHook) {
	p.hook = hook
}

// Stats returns a copy of the processing counters.
func (p *Processor) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// ProcessSensorData handles one queue message carrying sensor readings.
// A nil return means the message may be acked: either everything
// succeeded, or the message was dropped for a reason redelivery cannot
// fix. A non-nil return means the reading was not durably persisted and
// the message must be nacked.
func (p *Processor) ProcessSensorData(ctx context.Context, msg *queue.Message) error {
	// Step 1: validate and decode.
	readings, device, err := p.validate(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			p.logger.WithFields(logrus.Fields{
				"device_id": msg.DeviceID,
				"reason":    err.Error(),
			}).Warn("Dropping invalid sensor message")
			p.bump(func(s *Stats) { s.Dropped++ })
			return nil
		}
		if errors.Is(err, ErrUnregisteredDevice) || errors.Is(err, ErrMissingLocation) {
			p.logger.WithFields(logrus.Fields{
				"device_id": msg.DeviceID,
				"reason":    err.Error(),
			}).Debug("Dropping reading from non-contributing device")
			p.bump(func(s *Stats) { s.Dropped++ })
			return nil
		}
		// Transient store trouble before persistence: requeue.
		return err
	}

	for _, reading := range readings {
		// Step 2: persist. Failures here are the only ones that nack.
		if err := p.persist(ctx, reading); err != nil {
			return fmt.Errorf("failed to persist reading for %s: %w", reading.DeviceID, err)
		}

		// Steps 3+ are best-effort: the reading is durable, so their
		// failures must not trigger redelivery.
		p.touchStatus(ctx, device)
		p.evaluate(ctx, device, reading)
		p.bump(func(s *Stats) { s.Processed++ })
	}
	return nil
}

// validate implements Step 1: payload decoding and device gating.
func (p *Processor) validate(ctx context.Context, msg *queue.Message) ([]types.SensorReading, *types.Device, error) {
	if msg.DeviceID == "" {
		return nil, nil, fmt.Errorf("%w: missing device_id attribute", ErrInvalidPayload)
	}

	received := msg.TSReceived
	if received.IsZero() {
		received = time.Now()
	}

	readings, err := types.DecodeReadings(msg.DeviceID, msg.Body, received)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	device, err := p.devices.GetDevice(storeCtx, msg.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrUnregisteredDevice
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load device %s: %w", msg.DeviceID, err)
	}
	if !device.RegisteredForData() {
		return nil, nil, ErrMissingLocation
	}

	// Parameters the device schema declares but the payload omitted
	// default to zero.
	for _, reading := range readings {
		for _, kind := range device.SensorKinds {
			if _, ok := reading.Values[kind]; !ok {
				reading.Values[kind] = 0
			}
		}
	}

	return readings, device, nil
}

// persist implements Step 2: the latest write always happens; history is
// appended for every Nth reading per device.
func (p *Processor) persist(ctx context.Context, reading types.SensorReading) error {
	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	if err := p.timeseries.WriteLatest(storeCtx, reading); err != nil {
		return err
	}

	if p.sampler.Sample(reading.DeviceID) {
		if err := p.timeseries.AppendHistory(storeCtx, reading); err != nil {
			return err
		}
		p.bump(func(s *Stats) { s.HistoryWrites++ })
	}
	return nil
}

// touchStatus implements Step 3, throttled to one write per window.
func (p *Processor) touchStatus(ctx context.Context, device *types.Device) {
	if !p.throttle.Allow(device.DeviceID, device.LastSeen) {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	if err := p.devices.TouchStatus(storeCtx, device.DeviceID, types.DeviceStatusOnline, time.Now()); err != nil {
		p.logger.WithError(err).WithField("device_id", device.DeviceID).
			Warn("Failed to update device status")
		return
	}
	p.bump(func(s *Stats) { s.StatusWrites++ })
}

// evaluate implements Step 4 for every configured parameter with a
// present value: threshold bands, then an independent trend pass.
func (p *Processor) evaluate(ctx context.Context, device *types.Device, reading types.SensorReading) {
	for _, param := range types.Parameters {
		value, ok := reading.Values[param]
		if !ok {
			continue
		}
		if len(device.SensorKinds) > 0 && !device.HasSensor(param) {
			continue
		}

		p.evaluateThreshold(ctx, device, param, value)
		p.evaluateTrend(ctx, device, param, value)
	}
}

func (p *Processor) evaluateThreshold(ctx context.Context, device *types.Device, param types.Parameter, value float64) {
	cacheKey := fmt.Sprintf("%s:%s", device.DeviceID, param)
	if p.cache.Probe(cacheKey) {
		return
	}

	band, exceeded := EvaluateThreshold(p.thresholds, param, value)
	if !exceeded {
		return
	}

	alert := buildThresholdAlert(device.DeviceID, param, value, band)
	p.createAndNotify(ctx, device, alert, cacheKey)
}

func (p *Processor) evaluateTrend(ctx context.Context, device *types.Device, param types.Parameter, value float64) {
	cacheKey := fmt.Sprintf("%s:%s:trend", device.DeviceID, param)
	if p.cache.Probe(cacheKey) {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	history, err := p.timeseries.RecentHistory(storeCtx, device.DeviceID, trendWindow)
	cancel()
	if err != nil {
		p.logger.WithError(err).WithField("device_id", device.DeviceID).
			Debug("Failed to load history for trend evaluation")
		return
	}

	trend, detected := EvaluateTrend(history, param, value)
	if !detected {
		return
	}

	alert := buildTrendAlert(device.DeviceID, value, trend)
	p.createAndNotify(ctx, device, alert, cacheKey)
}

// createAndNotify implements Steps 4c-4e: the authoritative dedup
// transaction, notification fan-out on a fresh create, and the cache
// write that only a successful create earns.
func (p *Processor) createAndNotify(ctx context.Context, device *types.Device, alert *types.Alert, cacheKey string) {
	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	alertID, err := p.alerts.CreateIfAbsent(storeCtx, alert)
	cancel()

	if errors.Is(err, store.ErrDuplicateAlert) {
		// Already alerted. Leave the cache alone so an alert the admin
		// just resolved can fire again without waiting out the cooldown.
		p.bump(func(s *Stats) { s.AlertsDeduped++ })
		return
	}
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"device_id": device.DeviceID,
			"parameter": alert.Parameter,
			"severity":  alert.Severity,
		}).Error("Failed to create alert")
		return
	}

	alert.AlertID = alertID
	p.cache.Set(cacheKey)
	p.bump(func(s *Stats) { s.AlertsCreated++ })

	p.logger.WithFields(logrus.Fields{
		"alert_id":  alertID,
		"device_id": device.DeviceID,
		"parameter": alert.Parameter,
		"kind":      alert.Kind,
		"severity":  alert.Severity,
		"value":     alert.CurrentValue,
	}).Info("Alert created")

	if p.hook != nil {
		p.hook(alert)
	}
	if p.notifier != nil {
		delivered := p.notifier.Dispatch(ctx, alert, device)
		alert.NotificationsSent = delivered
	}
}

func (p *Processor) bump(fn func(*Stats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}
