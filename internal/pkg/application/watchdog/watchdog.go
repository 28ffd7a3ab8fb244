// Package watchdog implements the periodic staleness scan of §4.8,
// grounded on the teacher's application.Watchdog (backgroundWorker, a
// done channel, Start/Stop) but scanning the shadow cache's telemetry
// entries instead of per-device database rows.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// Notifier is the subset of messaging.MsgContext the watchdog needs to
// broadcast a lifecycle transition externally. It is optional: a nil
// Notifier means the watchdog only updates the shadow, per §4.8 ("no
// event is emitted by default").
type Notifier interface {
	PublishOnTopic(ctx context.Context, msg interface {
		TopicName() string
		ContentType() string
	}) error
}

// Config holds the tunables named in §4.8.
type Config struct {
	ScanInterval     time.Duration
	HeartbeatTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:     30 * time.Second,
		HeartbeatTimeout: 120 * time.Second,
	}
}

// Watchdog scans the shadow cache on a fixed interval and marks modules
// offline when their heartbeat has gone stale. An event is emitted only
// when an entry actually transitions online→offline, the same restraint
// the teacher's watchdog applies via SetStatusIfChanged; the watchdog never
// marks a module online and emits nothing when a later heartbeat does.
type Watchdog struct {
	cfg      Config
	cache    *shadow.Cache
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
	done     chan struct{}
}

// New constructs a Watchdog. notifier may be nil.
func New(cfg Config, cache *shadow.Cache, notifier Notifier, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		cache:    cache,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the background scan loop. Stop signals it to exit.
func (w *Watchdog) Start() {
	go w.run()
}

func (w *Watchdog) Stop() {
	close(w.done)
}

func (w *Watchdog) run() {
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watchdog) scan() {
	now := w.now()

	for _, key := range w.cache.ListTelemetryKeys() {
		entry, ok := w.cache.GetTelemetry(key.DeviceID, key.ModuleIndex)
		if !ok {
			continue
		}

		stale := now.Sub(entry.LastSeenHeartbeat) > w.cfg.HeartbeatTimeout
		if !stale || !entry.IsOnline {
			continue
		}

		transitioned := w.cache.MarkOffline(key.DeviceID, key.ModuleIndex)
		if !transitioned {
			continue
		}

		w.log.Info().Str("deviceId", key.DeviceID).Int("moduleIndex", key.ModuleIndex).Msg("module marked offline")

		if w.notifier == nil {
			continue
		}
		event := types.ModuleOfflineEvent{
			DeviceID:    key.DeviceID,
			ModuleIndex: key.ModuleIndex,
			ModuleID:    entry.ModuleID,
			Timestamp:   now,
		}
		if err := w.notifier.PublishOnTopic(context.Background(), &event); err != nil {
			w.log.Error().Err(err).Str("deviceId", key.DeviceID).Msg("could not publish module offline event")
		}
	}
}
