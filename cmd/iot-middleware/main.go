package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/commandbuilder"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/normalizer"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/warmup"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/watchdog"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/config"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/messaging"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/persistence"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/persistence/metastore"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/persistence/telemetrystore"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/router"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/presentation/api"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/presentation/push"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/protocol/familyb"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/protocol/familyj"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

const serviceName string = "iot-middleware"

var configPath string

func main() {
	serviceVersion := buildinfo.SourceVersion()
	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion)
	defer cleanup()

	flag.StringVar(&configPath, "config", "/opt/diwise/config/config.yaml", "Path to the middleware's YAML config file")
	flag.Parse()

	cfgWatcher := setupConfigOrDie(logger)
	defer cfgWatcher.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startedAt := time.Now()
	cache := shadow.New()
	b := bus.New()

	cfg := cfgWatcher.Current()

	meta := setupMetaStoreOrDie(cfg, logger)

	var tele *telemetrystore.Store
	if cfg.Storage.Enabled {
		tele = setupTelemetryStoreOrDie(ctx, cfg, logger)
		defer tele.Close()
	}

	broker := setupMessagingOrDie(ctx, serviceName, cfg, logger)
	defer broker.Close()

	warmupCfg := warmup.Config{
		Enabled:          cfg.Normalizer.SmartHeartbeat.Enabled,
		TempHumStaleness: time.Duration(cfg.Normalizer.SmartHeartbeat.Staleness.TempHum) * time.Second,
		RfidStaleness:    time.Duration(cfg.Normalizer.SmartHeartbeat.Staleness.Rfid) * time.Second,
		StaggerDelay:     time.Duration(cfg.Normalizer.SmartHeartbeat.StaggerDelay) * time.Millisecond,
	}
	norm := normalizer.New(cache, b, warmupCfg, shardCount(), logger)
	norm.Start(ctx)

	decB := familyb.New()
	decJ := familyj.New()

	debugCfg := func() config.Debug { return cfgWatcher.Current().Debug }

	if err := broker.SubscribeFamily(types.FamilyB, newFrameHandler(types.FamilyB, decB, norm, b, debugCfg, logger)); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to FamilyB uploads")
	}
	if err := broker.SubscribeFamily(types.FamilyJ, newFrameHandler(types.FamilyJ, decJ, norm, b, debugCfg, logger)); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to FamilyJ uploads")
	}

	go runCommandDispatcher(ctx, b, broker, logger)

	wd := watchdog.New(watchdog.Config{
		ScanInterval:     time.Duration(cfg.Normalizer.CheckInterval) * time.Second,
		HeartbeatTimeout: time.Duration(cfg.Normalizer.HeartbeatTimeout) * time.Second,
	}, cache, broker, logger)
	wd.Start()
	defer wd.Stop()

	var persistRouter *persistence.Router
	if cfg.Storage.Enabled {
		persistRouter = persistence.New(persistence.Config{
			BatchSize:     cfg.Storage.BatchSize,
			FlushInterval: time.Duration(cfg.Storage.FlushInterval) * time.Second,
		}, meta, tele, b, logger)
		go persistRouter.Run(ctx)
		defer persistRouter.Stop()
	}

	pushHub := push.New(b, logger)
	go pushHub.Run(ctx)
	defer pushHub.Stop()

	deps := api.Deps{
		Cache:         cache,
		Broker:        broker,
		ConfigCurrent: cfgWatcher.Current,
		HistoryEnabled: func() bool {
			return cfgWatcher.Current().ApiServer.Features.History && cfg.Storage.Enabled
		},
		PingBroker: func() bool { return true },
		StartedAt:  startedAt,
	}
	if tele != nil {
		deps.History = tele
		deps.PingDB = func() error { return nil }
	}

	apiRouter := api.RegisterHandlers(logger, router.New(serviceName), deps)

	pushRouter := router.New(serviceName)
	pushRouter.Get("/ws", pushHub.HandleWS)

	apiSrv := &http.Server{Addr: portAddr(cfg.ApiServer.Port), Handler: apiRouter}
	pushSrv := &http.Server{Addr: portAddr(cfg.PushStream.Port), Handler: pushRouter}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runServer(apiSrv, logger) })
	g.Go(func() error { return runServer(pushSrv, logger) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-gctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	pushSrv.Shutdown(shutdownCtx)

	cancel()
	norm.Wait()

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server exited with error")
	}
}

func runServer(srv *http.Server, logger zerolog.Logger) error {
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("addr", srv.Addr).Msg("http server failed")
		return err
	}
	return nil
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 6)
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func shardCount() int {
	return 8
}

func setupConfigOrDie(logger zerolog.Logger) *config.Watcher {
	path := env.GetVariableOrDefault(logger, "CONFIG_FILE", configPath)
	w, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("no config file found, using defaults")
		return inlineDefaultWatcher(logger)
	}
	return w
}

// inlineDefaultWatcher builds a Watcher-shaped fallback from an empty
// reader when no config file is present on disk, so every downstream
// collaborator can still call cfgWatcher.Current() uniformly.
func inlineDefaultWatcher(logger zerolog.Logger) *config.Watcher {
	tmp, err := os.CreateTemp("", "iot-middleware-config-*.yaml")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create fallback config file")
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	w, err := config.NewWatcher(tmp.Name(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build default config watcher")
	}
	return w
}

func setupMetaStoreOrDie(cfg config.Config, logger zerolog.Logger) *metastore.Store {
	var connector metastore.ConnectorFunc
	if cfg.Database.Host != "" {
		connector = metastore.NewPostgreSQLConnector(logger)
	} else {
		logger.Info().Msg("no sql database configured, using builtin sqlite instead")
		connector = metastore.NewSQLiteConnector(logger)
	}

	store, err := metastore.New(connector)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to meta store")
	}
	return store
}

func setupTelemetryStoreOrDie(ctx context.Context, cfg config.Config, logger zerolog.Logger) *telemetrystore.Store {
	tcfg := telemetrystore.NewConfig(cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Port, cfg.Database.Name, cfg.Database.SSLMode)
	store, err := telemetrystore.New(ctx, tcfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to telemetry store")
	}
	if err := store.CreateTables(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to create telemetry tables")
	}
	return store
}

func setupMessagingOrDie(ctx context.Context, serviceName string, cfg config.Config, logger zerolog.Logger) *messaging.Broker {
	broker, err := messaging.Connect(ctx, serviceName, messaging.Config{
		Host:     cfg.Broker.Host,
		Port:     itoa(cfg.Broker.Port),
		User:     cfg.Broker.User,
		Password: cfg.Broker.Password,
		VHost:    cfg.Broker.VHost,
		Exchange: cfg.Broker.Exchange,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to broker")
	}
	return broker
}

// newFrameHandler adapts one family's raw broker frames into submissions
// on the normalizer's shard pool, decoding first and publishing the
// decoded IF onto frame.decoded (§2) for any interested observer before
// handing it to the normalizer. A decode failure is reported on the
// error topic and the frame is dropped (§7).
func newFrameHandler(family types.DeviceFamily, dec interface {
	Decode(topic string, payload []byte) (*types.IF, error)
}, norm *normalizer.Normalizer, b *bus.Bus, debugCfg func() config.Debug, logger zerolog.Logger) messaging.FrameHandler {
	source := apperr.SourceDecoderB
	if family == types.FamilyJ {
		source = apperr.SourceDecoderJ
	}

	return func(ctx context.Context, topic string, payload []byte) {
		dbg := debugCfg()
		if dbg.LogRawFrame {
			logger.Debug().Str("topic", topic).Bytes("payload", payload).Msg("raw frame received")
		}
		b.Publish(bus.TopicFrameRaw, payload)

		ifr, err := dec.Decode(topic, payload)
		if err != nil {
			logger.Warn().Err(err).Str("topic", topic).Msg("failed to decode inbound frame")
			b.Publish(bus.TopicError, apperr.NewErrorEvent(source, err))
			return
		}

		if dbg.LogDecoded {
			logger.Debug().Str("deviceId", ifr.DeviceID).Str("kind", string(ifr.Kind)).Msg("frame decoded")
		}
		b.Publish(bus.TopicFrameDecoded, ifr)

		if err := norm.Submit(ctx, ifr); err != nil {
			logger.Warn().Err(err).Str("deviceId", ifr.DeviceID).Msg("failed to submit decoded frame to normalizer")
		}
	}
}

// runCommandDispatcher is the only consumer of command.request: it turns
// a normalizer/warmup-originated CommandRequest into a wire command via
// commandbuilder and hands it to the broker for outbound publishing
// (§4.6). Kept as a single-goroutine loop so outbound ordering per
// heartbeat's stagger pump is preserved end to end.
func runCommandDispatcher(ctx context.Context, b *bus.Bus, pub api.CommandPublisher, logger zerolog.Logger) {
	requests := b.Subscribe(bus.TopicCommandRequest)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-requests:
			if !ok {
				return
			}
			req, ok := msg.(types.CommandRequest)
			if !ok {
				continue
			}

			built, err := commandbuilder.Build(req)
			if err != nil {
				logger.Warn().Err(err).Str("deviceId", req.DeviceID).Str("kind", string(req.Kind)).Msg("failed to build outbound command")
				b.Publish(bus.TopicError, apperr.NewErrorEvent(apperr.SourceCommandBuild, err))
				continue
			}

			if err := pub.PublishCommand(ctx, built); err != nil {
				logger.Warn().Err(err).Str("deviceId", req.DeviceID).Msg("failed to publish outbound command")
				b.Publish(bus.TopicError, apperr.NewErrorEvent(apperr.SourceTransport, err))
			}
		}
	}
}
