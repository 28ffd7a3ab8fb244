// Package persistence buffers normalized events per target table and
// flushes in batches (§4.7): "flush when the combined buffer reaches
// batchSize (default 100) or flushInterval (default 1s) elapses." It
// subscribes to the bus the way every other consumer does (§2), and
// routes to metastore/telemetrystore, the two sub-stores the teacher
// itself carries side by side (gorm device store + pgx storage package).
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/persistence/metastore"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/persistence/telemetrystore"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// Config holds the batching tunables named in §4.7.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{BatchSize: 100, FlushInterval: time.Second}
}

// MetaUpserter is the subset of metastore.Store the router needs.
type MetaUpserter interface {
	Upsert(entry types.MetadataEntry) error
}

// TelemetryAppender is the subset of telemetrystore.Store the router
// needs, named explicitly so tests can substitute a recording fake.
type TelemetryAppender interface {
	AppendHeartbeat(ctx context.Context, rows []telemetrystore.HeartbeatRow) error
	AppendRfidSnapshot(ctx context.Context, rows []telemetrystore.RfidSnapshotRow) error
	AppendRfidEvent(ctx context.Context, rows []telemetrystore.RfidEventRow) error
	AppendTempHum(ctx context.Context, rows []telemetrystore.TempHumRow) error
	AppendNoiseLevel(ctx context.Context, rows []telemetrystore.NoiseLevelRow) error
	AppendDoorEvent(ctx context.Context, rows []telemetrystore.DoorEventRow) error
	AppendTopchangeEvent(ctx context.Context, rows []telemetrystore.TopchangeEventRow) error
	AppendCmdResult(ctx context.Context, rows []telemetrystore.CmdResultRow) error
}

// Router subscribes to event.normalized, buffers rows per table, and
// flushes on size or time.
type Router struct {
	cfg  Config
	meta MetaUpserter
	tele TelemetryAppender
	bus  *bus.Bus
	log  zerolog.Logger

	mu             sync.Mutex
	heartbeat      []telemetrystore.HeartbeatRow
	rfidSnapshot   []telemetrystore.RfidSnapshotRow
	rfidEvent      []telemetrystore.RfidEventRow
	tempHum        []telemetrystore.TempHumRow
	noiseLevel     []telemetrystore.NoiseLevelRow
	doorEvent      []telemetrystore.DoorEventRow
	topchangeEvent []telemetrystore.TopchangeEventRow
	cmdResult      []telemetrystore.CmdResultRow
	pendingMeta    map[string]types.MetadataEntry

	done chan struct{}
}

func New(cfg Config, meta MetaUpserter, tele TelemetryAppender, b *bus.Bus, log zerolog.Logger) *Router {
	return &Router{
		cfg:         cfg,
		meta:        meta,
		tele:        tele,
		bus:         b,
		log:         log,
		pendingMeta: make(map[string]types.MetadataEntry),
		done:        make(chan struct{}),
	}
}

// Run subscribes to event.normalized and flushes until ctx is cancelled,
// in the background-loop shape the teacher's watchdog/notifiers share.
func (r *Router) Run(ctx context.Context) {
	events := r.bus.Subscribe(bus.TopicEventNormalized)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return
		case <-r.done:
			r.flush(context.Background())
			return
		case <-ticker.C:
			r.flush(ctx)
		case msg, ok := <-events:
			if !ok {
				r.flush(context.Background())
				return
			}
			ev, ok := msg.(types.NormalizedEvent)
			if !ok {
				continue
			}
			r.route(ev)
			if r.bufferedCount() >= r.cfg.BatchSize {
				r.flush(ctx)
			}
		}
	}
}

func (r *Router) Stop() { close(r.done) }

func (r *Router) bufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heartbeat) + len(r.rfidSnapshot) + len(r.rfidEvent) + len(r.tempHum) +
		len(r.noiseLevel) + len(r.doorEvent) + len(r.topchangeEvent) + len(r.cmdResult) + len(r.pendingMeta)
}

// route buffers ev into the table its Kind maps to, per §4.7's table.
func (r *Router) route(ev types.NormalizedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// parseAt is when the normalizer produced the event; updateAt is when
	// this row is actually written to the table (§4.7's two timestamps).
	parseAt := ev.EmittedAt
	if parseAt.IsZero() {
		parseAt = time.Now()
	}
	updateAt := time.Now()

	switch ev.Kind {
	case types.KindHeartbeat:
		payload, _ := json.Marshal(ev.Payload)
		r.heartbeat = append(r.heartbeat, telemetrystore.HeartbeatRow{DeviceID: ev.DeviceID, Payload: payload, ParseAt: parseAt, UpdateAt: updateAt})

	case types.KindRfidSnapshot:
		payload, _ := json.Marshal(ev.Payload)
		r.rfidSnapshot = append(r.rfidSnapshot, telemetrystore.RfidSnapshotRow{
			DeviceID: ev.DeviceID, ModuleIndex: ev.ModuleIndex, Payload: payload, ParseAt: parseAt, UpdateAt: updateAt,
		})

	case types.KindRfidEvent:
		for _, rec := range ev.Payload {
			r.rfidEvent = append(r.rfidEvent, telemetrystore.RfidEventRow{
				DeviceID:    ev.DeviceID,
				ModuleIndex: ev.ModuleIndex,
				SensorIndex: asInt(rec["sensorIndex"]),
				TagID:       asString(rec["tagId"]),
				Action:      asString(rec["action"]),
				ParseAt:     parseAt,
				UpdateAt:    updateAt,
			})
		}

	case types.KindTempHum:
		row := telemetrystore.TempHumRow{DeviceID: ev.DeviceID, ModuleIndex: ev.ModuleIndex, ParseAt: parseAt, UpdateAt: updateAt}
		for _, rec := range ev.Payload {
			idx := asInt(rec["sensorIndex"]) - types.TempHumIndexMin
			if idx < 0 || idx >= len(row.Temp) {
				continue
			}
			row.Temp[idx] = asFloatPtr(rec["temp"])
			row.Hum[idx] = asFloatPtr(rec["hum"])
		}
		r.tempHum = append(r.tempHum, row)

	case types.KindNoiseLevel:
		row := telemetrystore.NoiseLevelRow{DeviceID: ev.DeviceID, ModuleIndex: ev.ModuleIndex, ParseAt: parseAt, UpdateAt: updateAt}
		for _, rec := range ev.Payload {
			idx := asInt(rec["sensorIndex"]) - types.NoiseIndexMin
			if idx < 0 || idx >= len(row.Noise) {
				continue
			}
			row.Noise[idx] = asFloatPtr(rec["noise"])
		}
		r.noiseLevel = append(r.noiseLevel, row)

	case types.KindDoorState:
		if len(ev.Payload) == 0 {
			return
		}
		rec := ev.Payload[0]
		r.doorEvent = append(r.doorEvent, telemetrystore.DoorEventRow{
			DeviceID:    ev.DeviceID,
			ModuleIndex: ev.ModuleIndex,
			DoorState:   asIntPtr(rec["doorState"]),
			Door1State:  asIntPtr(rec["door1State"]),
			Door2State:  asIntPtr(rec["door2State"]),
			ParseAt:     parseAt,
			UpdateAt:    updateAt,
		})

	case types.KindDeviceMetadata:
		r.pendingMeta[ev.DeviceID] = metadataFromEvent(ev)

	case types.KindMetaChanged:
		for _, rec := range ev.Payload {
			r.topchangeEvent = append(r.topchangeEvent, telemetrystore.TopchangeEventRow{
				DeviceID:    ev.DeviceID,
				Description: asString(rec["description"]),
				ParseAt:     parseAt,
				UpdateAt:    updateAt,
			})
		}

	case types.KindQryColorResp, types.KindSetColorResp, types.KindClearAlarmResp:
		if len(ev.Payload) == 0 {
			return
		}
		rec := ev.Payload[0]
		var colorMap json.RawMessage
		if cm, ok := rec["colorMap"]; ok {
			colorMap, _ = json.Marshal(cm)
		}
		r.cmdResult = append(r.cmdResult, telemetrystore.CmdResultRow{
			DeviceID:    ev.DeviceID,
			ModuleIndex: ev.ModuleIndex,
			Kind:        string(ev.Kind),
			Result:      asString(rec["result"]),
			ColorMap:    colorMap,
			ParseAt:     parseAt,
			UpdateAt:    updateAt,
		})
	}
}

// flush writes every buffered table and clears the buffers. Errors are
// logged and the buffer is retained for the next tick, the same
// log-and-retry stance the teacher's SetStatusIfChanged takes on a
// write failure.
func (r *Router) flush(ctx context.Context) {
	r.mu.Lock()
	heartbeat, rfidSnapshot, rfidEvent := r.heartbeat, r.rfidSnapshot, r.rfidEvent
	tempHum, noiseLevel, doorEvent := r.tempHum, r.noiseLevel, r.doorEvent
	topchangeEvent, cmdResult := r.topchangeEvent, r.cmdResult
	pendingMeta := r.pendingMeta
	r.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	heartbeatOK := r.tryAppend(func() error { return r.tele.AppendHeartbeat(flushCtx, heartbeat) }, "heartbeat", len(heartbeat))
	rfidSnapshotOK := r.tryAppend(func() error { return r.tele.AppendRfidSnapshot(flushCtx, rfidSnapshot) }, "rfid_snapshot", len(rfidSnapshot))
	rfidEventOK := r.tryAppend(func() error { return r.tele.AppendRfidEvent(flushCtx, rfidEvent) }, "rfid_event", len(rfidEvent))
	tempHumOK := r.tryAppend(func() error { return r.tele.AppendTempHum(flushCtx, tempHum) }, "temp_hum", len(tempHum))
	noiseLevelOK := r.tryAppend(func() error { return r.tele.AppendNoiseLevel(flushCtx, noiseLevel) }, "noise_level", len(noiseLevel))
	doorEventOK := r.tryAppend(func() error { return r.tele.AppendDoorEvent(flushCtx, doorEvent) }, "door_event", len(doorEvent))
	topchangeEventOK := r.tryAppend(func() error { return r.tele.AppendTopchangeEvent(flushCtx, topchangeEvent) }, "topchange_event", len(topchangeEvent))
	cmdResultOK := r.tryAppend(func() error { return r.tele.AppendCmdResult(flushCtx, cmdResult) }, "cmd_result", len(cmdResult))

	for deviceID, entry := range pendingMeta {
		if err := r.meta.Upsert(entry); err != nil {
			r.log.Error().Err(err).Str("deviceId", deviceID).Msg("meta_data upsert failed")
			r.bus.Publish(bus.TopicError, apperr.NewErrorEvent(apperr.SourcePersistence, err))
			continue
		}
		r.mu.Lock()
		delete(r.pendingMeta, deviceID)
		r.mu.Unlock()
	}

	// Rows whose append failed are left in place (sliced from the front
	// only on success) so the next flush retries them, matching
	// SetStatusIfChanged's log-and-retry stance on a write failure.
	r.mu.Lock()
	if heartbeatOK {
		r.heartbeat = r.heartbeat[len(heartbeat):]
	}
	if rfidSnapshotOK {
		r.rfidSnapshot = r.rfidSnapshot[len(rfidSnapshot):]
	}
	if rfidEventOK {
		r.rfidEvent = r.rfidEvent[len(rfidEvent):]
	}
	if tempHumOK {
		r.tempHum = r.tempHum[len(tempHum):]
	}
	if noiseLevelOK {
		r.noiseLevel = r.noiseLevel[len(noiseLevel):]
	}
	if doorEventOK {
		r.doorEvent = r.doorEvent[len(doorEvent):]
	}
	if topchangeEventOK {
		r.topchangeEvent = r.topchangeEvent[len(topchangeEvent):]
	}
	if cmdResultOK {
		r.cmdResult = r.cmdResult[len(cmdResult):]
	}
	r.mu.Unlock()
}

func (r *Router) tryAppend(fn func() error, table string, n int) bool {
	if n == 0 {
		return true
	}
	if err := fn(); err != nil {
		r.log.Error().Err(err).Str("table", table).Int("rows", n).Msg("batch append failed, rows retained")
		r.bus.Publish(bus.TopicError, apperr.NewErrorEvent(apperr.SourcePersistence, err))
		return false
	}
	return true
}

func metadataFromEvent(ev types.NormalizedEvent) types.MetadataEntry {
	entry := types.MetadataEntry{
		DeviceID:  ev.DeviceID,
		IP:        ev.IP,
		Mac:       ev.Mac,
		FwVer:     ev.FwVer,
		Netmask:   ev.Netmask,
		GatewayIP: ev.GatewayIP,
	}
	for _, rec := range ev.Payload {
		entry.ActiveModules = append(entry.ActiveModules, types.ActiveModule{
			ModuleIndex: asInt(rec["moduleIndex"]),
			ModuleID:    asString(rec["moduleId"]),
			FwVer:       asString(rec["fwVer"]),
			UTotal:      asInt(rec["uTotal"]),
		})
	}
	return entry
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloatPtr(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case *float64:
		return n
	default:
		return nil
	}
}

func asIntPtr(v any) *int {
	switch n := v.(type) {
	case *int:
		return n
	case int:
		return &n
	default:
		return nil
	}
}
