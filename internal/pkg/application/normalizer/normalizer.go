// Package normalizer is the processing core: it consumes decoder output,
// writes the shadow cache, and emits normalized events and outbound
// command requests. Grounded on the teacher's internal/pkg/application
// placement of its single stateful service (app), generalized from one
// goroutine to a fixed worker pool sharded by (deviceId, moduleIndex) so
// that events about the same module are always processed in arrival
// order (§5) while unrelated devices proceed concurrently.
package normalizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/warmup"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

const defaultInboxSize = 128

// Normalizer owns no network or storage concerns; it only touches the
// shadow cache and the bus, the same separation the teacher draws between
// app (state + notification fan-out) and database.Datastore (persistence).
type Normalizer struct {
	shadow     *shadow.Cache
	bus        *bus.Bus
	warmupCfg  warmup.Config
	pump       *warmup.Pump
	log        zerolog.Logger
	shardCount int
	inboxes    []chan *types.IF
	wg         sync.WaitGroup
	runCtx     context.Context
}

func New(cache *shadow.Cache, b *bus.Bus, warmupCfg warmup.Config, shardCount int, log zerolog.Logger) *Normalizer {
	if shardCount <= 0 {
		shardCount = 1
	}

	n := &Normalizer{
		shadow:     cache,
		bus:        b,
		warmupCfg:  warmupCfg,
		pump:       warmup.NewPump(warmupCfg),
		log:        log,
		shardCount: shardCount,
		inboxes:    make([]chan *types.IF, shardCount),
	}
	for i := range n.inboxes {
		n.inboxes[i] = make(chan *types.IF, defaultInboxSize)
	}
	return n
}

// Start launches one worker goroutine per shard. It returns immediately;
// workers run until ctx is cancelled. ctx is also retained to bound the
// per-heartbeat warmup pump goroutines (§4.5) the heartbeat handler
// spawns so query dispatch is paced without blocking the shard worker.
func (n *Normalizer) Start(ctx context.Context) {
	n.runCtx = ctx
	for i := 0; i < n.shardCount; i++ {
		n.wg.Add(1)
		go n.worker(ctx, n.inboxes[i])
	}
}

// Wait blocks until every worker has drained and exited after ctx
// cancellation.
func (n *Normalizer) Wait() {
	n.wg.Wait()
}

func (n *Normalizer) worker(ctx context.Context, inbox chan *types.IF) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ifr, ok := <-inbox:
			if !ok {
				return
			}
			n.dispatch(ifr)
		}
	}
}

func shardKey(deviceID string, moduleIndex int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d", deviceID, moduleIndex))
}

// Submit routes ifr to the worker owning its (deviceId, moduleIndex) shard.
// It blocks if that shard's inbox is full, applying natural backpressure
// to the broker consumer rather than silently reordering or dropping.
func (n *Normalizer) Submit(ctx context.Context, ifr *types.IF) error {
	idx := shardKey(ifr.DeviceID, ifr.ModuleIndex) % uint64(n.shardCount)
	select {
	case n.inboxes[idx] <- ifr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Normalizer) dispatch(ifr *types.IF) {
	switch ifr.Kind {
	case types.KindHeartbeat:
		n.handleHeartbeat(ifr)
	case types.KindRfidSnapshot:
		n.handleRfidSnapshot(ifr)
	case types.KindRfidEvent:
		n.handleRfidEvent(ifr)
	case types.KindTempHum:
		n.handleTempHum(ifr)
	case types.KindNoiseLevel:
		n.handleNoiseLevel(ifr)
	case types.KindDoorState:
		n.handleDoorState(ifr)
	case types.KindDeviceMetadata:
		n.handleDeviceMetadata(ifr)
	case types.KindQryColorResp, types.KindSetColorResp, types.KindClearAlarmResp:
		n.handleCommandResponse(ifr)
	case types.KindUnknown:
		n.handleUnknown(ifr)
	default:
		n.publishError(apperr.SourceNormalizer, fmt.Errorf("unhandled kind %q", ifr.Kind))
	}
}

func (n *Normalizer) publishError(source apperr.Source, err error) {
	n.bus.Publish(bus.TopicError, apperr.NewErrorEvent(source, err))
}

// emit enforces data model invariant 1: moduleIndex == 0 / moduleId == "0"
// iff the event's kind is device-level (types.DeviceLevelKinds), regardless
// of what the caller set those fields to.
func (n *Normalizer) emit(event types.NormalizedEvent) {
	if types.DeviceLevelKinds[event.Kind] {
		event.ModuleIndex = 0
		event.ModuleID = "0"
	}
	event.EmittedAt = time.Now().UTC()
	n.bus.Publish(bus.TopicEventNormalized, event)
}

func (n *Normalizer) requestCommand(deviceID string, family types.DeviceFamily, kind types.Kind, payload map[string]any) {
	n.bus.Publish(bus.TopicCommandRequest, types.CommandRequest{
		DeviceID:     deviceID,
		DeviceFamily: family,
		Kind:         kind,
		Payload:      payload,
	})
}
