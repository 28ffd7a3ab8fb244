package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/persistence/telemetrystore"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

type fakeMeta struct {
	upserts []types.MetadataEntry
}

func (f *fakeMeta) Upsert(entry types.MetadataEntry) error {
	f.upserts = append(f.upserts, entry)
	return nil
}

type fakeTele struct {
	heartbeat  []telemetrystore.HeartbeatRow
	rfidEvent  []telemetrystore.RfidEventRow
	tempHum    []telemetrystore.TempHumRow
	doorEvent  []telemetrystore.DoorEventRow
	failNTimes int
}

func (f *fakeTele) AppendHeartbeat(ctx context.Context, rows []telemetrystore.HeartbeatRow) error {
	if f.failNTimes > 0 {
		f.failNTimes--
		return context.DeadlineExceeded
	}
	f.heartbeat = append(f.heartbeat, rows...)
	return nil
}
func (f *fakeTele) AppendRfidSnapshot(ctx context.Context, rows []telemetrystore.RfidSnapshotRow) error {
	return nil
}
func (f *fakeTele) AppendRfidEvent(ctx context.Context, rows []telemetrystore.RfidEventRow) error {
	f.rfidEvent = append(f.rfidEvent, rows...)
	return nil
}
func (f *fakeTele) AppendTempHum(ctx context.Context, rows []telemetrystore.TempHumRow) error {
	f.tempHum = append(f.tempHum, rows...)
	return nil
}
func (f *fakeTele) AppendNoiseLevel(ctx context.Context, rows []telemetrystore.NoiseLevelRow) error {
	return nil
}
func (f *fakeTele) AppendDoorEvent(ctx context.Context, rows []telemetrystore.DoorEventRow) error {
	f.doorEvent = append(f.doorEvent, rows...)
	return nil
}
func (f *fakeTele) AppendTopchangeEvent(ctx context.Context, rows []telemetrystore.TopchangeEventRow) error {
	return nil
}
func (f *fakeTele) AppendCmdResult(ctx context.Context, rows []telemetrystore.CmdResultRow) error {
	return nil
}

func TestRouteAndFlushHeartbeat(t *testing.T) {
	is := is.New(t)

	meta := &fakeMeta{}
	tele := &fakeTele{}
	b := bus.New()
	r := New(DefaultConfig(), meta, tele, b, zerolog.Nop())

	r.route(types.NormalizedEvent{
		DeviceID: "dev-1",
		Kind:     types.KindHeartbeat,
		Payload:  []types.Record{{"moduleIndex": 1, "moduleId": "A", "uTotal": 6}},
	})
	r.flush(context.Background())

	is.Equal(len(tele.heartbeat), 1)
	is.Equal(tele.heartbeat[0].DeviceID, "dev-1")
}

func TestRouteRfidEventOneRowPerRecord(t *testing.T) {
	is := is.New(t)

	meta := &fakeMeta{}
	tele := &fakeTele{}
	b := bus.New()
	r := New(DefaultConfig(), meta, tele, b, zerolog.Nop())

	r.route(types.NormalizedEvent{
		DeviceID:    "dev-1",
		ModuleIndex: 1,
		Kind:        types.KindRfidEvent,
		Payload: []types.Record{
			{"sensorIndex": 3, "tagId": "AABB", "action": types.ActionAttached},
			{"sensorIndex": 4, "tagId": "CCDD", "action": types.ActionDetached},
		},
	})
	r.flush(context.Background())

	is.Equal(len(tele.rfidEvent), 2)
	is.Equal(tele.rfidEvent[0].Action, types.ActionAttached)
	is.Equal(tele.rfidEvent[1].TagID, "CCDD")
}

func TestRouteTempHumPivotsSensorIndex(t *testing.T) {
	is := is.New(t)

	meta := &fakeMeta{}
	tele := &fakeTele{}
	b := bus.New()
	r := New(DefaultConfig(), meta, tele, b, zerolog.Nop())

	temp := 21.5
	r.route(types.NormalizedEvent{
		DeviceID:    "dev-1",
		ModuleIndex: 1,
		Kind:        types.KindTempHum,
		Payload:     []types.Record{{"sensorIndex": 12, "temp": temp, "hum": nil}},
	})
	r.flush(context.Background())

	is.Equal(len(tele.tempHum), 1)
	is.True(tele.tempHum[0].Temp[2] != nil)
	is.Equal(*tele.tempHum[0].Temp[2], temp)
}

func TestRouteDeviceMetadataUpsertsOnFlush(t *testing.T) {
	is := is.New(t)

	meta := &fakeMeta{}
	tele := &fakeTele{}
	b := bus.New()
	r := New(DefaultConfig(), meta, tele, b, zerolog.Nop())

	r.route(types.NormalizedEvent{
		DeviceID: "dev-1",
		Kind:     types.KindDeviceMetadata,
		IP:       "10.0.0.1",
		Payload:  []types.Record{{"moduleIndex": 1, "moduleId": "A"}},
	})
	r.flush(context.Background())

	is.Equal(len(meta.upserts), 1)
	is.Equal(meta.upserts[0].IP, "10.0.0.1")
}

func TestFlushRetainsRowsOnAppendFailure(t *testing.T) {
	is := is.New(t)

	meta := &fakeMeta{}
	tele := &fakeTele{failNTimes: 1}
	b := bus.New()
	errors := b.Subscribe(bus.TopicError)
	r := New(DefaultConfig(), meta, tele, b, zerolog.Nop())

	r.route(types.NormalizedEvent{DeviceID: "dev-1", Kind: types.KindHeartbeat, Payload: []types.Record{{"moduleIndex": 1}}})
	r.flush(context.Background())
	is.Equal(len(tele.heartbeat), 0)

	select {
	case <-errors:
	case <-time.After(time.Second):
		t.Fatal("expected an error event on failed flush")
	}

	r.flush(context.Background())
	is.Equal(len(tele.heartbeat), 1)
}
