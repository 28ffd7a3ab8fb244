package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestPlanSelfHealingFamilyBDeviceInfo(t *testing.T) {
	is := is.New(t)

	hb := HeartbeatSnapshot{
		DeviceID:     "dev-1",
		DeviceFamily: "B",
		Now:          time.Now(),
	}

	queries := Plan(Config{Enabled: false}, hb)
	is.Equal(len(queries), 1)
	is.Equal(queries[0].Kind, KindQryDeviceInfo)
}

func TestPlanSelfHealingFamilyJUsesDevModInfo(t *testing.T) {
	is := is.New(t)

	hb := HeartbeatSnapshot{DeviceID: "dev-1", DeviceFamily: "J", Now: time.Now()}

	queries := Plan(Config{Enabled: false}, hb)
	is.Equal(len(queries), 1)
	is.Equal(queries[0].Kind, KindQryDevModInfo)
}

func TestPlanFamilyBModuleInfoWhenFwVerMissing(t *testing.T) {
	is := is.New(t)

	hb := HeartbeatSnapshot{
		DeviceID:     "dev-1",
		DeviceFamily: "B",
		Now:          time.Now(),
		MetaIPKnown:  true,
		MetaMacKnown: true,
		Modules:      []ModuleSnapshot{{ModuleIndex: 1, FwVerKnown: false}},
	}

	queries := Plan(Config{Enabled: false}, hb)
	is.Equal(len(queries), 1)
	is.Equal(queries[0].Kind, KindQryModuleInfo)
	is.Equal(queries[0].ModuleIndex, 1)
}

func TestPlanWarmupOrderIsSelfHealingThenPerModule(t *testing.T) {
	is := is.New(t)

	hb := HeartbeatSnapshot{
		DeviceID:     "dev-1",
		DeviceFamily: "B",
		Now:          time.Now(),
		Modules: []ModuleSnapshot{
			{ModuleIndex: 1, FwVerKnown: true, TempHumEmpty: true, RfidEmpty: true, DoorUnknown: true},
		},
	}

	queries := Plan(DefaultConfig(), hb)
	is.Equal(queries[0].Kind, KindQryDeviceInfo)
	is.Equal(queries[1].Kind, KindQryTempHum)
	is.Equal(queries[2].Kind, KindQryRfidSnapshot)
	is.Equal(queries[3].Kind, KindQryDoorState)
}

func TestPlanSkipsFreshSensors(t *testing.T) {
	is := is.New(t)

	now := time.Now()
	hb := HeartbeatSnapshot{
		DeviceID:     "dev-1",
		DeviceFamily: "B",
		Now:          now,
		MetaIPKnown:  true,
		MetaMacKnown: true,
		Modules: []ModuleSnapshot{
			{ModuleIndex: 1, FwVerKnown: true, LastSeenTempHum: now, LastSeenRfid: now},
		},
	}

	queries := Plan(DefaultConfig(), hb)
	is.Equal(len(queries), 0)
}

func TestPumpEmitsInOrderWithStagger(t *testing.T) {
	is := is.New(t)

	p := NewPump(Config{StaggerDelay: time.Millisecond})
	var got []Query

	err := p.Emit(context.Background(), []Query{
		{DeviceID: "d", Kind: KindQryTempHum},
		{DeviceID: "d", Kind: KindQryRfidSnapshot},
	}, func(q Query) { got = append(got, q) })

	is.NoErr(err)
	is.Equal(len(got), 2)
	is.Equal(got[0].Kind, KindQryTempHum)
	is.Equal(got[1].Kind, KindQryRfidSnapshot)
}

func TestPumpRespectsContextCancellation(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPump(Config{StaggerDelay: time.Second})
	err := p.Emit(ctx, []Query{{DeviceID: "d", Kind: KindQryTempHum}}, func(Query) {})
	is.True(err != nil)
}
