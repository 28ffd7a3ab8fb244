package shadow

import (
	"testing"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
	"github.com/matryer/is"
)

func TestTelemetryLazyCreation(t *testing.T) {
	is := is.New(t)

	c := New()
	_, ok := c.GetTelemetry("dev-1", 1)
	is.True(!ok)

	c.UpdateHeartbeat("dev-1", 1, types.FamilyB, "MOD-A", 6, time.Now())

	e, ok := c.GetTelemetry("dev-1", 1)
	is.True(ok)
	is.Equal(e.ModuleID, "MOD-A")
	is.True(e.IsOnline)
}

func TestRfidSnapshotReturnsPrior(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	first := []types.RfidEntry{{SensorIndex: 3, TagID: "AABBCCDD"}}
	prior := c.SetRfidSnapshot("dev-1", 1, first, now)
	is.Equal(len(prior), 0)

	second := []types.RfidEntry{{SensorIndex: 3, TagID: "EEFF0011"}}
	prior2 := c.SetRfidSnapshot("dev-1", 1, second, now)
	is.Equal(len(prior2), 1)
	is.Equal(prior2[0].TagID, "AABBCCDD")

	e, _ := c.GetTelemetry("dev-1", 1)
	is.Equal(e.Rfid[0].TagID, "EEFF0011")
}

func TestMergePreservesNullAndReportsChange(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	descs := c.Merge("dev-1", MergeInput{IP: "10.0.0.1", FwVer: "1.0.0"}, now)
	is.Equal(len(descs), 0) // first observation, nothing to "change from"

	descs = c.Merge("dev-1", MergeInput{IP: "10.0.0.2"}, now)
	is.Equal(len(descs), 1)
	is.Equal(descs[0], "Device IP changed from 10.0.0.1 to 10.0.0.2")

	meta, _ := c.GetMetadata("dev-1")
	is.Equal(meta.FwVer, "1.0.0") // untouched by the null incoming fwVer
	is.Equal(meta.IP, "10.0.0.2")
}

func TestMergeModuleAddedAndChanged(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	descs := c.Merge("dev-1", MergeInput{Modules: []types.ModuleInfoEntry{
		{ModuleIndex: 1, ModuleID: "A", FwVer: "1.0"},
	}}, now)
	is.Equal(len(descs), 1)

	descs = c.Merge("dev-1", MergeInput{Modules: []types.ModuleInfoEntry{
		{ModuleIndex: 1, ModuleID: "A", FwVer: "2.0"},
	}}, now)
	is.Equal(len(descs), 1)
	is.Equal(descs[0], "Module 1 Firmware changed from 1.0 to 2.0")
}

func TestReconcileRemovesAbsentModule(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	c.Merge("dev-1", MergeInput{Modules: []types.ModuleInfoEntry{
		{ModuleIndex: 1, ModuleID: "A"},
		{ModuleIndex: 2, ModuleID: "B"},
	}}, now)

	descs := c.Reconcile("dev-1", types.FamilyB, []HeartbeatSlot{
		{ModuleIndex: 1, ModuleID: "A", UTotal: 6},
	}, now)

	is.Equal(len(descs), 1)
	is.Equal(descs[0], "Module B removed from Index 2")

	meta, _ := c.GetMetadata("dev-1")
	is.Equal(len(meta.ActiveModules), 1)
	is.Equal(meta.ActiveModules[0].ModuleIndex, 1)
}

func TestReconcileIdempotent(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	slots := []HeartbeatSlot{{ModuleIndex: 1, ModuleID: "A", UTotal: 6}}

	descs1 := c.Reconcile("dev-1", types.FamilyB, slots, now)
	is.True(len(descs1) > 0)

	descs2 := c.Reconcile("dev-1", types.FamilyB, slots, now)
	is.Equal(len(descs2), 0)
}

func TestReconcilePreservesFwVer(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	c.Merge("dev-1", MergeInput{Modules: []types.ModuleInfoEntry{
		{ModuleIndex: 1, ModuleID: "A", FwVer: "1.0"},
	}}, now)

	c.Reconcile("dev-1", types.FamilyB, []HeartbeatSlot{
		{ModuleIndex: 1, ModuleID: "A", UTotal: 6},
	}, now)

	meta, _ := c.GetMetadata("dev-1")
	is.Equal(meta.ActiveModules[0].FwVer, "1.0")
}

func TestActiveModulesOrderStableByIndex(t *testing.T) {
	is := is.New(t)

	c := New()
	now := time.Now()

	c.Reconcile("dev-1", types.FamilyB, []HeartbeatSlot{
		{ModuleIndex: 3, ModuleID: "C"},
		{ModuleIndex: 1, ModuleID: "A"},
		{ModuleIndex: 2, ModuleID: "B"},
	}, now)

	meta, _ := c.GetMetadata("dev-1")
	is.Equal(meta.ActiveModules[0].ModuleIndex, 1)
	is.Equal(meta.ActiveModules[1].ModuleIndex, 2)
	is.Equal(meta.ActiveModules[2].ModuleIndex, 3)
}

func TestMarkPendingAtMostOnce(t *testing.T) {
	is := is.New(t)

	c := New()
	first := c.MarkPending("dev-1", 1, types.KindQryTempHum)
	is.True(first)

	second := c.MarkPending("dev-1", 1, types.KindQryTempHum)
	is.True(!second)

	c.ClearPending("dev-1", 1, types.KindQryTempHum)
	third := c.MarkPending("dev-1", 1, types.KindQryTempHum)
	is.True(third)
}

func TestMarkOfflineReportsTransition(t *testing.T) {
	is := is.New(t)

	c := New()
	c.UpdateHeartbeat("dev-1", 1, types.FamilyB, "A", 6, time.Now())

	transitioned := c.MarkOffline("dev-1", 1)
	is.True(transitioned)

	transitioned2 := c.MarkOffline("dev-1", 1)
	is.True(!transitioned2)
}
