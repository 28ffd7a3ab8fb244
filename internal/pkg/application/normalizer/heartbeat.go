package normalizer

import (
	"context"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/warmup"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// handleHeartbeat implements §4.3 "HEARTBEAT": drop slots whose moduleId
// is empty or "0" (the index range is not checked here: the FamilyB
// decoder already dropped out-of-range slots, FamilyJ slots pass through
// as given), update telemetry presence, reconcile activeModules, emit
// META_CHANGED_EVENT on change and DEVICE_METADATA on every heartbeat, then
// trigger self-healing and warmup (§4.5).
func (n *Normalizer) handleHeartbeat(ifr *types.IF) {
	now := ifr.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	payload := make([]types.Record, 0, len(ifr.Modules))
	slots := make([]shadow.HeartbeatSlot, 0, len(ifr.Modules))

	for _, m := range ifr.Modules {
		if m.ModuleID == "" || m.ModuleID == "0" {
			continue
		}

		n.shadow.UpdateHeartbeat(ifr.DeviceID, m.ModuleIndex, ifr.DeviceFamily, m.ModuleID, m.UTotal, now)

		payload = append(payload, types.Record{
			"moduleIndex": m.ModuleIndex,
			"moduleId":    m.ModuleID,
			"uTotal":      m.UTotal,
		})
		slots = append(slots, shadow.HeartbeatSlot{ModuleIndex: m.ModuleIndex, ModuleID: m.ModuleID, UTotal: m.UTotal})
	}

	n.emit(types.NormalizedEvent{
		DeviceID:     ifr.DeviceID,
		DeviceFamily: ifr.DeviceFamily,
		Kind:         types.KindHeartbeat,
		MessageID:    ifr.MessageID,
		Payload:      payload,
	})

	descriptions := n.reconcileActiveModules(ifr.DeviceID, ifr.DeviceFamily, slots, now)
	if len(descriptions) > 0 {
		n.emitMetaChanged(ifr.DeviceID, ifr.DeviceFamily, descriptions)
	}
	n.emitDeviceMetadata(ifr.DeviceID, ifr.DeviceFamily)

	n.planAndDispatchQueries(ifr.DeviceID, ifr.DeviceFamily, now, slots)
}

func (n *Normalizer) planAndDispatchQueries(deviceID string, family types.DeviceFamily, now time.Time, slots []shadow.HeartbeatSlot) {
	meta, _ := n.shadow.GetMetadata(deviceID)

	hb := warmup.HeartbeatSnapshot{
		DeviceID:     deviceID,
		DeviceFamily: string(family),
		Now:          now,
		MetaIPKnown:  meta.IP != "",
		MetaMacKnown: meta.Mac != "",
	}

	for _, s := range slots {
		entry, _ := n.shadow.GetTelemetry(deviceID, s.ModuleIndex)
		hb.Modules = append(hb.Modules, warmup.ModuleSnapshot{
			ModuleIndex:     s.ModuleIndex,
			ModuleID:        s.ModuleID,
			FwVerKnown:      moduleFwVerKnown(meta.ActiveModules, s.ModuleIndex),
			TempHumEmpty:    len(entry.TempHum) == 0,
			LastSeenTempHum: entry.LastSeenTempHum,
			RfidEmpty:       len(entry.Rfid) == 0,
			LastSeenRfid:    entry.LastSeenRfid,
			DoorUnknown:     entry.DoorState == nil && entry.Door1State == nil,
		})
	}

	planned := warmup.Plan(n.warmupCfg, hb)

	// Mark pending synchronously (cheap, entry-local) so a second
	// heartbeat arriving before the pump has drained this one's queries
	// never double-dispatches the same query (§9 open question (a)).
	queries := make([]warmup.Query, 0, len(planned))
	for _, q := range planned {
		if n.shadow.MarkPending(deviceID, q.ModuleIndex, types.Kind(q.Kind)) {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return
	}

	ctx := n.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go n.pump.Emit(ctx, queries, func(q warmup.Query) {
		kind := types.Kind(q.Kind)
		payload := map[string]any{}
		if q.ModuleIndex != 0 {
			payload["moduleIndex"] = q.ModuleIndex
		}
		if kind == types.KindQryRfidSnapshot && family == types.FamilyJ {
			payload["moduleId"] = moduleIDFor(slots, q.ModuleIndex)
		}
		n.requestCommand(deviceID, family, kind, payload)
	})
}

func moduleFwVerKnown(modules []types.ActiveModule, moduleIndex int) bool {
	for _, m := range modules {
		if m.ModuleIndex == moduleIndex {
			return m.FwVer != ""
		}
	}
	return false
}

func moduleIDFor(slots []shadow.HeartbeatSlot, moduleIndex int) string {
	for _, s := range slots {
		if s.ModuleIndex == moduleIndex {
			return s.ModuleID
		}
	}
	return ""
}
