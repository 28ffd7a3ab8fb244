package normalizer

import (
	"time"

	"github.com/samber/lo"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// handleRfidSnapshot implements §4.3 "RFID_SNAPSHOT": diff the new
// snapshot against the prior one, emit one RFID_EVENT per detected
// change, then emit the full snapshot and replace the shadow.
func (n *Normalizer) handleRfidSnapshot(ifr *types.IF) {
	now := ifr.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	for _, m := range ifr.Modules {
		next := make([]types.RfidEntry, 0, len(m.Rfid))
		for _, r := range m.Rfid {
			next = append(next, types.RfidEntry{SensorIndex: r.UIndex, TagID: r.TagID, IsAlarm: r.IsAlarm})
		}

		prior := n.shadow.SetRfidSnapshot(ifr.DeviceID, m.ModuleIndex, next, now)
		n.shadow.ClearPending(ifr.DeviceID, m.ModuleIndex, types.KindQryRfidSnapshot)

		events := diffRfid(prior, next)
		for _, e := range events {
			n.emit(types.NormalizedEvent{
				DeviceID:     ifr.DeviceID,
				DeviceFamily: ifr.DeviceFamily,
				Kind:         types.KindRfidEvent,
				MessageID:    ifr.MessageID,
				ModuleIndex:  m.ModuleIndex,
				ModuleID:     m.ModuleID,
				Payload:      []types.Record{e},
			})
		}

		snapshotPayload := make([]types.Record, 0, len(next))
		for _, r := range next {
			snapshotPayload = append(snapshotPayload, types.Record{
				"sensorIndex": r.SensorIndex,
				"tagId":       r.TagID,
				"isAlarm":     r.IsAlarm,
			})
		}
		n.emit(types.NormalizedEvent{
			DeviceID:     ifr.DeviceID,
			DeviceFamily: ifr.DeviceFamily,
			Kind:         types.KindRfidSnapshot,
			MessageID:    ifr.MessageID,
			ModuleIndex:  m.ModuleIndex,
			ModuleID:     m.ModuleID,
			Payload:      snapshotPayload,
		})
	}
}

// diffRfid computes the per-sensorIndex delta per §4.3: attach/detach for
// presence changes, detach-then-attach for a tag swap at the same index,
// and alarm-flip events when only isAlarm changed.
func diffRfid(prior, next []types.RfidEntry) []types.Record {
	priorByIdx := lo.SliceToMap(prior, func(e types.RfidEntry) (int, types.RfidEntry) { return e.SensorIndex, e })
	nextByIdx := lo.SliceToMap(next, func(e types.RfidEntry) (int, types.RfidEntry) { return e.SensorIndex, e })

	var events []types.Record

	for _, n := range next {
		p, existed := priorByIdx[n.SensorIndex]
		switch {
		case !existed:
			events = append(events, rfidEventRecord(n.SensorIndex, n.TagID, types.ActionAttached, n.IsAlarm))
		case p.TagID != n.TagID:
			events = append(events, rfidEventRecord(n.SensorIndex, p.TagID, types.ActionDetached, p.IsAlarm))
			events = append(events, rfidEventRecord(n.SensorIndex, n.TagID, types.ActionAttached, n.IsAlarm))
		case p.IsAlarm != n.IsAlarm:
			action := types.ActionAlarmOff
			if n.IsAlarm {
				action = types.ActionAlarmOn
			}
			events = append(events, rfidEventRecord(n.SensorIndex, n.TagID, action, n.IsAlarm))
		}
	}

	removed := lo.Filter(prior, func(p types.RfidEntry, _ int) bool {
		_, stillPresent := nextByIdx[p.SensorIndex]
		return !stillPresent
	})
	for _, p := range removed {
		events = append(events, rfidEventRecord(p.SensorIndex, p.TagID, types.ActionDetached, p.IsAlarm))
	}

	return events
}

func rfidEventRecord(sensorIndex int, tagID, action string, isAlarm bool) types.Record {
	return types.Record{"sensorIndex": sensorIndex, "tagId": tagID, "action": action, "isAlarm": isAlarm}
}

// handleRfidEvent implements §4.3 "RFID_EVENT (inbound)". FamilyB never
// reaches this entry point (its events are always synthesized from
// snapshot diffs); FamilyJ requests a fresh snapshot instead of trusting
// the notification directly, so the diffing path stays the single source
// of truth for shadow state and emitted events.
func (n *Normalizer) handleRfidEvent(ifr *types.IF) {
	if ifr.DeviceFamily != types.FamilyJ {
		n.log.Warn().Str("deviceId", ifr.DeviceID).Msg("unexpected RFID_EVENT from FamilyB, ignoring")
		return
	}

	if !n.shadow.MarkPending(ifr.DeviceID, ifr.ModuleIndex, types.KindQryRfidSnapshot) {
		return
	}

	n.requestCommand(ifr.DeviceID, ifr.DeviceFamily, types.KindQryRfidSnapshot, map[string]any{
		"moduleIndex": ifr.ModuleIndex,
		"moduleId":    ifr.ModuleID,
	})
}
