package normalizer

import (
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

func (n *Normalizer) reconcileActiveModules(deviceID string, family types.DeviceFamily, slots []shadow.HeartbeatSlot, now time.Time) []string {
	return n.shadow.Reconcile(deviceID, family, slots, now)
}

func (n *Normalizer) emitMetaChanged(deviceID string, family types.DeviceFamily, descriptions []string) {
	payload := make([]types.Record, 0, len(descriptions))
	for _, d := range descriptions {
		payload = append(payload, types.Record{"description": d})
	}
	n.emit(types.NormalizedEvent{
		DeviceID:     deviceID,
		DeviceFamily: family,
		Kind:         types.KindMetaChanged,
		Payload:      payload,
	})
}

func (n *Normalizer) emitDeviceMetadata(deviceID string, family types.DeviceFamily) {
	meta, ok := n.shadow.GetMetadata(deviceID)
	if !ok {
		return
	}

	modules := make([]types.Record, 0, len(meta.ActiveModules))
	for _, m := range meta.ActiveModules {
		modules = append(modules, types.Record{
			"moduleIndex": m.ModuleIndex,
			"moduleId":    m.ModuleID,
			"fwVer":       m.FwVer,
			"uTotal":      m.UTotal,
		})
	}

	n.emit(types.NormalizedEvent{
		DeviceID:     deviceID,
		DeviceFamily: family,
		Kind:         types.KindDeviceMetadata,
		Payload:      modules,
		IP:           meta.IP,
		Mac:          meta.Mac,
		FwVer:        meta.FwVer,
		Netmask:      meta.Netmask,
		GatewayIP:    meta.GatewayIP,
	})
}

// handleDeviceMetadata implements §4.3 "DEVICE_INFO / MODULE_INFO /
// DEV_MOD_INFO / UTOTAL_CHANGED": merge into the metadata entry, recording
// changes, then emit META_CHANGED_EVENT (if any) followed by a rebuilt
// DEVICE_METADATA event. Self-healing pending markers are cleared here
// since the decoder collapses all four FamilyB/FamilyJ msg_types into one
// IF kind carrying DeviceInfo.
func (n *Normalizer) handleDeviceMetadata(ifr *types.IF) {
	now := ifr.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	if ifr.DeviceInfo == nil {
		n.emitDeviceMetadata(ifr.DeviceID, ifr.DeviceFamily)
		return
	}

	in := shadow.MergeInput{
		Family:    ifr.DeviceFamily,
		IP:        ifr.DeviceInfo.IP,
		Mac:       ifr.DeviceInfo.Mac,
		FwVer:     ifr.DeviceInfo.FwVer,
		Netmask:   ifr.DeviceInfo.Netmask,
		GatewayIP: ifr.DeviceInfo.GatewayIP,
		Modules:   ifr.DeviceInfo.Modules,
	}

	descriptions := n.shadow.Merge(ifr.DeviceID, in, now)

	n.shadow.ClearPending(ifr.DeviceID, 0, types.KindQryDeviceInfo)
	n.shadow.ClearPending(ifr.DeviceID, 0, types.KindQryDevModInfo)
	for _, m := range ifr.DeviceInfo.Modules {
		n.shadow.ClearPending(ifr.DeviceID, m.ModuleIndex, types.KindQryModuleInfo)
	}

	if len(descriptions) > 0 {
		n.emitMetaChanged(ifr.DeviceID, ifr.DeviceFamily, descriptions)
	}
	n.emitDeviceMetadata(ifr.DeviceID, ifr.DeviceFamily)
}
