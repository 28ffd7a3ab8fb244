package shadow

import (
	"fmt"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// HeartbeatSlot is one surviving {moduleIndex, moduleId, uTotal} entry
// from a HEARTBEAT frame, after dropping moduleId=="0"/out-of-range slots
// (§4.3).
type HeartbeatSlot struct {
	ModuleIndex int
	ModuleID    string
	UTotal      int
}

// Reconcile treats the heartbeat as authoritative for module *presence*
// (§4.4): any activeModules index absent from slots is removed; moduleId
// and uTotal of surviving modules are overwritten from the heartbeat;
// fwVer is left untouched (it only ever comes from *_INFO frames). A slot
// naming a module not yet in activeModules is added — heartbeat is the
// first and most frequent authoritative source of presence, so without
// this a brand new module would never reach activeModules until an
// unrelated *_INFO frame happened to arrive, contradicting invariant 4.
// Returns the ordered list of change descriptions.
func (c *Cache) Reconcile(deviceID string, family types.DeviceFamily, slots []HeartbeatSlot, now time.Time) []string {
	var descriptions []string

	bySlot := make(map[int]HeartbeatSlot, len(slots))
	for _, s := range slots {
		bySlot[s.ModuleIndex] = s
	}

	c.WithMetadata(deviceID, func(e *types.MetadataEntry) {
		if family != "" {
			e.DeviceFamily = family
		}

		kept := e.ActiveModules[:0:0]
		for _, m := range e.ActiveModules {
			slot, present := bySlot[m.ModuleIndex]
			if !present {
				label := m.ModuleID
				if label == "" {
					label = fmt.Sprintf("%d", m.ModuleIndex)
				}
				descriptions = append(descriptions, fmt.Sprintf("Module %s removed from Index %d", label, m.ModuleIndex))
				continue
			}

			if slot.ModuleID != m.ModuleID {
				m.ModuleID = slot.ModuleID
			}
			if slot.UTotal != m.UTotal {
				m.UTotal = slot.UTotal
			}
			kept = append(kept, m)
			delete(bySlot, m.ModuleIndex)
		}

		for _, s := range slots {
			if slot, stillNew := bySlot[s.ModuleIndex]; stillNew {
				label := slot.ModuleID
				if label == "" {
					label = fmt.Sprintf("%d", slot.ModuleIndex)
				}
				kept = append(kept, types.ActiveModule{
					ModuleIndex: slot.ModuleIndex,
					ModuleID:    slot.ModuleID,
					UTotal:      slot.UTotal,
				})
				descriptions = append(descriptions, fmt.Sprintf("Module %s added at Index %d", label, slot.ModuleIndex))
			}
		}

		sortModules(kept)
		e.ActiveModules = kept
		e.LastSeenInfo = now
	})

	return descriptions
}
