package shadow

import (
	"fmt"
	"sort"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// MergeInput carries whatever a *_INFO / UTOTAL_CHANGED frame contributed;
// nil/zero fields mean "not present on the wire" and must never overwrite
// a cached value (§4.4 merge rule).
type MergeInput struct {
	Family    types.DeviceFamily
	IP        string
	Mac       string
	FwVer     string
	Netmask   string
	GatewayIP string
	Modules   []types.ModuleInfoEntry
}

// Merge applies in to the deviceID metadata entry using overwrite-if-
// present-never-delete semantics, and returns the ordered list of change
// descriptions (§4.4). Both Merge and Reconcile touch lastSeenInfo.
func (c *Cache) Merge(deviceID string, in MergeInput, now time.Time) []string {
	var descriptions []string

	c.WithMetadata(deviceID, func(e *types.MetadataEntry) {
		if in.Family != "" {
			e.DeviceFamily = in.Family
		}

		if in.IP != "" && in.IP != e.IP {
			if e.IP != "" {
				descriptions = append(descriptions, fmt.Sprintf("Device IP changed from %s to %s", e.IP, in.IP))
			}
			e.IP = in.IP
		}
		if in.Mac != "" {
			e.Mac = in.Mac
		}
		if in.FwVer != "" && in.FwVer != e.FwVer {
			if e.FwVer != "" {
				descriptions = append(descriptions, fmt.Sprintf("Device Firmware changed from %s to %s", e.FwVer, in.FwVer))
			}
			e.FwVer = in.FwVer
		}
		if in.Netmask != "" {
			e.Netmask = in.Netmask
		}
		if in.GatewayIP != "" {
			e.GatewayIP = in.GatewayIP
		}

		for _, m := range in.Modules {
			descriptions = append(descriptions, mergeModule(e, m)...)
		}
		sortModules(e.ActiveModules)

		e.LastSeenInfo = now
	})

	return descriptions
}

func mergeModule(e *types.MetadataEntry, m types.ModuleInfoEntry) []string {
	var descriptions []string

	idx := findModuleIndex(e.ActiveModules, m.ModuleIndex)
	if idx == -1 {
		label := m.ModuleID
		if label == "" {
			label = fmt.Sprintf("%d", m.ModuleIndex)
		}
		e.ActiveModules = append(e.ActiveModules, types.ActiveModule{
			ModuleIndex: m.ModuleIndex,
			ModuleID:    m.ModuleID,
			FwVer:       m.FwVer,
			UTotal:      m.UTotal,
		})
		return []string{fmt.Sprintf("Module %s added at Index %d", label, m.ModuleIndex)}
	}

	existing := &e.ActiveModules[idx]

	if m.ModuleID != "" && m.ModuleID != existing.ModuleID {
		descriptions = append(descriptions, fmt.Sprintf("Module %d ID changed from %s to %s", m.ModuleIndex, existing.ModuleID, m.ModuleID))
		existing.ModuleID = m.ModuleID
	}
	if m.FwVer != "" && m.FwVer != existing.FwVer {
		descriptions = append(descriptions, fmt.Sprintf("Module %d Firmware changed from %s to %s", m.ModuleIndex, existing.FwVer, m.FwVer))
		existing.FwVer = m.FwVer
	}
	if m.UTotal != 0 && m.UTotal != existing.UTotal {
		descriptions = append(descriptions, fmt.Sprintf("Module %d U-Total changed from %d to %d", m.ModuleIndex, existing.UTotal, m.UTotal))
		existing.UTotal = m.UTotal
	}

	return descriptions
}

func findModuleIndex(modules []types.ActiveModule, moduleIndex int) int {
	for i, m := range modules {
		if m.ModuleIndex == moduleIndex {
			return i
		}
	}
	return -1
}

// sortModules preserves the order-stable-by-moduleIndex invariant (§4.4)
// across both merge and reconcile.
func sortModules(modules []types.ActiveModule) {
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].ModuleIndex < modules[j].ModuleIndex
	})
}
