// Package shadow is the in-memory device/module twin (§3, §4.4). It is
// the only shared mutable state in the system (§5): every mutation goes
// through Cache's methods, each atomic at single-entry granularity, while
// concurrent updates to distinct entries proceed independently. It is
// constructed once in main and handed to every component that needs it,
// following design note §9's process-scoped-singleton guidance — the same
// role the teacher's database.Datastore plays for its device store.
package shadow

import (
	"sync"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

type teleKey struct {
	deviceID    string
	moduleIndex int
}

type teleSlot struct {
	mu    sync.Mutex
	entry types.TelemetryEntry
}

type metaSlot struct {
	mu    sync.Mutex
	entry types.MetadataEntry
}

// Cache holds every telemetry and metadata entry the process has ever
// seen. Entries are created lazily and live for process lifetime (§3
// Lifecycles); the watchdog marks modules offline but never deletes them.
type Cache struct {
	mapMu sync.RWMutex
	tele  map[teleKey]*teleSlot
	meta  map[string]*metaSlot
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{
		tele: make(map[teleKey]*teleSlot),
		meta: make(map[string]*metaSlot),
	}
}

func (c *Cache) teleSlotFor(deviceID string, moduleIndex int) *teleSlot {
	key := teleKey{deviceID, moduleIndex}

	c.mapMu.RLock()
	s, ok := c.tele[key]
	c.mapMu.RUnlock()
	if ok {
		return s
	}

	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	if s, ok := c.tele[key]; ok {
		return s
	}
	s = &teleSlot{entry: types.TelemetryEntry{
		DeviceID:       deviceID,
		ModuleIndex:    moduleIndex,
		PendingQueries: make(map[types.Kind]bool),
	}}
	c.tele[key] = s
	return s
}

func (c *Cache) metaSlotFor(deviceID string) *metaSlot {
	c.mapMu.RLock()
	s, ok := c.meta[deviceID]
	c.mapMu.RUnlock()
	if ok {
		return s
	}

	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	if s, ok := c.meta[deviceID]; ok {
		return s
	}
	s = &metaSlot{entry: types.MetadataEntry{DeviceID: deviceID}}
	c.meta[deviceID] = s
	return s
}

// WithTelemetry runs fn with exclusive access to the (deviceID,
// moduleIndex) telemetry entry, creating it on first reference (data model
// invariant 3). The entry is passed by pointer so fn can mutate it in
// place; the slot's mutex bounds the read-modify-write to this one entry.
func (c *Cache) WithTelemetry(deviceID string, moduleIndex int, fn func(*types.TelemetryEntry)) {
	s := c.teleSlotFor(deviceID, moduleIndex)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.entry)
}

// WithMetadata runs fn with exclusive access to the deviceID metadata
// entry, creating it on first reference.
func (c *Cache) WithMetadata(deviceID string, fn func(*types.MetadataEntry)) {
	s := c.metaSlotFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.entry)
}

// GetTelemetry returns a copy of the telemetry entry if it exists.
func (c *Cache) GetTelemetry(deviceID string, moduleIndex int) (types.TelemetryEntry, bool) {
	key := teleKey{deviceID, moduleIndex}

	c.mapMu.RLock()
	s, ok := c.tele[key]
	c.mapMu.RUnlock()
	if !ok {
		return types.TelemetryEntry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTelemetry(s.entry), true
}

// GetMetadata returns a copy of the metadata entry if it exists.
func (c *Cache) GetMetadata(deviceID string) (types.MetadataEntry, bool) {
	c.mapMu.RLock()
	s, ok := c.meta[deviceID]
	c.mapMu.RUnlock()
	if !ok {
		return types.MetadataEntry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMetadata(s.entry), true
}

// ListDeviceIDs returns every device that has a metadata entry, in no
// particular order; callers needing a stable order should sort it.
func (c *Cache) ListDeviceIDs() []string {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	ids := make([]string, 0, len(c.meta))
	for id := range c.meta {
		ids = append(ids, id)
	}
	return ids
}

// ListTelemetryKeys returns every (deviceID, moduleIndex) pair with a
// telemetry entry.
func (c *Cache) ListTelemetryKeys() []struct {
	DeviceID    string
	ModuleIndex int
} {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	out := make([]struct {
		DeviceID    string
		ModuleIndex int
	}, 0, len(c.tele))
	for k := range c.tele {
		out = append(out, struct {
			DeviceID    string
			ModuleIndex int
		}{k.deviceID, k.moduleIndex})
	}
	return out
}

func copyTelemetry(e types.TelemetryEntry) types.TelemetryEntry {
	cp := e
	cp.TempHum = append([]types.THEntry(nil), e.TempHum...)
	cp.Noise = append([]types.NoiseEntry(nil), e.Noise...)
	cp.Rfid = append([]types.RfidEntry(nil), e.Rfid...)
	if e.DoorState != nil {
		v := *e.DoorState
		cp.DoorState = &v
	}
	if e.Door1State != nil {
		v := *e.Door1State
		cp.Door1State = &v
	}
	if e.Door2State != nil {
		v := *e.Door2State
		cp.Door2State = &v
	}
	cp.PendingQueries = make(map[types.Kind]bool, len(e.PendingQueries))
	for k, v := range e.PendingQueries {
		cp.PendingQueries[k] = v
	}
	return cp
}

func copyMetadata(e types.MetadataEntry) types.MetadataEntry {
	cp := e
	cp.ActiveModules = append([]types.ActiveModule(nil), e.ActiveModules...)
	return cp
}

// MarkPending sets a pending-query marker for kind on the telemetry entry
// and reports whether it was newly set (false means it was already
// pending). This backs the at-most-one-in-flight refinement of design
// note §9 open question (a); it is best-effort, not a hard guarantee.
func (c *Cache) MarkPending(deviceID string, moduleIndex int, kind types.Kind) bool {
	var wasSet bool
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		if e.PendingQueries == nil {
			e.PendingQueries = make(map[types.Kind]bool)
		}
		if e.PendingQueries[kind] {
			wasSet = true
			return
		}
		e.PendingQueries[kind] = true
	})
	return !wasSet
}

// ClearPending clears the pending-query marker for kind, called when the
// matching response kind is normalized.
func (c *Cache) ClearPending(deviceID string, moduleIndex int, kind types.Kind) {
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		delete(e.PendingQueries, kind)
	})
}

// UpdateHeartbeat applies one heartbeat slot to a telemetry entry:
// isOnline=true, lastSeenHeartbeat=now, moduleId and uTotal refreshed.
func (c *Cache) UpdateHeartbeat(deviceID string, moduleIndex int, family types.DeviceFamily, moduleID string, uTotal int, now time.Time) {
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		e.DeviceFamily = family
		e.ModuleID = moduleID
		e.UTotal = uTotal
		e.IsOnline = true
		e.LastSeenHeartbeat = now
	})
}

// SetRfidSnapshot replaces the telemetry entry's rfid snapshot and returns
// the prior snapshot for diffing (data model invariant 5: rfid is always
// the latest snapshot, never a delta).
func (c *Cache) SetRfidSnapshot(deviceID string, moduleIndex int, next []types.RfidEntry, now time.Time) []types.RfidEntry {
	var prior []types.RfidEntry
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		prior = e.Rfid
		e.Rfid = next
		e.LastSeenRfid = now
	})
	return prior
}

// SetTempHum replaces the telemetry entry's temp/hum readings.
func (c *Cache) SetTempHum(deviceID string, moduleIndex int, next []types.THEntry, now time.Time) {
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		e.TempHum = next
		e.LastSeenTempHum = now
	})
}

// SetNoise replaces the telemetry entry's noise readings.
func (c *Cache) SetNoise(deviceID string, moduleIndex int, next []types.NoiseEntry, now time.Time) {
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		e.Noise = next
		e.LastSeenNoise = now
	})
}

// SetDoor replaces the telemetry entry's door state.
func (c *Cache) SetDoor(deviceID string, moduleIndex int, doorState, door1, door2 *int, now time.Time) {
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		e.DoorState = doorState
		e.Door1State = door1
		e.Door2State = door2
		e.LastSeenDoor = now
	})
}

// MarkOffline sets isOnline=false without touching lastSeenHeartbeat,
// used by the watchdog (§4.8). It reports whether the entry transitioned
// from online to offline.
func (c *Cache) MarkOffline(deviceID string, moduleIndex int) (transitioned bool) {
	c.WithTelemetry(deviceID, moduleIndex, func(e *types.TelemetryEntry) {
		if e.IsOnline {
			transitioned = true
		}
		e.IsOnline = false
	})
	return transitioned
}
