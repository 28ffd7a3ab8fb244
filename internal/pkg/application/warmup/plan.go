// Package warmup plans the self-healing and warmup queries a HEARTBEAT
// triggers (§4.5) and paces their emission onto the outbound command path.
// Plan is a pure function deliberately kept free of shadow-cache access: it
// is handed an already-read snapshot so it can be unit tested without a
// live cache, the same separation the teacher draws between its watchdog's
// read loop and the Datastore it reads from.
package warmup

import "time"

// Config holds the tunables named in §4.5, all with the spec's defaults.
type Config struct {
	Enabled          bool
	TempHumStaleness time.Duration
	RfidStaleness    time.Duration
	StaggerDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		TempHumStaleness: 5 * time.Minute,
		RfidStaleness:    60 * time.Minute,
		StaggerDelay:     500 * time.Millisecond,
	}
}

// ModuleSnapshot is the per-module slice of shadow state Plan needs to
// decide warmup queries; it never exposes the whole TelemetryEntry so that
// a caller cannot accidentally mutate shared cache state from this path.
type ModuleSnapshot struct {
	ModuleIndex     int
	ModuleID        string
	FwVerKnown      bool
	TempHumEmpty    bool
	LastSeenTempHum time.Time
	RfidEmpty       bool
	LastSeenRfid    time.Time
	DoorUnknown     bool
}

// HeartbeatSnapshot is everything Plan needs to know about a device at the
// moment a HEARTBEAT arrived.
type HeartbeatSnapshot struct {
	DeviceID     string
	DeviceFamily string
	Now          time.Time
	MetaIPKnown  bool
	MetaMacKnown bool
	Modules      []ModuleSnapshot
}

// Query is one planned outbound query, already ordered: self-healing
// first, then per-module warmup in heartbeat-slot order (§4.5).
type Query struct {
	DeviceID    string
	Kind        string
	ModuleIndex int
}

const (
	KindQryDeviceInfo   = "QRY_DEVICE_INFO"
	KindQryDevModInfo   = "QRY_DEV_MOD_INFO"
	KindQryModuleInfo   = "QRY_MODULE_INFO"
	KindQryTempHum      = "QRY_TEMP_HUM"
	KindQryRfidSnapshot = "QRY_RFID_SNAPSHOT"
	KindQryDoorState    = "QRY_DOOR_STATE"

	familyB = "B"
	familyJ = "J"
)

// Plan derives the ordered list of queries a heartbeat should trigger.
// Self-healing runs unconditionally; warmup only when cfg.Enabled.
func Plan(cfg Config, hb HeartbeatSnapshot) []Query {
	var queries []Query

	if !hb.MetaIPKnown || !hb.MetaMacKnown {
		if hb.DeviceFamily == familyJ {
			queries = append(queries, Query{DeviceID: hb.DeviceID, Kind: KindQryDevModInfo})
		} else {
			queries = append(queries, Query{DeviceID: hb.DeviceID, Kind: KindQryDeviceInfo})
		}
	}

	if hb.DeviceFamily == familyB {
		for _, m := range hb.Modules {
			if !m.FwVerKnown {
				queries = append(queries, Query{DeviceID: hb.DeviceID, Kind: KindQryModuleInfo, ModuleIndex: m.ModuleIndex})
			}
		}
	}

	if !cfg.Enabled {
		return queries
	}

	for _, m := range hb.Modules {
		if m.TempHumEmpty || hb.Now.Sub(m.LastSeenTempHum) > cfg.TempHumStaleness {
			queries = append(queries, Query{DeviceID: hb.DeviceID, Kind: KindQryTempHum, ModuleIndex: m.ModuleIndex})
		}
		if m.RfidEmpty || hb.Now.Sub(m.LastSeenRfid) > cfg.RfidStaleness {
			queries = append(queries, Query{DeviceID: hb.DeviceID, Kind: KindQryRfidSnapshot, ModuleIndex: m.ModuleIndex})
		}
		if m.DoorUnknown {
			queries = append(queries, Query{DeviceID: hb.DeviceID, Kind: KindQryDoorState, ModuleIndex: m.ModuleIndex})
		}
	}

	return queries
}
