// Package types holds the wire-facing data model shared by every layer of
// the ingest pipeline: the decoders' Intermediate Form, the normalizer's
// Normalized Event, and the shadow cache's entry shapes. It mirrors the
// teacher's convention of keeping public DTOs under pkg/ rather than
// internal/, since other services embed this package as a client library.
package types

import "time"

// DeviceFamily identifies which wire protocol a device speaks.
type DeviceFamily string

const (
	FamilyB DeviceFamily = "B"
	FamilyJ DeviceFamily = "J"
)

// Kind is the closed set of normalized event kinds, plus the outbound
// command kinds the command builder understands.
type Kind string

const (
	KindHeartbeat      Kind = "HEARTBEAT"
	KindRfidSnapshot   Kind = "RFID_SNAPSHOT"
	KindRfidEvent      Kind = "RFID_EVENT"
	KindTempHum        Kind = "TEMP_HUM"
	KindNoiseLevel     Kind = "NOISE_LEVEL"
	KindDoorState      Kind = "DOOR_STATE"
	KindDeviceMetadata Kind = "DEVICE_METADATA"
	KindMetaChanged    Kind = "META_CHANGED_EVENT"
	KindQryColorResp   Kind = "QRY_COLOR_RESP"
	KindSetColorResp   Kind = "SET_COLOR_RESP"
	KindClearAlarmResp Kind = "CLEAR_ALARM_RESP"
	KindUnknown        Kind = "UNKNOWN"

	// Outbound command kinds.
	KindQryRfidSnapshot Kind = "QRY_RFID_SNAPSHOT"
	KindQryTempHum      Kind = "QRY_TEMP_HUM"
	KindQryDoorState    Kind = "QRY_DOOR_STATE"
	KindQryNoiseLevel   Kind = "QRY_NOISE_LEVEL"
	KindQryColor        Kind = "QRY_COLOR"
	KindQryDeviceInfo   Kind = "QRY_DEVICE_INFO"
	KindQryModuleInfo   Kind = "QRY_MODULE_INFO"
	KindQryDevModInfo   Kind = "QRY_DEV_MOD_INFO"
	KindSetColor        Kind = "SET_COLOR"
	KindClearAlarm      Kind = "CLEAR_ALARM"
)

// DeviceLevelKinds is the set of normalized-event kinds that always carry
// moduleIndex == 0 (data model invariant 1).
var DeviceLevelKinds = map[Kind]bool{
	KindHeartbeat:      true,
	KindDeviceMetadata: true,
	KindMetaChanged:    true,
	KindQryColorResp:   true,
	KindSetColorResp:   true,
	KindClearAlarmResp: true,
}

// RFID action names (rfid_event.action, §6).
const (
	ActionAttached = "ATTACHED"
	ActionDetached = "DETACHED"
	ActionAlarmOn  = "ALARM_ON"
	ActionAlarmOff = "ALARM_OFF"
)

// Sensor index ranges (§3).
const (
	RfidIndexMin    = 1
	RfidIndexMax    = 54
	TempHumIndexMin = 10
	TempHumIndexMax = 15
	NoiseIndexMin   = 16
	NoiseIndexMax   = 18
)

// TempHumShift converts a 1..6 source thIndex into the unified sensorIndex
// range 10..15.
func TempHumShift(thIndex int) int { return thIndex + 9 }

// NoiseShift converts a 1..3 source nsIndex into the unified sensorIndex
// range 16..18.
func NoiseShift(nsIndex int) int { return nsIndex + 15 }

// IF is the decoder output: a device-agnostic envelope plus a kind-shaped
// body. moduleIndex/moduleId/modules are populated only for kinds that
// carry module-scoped data.
type IF struct {
	DeviceFamily DeviceFamily `json:"deviceFamily"`
	DeviceID     string       `json:"deviceId"`
	Kind         Kind         `json:"kind"`
	MessageID    string       `json:"messageId"`
	Topic        string       `json:"topic"`
	RawReference []byte       `json:"-"`
	ReceivedAt   time.Time    `json:"receivedAt"`
	ModuleIndex  int          `json:"moduleIndex,omitempty"`
	ModuleID     string       `json:"moduleId,omitempty"`
	Modules      []IFModule   `json:"modules,omitempty"`
	Result       string       `json:"result,omitempty"`
	OriginalReq  []byte       `json:"-"`
	DeviceInfo   *DeviceInfo  `json:"deviceInfo,omitempty"`
	RawBody      any          `json:"rawBody,omitempty"`
}

// IFModule carries one module's worth of raw readings as decoded from the
// wire, before sensorIndex normalization/shifting by the normalizer.
type IFModule struct {
	ModuleIndex int            `json:"moduleIndex"`
	ModuleID    string         `json:"moduleId"`
	UTotal      int            `json:"uTotal,omitempty"`
	FwVer       string         `json:"fwVer,omitempty"`
	Rfid        []RfidReading  `json:"rfid,omitempty"`
	TempHum     []THReading    `json:"tempHum,omitempty"`
	Noise       []NoiseReading `json:"noise,omitempty"`
	Door        *DoorReading   `json:"door,omitempty"`
}

type RfidReading struct {
	UIndex  int    `json:"uIndex"`
	TagID   string `json:"tagId"`
	IsAlarm bool   `json:"isAlarm"`
}

type THReading struct {
	ThIndex int      `json:"thIndex"`
	Temp    *float64 `json:"temp"`
	Hum     *float64 `json:"hum"`
}

type NoiseReading struct {
	NsIndex int      `json:"nsIndex"`
	Noise   *float64 `json:"noise"`
}

type DoorReading struct {
	DoorState  *int `json:"doorState"`
	Door1State *int `json:"door1State"`
	Door2State *int `json:"door2State"`
}

// DeviceInfo is the device-level metadata carried by DEVICE_INFO /
// DEV_MOD_INFO / UTOTAL_CHANGED frames.
type DeviceInfo struct {
	IP        string            `json:"ip,omitempty"`
	Mac       string            `json:"mac,omitempty"`
	FwVer     string            `json:"fwVer,omitempty"`
	Netmask   string            `json:"netmask,omitempty"`
	GatewayIP string            `json:"gatewayIp,omitempty"`
	Modules   []ModuleInfoEntry `json:"modules,omitempty"`
}

type ModuleInfoEntry struct {
	ModuleIndex int    `json:"moduleIndex"`
	ModuleID    string `json:"moduleId,omitempty"`
	FwVer       string `json:"fwVer,omitempty"`
	UTotal      int    `json:"uTotal,omitempty"`
}

// NormalizedEvent is the normalizer's output and the push-stream payload.
type NormalizedEvent struct {
	DeviceID     string       `json:"deviceId"`
	DeviceFamily DeviceFamily `json:"deviceFamily"`
	Kind         Kind         `json:"kind"`
	MessageID    string       `json:"messageId"`
	ModuleIndex  int          `json:"moduleIndex"`
	ModuleID     string       `json:"moduleId"`
	Payload      []Record     `json:"payload"`
	IP           string       `json:"ip,omitempty"`
	Mac          string       `json:"mac,omitempty"`
	FwVer        string       `json:"fwVer,omitempty"`
	Netmask      string       `json:"netmask,omitempty"`
	GatewayIP    string       `json:"gatewayIp,omitempty"`
	EmittedAt    time.Time    `json:"-"`
}

// Record is an ordered payload element. It carries a superset of fields;
// kind-specific constructors in the normalizer populate only the relevant
// ones.
type Record map[string]any

// TelemetryEntry is the shadow's per-(deviceId,moduleIndex) live state.
type TelemetryEntry struct {
	DeviceID          string
	DeviceFamily      DeviceFamily
	ModuleIndex       int
	ModuleID          string
	IsOnline          bool
	LastSeenHeartbeat time.Time
	UTotal            int
	TempHum           []THEntry
	LastSeenTempHum   time.Time
	Noise             []NoiseEntry
	LastSeenNoise     time.Time
	Rfid              []RfidEntry
	LastSeenRfid      time.Time
	DoorState         *int
	Door1State        *int
	Door2State        *int
	LastSeenDoor      time.Time
	PendingQueries    map[Kind]bool
}

type THEntry struct {
	SensorIndex int
	Temp        *float64
	Hum         *float64
}

type NoiseEntry struct {
	SensorIndex int
	Noise       *float64
}

type RfidEntry struct {
	SensorIndex int
	TagID       string
	IsAlarm     bool
}

// ActiveModule is one element of a metadata entry's activeModules list.
type ActiveModule struct {
	ModuleIndex int
	ModuleID    string
	FwVer       string
	UTotal      int
}

// MetadataEntry is the shadow's per-deviceId metadata state.
type MetadataEntry struct {
	DeviceID      string
	DeviceFamily  DeviceFamily
	IP            string
	Mac           string
	FwVer         string
	Netmask       string
	GatewayIP     string
	LastSeenInfo  time.Time
	ActiveModules []ActiveModule
}

// CommandRequest is what the normalizer/warmup controller/API hand to the
// command builder.
type CommandRequest struct {
	DeviceID     string
	DeviceFamily DeviceFamily
	Kind         Kind
	Payload      map[string]any
	CommandID    string
}

// HeartbeatSnapshot is one persisted heartbeat row returned by the
// history API (§6's /api/history/heartbeat/{deviceId}).
type HeartbeatSnapshot struct {
	DeviceID   string    `json:"deviceId"`
	ReceivedAt time.Time `json:"receivedAt"`
}
