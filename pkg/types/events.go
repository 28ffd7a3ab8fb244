package types

import "time"

// Broker-facing event payloads. Each implements the TopicName()/
// ContentType() pair the messaging-golang client expects of anything
// passed to MsgContext.PublishOnTopic, following the same shape as the
// teacher's pkg/types/events.go.

// ModuleOfflineEvent is optionally published by the watchdog (§4.8: "a
// device-status change event is optional") when a telemetry entry's
// heartbeat goes stale.
type ModuleOfflineEvent struct {
	DeviceID    string    `json:"deviceId"`
	ModuleIndex int       `json:"moduleIndex"`
	ModuleID    string    `json:"moduleId"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *ModuleOfflineEvent) ContentType() string { return "application/json" }
func (e *ModuleOfflineEvent) TopicName() string   { return "module.offline" }

// ModuleOnlineEvent is the counterpart payload for a heartbeat that
// restores a previously stale module. Nothing in this module publishes it:
// the return to online happens in the shadow cache without an event.
type ModuleOnlineEvent struct {
	DeviceID    string    `json:"deviceId"`
	ModuleIndex int       `json:"moduleIndex"`
	ModuleID    string    `json:"moduleId"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *ModuleOnlineEvent) ContentType() string { return "application/json" }
func (e *ModuleOnlineEvent) TopicName() string   { return "module.online" }

// MetaChangedEvent mirrors a META_CHANGED_EVENT's description list as a
// broker payload. Nothing in this module publishes it; metadata changes
// reach consumers only as META_CHANGED_EVENT normalized events on the bus
// and the push stream.
type MetaChangedEvent struct {
	DeviceID     string    `json:"deviceId"`
	Descriptions []string  `json:"descriptions"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *MetaChangedEvent) ContentType() string { return "application/json" }
func (e *MetaChangedEvent) TopicName() string    { return "device.metaChanged" }
