// Package familyj decodes the JSON frames published by FamilyJ gateways
// into the same Intermediate Form the FamilyB decoder produces, so the
// normalizer never has to branch on wire family beyond what each kind's
// contract already demands.
package familyj

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

var msgTypeToKind = map[string]types.Kind{
	"heart_beat_req":                       types.KindHeartbeat,
	"u_state_resp":                         types.KindRfidSnapshot,
	"u_state_changed_notify_req":           types.KindRfidEvent,
	"temper_humidity_exception_nofity_req": types.KindTempHum,
	"temper_humidity_resp":                 types.KindTempHum,
	"door_state_changed_notify_req":        types.KindDoorState,
	"door_state_resp":                      types.KindDoorState,
	"devies_init_req":                      types.KindDeviceMetadata,
	"devices_changed_req":                  types.KindDeviceMetadata,
	"u_color":                              types.KindQryColorResp,
	"set_module_property_result_req":       types.KindSetColorResp,
	"clear_u_warning":                      types.KindClearAlarmResp,
}

// Decoder implements the FamilyJ half of the Decoder capability (§4.2).
type Decoder struct {
	Now func() time.Time
}

func New() *Decoder {
	return &Decoder{Now: time.Now}
}

// Decode parses jsonText once; any parse failure is reported via
// apperr.DecodeError and no frame is produced. Unknown msg_type values are
// not an error: the decoder still emits an IF of kind UNKNOWN carrying the
// raw body, per §4.2.
func (d *Decoder) Decode(topic string, jsonText []byte) (*types.IF, error) {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	var raw map[string]any
	if err := json.Unmarshal(jsonText, &raw); err != nil {
		return nil, &apperr.DecodeError{Source: apperr.SourceDecoderJ, Topic: topic, Detail: "invalid json", Err: err}
	}

	msgType, _ := raw["msg_type"].(string)
	kind, known := msgTypeToKind[msgType]

	deviceID := deviceIDOf(raw, msgType)
	messageID := stringField(raw, "uuid_number")

	ifr := &types.IF{
		DeviceFamily: types.FamilyJ,
		DeviceID:     deviceID,
		MessageID:    messageID,
		Topic:        topic,
		ReceivedAt:   now(),
		RawReference: jsonText,
	}

	if ip, ok := raw["gateway_ip"].(string); ok {
		ifr.DeviceInfo = &types.DeviceInfo{IP: ip}
	}
	if mac, ok := raw["gateway_mac"].(string); ok {
		if ifr.DeviceInfo == nil {
			ifr.DeviceInfo = &types.DeviceInfo{}
		}
		ifr.DeviceInfo.Mac = mac
	}

	if !known {
		ifr.Kind = types.KindUnknown
		ifr.RawBody = raw
		return ifr, nil
	}

	ifr.Kind = kind

	switch kind {
	case types.KindHeartbeat:
		decodeHeartbeat(ifr, raw)
	case types.KindRfidSnapshot:
		decodeRfidSnapshot(ifr, raw)
	case types.KindRfidEvent:
		decodeRfidEvent(ifr, raw)
	case types.KindTempHum:
		decodeTempHum(ifr, raw)
	case types.KindDoorState:
		decodeDoorState(ifr, raw)
	case types.KindDeviceMetadata:
		decodeDeviceMetadata(ifr, raw, msgType)
	case types.KindQryColorResp, types.KindSetColorResp, types.KindClearAlarmResp:
		decodeCmdResp(ifr, raw)
	}

	return ifr, nil
}

func deviceIDOf(raw map[string]any, msgType string) string {
	if msgType == "heart_beat_req" {
		if moduleType, _ := raw["module_type"].(string); moduleType == "mt_gw" {
			if v := stringField(raw, "module_sn"); v != "" {
				return v
			}
		}
	}
	for _, key := range []string{"gateway_sn", "gateway_id", "device_id", "dev_id", "sn"} {
		if v := stringField(raw, key); v != "" {
			return v
		}
	}
	return ""
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

func intField(raw map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return int(v), true
		case string:
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func nullableFloat(raw map[string]any, key string) *float64 {
	v, ok := raw[key].(float64)
	if !ok || v == 0 {
		return nil
	}
	return &v
}

func boolFromFlag(raw map[string]any, key string) bool {
	switch v := raw[key].(type) {
	case float64:
		return v == 1
	case bool:
		return v
	default:
		return false
	}
}

func decodeHeartbeat(ifr *types.IF, raw map[string]any) {
	modules, _ := raw["modules"].([]any)
	for _, m := range modules {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		idx, _ := intField(mm, "module_index", "host_gateway_port_index", "index")
		id := stringField(mm, "module_sn")
		if id == "" {
			id = stringField(mm, "extend_module_sn")
		}
		if id == "" {
			id = stringField(mm, "module_id")
		}
		uTotal, _ := intField(mm, "module_u_num")

		ifr.Modules = append(ifr.Modules, types.IFModule{
			ModuleIndex: idx,
			ModuleID:    id,
			UTotal:      uTotal,
		})
	}
}

func decodeRfidSnapshot(ifr *types.IF, raw map[string]any) {
	moduleIndex, _ := intField(raw, "module_index", "host_gateway_port_index", "index")
	moduleID := stringField(raw, "module_sn")
	if moduleID == "" {
		moduleID = stringField(raw, "extend_module_sn")
	}
	if moduleID == "" {
		moduleID = stringField(raw, "module_id")
	}

	ifr.ModuleIndex = moduleIndex
	ifr.ModuleID = moduleID

	items, _ := raw["u_list"].([]any)
	readings := make([]types.RfidReading, 0, len(items))
	for _, it := range items {
		im, ok := it.(map[string]any)
		if !ok {
			continue
		}
		tagID := stringField(im, "tag_code")
		if tagID == "" {
			continue
		}
		uIndex, _ := intField(im, "u_index")
		readings = append(readings, types.RfidReading{
			UIndex:  uIndex,
			TagID:   tagID,
			IsAlarm: boolFromFlag(im, "warning"),
		})
	}

	ifr.Modules = append(ifr.Modules, types.IFModule{
		ModuleIndex: moduleIndex,
		ModuleID:    moduleID,
		Rfid:        readings,
	})
}

func decodeRfidEvent(ifr *types.IF, raw map[string]any) {
	moduleIndex, _ := intField(raw, "module_index", "host_gateway_port_index", "index")
	ifr.ModuleIndex = moduleIndex
	ifr.ModuleID = stringField(raw, "module_sn")

	newState, _ := intField(raw, "new_state")
	oldState, _ := intField(raw, "old_state")

	action := ""
	switch {
	case newState == 1 && oldState == 0:
		action = types.ActionAttached
	case newState == 0 && oldState == 1:
		action = types.ActionDetached
	}

	ifr.RawBody = map[string]any{
		"uIndex": firstIntField(raw, "u_index"),
		"tagId":  stringField(raw, "tag_code"),
		"action": action,
	}
}

func firstIntField(raw map[string]any, key string) int {
	v, _ := intField(raw, key)
	return v
}

func decodeTempHum(ifr *types.IF, raw map[string]any) {
	moduleIndex, _ := intField(raw, "module_index", "host_gateway_port_index", "index")
	moduleID := stringField(raw, "module_sn")
	ifr.ModuleIndex = moduleIndex
	ifr.ModuleID = moduleID

	thIndex, _ := intField(raw, "temper_position")

	ifr.Modules = append(ifr.Modules, types.IFModule{
		ModuleIndex: moduleIndex,
		ModuleID:    moduleID,
		TempHum: []types.THReading{{
			ThIndex: thIndex,
			Temp:    nullableFloat(raw, "temper_swot"),
			Hum:     nullableFloat(raw, "hygrometer_swot"),
		}},
	})
}

func decodeDoorState(ifr *types.IF, raw map[string]any) {
	moduleIndex, _ := intField(raw, "module_index", "host_gateway_port_index", "index")
	moduleID := stringField(raw, "module_sn")
	ifr.ModuleIndex = moduleIndex
	ifr.ModuleID = moduleID

	door := &types.DoorReading{}
	if v, ok := intField(raw, "new_state"); ok && hasSingleDoor(raw) {
		door.DoorState = &v
	}
	if v, ok := intField(raw, "new_state1"); ok {
		door.Door1State = &v
	}
	if v, ok := intField(raw, "new_state2"); ok {
		door.Door2State = &v
	}

	ifr.Modules = append(ifr.Modules, types.IFModule{
		ModuleIndex: moduleIndex,
		ModuleID:    moduleID,
		Door:        door,
	})
}

func hasSingleDoor(raw map[string]any) bool {
	_, dual1 := raw["new_state1"]
	_, dual2 := raw["new_state2"]
	return !dual1 && !dual2
}

func decodeDeviceMetadata(ifr *types.IF, raw map[string]any, msgType string) {
	info := ifr.DeviceInfo
	if info == nil {
		info = &types.DeviceInfo{}
		ifr.DeviceInfo = info
	}
	if v := stringField(raw, "fw_version"); v != "" {
		info.FwVer = v
	}

	modules, _ := raw["modules"].([]any)
	for _, m := range modules {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		idx, _ := intField(mm, "module_index", "host_gateway_port_index", "index")
		id := stringField(mm, "module_sn")
		if id == "" {
			id = stringField(mm, "extend_module_sn")
		}
		fwVer := stringField(mm, "module_sw_version")
		uTotal, _ := intField(mm, "module_u_num")

		info.Modules = append(info.Modules, types.ModuleInfoEntry{
			ModuleIndex: idx,
			ModuleID:    id,
			FwVer:       fwVer,
			UTotal:      uTotal,
		})
	}
}

func decodeCmdResp(ifr *types.IF, raw map[string]any) {
	moduleIndex, _ := intField(raw, "module_index", "host_gateway_port_index", "index")
	ifr.ModuleIndex = moduleIndex

	result := "Success"
	if v, ok := raw["result"]; ok {
		if s, ok := v.(string); ok && s != "" && s != "ok" && s != "success" {
			result = "Failure"
		}
	}
	ifr.Result = result

	if colorName, ok := raw["color"]; ok {
		ifr.RawBody = map[string]any{"colorName": colorName, "colorCode": raw["code"]}
	}
}
