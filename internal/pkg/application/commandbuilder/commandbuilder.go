// Package commandbuilder turns a family-agnostic CommandRequest into the
// wire bytes or structured envelope each protocol family expects (§4.6).
// It never touches the shadow cache or the broker directly; main.go wires
// its output to the messaging layer, the same split the teacher draws
// between building a notification payload and a SubscriberConfig's actual
// delivery.
package commandbuilder

import (
	"fmt"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// Built is the outbound artifact: a byte frame for FamilyB, a JSON-able
// envelope for FamilyJ, plus the topic to publish it on.
type Built struct {
	Topic   string
	Bytes   []byte
	Payload map[string]any
}

// Build validates req and renders the wire-level command, per §4.6.
func Build(req types.CommandRequest) (*Built, error) {
	if req.DeviceID == "" {
		return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "deviceId is required"}
	}

	topic := fmt.Sprintf("%sDownload/%s", req.DeviceFamily, req.DeviceID)

	if req.DeviceFamily == types.FamilyB {
		b, err := buildFamilyB(req)
		if err != nil {
			return nil, err
		}
		return &Built{Topic: topic, Bytes: b}, nil
	}

	payload, err := buildFamilyJ(req)
	if err != nil {
		return nil, err
	}
	return &Built{Topic: topic, Payload: payload}, nil
}

func requireModuleIndex(req types.CommandRequest) (int, error) {
	v, ok := req.Payload["moduleIndex"]
	if !ok {
		return 0, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "moduleIndex is required"}
	}
	idx, ok := toInt(v)
	if !ok {
		return 0, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "moduleIndex must be numeric"}
	}
	return idx, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func buildFamilyB(req types.CommandRequest) ([]byte, error) {
	switch req.Kind {
	case types.KindQryRfidSnapshot:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return []byte{0xE9, 0x01, byte(idx)}, nil

	case types.KindQryTempHum:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return []byte{0xE9, 0x02, byte(idx)}, nil

	case types.KindQryDoorState:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return []byte{0xE9, 0x03, byte(idx)}, nil

	case types.KindQryNoiseLevel:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return []byte{0xE9, 0x04, byte(idx)}, nil

	case types.KindQryDeviceInfo:
		return []byte{0xEF, 0x01, 0x00}, nil

	case types.KindQryModuleInfo:
		return []byte{0xEF, 0x02, 0x00}, nil

	case types.KindQryColor:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return []byte{0xE4, byte(idx)}, nil

	case types.KindClearAlarm:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		sensorIndex, ok := toInt(req.Payload["sensorIndex"])
		if !ok {
			return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "sensorIndex is required"}
		}
		return []byte{0xE2, byte(idx), byte(sensorIndex)}, nil

	case types.KindSetColor:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		entries, ok := req.Payload["colors"].([]map[string]any)
		if !ok || len(entries) == 0 {
			return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "sensorIndex/colorCode pairs are required"}
		}
		frame := []byte{0xE1, byte(idx)}
		for _, e := range entries {
			sensorIndex, ok1 := toInt(e["sensorIndex"])
			colorCode, ok2 := toInt(e["colorCode"])
			if !ok1 || !ok2 {
				return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "sensorIndex/colorCode must be numeric"}
			}
			frame = append(frame, byte(sensorIndex), byte(colorCode))
		}
		return frame, nil

	default:
		return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "unsupported kind for FamilyB"}
	}
}

func buildFamilyJ(req types.CommandRequest) (map[string]any, error) {
	switch req.Kind {
	case types.KindSetColor:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		entries, ok := req.Payload["colors"].([]map[string]any)
		if !ok || len(entries) == 0 {
			return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "sensorIndex/colorCode pairs are required"}
		}
		colorData := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			sensorIndex, ok1 := toInt(e["sensorIndex"])
			colorCode, ok2 := toInt(e["colorCode"])
			if !ok1 || !ok2 {
				return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "sensorIndex/colorCode must be numeric"}
			}
			colorData = append(colorData, map[string]any{"u_index": sensorIndex, "color_code": colorCode})
		}
		return map[string]any{
			"msg_type":          "set_module_property_req",
			"set_property_type": 8001,
			"data": []map[string]any{{
				"host_gateway_port_index": idx,
				"u_color_data":            colorData,
			}},
		}, nil

	case types.KindClearAlarm:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		sensorIndex, ok := toInt(req.Payload["sensorIndex"])
		if !ok {
			return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "sensorIndex is required"}
		}
		return map[string]any{
			"msg_type": "clear_u_warning",
			"data": []map[string]any{{
				"index":        idx,
				"warning_data": []int{sensorIndex},
			}},
		}, nil

	case types.KindQryRfidSnapshot:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		moduleID, _ := req.Payload["moduleId"].(string)
		if moduleID == "" {
			return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "moduleId is required"}
		}
		return map[string]any{
			"msg_type": "u_state_req",
			"data": []map[string]any{{
				"host_gateway_port_index": idx,
				"extend_module_sn":        moduleID,
				"u_index_list":            nil,
			}},
		}, nil

	case types.KindQryTempHum:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"msg_type": "temper_humidity_req",
			"data":     []map[string]any{{"host_gateway_port_index": idx}},
		}, nil

	case types.KindQryDoorState:
		idx, err := requireModuleIndex(req)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"msg_type": "door_state_req",
			"data":     []map[string]any{{"host_gateway_port_index": idx}},
		}, nil

	case types.KindQryDevModInfo:
		return map[string]any{"msg_type": "devies_init_req"}, nil

	default:
		return nil, &apperr.CommandBuildError{Kind: string(req.Kind), Family: string(req.DeviceFamily), Detail: "unsupported kind for FamilyJ"}
	}
}
