// Package familyb decodes the compact binary protocol frames published by
// FamilyB gateways into the decoder-agnostic Intermediate Form (§4.1).
// It never panics or throws across an async boundary: every failure path
// returns a typed apperr.DecodeError and "no frame", the way the teacher's
// repositories return a wrapped error instead of bubbling a raw one.
package familyb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

const (
	hbHeartbeatA byte = 0xCC
	hbHeartbeatB byte = 0xCB
	hbDoorState  byte = 0xBA
	hbRfidSnap   byte = 0xBB
	hbCmdResp    byte = 0xAA

	cmdQryColor   byte = 0xE4
	cmdSetColor   byte = 0xE1
	cmdClearAlarm byte = 0xE2

	resultSuccess byte = 0xA1
)

// Decoder implements the common Decoder capability (design note §9) for
// FamilyB frames.
type Decoder struct {
	Now func() time.Time
}

// New constructs a FamilyB decoder using wall-clock time.
func New() *Decoder {
	return &Decoder{Now: time.Now}
}

// Decode identifies the frame kind by the strict precedence in §4.1 and
// parses the corresponding byte layout.
func (d *Decoder) Decode(topic string, payload []byte) (*types.IF, error) {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	if len(payload) == 0 {
		return nil, &apperr.DecodeError{Source: apperr.SourceDecoderB, Topic: topic, Detail: "empty payload"}
	}

	switch {
	case strings.HasSuffix(topic, "/LabelState"):
		return d.decodeRfidSnapshot(topic, payload, now())
	case strings.HasSuffix(topic, "/TemHum"):
		return d.decodeTempHum(topic, payload, now())
	case strings.HasSuffix(topic, "/Noise"):
		return d.decodeNoise(topic, payload, now())
	}

	first := payload[0]

	switch first {
	case hbDoorState:
		return d.decodeDoorState(topic, payload, now())
	case hbHeartbeatA, hbHeartbeatB:
		return d.decodeHeartbeat(topic, payload, now())
	case hbRfidSnap:
		return d.decodeRfidSnapshot(topic, payload, now())
	}

	if len(payload) >= 2 && first == 0xEF {
		switch payload[1] {
		case 0x01:
			return d.decodeDeviceInfo(topic, payload, now())
		case 0x02:
			return d.decodeModuleInfo(topic, payload, now())
		}
	}

	if first == hbCmdResp && len(payload) >= 7 {
		switch payload[6] {
		case cmdQryColor:
			return d.decodeCmdResp(topic, payload, types.KindQryColorResp, now())
		case cmdSetColor:
			return d.decodeCmdResp(topic, payload, types.KindSetColorResp, now())
		case cmdClearAlarm:
			return d.decodeCmdResp(topic, payload, types.KindClearAlarmResp, now())
		}
	}

	return nil, &apperr.DecodeError{Source: apperr.SourceDecoderB, Topic: topic, Detail: "unrecognized frame"}
}

func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return topic
}

func messageIDFromTail(payload []byte) string {
	n := len(payload)
	id := binary.BigEndian.Uint32(payload[n-4:])
	return fmt.Sprintf("%d", id)
}

func decodeTagID(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func decodeDottedIP(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

func decodeMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

// decodeFwVer renders a 4-byte firmware version the same dotted way as an
// IP address; the wire format does not distinguish the two numerically.
func decodeFwVer(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

func fail(topic, detail string) (*types.IF, error) {
	return nil, &apperr.DecodeError{Source: apperr.SourceDecoderB, Topic: topic, Detail: detail}
}

func (d *Decoder) decodeHeartbeat(topic string, p []byte, now time.Time) (*types.IF, error) {
	const want = 1 + 10*6 + 4
	if len(p) != want {
		return fail(topic, fmt.Sprintf("HEARTBEAT: expected %d bytes, got %d", want, len(p)))
	}

	modules := make([]types.IFModule, 0, 10)
	off := 1
	for i := 0; i < 10; i++ {
		moduleIndex := int(p[off])
		moduleID := binary.BigEndian.Uint32(p[off+1 : off+5])
		uTotal := int(p[off+5])
		off += 6

		if moduleID == 0 || moduleIndex > 5 {
			continue
		}

		modules = append(modules, types.IFModule{
			ModuleIndex: moduleIndex,
			ModuleID:    fmt.Sprintf("%d", moduleID),
			UTotal:      uTotal,
		})
	}

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindHeartbeat,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		Modules:      modules,
	}, nil
}

func (d *Decoder) decodeRfidSnapshot(topic string, p []byte, now time.Time) (*types.IF, error) {
	if len(p) < 9 {
		return fail(topic, "RFID_SNAPSHOT: frame too short")
	}

	moduleIndex := int(p[1])
	moduleID := binary.BigEndian.Uint32(p[2:6])
	uTotal := int(p[7])
	count := int(p[8])

	want := 9 + count*6 + 4
	if len(p) != want {
		return fail(topic, fmt.Sprintf("RFID_SNAPSHOT: expected %d bytes for count=%d, got %d", want, count, len(p)))
	}

	readings := make([]types.RfidReading, 0, count)
	off := 9
	for i := 0; i < count; i++ {
		uIndex := int(p[off])
		alarm := p[off+1] != 0
		tagID := decodeTagID(p[off+2 : off+6])
		off += 6

		readings = append(readings, types.RfidReading{
			UIndex:  uIndex,
			TagID:   tagID,
			IsAlarm: alarm,
		})
	}

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindRfidSnapshot,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		Modules: []types.IFModule{{
			ModuleIndex: moduleIndex,
			ModuleID:    fmt.Sprintf("%d", moduleID),
			UTotal:      uTotal,
			Rfid:        readings,
		}},
	}, nil
}

func (d *Decoder) decodeTempHum(topic string, p []byte, now time.Time) (*types.IF, error) {
	const want = 5 + 6*5 + 4
	if len(p) != want {
		return fail(topic, fmt.Sprintf("TEMP_HUM: expected %d bytes, got %d", want, len(p)))
	}

	moduleIndex := int(p[0])
	moduleID := binary.BigEndian.Uint32(p[1:5])

	readings := make([]types.THReading, 0, 6)
	off := 5
	for i := 0; i < 6; i++ {
		addr := p[off]
		tInt, tFrac := p[off+1], p[off+2]
		hInt, hFrac := p[off+3], p[off+4]
		off += 5

		if addr == 0 {
			continue
		}

		readings = append(readings, types.THReading{
			ThIndex: i + 1,
			Temp:    decodeFixedPoint(tInt, tFrac),
			Hum:     decodeFixedPoint(hInt, hFrac),
		})
	}

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindTempHum,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		Modules: []types.IFModule{{
			ModuleIndex: moduleIndex,
			ModuleID:    fmt.Sprintf("%d", moduleID),
			TempHum:     readings,
		}},
	}, nil
}

func (d *Decoder) decodeNoise(topic string, p []byte, now time.Time) (*types.IF, error) {
	const want = 5 + 3*3 + 4
	if len(p) != want {
		return fail(topic, fmt.Sprintf("NOISE_LEVEL: expected %d bytes, got %d", want, len(p)))
	}

	moduleIndex := int(p[0])
	moduleID := binary.BigEndian.Uint32(p[1:5])

	readings := make([]types.NoiseReading, 0, 3)
	off := 5
	for i := 0; i < 3; i++ {
		addr := p[off]
		nInt, nFrac := p[off+1], p[off+2]
		off += 3

		if addr == 0 {
			continue
		}

		readings = append(readings, types.NoiseReading{
			NsIndex: i + 1,
			Noise:   decodeFixedPoint(nInt, nFrac),
		})
	}

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindNoiseLevel,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		Modules: []types.IFModule{{
			ModuleIndex: moduleIndex,
			ModuleID:    fmt.Sprintf("%d", moduleID),
			Noise:       readings,
		}},
	}, nil
}

func (d *Decoder) decodeDoorState(topic string, p []byte, now time.Time) (*types.IF, error) {
	const want = 1 + 1 + 4 + 1 + 4
	if len(p) != want {
		return fail(topic, fmt.Sprintf("DOOR_STATE: expected %d bytes, got %d", want, len(p)))
	}

	moduleIndex := int(p[1])
	moduleID := binary.BigEndian.Uint32(p[2:6])
	state := int(p[6])

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindDoorState,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		Modules: []types.IFModule{{
			ModuleIndex: moduleIndex,
			ModuleID:    fmt.Sprintf("%d", moduleID),
			Door:        &types.DoorReading{DoorState: &state},
		}},
	}, nil
}

func (d *Decoder) decodeDeviceInfo(topic string, p []byte, now time.Time) (*types.IF, error) {
	const want = 2 + 2 + 4 + 4 + 4 + 4 + 6 + 4
	if len(p) != want {
		return fail(topic, fmt.Sprintf("DEVICE_INFO: expected %d bytes, got %d", want, len(p)))
	}

	off := 4 // header(2) + model(2)
	fwVer := decodeFwVer(p[off : off+4])
	off += 4
	ip := decodeDottedIP(p[off : off+4])
	off += 4
	mask := decodeDottedIP(p[off : off+4])
	off += 4
	gw := decodeDottedIP(p[off : off+4])
	off += 4
	mac := decodeMAC(p[off : off+6])

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindDeviceMetadata,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		DeviceInfo: &types.DeviceInfo{
			IP:        ip,
			Mac:       mac,
			FwVer:     fwVer,
			Netmask:   mask,
			GatewayIP: gw,
		},
	}, nil
}

func (d *Decoder) decodeModuleInfo(topic string, p []byte, now time.Time) (*types.IF, error) {
	if len(p) < 6 {
		return fail(topic, "MODULE_INFO: frame too short")
	}

	remaining := len(p) - 6
	if remaining < 0 || remaining%5 != 0 {
		return fail(topic, "MODULE_INFO: invalid length")
	}
	n := remaining / 5

	modules := make([]types.ModuleInfoEntry, 0, n)
	off := 2
	for i := 0; i < n; i++ {
		moduleIndex := int(p[off])
		fwVer := decodeFwVer(p[off+1 : off+5])
		off += 5

		modules = append(modules, types.ModuleInfoEntry{
			ModuleIndex: moduleIndex,
			FwVer:       fwVer,
		})
	}

	return &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceIDFromTopic(topic),
		Kind:         types.KindDeviceMetadata,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		DeviceInfo:   &types.DeviceInfo{Modules: modules},
	}, nil
}

func (d *Decoder) decodeCmdResp(topic string, p []byte, kind types.Kind, now time.Time) (*types.IF, error) {
	if len(p) < 10 {
		return fail(topic, "command response: frame too short")
	}

	deviceID := fmt.Sprintf("%d", binary.BigEndian.Uint32(p[1:5]))
	result := "Failure"
	if p[5] == resultSuccess {
		result = "Success"
	}

	var moduleIndex int
	var originalReq []byte
	var colorMap []int

	switch kind {
	case types.KindQryColorResp:
		if len(p) < 12 {
			return fail(topic, "QRY_COLOR_RESP: frame too short")
		}
		originalReq = append([]byte(nil), p[6:8]...)
		moduleIndex = int(originalReq[1])
		rawColorMap := p[8 : len(p)-4]
		colorMap = make([]int, len(rawColorMap))
		for i, b := range rawColorMap {
			colorMap[i] = int(b)
		}
	default:
		// SET_COLOR_RESP / CLEAR_ALARM_RESP: originalReq spans len-10
		// bytes after offset 6, no trailing payload.
		reqLen := len(p) - 10
		if reqLen < 2 {
			return fail(topic, "command response: originalReq too short")
		}
		originalReq = append([]byte(nil), p[6:6+reqLen]...)
		moduleIndex = int(originalReq[1])
	}

	ifr := &types.IF{
		DeviceFamily: types.FamilyB,
		DeviceID:     deviceID,
		Kind:         kind,
		MessageID:    messageIDFromTail(p),
		Topic:        topic,
		RawReference: p,
		ReceivedAt:   now,
		ModuleIndex:  moduleIndex,
		Result:       result,
		OriginalReq:  originalReq,
	}

	if colorMap != nil {
		ifr.RawBody = colorMap
	}

	return ifr, nil
}
