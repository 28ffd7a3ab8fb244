package normalizer

import (
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// handleTempHum implements §4.3 "TEMP_HUM / NOISE_LEVEL" for temperature
// and humidity: shift sensorIndex into the unified 10..15 range, drop
// entries where both values are null, replace the shadow field, and emit
// one event per module.
func (n *Normalizer) handleTempHum(ifr *types.IF) {
	now := ifr.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	for _, m := range ifr.Modules {
		entries := make([]types.THEntry, 0, len(m.TempHum))
		payload := make([]types.Record, 0, len(m.TempHum))

		for _, r := range m.TempHum {
			if r.Temp == nil && r.Hum == nil {
				continue
			}
			sensorIndex := types.TempHumShift(r.ThIndex)
			entries = append(entries, types.THEntry{SensorIndex: sensorIndex, Temp: r.Temp, Hum: r.Hum})
			payload = append(payload, types.Record{"sensorIndex": sensorIndex, "temp": r.Temp, "hum": r.Hum})
		}

		n.shadow.SetTempHum(ifr.DeviceID, m.ModuleIndex, entries, now)
		n.shadow.ClearPending(ifr.DeviceID, m.ModuleIndex, types.KindQryTempHum)

		if len(payload) == 0 {
			continue
		}

		n.emit(types.NormalizedEvent{
			DeviceID:     ifr.DeviceID,
			DeviceFamily: ifr.DeviceFamily,
			Kind:         types.KindTempHum,
			MessageID:    ifr.MessageID,
			ModuleIndex:  m.ModuleIndex,
			ModuleID:     m.ModuleID,
			Payload:      payload,
		})
	}
}

// handleNoiseLevel mirrors handleTempHum for the noise sensor range
// (16..18), dropping entries whose value is null.
func (n *Normalizer) handleNoiseLevel(ifr *types.IF) {
	now := ifr.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	for _, m := range ifr.Modules {
		entries := make([]types.NoiseEntry, 0, len(m.Noise))
		payload := make([]types.Record, 0, len(m.Noise))

		for _, r := range m.Noise {
			if r.Noise == nil {
				continue
			}
			sensorIndex := types.NoiseShift(r.NsIndex)
			entries = append(entries, types.NoiseEntry{SensorIndex: sensorIndex, Noise: r.Noise})
			payload = append(payload, types.Record{"sensorIndex": sensorIndex, "noise": r.Noise})
		}

		n.shadow.SetNoise(ifr.DeviceID, m.ModuleIndex, entries, now)

		if len(payload) == 0 {
			continue
		}

		n.emit(types.NormalizedEvent{
			DeviceID:     ifr.DeviceID,
			DeviceFamily: ifr.DeviceFamily,
			Kind:         types.KindNoiseLevel,
			MessageID:    ifr.MessageID,
			ModuleIndex:  m.ModuleIndex,
			ModuleID:     m.ModuleID,
			Payload:      payload,
		})
	}
}
