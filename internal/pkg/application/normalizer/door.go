package normalizer

import (
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// handleDoorState implements §4.3 "DOOR_STATE (and query response)":
// validate moduleIndex/moduleId, emit a single-record payload with nulls
// allowed, then update the shadow.
func (n *Normalizer) handleDoorState(ifr *types.IF) {
	now := ifr.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	for _, m := range ifr.Modules {
		if m.ModuleIndex < 1 || m.ModuleIndex > 5 || m.ModuleID == "0" {
			n.log.Warn().Str("deviceId", ifr.DeviceID).Int("moduleIndex", m.ModuleIndex).Msg("dropping DOOR_STATE: invalid module")
			continue
		}

		door := m.Door
		if door == nil {
			door = &types.DoorReading{}
		}

		n.shadow.SetDoor(ifr.DeviceID, m.ModuleIndex, door.DoorState, door.Door1State, door.Door2State, now)
		n.shadow.ClearPending(ifr.DeviceID, m.ModuleIndex, types.KindQryDoorState)

		n.emit(types.NormalizedEvent{
			DeviceID:     ifr.DeviceID,
			DeviceFamily: ifr.DeviceFamily,
			Kind:         types.KindDoorState,
			MessageID:    ifr.MessageID,
			ModuleIndex:  m.ModuleIndex,
			ModuleID:     m.ModuleID,
			Payload: []types.Record{{
				"doorState":  door.DoorState,
				"door1State": door.Door1State,
				"door2State": door.Door2State,
			}},
		})
	}
}
