package normalizer

import "github.com/dalelaibeyond/iot-middleware-pro/pkg/types"

// handleCommandResponse implements §4.3 "Command responses": emit a
// normalized event carrying the result and the echoed request, without
// touching the shadow. Command responses are device-level (data model
// invariant 1): the NE root moduleIndex/moduleId are always 0/"0", with the
// module index recovered from originalReq[1] kept only inside the payload
// record.
func (n *Normalizer) handleCommandResponse(ifr *types.IF) {
	originalReq := make([]int, len(ifr.OriginalReq))
	for i, b := range ifr.OriginalReq {
		originalReq[i] = int(b)
	}

	record := types.Record{
		"moduleIndex": ifr.ModuleIndex,
		"result":      ifr.Result,
		"originalReq": originalReq,
	}
	if ifr.RawBody != nil {
		record["colorMap"] = ifr.RawBody
	}

	n.emit(types.NormalizedEvent{
		DeviceID:     ifr.DeviceID,
		DeviceFamily: ifr.DeviceFamily,
		Kind:         ifr.Kind,
		MessageID:    ifr.MessageID,
		ModuleIndex:  0,
		ModuleID:     "0",
		Payload:      []types.Record{record},
	})
}
