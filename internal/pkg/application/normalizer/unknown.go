package normalizer

import "github.com/dalelaibeyond/iot-middleware-pro/pkg/types"

// handleUnknown implements the UNKNOWN propagation rule (§7): an
// unrecognized frame is non-fatal and still produces a normalized event
// carrying the raw body, rather than being silently dropped. No shadow
// update.
func (n *Normalizer) handleUnknown(ifr *types.IF) {
	n.emit(types.NormalizedEvent{
		DeviceID:     ifr.DeviceID,
		DeviceFamily: ifr.DeviceFamily,
		Kind:         types.KindUnknown,
		MessageID:    ifr.MessageID,
		Payload:      []types.Record{{"raw": ifr.RawBody}},
	})
}
