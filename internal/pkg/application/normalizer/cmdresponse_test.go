package normalizer

import (
	"testing"

	"github.com/matryer/is"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

func TestHandleCommandResponseRootModuleIndexIsZero(t *testing.T) {
	is := is.New(t)

	n, b := newTestNormalizer()
	events := b.Subscribe(bus.TopicEventNormalized)

	ifr := &types.IF{
		DeviceID:     "dev-1",
		DeviceFamily: types.FamilyB,
		Kind:         types.KindQryColorResp,
		MessageID:    "77",
		ModuleIndex:  3,
		Result:       "Success",
		OriginalReq:  []byte{0xE4, 0x03},
		RawBody:      []int{1, 2, 3, 4},
	}

	n.dispatch(ifr)

	event := (<-events).(types.NormalizedEvent)
	is.Equal(event.ModuleIndex, 0)
	is.Equal(event.ModuleID, "0")

	record := event.Payload[0]
	is.Equal(record["moduleIndex"], 3)
	is.Equal(record["result"], "Success")
	is.Equal(record["originalReq"], []int{0xE4, 0x03})
	is.Equal(record["colorMap"], []int{1, 2, 3, 4})
}

func TestHandleUnknownEmitsNormalizedEvent(t *testing.T) {
	is := is.New(t)

	n, b := newTestNormalizer()
	events := b.Subscribe(bus.TopicEventNormalized)

	ifr := &types.IF{
		DeviceID:     "dev-1",
		DeviceFamily: types.FamilyJ,
		Kind:         types.KindUnknown,
		MessageID:    "1",
		RawBody:      map[string]any{"msg_type": "something_new"},
	}

	n.dispatch(ifr)

	event := (<-events).(types.NormalizedEvent)
	is.Equal(event.Kind, types.KindUnknown)
	is.Equal(event.Payload[0]["raw"], ifr.RawBody)
}
