package commandbuilder

import (
	"testing"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
	"github.com/matryer/is"
)

func TestBuildFamilyBQryRfidSnapshot(t *testing.T) {
	is := is.New(t)

	built, err := Build(types.CommandRequest{
		DeviceID:     "dev-1",
		DeviceFamily: types.FamilyB,
		Kind:         types.KindQryRfidSnapshot,
		Payload:      map[string]any{"moduleIndex": 2},
	})
	is.NoErr(err)
	is.Equal(built.Topic, "BDownload/dev-1")
	is.Equal(built.Bytes, []byte{0xE9, 0x01, 0x02})
}

func TestBuildFamilyBSetColor(t *testing.T) {
	is := is.New(t)

	built, err := Build(types.CommandRequest{
		DeviceID:     "dev-1",
		DeviceFamily: types.FamilyB,
		Kind:         types.KindSetColor,
		Payload: map[string]any{
			"moduleIndex": 1,
			"colors": []map[string]any{
				{"sensorIndex": 3, "colorCode": 7},
				{"sensorIndex": 4, "colorCode": 9},
			},
		},
	})
	is.NoErr(err)
	is.Equal(built.Bytes, []byte{0xE1, 0x01, 0x03, 0x07, 0x04, 0x09})
}

func TestBuildFamilyBMissingModuleIndex(t *testing.T) {
	is := is.New(t)

	_, err := Build(types.CommandRequest{
		DeviceID:     "dev-1",
		DeviceFamily: types.FamilyB,
		Kind:         types.KindQryTempHum,
		Payload:      map[string]any{},
	})
	is.True(err != nil)
}

func TestBuildFamilyJSetColor(t *testing.T) {
	is := is.New(t)

	built, err := Build(types.CommandRequest{
		DeviceID:     "dev-2",
		DeviceFamily: types.FamilyJ,
		Kind:         types.KindSetColor,
		Payload: map[string]any{
			"moduleIndex": 1,
			"colors":      []map[string]any{{"sensorIndex": 2, "colorCode": 5}},
		},
	})
	is.NoErr(err)
	is.Equal(built.Topic, "JDownload/dev-2")
	is.Equal(built.Payload["msg_type"], "set_module_property_req")
	is.Equal(built.Payload["set_property_type"], 8001)
}

func TestBuildFamilyJRfidSnapshotRequiresModuleID(t *testing.T) {
	is := is.New(t)

	_, err := Build(types.CommandRequest{
		DeviceID:     "dev-2",
		DeviceFamily: types.FamilyJ,
		Kind:         types.KindQryRfidSnapshot,
		Payload:      map[string]any{"moduleIndex": 1},
	})
	is.True(err != nil)
}

func TestBuildFamilyJRfidSnapshotOK(t *testing.T) {
	is := is.New(t)

	built, err := Build(types.CommandRequest{
		DeviceID:     "dev-2",
		DeviceFamily: types.FamilyJ,
		Kind:         types.KindQryRfidSnapshot,
		Payload:      map[string]any{"moduleIndex": 1, "moduleId": "MOD-A"},
	})
	is.NoErr(err)
	is.Equal(built.Payload["msg_type"], "u_state_req")
}

func TestBuildMissingDeviceID(t *testing.T) {
	is := is.New(t)

	_, err := Build(types.CommandRequest{
		DeviceFamily: types.FamilyB,
		Kind:         types.KindQryDeviceInfo,
	})
	is.True(err != nil)
}
