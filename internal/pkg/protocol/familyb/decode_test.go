package familyb

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
	"github.com/matryer/is"
)

func fixedNow() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

func appendU32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func TestDecodeHeartbeatSkipsZeroAndOutOfRangeSlots(t *testing.T) {
	is := is.New(t)

	p := []byte{hbHeartbeatA}
	// slot 0: valid, moduleIndex=1, moduleId=100, uTotal=6
	p = append(p, 1)
	p = appendU32(p, 100)
	p = append(p, 6)
	// slot 1: moduleId=0 -> skipped
	p = append(p, 2)
	p = appendU32(p, 0)
	p = append(p, 0)
	// slot 2: moduleIndex=9 (>5) -> skipped
	p = append(p, 9)
	p = appendU32(p, 55)
	p = append(p, 3)
	// remaining 7 slots all zero/skip
	for i := 0; i < 7; i++ {
		p = append(p, 0)
		p = appendU32(p, 0)
		p = append(p, 0)
	}
	p = appendU32(p, 42) // messageId

	is.Equal(len(p), 1+10*6+4)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/Heartbeat", p)
	is.NoErr(err)
	is.Equal(ifr.Kind, types.KindHeartbeat)
	is.Equal(len(ifr.Modules), 1)
	is.Equal(ifr.Modules[0].ModuleIndex, 1)
	is.Equal(ifr.Modules[0].UTotal, 6)
	is.Equal(ifr.MessageID, "42")
}

func TestDecodeHeartbeatWrongLength(t *testing.T) {
	is := is.New(t)

	d := New()
	_, err := d.Decode("v1/dev-1/Heartbeat", []byte{hbHeartbeatA, 0x01})
	is.True(err != nil)
}

func TestDecodeRfidSnapshotCountZero(t *testing.T) {
	is := is.New(t)

	p := []byte{hbRfidSnap, 1}
	p = appendU32(p, 200)
	p = append(p, 0) // reserved
	p = append(p, 6) // uTotal
	p = append(p, 0) // count=0
	p = appendU32(p, 7)

	is.Equal(len(p), 9+4)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/other", p)
	is.NoErr(err)
	is.Equal(ifr.Kind, types.KindRfidSnapshot)
	is.Equal(len(ifr.Modules), 1)
	is.Equal(len(ifr.Modules[0].Rfid), 0)
}

func TestDecodeRfidSnapshotByTopicSuffix(t *testing.T) {
	is := is.New(t)

	p := []byte{0x00, 1}
	p = appendU32(p, 200)
	p = append(p, 0) // reserved
	p = append(p, 6) // uTotal
	p = append(p, 1) // count=1
	p = append(p, 3) // uIndex
	p = append(p, 1) // alarm
	p = append(p, 0xAA, 0xBB, 0xCC, 0xDD)
	p = appendU32(p, 9)

	is.Equal(len(p), 9+6+4)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/LabelState", p)
	is.NoErr(err)
	is.Equal(ifr.Kind, types.KindRfidSnapshot)
	is.Equal(ifr.Modules[0].Rfid[0].TagID, "AABBCCDD")
	is.True(ifr.Modules[0].Rfid[0].IsAlarm)
}

func TestDecodeTempHumNullAndValues(t *testing.T) {
	is := is.New(t)

	p := []byte{1}
	p = appendU32(p, 300)
	// sensor 1: addr!=0, temp=24.48, hum=null
	p = append(p, 1, 0x18, 0x30, 0x00, 0x00)
	// sensor 2: addr=0 -> skipped
	p = append(p, 0, 0, 0, 0, 0)
	// sensor 3: addr!=0, temp=-5.25
	p = append(p, 3, 0x85, 0x19, 0x00, 0x00)
	// remaining 3 sensors skipped
	for i := 0; i < 3; i++ {
		p = append(p, 0, 0, 0, 0, 0)
	}
	p = appendU32(p, 11)

	is.Equal(len(p), 5+6*5+4)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/TemHum", p)
	is.NoErr(err)
	is.Equal(len(ifr.Modules[0].TempHum), 2)
	is.Equal(*ifr.Modules[0].TempHum[0].Temp, 24.48)
	is.True(ifr.Modules[0].TempHum[0].Hum == nil)
	is.Equal(*ifr.Modules[0].TempHum[1].Temp, -5.25)
}

func TestDecodeDeviceInfo(t *testing.T) {
	is := is.New(t)

	p := []byte{0xEF, 0x01, 0x00, 0x00} // header + model
	p = append(p, 1, 2, 3, 4)           // fwVer
	p = append(p, 192, 168, 1, 10)      // ip
	p = append(p, 255, 255, 255, 0)     // mask
	p = append(p, 192, 168, 1, 1)       // gw
	p = append(p, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF) // mac
	p = appendU32(p, 5)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/Info", p)
	is.NoErr(err)
	is.Equal(ifr.Kind, types.KindDeviceMetadata)
	is.Equal(ifr.DeviceInfo.IP, "192.168.1.10")
	is.Equal(ifr.DeviceInfo.Mac, "AA:BB:CC:DD:EE:FF")
	is.Equal(ifr.DeviceInfo.FwVer, "1.2.3.4")
}

func TestDecodeModuleInfo(t *testing.T) {
	is := is.New(t)

	p := []byte{0xEF, 0x02}
	p = append(p, 1, 1, 0, 0, 1) // moduleIndex=1, fwVer=1.0.0.1
	p = append(p, 2, 2, 0, 0, 2) // moduleIndex=2, fwVer=2.0.0.2
	p = appendU32(p, 3)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/Info", p)
	is.NoErr(err)
	is.Equal(len(ifr.DeviceInfo.Modules), 2)
	is.Equal(ifr.DeviceInfo.Modules[0].FwVer, "1.0.0.1")
	is.Equal(ifr.DeviceInfo.Modules[1].ModuleIndex, 2)
}

func TestDecodeQryColorResp(t *testing.T) {
	is := is.New(t)

	p := []byte{hbCmdResp}
	p = appendU32(p, 77)             // deviceId
	p = append(p, resultSuccess)     // result
	p = append(p, 0xE4, 0x02)        // command code (byte6), originalReq byte2 = moduleIndex
	p = append(p, 0x01, 0x02, 0x03)  // color map (3 bytes)
	p = appendU32(p, 88)             // messageId

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/CmdResp", p)
	is.NoErr(err)
	is.Equal(ifr.Kind, types.KindQryColorResp)
	is.Equal(ifr.DeviceID, "77")
	is.Equal(ifr.Result, "Success")
	is.Equal(ifr.ModuleIndex, 2)
}

func TestDecodeSetColorResp(t *testing.T) {
	is := is.New(t)

	p := []byte{hbCmdResp}
	p = appendU32(p, 77)
	p = append(p, byte(0x00)) // not success
	p = append(p, 0xE1, 0x03) // originalReq: cmd, moduleIndex=3
	p = appendU32(p, 99)

	d := &Decoder{Now: fixedNow}
	ifr, err := d.Decode("v1/dev-1/CmdResp", p)
	is.NoErr(err)
	is.Equal(ifr.Kind, types.KindSetColorResp)
	is.Equal(ifr.Result, "Failure")
	is.Equal(ifr.ModuleIndex, 3)
}

func TestDecodeUnrecognizedFrame(t *testing.T) {
	is := is.New(t)

	d := New()
	_, err := d.Decode("v1/dev-1/other", []byte{0x01, 0x02})
	is.True(err != nil)
}

func TestDecodeEmptyPayload(t *testing.T) {
	is := is.New(t)

	d := New()
	_, err := d.Decode("v1/dev-1/other", nil)
	is.True(err != nil)
}
