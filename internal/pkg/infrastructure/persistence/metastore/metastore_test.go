package metastore

import (
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(NewSQLiteConnector(zerolog.Nop()))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return s
}

func TestUpsertThenGetRoundTrips(t *testing.T) {
	is := is.New(t)

	s := newTestStore(t)
	entry := types.MetadataEntry{
		DeviceID:     "dev-1",
		DeviceFamily: types.FamilyB,
		IP:           "10.0.0.5",
		Mac:          "AA:BB:CC:DD:EE:FF",
		FwVer:        "1.2.3",
		LastSeenInfo: time.Now().Truncate(time.Second),
		ActiveModules: []types.ActiveModule{
			{ModuleIndex: 1, ModuleID: "A", UTotal: 6},
		},
	}

	is.NoErr(s.Upsert(entry))

	got, err := s.Get("dev-1")
	is.NoErr(err)
	is.Equal(got.IP, "10.0.0.5")
	is.Equal(len(got.ActiveModules), 1)
	is.Equal(got.ActiveModules[0].ModuleID, "A")
}

func TestUpsertOverwritesOnConflict(t *testing.T) {
	is := is.New(t)

	s := newTestStore(t)
	is.NoErr(s.Upsert(types.MetadataEntry{DeviceID: "dev-1", IP: "10.0.0.1"}))
	is.NoErr(s.Upsert(types.MetadataEntry{DeviceID: "dev-1", IP: "10.0.0.2"}))

	got, err := s.Get("dev-1")
	is.NoErr(err)
	is.Equal(got.IP, "10.0.0.2")
}
