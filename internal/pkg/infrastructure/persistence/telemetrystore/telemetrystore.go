// Package telemetrystore is the append-only, pivoted telemetry sink
// named in §4.7, grounded directly on the teacher's second-generation
// infrastructure/storage package: a pgxpool.Pool, a Config.ConnStr()
// builder, and sentinel Err* vars for the caller to branch on. Rows are
// written with pgx's CopyFrom, the bulk-insert primitive §4.7 names
// explicitly for the batched flush.
package telemetrystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// Config mirrors the teacher's unexported-field/ConnStr() shape.
type Config struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewConfig(host, user, password, port, dbname, sslmode string) Config {
	return Config{host: host, user: user, password: password, port: port, dbname: dbname, sslmode: sslmode}
}

func LoadConfiguration(log zerolog.Logger) Config {
	return Config{
		host:     env.GetVariableOrDefault(log, "POSTGRES_HOST", ""),
		user:     env.GetVariableOrDefault(log, "POSTGRES_USER", ""),
		password: env.GetVariableOrDefault(log, "POSTGRES_PASSWORD", ""),
		port:     env.GetVariableOrDefault(log, "POSTGRES_PORT", "5432"),
		dbname:   env.GetVariableOrDefault(log, "POSTGRES_DBNAME", "iot_middleware"),
		sslmode:  env.GetVariableOrDefault(log, "POSTGRES_SSLMODE", "disable"),
	}
}

var (
	ErrStoreFailed = errors.New("could not store telemetry rows")
	ErrNoRows      = errors.New("no rows in result set")
)

// Store wraps the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewWithPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func New(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnStr())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// CreateTables creates the eight append-only tables §4.7 names, one per
// normalized-event kind. Every table carries both timestamps §4.7 calls
// for: parse_at (when the normalizer emitted the event) and update_at
// (when the row was actually written, i.e. flush time).
func (s *Store) CreateTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS heartbeat (
			device_id    TEXT NOT NULL,
			payload      JSONB NOT NULL,
			parse_at     timestamp with time zone NOT NULL,
			update_at    timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rfid_snapshot (
			device_id    TEXT NOT NULL,
			module_index INT NOT NULL,
			payload      JSONB NOT NULL,
			parse_at     timestamp with time zone NOT NULL,
			update_at    timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rfid_event (
			device_id    TEXT NOT NULL,
			module_index INT NOT NULL,
			sensor_index INT NOT NULL,
			tag_id       TEXT NOT NULL,
			action       TEXT NOT NULL,
			parse_at     timestamp with time zone NOT NULL,
			update_at    timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS temp_hum (
			device_id     TEXT NOT NULL,
			module_index  INT NOT NULL,
			temp_index10  DOUBLE PRECISION,
			temp_index11  DOUBLE PRECISION,
			temp_index12  DOUBLE PRECISION,
			temp_index13  DOUBLE PRECISION,
			temp_index14  DOUBLE PRECISION,
			temp_index15  DOUBLE PRECISION,
			hum_index10   DOUBLE PRECISION,
			hum_index11   DOUBLE PRECISION,
			hum_index12   DOUBLE PRECISION,
			hum_index13   DOUBLE PRECISION,
			hum_index14   DOUBLE PRECISION,
			hum_index15   DOUBLE PRECISION,
			parse_at      timestamp with time zone NOT NULL,
			update_at     timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS noise_level (
			device_id     TEXT NOT NULL,
			module_index  INT NOT NULL,
			noise_index16 DOUBLE PRECISION,
			noise_index17 DOUBLE PRECISION,
			noise_index18 DOUBLE PRECISION,
			parse_at      timestamp with time zone NOT NULL,
			update_at     timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS door_event (
			device_id     TEXT NOT NULL,
			module_index  INT NOT NULL,
			door_state    INT,
			door1_state   INT,
			door2_state   INT,
			parse_at      timestamp with time zone NOT NULL,
			update_at     timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS topchange_event (
			device_id    TEXT NOT NULL,
			description  TEXT NOT NULL,
			parse_at     timestamp with time zone NOT NULL,
			update_at    timestamp with time zone NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cmd_result (
			device_id    TEXT NOT NULL,
			module_index INT NOT NULL,
			kind         TEXT NOT NULL,
			result       TEXT NOT NULL,
			color_map    JSONB,
			parse_at     timestamp with time zone NOT NULL,
			update_at    timestamp with time zone NOT NULL
		);
	`)
	return err
}

// HeartbeatRow is one append row for the heartbeat table.
type HeartbeatRow struct {
	DeviceID string
	Payload  json.RawMessage
	ParseAt  time.Time
	UpdateAt time.Time
}

func (s *Store) AppendHeartbeat(ctx context.Context, rows []HeartbeatRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.DeviceID, r.Payload, r.ParseAt, r.UpdateAt}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"heartbeat"}, []string{"device_id", "payload", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

// RecentHeartbeats backs /api/history/heartbeat/{deviceId} (§6), reading
// the most recent rows in descending update_at (write time) order. It
// satisfies api.HistoryReader without an adapter, the same
// structural-interface fit used for messaging.Broker against
// watchdog.Notifier.
func (s *Store) RecentHeartbeats(deviceID string, limit int) ([]types.HeartbeatSnapshot, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, update_at FROM heartbeat
		WHERE device_id = $1
		ORDER BY update_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []types.HeartbeatSnapshot
	for rows.Next() {
		var snap types.HeartbeatSnapshot
		if err := rows.Scan(&snap.DeviceID, &snap.ReceivedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}

// RfidSnapshotRow is one append row for the rfid_snapshot table.
type RfidSnapshotRow struct {
	DeviceID    string
	ModuleIndex int
	Payload     json.RawMessage
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendRfidSnapshot(ctx context.Context, rows []RfidSnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.DeviceID, r.ModuleIndex, r.Payload, r.ParseAt, r.UpdateAt}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"rfid_snapshot"}, []string{"device_id", "module_index", "payload", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

// RfidEventRow is one append row for the rfid_event table, one row per
// diff record as §4.7 specifies.
type RfidEventRow struct {
	DeviceID    string
	ModuleIndex int
	SensorIndex int
	TagID       string
	Action      string
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendRfidEvent(ctx context.Context, rows []RfidEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.DeviceID, r.ModuleIndex, r.SensorIndex, r.TagID, r.Action, r.ParseAt, r.UpdateAt}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"rfid_event"},
		[]string{"device_id", "module_index", "sensor_index", "tag_id", "action", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

// TempHumRow is one pivoted row: sensorIndex 10..15 folded into named
// columns, per §4.7/§6's literal column naming.
type TempHumRow struct {
	DeviceID    string
	ModuleIndex int
	Temp        [6]*float64 // index 0 -> temp_index10 .. index 5 -> temp_index15
	Hum         [6]*float64
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendTempHum(ctx context.Context, rows []TempHumRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		vals := []any{r.DeviceID, r.ModuleIndex}
		for _, v := range r.Temp {
			vals = append(vals, v)
		}
		for _, v := range r.Hum {
			vals = append(vals, v)
		}
		vals = append(vals, r.ParseAt, r.UpdateAt)
		return vals, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"temp_hum"}, []string{
		"device_id", "module_index",
		"temp_index10", "temp_index11", "temp_index12", "temp_index13", "temp_index14", "temp_index15",
		"hum_index10", "hum_index11", "hum_index12", "hum_index13", "hum_index14", "hum_index15",
		"parse_at", "update_at",
	}, source)
	return wrapStoreErr(err)
}

// NoiseLevelRow pivots sensorIndex 16..18 into named columns.
type NoiseLevelRow struct {
	DeviceID    string
	ModuleIndex int
	Noise       [3]*float64 // index 0 -> noise_index16 .. index 2 -> noise_index18
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendNoiseLevel(ctx context.Context, rows []NoiseLevelRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		vals := []any{r.DeviceID, r.ModuleIndex}
		for _, v := range r.Noise {
			vals = append(vals, v)
		}
		vals = append(vals, r.ParseAt, r.UpdateAt)
		return vals, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"noise_level"},
		[]string{"device_id", "module_index", "noise_index16", "noise_index17", "noise_index18", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

// DoorEventRow is one append row for door_event, the first payload
// record only as §4.7 specifies.
type DoorEventRow struct {
	DeviceID    string
	ModuleIndex int
	DoorState   *int
	Door1State  *int
	Door2State  *int
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendDoorEvent(ctx context.Context, rows []DoorEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.DeviceID, r.ModuleIndex, r.DoorState, r.Door1State, r.Door2State, r.ParseAt, r.UpdateAt}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"door_event"},
		[]string{"device_id", "module_index", "door_state", "door1_state", "door2_state", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

// TopchangeEventRow is one append row per META_CHANGED_EVENT description.
type TopchangeEventRow struct {
	DeviceID    string
	Description string
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendTopchangeEvent(ctx context.Context, rows []TopchangeEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.DeviceID, r.Description, r.ParseAt, r.UpdateAt}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"topchange_event"}, []string{"device_id", "description", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

// CmdResultRow is one append row per command response, with colorMap
// stored as JSON the way the teacher stores Device.data/profile/status.
type CmdResultRow struct {
	DeviceID    string
	ModuleIndex int
	Kind        string
	Result      string
	ColorMap    json.RawMessage
	ParseAt     time.Time
	UpdateAt    time.Time
}

func (s *Store) AppendCmdResult(ctx context.Context, rows []CmdResultRow) error {
	if len(rows) == 0 {
		return nil
	}
	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.DeviceID, r.ModuleIndex, r.Kind, r.Result, r.ColorMap, r.ParseAt, r.UpdateAt}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"cmd_result"},
		[]string{"device_id", "module_index", "kind", "result", "color_map", "parse_at", "update_at"}, source)
	return wrapStoreErr(err)
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrStoreFailed, err.Error())
}
