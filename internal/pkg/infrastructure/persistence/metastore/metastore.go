// Package metastore persists the shadow's metadata entries (§4.7's
// "meta_data" table), upserting on every DEVICE_METADATA event. Grounded
// on the teacher's gorm connector pair (NewPostgreSQLConnector/
// NewSQLiteConnector) and its clause.OnConflict{UpdateAll: true} seed
// idiom in database.go's seedDevices/seedEnvironment.
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// DeviceMeta is the gorm row shape for meta_data. ActiveModulesJSON holds
// the marshaled []types.ActiveModule, matching the teacher's "JSONB
// column holding a marshaled Go value" idiom used across Device's
// data/profile/state/status columns.
type DeviceMeta struct {
	DeviceID         string    `gorm:"column:device_id;primaryKey"`
	DeviceFamily     string    `gorm:"column:device_family"`
	IP               string    `gorm:"column:ip"`
	Mac              string    `gorm:"column:mac"`
	FwVer            string    `gorm:"column:fw_ver"`
	Netmask          string    `gorm:"column:netmask"`
	GatewayIP        string    `gorm:"column:gateway_ip"`
	ActiveModulesRaw string    `gorm:"column:active_modules"`
	LastSeenInfo     time.Time `gorm:"column:last_seen_info"`
	UpdatedAt        time.Time
}

func (DeviceMeta) TableName() string { return "meta_data" }

// ConnectorFunc mirrors the teacher's injectable connection strategy.
type ConnectorFunc func() (*gorm.DB, zerolog.Logger, error)

// NewPostgreSQLConnector opens a postgres connection using the same
// DIWISE_SQLDB_* env vars the teacher reads, since both stores share one
// relational backend in this deployment.
func NewPostgreSQLConnector(log zerolog.Logger) ConnectorFunc {
	dbHost := os.Getenv("DIWISE_SQLDB_HOST")
	username := os.Getenv("DIWISE_SQLDB_USER")
	dbName := os.Getenv("DIWISE_SQLDB_NAME")
	password := os.Getenv("DIWISE_SQLDB_PASSWORD")
	sslMode := env.GetVariableOrDefault(log, "DIWISE_SQLDB_SSLMODE", "require")

	dbURI := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", dbHost, username, dbName, sslMode, password)

	return func() (*gorm.DB, zerolog.Logger, error) {
		sublogger := log.With().Str("host", dbHost).Str("database", dbName).Logger()

		db, err := gorm.Open(postgres.Open(dbURI), &gorm.Config{
			Logger: logger.New(&sublogger, logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			}),
		})
		if err != nil {
			return nil, sublogger, err
		}
		return db, sublogger, nil
	}
}

// NewSQLiteConnector opens the zero-config local/dev path, the same
// shared in-memory SQLite the teacher uses for its device store.
func NewSQLiteConnector(log zerolog.Logger) ConnectorFunc {
	return func() (*gorm.DB, zerolog.Logger, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			sqldb, _ := db.DB()
			sqldb.SetMaxOpenConns(1)
		}
		return db, log, err
	}
}

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// New connects and migrates the meta_data table.
func New(connect ConnectorFunc) (*Store, error) {
	db, _, err := connect()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&DeviceMeta{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Upsert writes the current metadata entry, overwriting all columns on
// conflict the way seedDevices does for devices keyed by device_id.
func (s *Store) Upsert(entry types.MetadataEntry) error {
	raw, err := json.Marshal(entry.ActiveModules)
	if err != nil {
		return err
	}

	row := DeviceMeta{
		DeviceID:         entry.DeviceID,
		DeviceFamily:     string(entry.DeviceFamily),
		IP:               entry.IP,
		Mac:              entry.Mac,
		FwVer:            entry.FwVer,
		Netmask:          entry.Netmask,
		GatewayIP:        entry.GatewayIP,
		ActiveModulesRaw: string(raw),
		LastSeenInfo:     entry.LastSeenInfo,
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// Get reads back a metadata entry. The read API does not call it; the
// metastore tests use it to check what Upsert wrote.
func (s *Store) Get(deviceID string) (types.MetadataEntry, error) {
	var row DeviceMeta
	if err := s.db.First(&row, "device_id = ?", deviceID).Error; err != nil {
		return types.MetadataEntry{}, err
	}

	var modules []types.ActiveModule
	if row.ActiveModulesRaw != "" {
		if err := json.Unmarshal([]byte(row.ActiveModulesRaw), &modules); err != nil {
			return types.MetadataEntry{}, err
		}
	}

	return types.MetadataEntry{
		DeviceID:      row.DeviceID,
		DeviceFamily:  types.DeviceFamily(row.DeviceFamily),
		IP:            row.IP,
		Mac:           row.Mac,
		FwVer:         row.FwVer,
		Netmask:       row.Netmask,
		GatewayIP:     row.GatewayIP,
		LastSeenInfo:  row.LastSeenInfo,
		ActiveModules: modules,
	}, nil
}
