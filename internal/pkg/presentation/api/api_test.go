package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/commandbuilder"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/config"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

type recordingBroker struct {
	published []*commandbuilder.Built
	failNext  bool
}

func (b *recordingBroker) PublishCommand(ctx context.Context, built *commandbuilder.Built) error {
	if b.failNext {
		b.failNext = false
		return context.DeadlineExceeded
	}
	b.published = append(b.published, built)
	return nil
}

func newTestDeps() (Deps, *shadow.Cache, *recordingBroker) {
	cache := shadow.New()
	broker := &recordingBroker{}
	deps := Deps{
		Cache:          cache,
		Broker:         broker,
		ConfigCurrent:  func() config.Config { return *config.Default() },
		HistoryEnabled: func() bool { return false },
		StartedAt:      time.Now(),
	}
	return deps, cache, broker
}

func newTestRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	return RegisterHandlers(zerolog.Nop(), r, deps)
}

func TestHealthHandlerReturnsOK(t *testing.T) {
	is := is.New(t)

	deps, _, _ := newTestDeps()
	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)

	var resp healthResponse
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &resp))
	is.Equal(resp.Status, "ok")
}

func TestConfigHandlerRedactsSecrets(t *testing.T) {
	is := is.New(t)

	deps, _, _ := newTestDeps()
	deps.ConfigCurrent = func() config.Config {
		cfg := *config.Default()
		cfg.Database.Password = "hunter2"
		return cfg
	}
	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)
	is.True(bytes.Contains(rec.Body.Bytes(), []byte(config.Redacted)))
	is.True(!bytes.Contains(rec.Body.Bytes(), []byte("hunter2")))
}

func TestTopologyHandlerAnnotatesOnlineStatus(t *testing.T) {
	is := is.New(t)

	deps, cache, _ := newTestDeps()
	cache.WithMetadata("dev-1", func(m *types.MetadataEntry) {
		m.ActiveModules = []types.ActiveModule{{ModuleIndex: 1, ModuleID: "A"}}
	})
	cache.UpdateHeartbeat("dev-1", 1, types.FamilyJ, "A", 6, time.Now())

	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/live/topology", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)

	var out []liveTopologyEntry
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &out))
	is.Equal(len(out), 1)
	is.Equal(out[0].Modules[0].IsOnline, true)
}

func TestTelemetryHandlerNotFound(t *testing.T) {
	is := is.New(t)

	deps, _, _ := newTestDeps()
	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/live/devices/dev-x/modules/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusNotFound)
}

func TestMetaHandlerReturnsSnapshot(t *testing.T) {
	is := is.New(t)

	deps, cache, _ := newTestDeps()
	cache.WithMetadata("dev-1", func(m *types.MetadataEntry) { m.IP = "10.0.0.5" })
	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/meta/dev-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)

	var meta types.MetadataEntry
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &meta))
	is.Equal(meta.IP, "10.0.0.5")
}

func TestCommandsHandlerAcceptsValidRequest(t *testing.T) {
	is := is.New(t)

	deps, _, broker := newTestDeps()
	router := newTestRouter(deps)

	body := `{"deviceId":"dev-1","deviceFamily":"J","kind":"QRY_RFID_SNAPSHOT","payload":{"moduleIndex":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/commands", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusAccepted)

	var resp commandAcceptedResponse
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &resp))
	is.Equal(resp.Status, "sent")
	is.True(resp.CommandID != "")
	is.Equal(len(broker.published), 1)
}

func TestCommandsHandlerRejectsMissingFields(t *testing.T) {
	is := is.New(t)

	deps, _, _ := newTestDeps()
	router := newTestRouter(deps)

	body := `{"deviceId":"","kind":"QRY_RFID_SNAPSHOT"}`
	req := httptest.NewRequest(http.MethodPost, "/api/commands", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusBadRequest)
}

func TestHistoryHandlerReturnsNotImplementedWhenDisabled(t *testing.T) {
	is := is.New(t)

	deps, _, _ := newTestDeps()
	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/history/heartbeat/dev-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusNotImplemented)
}
