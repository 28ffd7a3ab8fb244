// Package api implements the read/command HTTP surface (§6): health,
// redacted config, live topology/telemetry/metadata snapshots, outbound
// command submission, and history lookups gated on persistence being
// enabled. Grounded on the teacher's presentation/api/api.go handler
// style (span-per-handler via otel, zerolog request logger, explicit
// status codes, no framework-level error middleware) with the device-
// management/GeoJSON/OPA surface replaced by this domain's endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/commandbuilder"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/config"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

var tracer = otel.Tracer("iot-middleware-pro/api")

// CommandPublisher is the subset of messaging.Broker the commands
// handler needs, kept as an interface so tests substitute a recording
// fake instead of a live AMQP channel.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, built *commandbuilder.Built) error
}

// HistoryReader is the subset of telemetrystore.Store the history
// handler needs. Left as an interface so the handler compiles and is
// testable without depending on the concrete pgx-backed store.
type HistoryReader interface {
	RecentHeartbeats(deviceID string, limit int) ([]types.HeartbeatSnapshot, error)
}

// Deps bundles every collaborator the handlers need, analogous to the
// teacher's application.DeviceManagement facade but composed of the
// narrow interfaces this domain actually uses.
type Deps struct {
	Cache          *shadow.Cache
	Broker         CommandPublisher
	ConfigCurrent  func() config.Config
	HistoryEnabled func() bool
	History        HistoryReader
	PingDB         func() error
	PingBroker     func() bool
	StartedAt      time.Time
}

// RegisterHandlers wires every §6 endpoint onto router, mirroring the
// teacher's RegisterHandlers(log, router, ...) shape.
func RegisterHandlers(log zerolog.Logger, router *chi.Mux, deps Deps) *chi.Mux {
	router.Get("/api/health", healthHandler(log, deps))
	router.Get("/api/config", configHandler(log, deps))
	router.Get("/api/live/topology", topologyHandler(log, deps))
	router.Get("/api/live/devices/{deviceId}/modules/{moduleIndex}", telemetryHandler(log, deps))
	router.Get("/api/meta/{deviceId}", metaHandler(log, deps))
	router.Post("/api/commands", commandsHandler(log, deps))
	router.Get("/api/history/heartbeat/{deviceId}", historyHeartbeatHandler(log, deps))

	return router
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Memory map[string]uint64 `json:"memory"`
	DB     string            `json:"db"`
	Broker string            `json:"broker"`
}

func healthHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "get-health")
		defer span.End()

		dbStatus := "ok"
		if deps.PingDB != nil {
			if err := deps.PingDB(); err != nil {
				dbStatus = "down"
			}
		} else {
			dbStatus = "disabled"
		}

		brokerStatus := "ok"
		if deps.PingBroker != nil {
			if !deps.PingBroker() {
				brokerStatus = "down"
			}
		} else {
			brokerStatus = "unknown"
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		resp := healthResponse{
			Status: "ok",
			Uptime: time.Since(deps.StartedAt).String(),
			Memory: map[string]uint64{
				"allocBytes":      m.Alloc,
				"totalAllocBytes": m.TotalAlloc,
				"sysBytes":        m.Sys,
			},
			DB:     dbStatus,
			Broker: brokerStatus,
		}

		writeJSON(w, log, http.StatusOK, resp)
	}
}

func configHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "get-config")
		defer span.End()

		cfg := deps.ConfigCurrent()
		writeJSON(w, log, http.StatusOK, config.Redact(cfg))
	}
}

// liveTopologyEntry is one device's metadata plus its modules annotated
// with live isOnline/lastSeenHeartbeat, per §6.
type liveTopologyEntry struct {
	types.MetadataEntry
	Modules []liveModuleStatus `json:"modules"`
}

type liveModuleStatus struct {
	ModuleIndex       int       `json:"moduleIndex"`
	ModuleID          string    `json:"moduleId"`
	IsOnline          bool      `json:"isOnline"`
	LastSeenHeartbeat time.Time `json:"lastSeenHeartbeat"`
}

func topologyHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "get-topology")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, _, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		ids := deps.Cache.ListDeviceIDs()
		out := make([]liveTopologyEntry, 0, len(ids))

		for _, id := range ids {
			meta, ok := deps.Cache.GetMetadata(id)
			if !ok {
				continue
			}

			entry := liveTopologyEntry{MetadataEntry: meta}
			for _, am := range meta.ActiveModules {
				status := liveModuleStatus{ModuleIndex: am.ModuleIndex, ModuleID: am.ModuleID}
				if tele, ok := deps.Cache.GetTelemetry(id, am.ModuleIndex); ok {
					status.IsOnline = tele.IsOnline
					status.LastSeenHeartbeat = tele.LastSeenHeartbeat
				}
				entry.Modules = append(entry.Modules, status)
			}
			out = append(out, entry)
		}

		requestLogger.Debug().Msgf("returning topology for %d devices", len(out))
		writeJSON(w, log, http.StatusOK, out)
	}
}

func telemetryHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceId")
		moduleIndex, err := parseModuleIndex(chi.URLParam(r, "moduleIndex"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		tele, ok := deps.Cache.GetTelemetry(deviceID, moduleIndex)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		writeJSON(w, log, http.StatusOK, tele)
	}
}

func metaHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceId")

		meta, ok := deps.Cache.GetMetadata(deviceID)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		writeJSON(w, log, http.StatusOK, meta)
	}
}

type commandRequestBody struct {
	DeviceID     string                 `json:"deviceId"`
	DeviceFamily types.DeviceFamily     `json:"deviceFamily"`
	Kind         types.Kind             `json:"kind"`
	Payload      map[string]interface{} `json:"payload"`
}

type commandAcceptedResponse struct {
	Status    string `json:"status"`
	CommandID string `json:"commandId"`
}

func commandsHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "post-command")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read command body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var reqBody commandRequestBody
		if err = json.Unmarshal(body, &reqBody); err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal command body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if reqBody.DeviceID == "" || reqBody.DeviceFamily == "" || reqBody.Kind == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		req := types.CommandRequest{
			DeviceID:     reqBody.DeviceID,
			DeviceFamily: reqBody.DeviceFamily,
			Kind:         reqBody.Kind,
			Payload:      reqBody.Payload,
			CommandID:    uuid.NewString(),
		}

		built, err := commandbuilder.Build(req)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to build command")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if deps.Broker != nil {
			if err = deps.Broker.PublishCommand(ctx, built); err != nil {
				requestLogger.Error().Err(err).Msg("unable to publish command")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}

		writeJSON(w, log, http.StatusAccepted, commandAcceptedResponse{Status: "sent", CommandID: req.CommandID})
	}
}

func historyHeartbeatHandler(log zerolog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.HistoryEnabled == nil || !deps.HistoryEnabled() {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		if deps.History == nil {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}

		deviceID := chi.URLParam(r, "deviceId")
		rows, err := deps.History.RecentHeartbeats(deviceID, 100)
		if err != nil {
			log.Error().Err(err).Msg("unable to read heartbeat history")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, log, http.StatusOK, rows)
	}
}

func parseModuleIndex(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, io.ErrUnexpectedEOF
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, io.ErrUnexpectedEOF
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("unable to marshal response to json")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(encoded)
}
