package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/shadow"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

type recordingNotifier struct {
	published []string
}

func (r *recordingNotifier) PublishOnTopic(ctx context.Context, msg interface {
	TopicName() string
	ContentType() string
}) error {
	r.published = append(r.published, msg.TopicName())
	return nil
}

func TestScanMarksStaleModuleOffline(t *testing.T) {
	is := is.New(t)

	cache := shadow.New()
	cache.UpdateHeartbeat("dev-1", 1, types.FamilyB, "MOD-A", 6, time.Now().Add(-5*time.Minute))

	notifier := &recordingNotifier{}
	w := New(Config{ScanInterval: time.Hour, HeartbeatTimeout: time.Minute}, cache, notifier, zerolog.Nop())
	w.scan()

	entry, _ := cache.GetTelemetry("dev-1", 1)
	is.True(!entry.IsOnline)
	is.Equal(len(notifier.published), 1)
	is.Equal(notifier.published[0], "module.offline")
}

func TestScanIgnoresFreshModules(t *testing.T) {
	is := is.New(t)

	cache := shadow.New()
	cache.UpdateHeartbeat("dev-1", 1, types.FamilyB, "MOD-A", 6, time.Now())

	notifier := &recordingNotifier{}
	w := New(Config{ScanInterval: time.Hour, HeartbeatTimeout: time.Minute}, cache, notifier, zerolog.Nop())
	w.scan()

	entry, _ := cache.GetTelemetry("dev-1", 1)
	is.True(entry.IsOnline)
	is.Equal(len(notifier.published), 0)
}

func TestScanDoesNotRepeatNotificationForAlreadyOfflineModule(t *testing.T) {
	is := is.New(t)

	cache := shadow.New()
	cache.UpdateHeartbeat("dev-1", 1, types.FamilyB, "MOD-A", 6, time.Now().Add(-5*time.Minute))

	notifier := &recordingNotifier{}
	w := New(Config{ScanInterval: time.Hour, HeartbeatTimeout: time.Minute}, cache, notifier, zerolog.Nop())
	w.scan()
	w.scan()

	is.Equal(len(notifier.published), 1)
}

func TestWatchdogNilNotifierDoesNotPanic(t *testing.T) {
	is := is.New(t)

	cache := shadow.New()
	cache.UpdateHeartbeat("dev-1", 1, types.FamilyB, "MOD-A", 6, time.Now().Add(-5*time.Minute))

	w := New(Config{ScanInterval: time.Hour, HeartbeatTimeout: time.Minute}, cache, nil, zerolog.Nop())
	w.scan()

	entry, _ := cache.GetTelemetry("dev-1", 1)
	is.True(!entry.IsOnline)
}
