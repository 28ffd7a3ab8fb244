package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

func TestHubBroadcastsNormalizedEventToClient(t *testing.T) {
	is := is.New(t)

	b := bus.New()
	hub := New(b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	is.NoErr(err)
	defer conn.Close()

	// Give the server goroutine a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	b.Publish(bus.TopicEventNormalized, types.NormalizedEvent{DeviceID: "dev-1", Kind: types.KindHeartbeat})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	is.NoErr(err)

	var ev types.NormalizedEvent
	is.NoErr(json.Unmarshal(msg, &ev))
	is.Equal(ev.DeviceID, "dev-1")
	is.Equal(ev.Kind, types.KindHeartbeat)
}

func TestHubSkipsNonNormalizedEventMessages(t *testing.T) {
	is := is.New(t)

	b := bus.New()
	hub := New(b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	is.NoErr(err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	b.Publish(bus.TopicEventNormalized, "not-a-normalized-event")
	b.Publish(bus.TopicEventNormalized, types.NormalizedEvent{DeviceID: "dev-2"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	is.NoErr(err)

	var ev types.NormalizedEvent
	is.NoErr(json.Unmarshal(msg, &ev))
	is.Equal(ev.DeviceID, "dev-2")
}
