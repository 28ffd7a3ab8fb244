// Package messaging wires the broker transport named in §2 and §4.6:
// inbound FamilyB/FamilyJ frame subscriptions and outbound command
// publishing. Inbound handler registration is grounded directly on the
// teacher's setupMessagingOrDie/RegisterTopicMessageHandler idiom in
// cmd/iot-device-mgmt/main.go; outbound raw-frame publishing talks to
// RabbitMQ through amqp091-go directly, since outbound FamilyB payloads
// are raw bytes rather than the JSON-marshalable TopicMessage shape
// messaging.MsgContext expects.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diwise/messaging-golang/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/application/commandbuilder"
	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/domain/apperr"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// Config holds the broker connection parameters, loaded by the config
// package from env vars the way the teacher's messaging.LoadConfiguration
// does internally.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
	Exchange string
}

func (c Config) amqpURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// FrameHandler receives a raw inbound frame: the routing key it arrived
// on and its undecoded body.
type FrameHandler func(ctx context.Context, topic string, payload []byte)

// Broker owns both the diwise MsgContext (used for inbound topic
// subscriptions and JSON-marshalable lifecycle events) and a raw AMQP
// channel used for outbound command frames, which must go out exactly as
// built (raw bytes for FamilyB, UTF-8 JSON text for FamilyJ) rather than
// through MsgContext's TopicMessage marshaling.
type Broker struct {
	messenger messaging.MsgContext
	conn      *amqp.Connection
	ch        *amqp.Channel
	cfg       Config
	log       zerolog.Logger
}

// Connect dials the broker with exponential-backoff retry, grounded on
// the reconnect-on-failure stance named for this layer; cenkalti/backoff
// is the teacher's retry primitive of choice.
func Connect(ctx context.Context, serviceName string, cfg Config, log zerolog.Logger) (*Broker, error) {
	msgCfg := messaging.LoadConfiguration(serviceName, log)

	var messenger messaging.MsgContext
	err := backoff.Retry(func() error {
		m, err := messaging.Initialize(msgCfg)
		if err != nil {
			log.Warn().Err(err).Msg("messenger init failed, retrying")
			return err
		}
		messenger = m
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return nil, &apperr.TransportError{Detail: "failed to initialize messenger", Err: err}
	}

	var conn *amqp.Connection
	err = backoff.Retry(func() error {
		c, err := amqp.Dial(cfg.amqpURL())
		if err != nil {
			log.Warn().Err(err).Msg("amqp dial failed, retrying")
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return nil, &apperr.TransportError{Detail: "failed to dial amqp", Err: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &apperr.TransportError{Detail: "failed to open amqp channel", Err: err}
	}

	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, &apperr.TransportError{Detail: "failed to declare exchange", Err: err}
		}
	}

	return &Broker{messenger: messenger, conn: conn, ch: ch, cfg: cfg, log: log}, nil
}

// Close releases the underlying AMQP channel and connection. The
// MsgContext's own lifecycle is left to the caller, matching the
// teacher's fire-and-forget setupMessagingOrDie (never explicitly
// closed in main.go).
func (b *Broker) Close() {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

// SubscribeFamily registers an inbound handler for every topic under
// "${family}Upload/#" (§2's inbound topic pattern), adapting the
// teacher's messaging.TopicMessageHandler(ctx, amqp.Delivery, logger)
// shape into a plain (topic, payload) callback.
func (b *Broker) SubscribeFamily(family types.DeviceFamily, handler FrameHandler) error {
	routingKey := fmt.Sprintf("%sUpload.#", family)
	return b.messenger.RegisterTopicMessageHandler(routingKey, func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		handler(ctx, msg.RoutingKey, msg.Body)
	})
}

// PublishOnTopic forwards to the underlying MsgContext, satisfying any
// caller (e.g. the watchdog's Notifier) that only needs to publish a
// TopicName()/ContentType() payload without caring which transport
// carries it.
func (b *Broker) PublishOnTopic(ctx context.Context, msg interface {
	TopicName() string
	ContentType() string
}) error {
	return b.messenger.PublishOnTopic(ctx, msg)
}

// PublishCommand sends a built outbound command (§4.6) to
// "${family}Download/${deviceId}" exactly as commandbuilder produced it:
// raw bytes for FamilyB, marshaled JSON text for FamilyJ.
func (b *Broker) PublishCommand(ctx context.Context, built *commandbuilder.Built) error {
	body, contentType, err := commandBody(built)
	if err != nil {
		return &apperr.TransportError{Detail: "failed to marshal command payload", Err: err}
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = b.ch.PublishWithContext(publishCtx, b.cfg.Exchange, built.Topic, false, false, amqp.Publishing{
		ContentType: contentType,
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return &apperr.TransportError{Detail: fmt.Sprintf("failed to publish to %s", built.Topic), Err: err}
	}
	return nil
}

// commandBody picks the wire body and content type for a built command:
// raw bytes for FamilyB, marshaled JSON for FamilyJ. Split out from
// PublishCommand so it can be tested without a live channel.
func commandBody(built *commandbuilder.Built) ([]byte, string, error) {
	if built.Bytes != nil {
		return built.Bytes, "application/octet-stream", nil
	}
	encoded, err := json.Marshal(built.Payload)
	if err != nil {
		return nil, "", err
	}
	return encoded, "application/json", nil
}
