// Package turnevents publishes gateway events on a watermill topic, either
// in-process or on a Redis stream.
package turnevents

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
)

const (
	DefaultTopic = "chatbot.turns"
	RedisSlug    = "redis"

	queueSize    = 256
	redisTimeout = 2 * time.Second
)

// Settings selects the transport.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Topic    string `glazed:"redis-stream"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

// NewSection returns the section carrying the event transport flags.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		RedisSlug,
		"Redis Streams transport for gateway events",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Publish events on a Redis stream instead of in-process")),
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-stream", fields.TypeString,
				fields.WithDefault(DefaultTopic),
				fields.WithHelp("Stream the events are written to")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault("chatbot-gateway"),
				fields.WithHelp("Consumer group used by subscribers")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Consumer name (random when empty)")),
		),
	)
}

// Publisher turns gateway events into watermill messages. Observe only queues
// the message; a single worker publishes in order. Publishing errors are
// logged and dropped, and events are dropped when the queue is full.
type Publisher struct {
	settings Settings
	topic    string
	pub      message.Publisher
	sub      message.Subscriber
	rsubs    []message.Subscriber
	client   *redis.Client
	wlogger  watermill.LoggerAdapter
	logger   zerolog.Logger

	mu           sync.RWMutex
	closed       bool
	closeOnce    sync.Once
	closeErr     error
	queue        chan *message.Message
	done         chan struct{}
	drainTimeout time.Duration
}

var _ gateway.Observer = &Publisher{}

func NewPublisher(s Settings, logger zerolog.Logger) (*Publisher, error) {
	logger = logger.With().Str("component", "turnevents").Logger()
	p := &Publisher{
		settings:     s,
		topic:        s.Topic,
		wlogger:      newWatermillLogger(logger),
		logger:       logger,
		queue:        make(chan *message.Message, queueSize),
		done:         make(chan struct{}),
		drainTimeout: 3 * time.Second,
	}
	if strings.TrimSpace(p.topic) == "" {
		p.topic = DefaultTopic
	}

	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, p.wlogger)
		p.pub = ch
		p.sub = ch
		go p.run()
		return p, nil
	}

	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("turnevents: redis address required")
	}
	p.client = redis.NewClient(&redis.Options{
		Addr:         s.Addr,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     p.client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, p.wlogger)
	if err != nil {
		_ = p.client.Close()
		return nil, errors.Wrap(err, "turnevents: redis publisher")
	}
	p.pub = pub
	go p.run()
	return p, nil
}

func (p *Publisher) Topic() string { return p.topic }

// Transport describes where events go, for diagnostics.
func (p *Publisher) Transport() string {
	if p.client == nil {
		return "in-process"
	}
	return "redis://" + p.settings.Addr + "/" + p.topic
}

// Observe queues ev as JSON with the event type in the metadata. It never
// waits for the transport.
func (p *Publisher) Observe(_ context.Context, ev gateway.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", string(ev.Type))
	if ev.SessionID != "" {
		msg.Metadata.Set("session_id", ev.SessionID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn().Str("type", string(ev.Type)).Str("session", ev.SessionID).Msg("event queue full, dropping event")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.pub.Publish(p.topic, msg); err != nil {
			p.logger.Warn().Err(err).Str("type", msg.Metadata.Get("type")).Msg("failed to publish event")
		}
	}
}

// Subscribe returns decoded events until ctx is done. In Redis mode the
// consumer group is created at the stream tail first, so history is not replayed.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan gateway.Event, error) {
	sub := p.sub
	if sub == nil {
		if err := p.ensureGroupAtTail(ctx); err != nil {
			return nil, err
		}
		rsub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        p.client,
			Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: p.group(),
			Consumer:      p.consumer(),
		}, p.wlogger)
		if err != nil {
			return nil, errors.Wrap(err, "turnevents: redis subscriber")
		}
		p.rsubs = append(p.rsubs, rsub)
		sub = rsub
	}

	msgs, err := sub.Subscribe(ctx, p.topic)
	if err != nil {
		return nil, errors.Wrap(err, "turnevents: subscribe")
	}

	out := make(chan gateway.Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev gateway.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				p.logger.Warn().Err(err).Str("uuid", msg.UUID).Msg("skipping undecodable event")
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (p *Publisher) ensureGroupAtTail(ctx context.Context) error {
	err := p.client.XGroupCreateMkStream(ctx, p.topic, p.group(), "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "turnevents: create consumer group")
	}
	return nil
}

func (p *Publisher) group() string {
	if p.settings.Group != "" {
		return p.settings.Group
	}
	return "chatbot-gateway"
}

func (p *Publisher) consumer() string {
	if p.settings.Consumer != "" {
		return p.settings.Consumer
	}
	return "cli-" + uuid.NewString()[:8]
}

// Ping checks the Redis connection; it is a no-op for the in-process transport.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return errors.Wrap(p.client.Ping(ctx).Err(), "turnevents: redis ping")
}

// Close stops accepting events, gives the worker drainTimeout to publish what
// is queued, then closes the transport.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		select {
		case <-p.done:
		case <-time.After(p.drainTimeout):
			p.logger.Warn().Int("pending", len(p.queue)).Msg("event queue not drained before close")
		}
		p.closeErr = p.closeTransport()
	})
	return p.closeErr
}

func (p *Publisher) closeTransport() error {
	var firstErr error
	if err := p.pub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		firstErr = err
	}
	for _, sub := range p.rsubs {
		if err := sub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	if p.client != nil {
		// the redis publisher may already have closed the shared client
		if err := p.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
