// Package natsmirror republishes room broadcasts onto NATS JetStream so
// external observers can follow live rooms without holding a WebSocket.
// It is an observer tap only; the coordinator never consumes these subjects.
package natsmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/voteroom/internal/events"
)

// Config holds the JetStream mirror configuration
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	BufferSize    int
}

// DefaultConfig returns the default mirror configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "rooms.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        time.Hour,
		BufferSize:    1024,
	}
}

// Mirror publishes room events to JetStream. Publishing is fire-and-forget:
// failures are logged and never reach the broadcast path.
type Mirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
	queue  chan queued
	done   chan struct{}
}

type queued struct {
	subject string
	data    []byte
}

// New connects to NATS, ensures the stream exists and starts the publish loop
func New(cfg Config) (*Mirror, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	m := &Mirror{
		nc:     nc,
		js:     js,
		config: cfg,
		queue:  make(chan queued, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	if err := m.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	go m.publishLoop()

	log.Info().
		Str("stream", cfg.StreamName).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("NATS event mirror started")

	return m, nil
}

func (m *Mirror) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        m.config.StreamName,
		Description: "Live room event mirror",
		Subjects:    []string{fmt.Sprintf("%s.>", m.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
	}

	if _, err := m.js.Stream(ctx, m.config.StreamName); err != nil {
		if _, err := m.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", m.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// Publish queues one room event for mirroring. Never blocks; the event is
// dropped when the queue is full.
func (m *Mirror) Publish(code string, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to marshal mirrored event")
		return
	}

	subject := fmt.Sprintf("%s.%s", m.config.SubjectPrefix, code)
	select {
	case m.queue <- queued{subject: subject, data: data}:
	default:
		log.Warn().Str("room_code", code).Msg("mirror queue full, dropping event")
	}
}

func (m *Mirror) publishLoop() {
	for {
		select {
		case <-m.done:
			return
		case q := <-m.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := m.js.Publish(ctx, q.subject, q.data); err != nil {
				log.Error().Err(err).Str("subject", q.subject).Msg("mirror publish failed")
			}
			cancel()
		}
	}
}

// Close stops the publish loop and drains the NATS connection
func (m *Mirror) Close() {
	close(m.done)
	if err := m.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("NATS drain failed")
	}
}
