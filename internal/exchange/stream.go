package exchange

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/coachpo/marketmaker/internal/observability"
	"github.com/coachpo/marketmaker/internal/resilience"
)

const (
	defaultStreamBuffer   = 1024
	defaultReadLimit      = 2 * 1024 * 1024
	subscribeWriteTimeout = 5 * time.Second
)

// StreamConfig tunes the websocket stream client.
type StreamConfig struct {
	URL        string                      `yaml:"url"`
	Topics     []string                    `yaml:"topics"`
	BufferSize int                         `yaml:"bufferSize"`
	Supervisor resilience.SupervisorConfig `yaml:"supervisor"`
}

// StreamClient owns one websocket session to the venue feed, kept alive by
// the reconnect supervisor. Decoded events are delivered on a bounded
// channel consumed by a single reader, decoupling transport latency from
// book mutation.
type StreamClient struct {
	cfg        StreamConfig
	events     chan Event
	supervisor *resilience.ReconnectSupervisor
}

// NewStreamClient constructs a stream client. onAlert fires when
// reconnection attempts are exhausted.
func NewStreamClient(cfg StreamConfig, onAlert func(error)) *StreamClient {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &StreamClient{
		cfg:        cfg,
		events:     make(chan Event, buffer),
		supervisor: resilience.NewReconnectSupervisor(cfg.Supervisor, onAlert),
	}
}

// Events returns the inbound event channel. It is closed when Run returns.
func (c *StreamClient) Events() <-chan Event {
	return c.events
}

// Run blocks, maintaining the stream session until ctx is cancelled or the
// reconnect budget is exhausted. Every new session replays the topic
// subscriptions and emits KindReconnected so the consumer resynchronizes
// its book from a fresh snapshot.
func (c *StreamClient) Run(ctx context.Context) error {
	defer close(c.events)
	return c.supervisor.Run(ctx, c.session)
}

func (c *StreamClient) session(ctx context.Context, up func()) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "session end")
	conn.SetReadLimit(defaultReadLimit)

	if err := c.subscribe(ctx, conn); err != nil {
		return err
	}

	up()
	observability.Log().Info("stream connected",
		observability.F("url", c.cfg.URL),
		observability.F("topics", len(c.cfg.Topics)))
	if !c.emit(ctx, Event{Kind: KindReconnected}) {
		return ctx.Err()
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		event, err := DecodeEvent(raw)
		if err != nil {
			observability.Log().Debug("dropping undecodable stream frame",
				observability.F("error", err))
			continue
		}
		if !c.emit(ctx, event) {
			return ctx.Err()
		}
	}
}

func (c *StreamClient) subscribe(ctx context.Context, conn *websocket.Conn) error {
	if len(c.cfg.Topics) == 0 {
		return nil
	}
	payload, err := json.Marshal(subscribeCommand{Op: "subscribe", Args: c.cfg.Topics})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, subscribeWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func (c *StreamClient) emit(ctx context.Context, event Event) bool {
	select {
	case c.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
