package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConfig configures the market-channel WebSocket client.
type ClientConfig struct {
	// URL is the market channel endpoint.
	URL string
	// ChunkSize is the number of asset ids per subscribe message.
	ChunkSize int
	// ChunkPace is the delay between subscribe chunks. Sending chunks too
	// fast draws INVALID OPERATION replies.
	ChunkPace time.Duration
	// KeepaliveInterval is the cadence of application-level "PING" text.
	KeepaliveInterval time.Duration
	// WatchdogTimeout bounds the silence tolerated on the socket.
	WatchdogTimeout time.Duration
	// WriteTimeout is the deadline for outbound messages.
	WriteTimeout time.Duration
	// EnableCustomFeatures unlocks spread, new-market and resolution events.
	EnableCustomFeatures bool
}

// DefaultClientConfig returns the production settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:                  "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		ChunkSize:            20,
		ChunkPace:            200 * time.Millisecond,
		KeepaliveInterval:    10 * time.Second,
		WatchdogTimeout:      120 * time.Second,
		WriteTimeout:         10 * time.Second,
		EnableCustomFeatures: true,
	}
}

// ErrWatchdogTimeout is returned by Err after the socket stayed silent past
// the watchdog timeout while fully subscribed.
var ErrWatchdogTimeout = errors.New("watchdog timeout: no messages received")

// Client is a single-connection market-channel consumer. It dials once,
// subscribes in paced chunks, and delivers decoded payloads on Events until
// the connection dies. Reconnect policy lives with the caller; a dead Client
// is discarded and a fresh one dialed.
type Client struct {
	cfg    ClientConfig
	logger *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan *Events
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	subTarget   atomic.Int64
	subCount    atomic.Int64
	subscribing atomic.Bool

	lastActivity atomic.Int64 // unix nanos of last read

	errMu   sync.Mutex
	lastErr error
}

// NewClient creates an unconnected client.
func NewClient(cfg ClientConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		events: make(chan *Events, 256),
		done:   make(chan struct{}),
	}
}

// Connect dials the endpoint and subscribes to the given assets. The first
// chunk is sent before returning so the caller knows the stream is live; the
// remaining chunks are paced in the background and cancelled by Close or ctx.
func (c *Client) Connect(ctx context.Context, assetIDs []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 20 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.cfg.URL, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.lastActivity.Store(time.Now().UnixNano())

	c.subTarget.Store(int64(len(assetIDs)))
	chunks := chunkAssets(assetIDs, c.cfg.ChunkSize)

	if len(chunks) > 0 {
		c.subscribing.Store(true)
		if err := c.writeSubscribe(chunks[0], true); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe first chunk: %w", err)
		}
		c.subCount.Store(int64(len(chunks[0])))

		if len(chunks) > 1 {
			c.wg.Add(1)
			go c.subscribeRest(ctx, chunks[1:])
		} else {
			c.subscribing.Store(false)
		}
	}

	c.wg.Add(1)
	go c.readLoop()
	c.wg.Add(1)
	go c.keepaliveLoop()

	c.logger.Printf("[polymarket-ws] connected, subscribing to %d assets in %d chunks",
		len(assetIDs), len(chunks))
	return nil
}

// Events delivers decoded payloads. The channel closes when the connection
// dies or Close is called; Err then reports the cause.
func (c *Client) Events() <-chan *Events {
	return c.events
}

// Err returns the terminal connection error, nil after a clean Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// SubscriptionCount returns how many assets have been subscribed so far.
func (c *Client) SubscriptionCount() int { return int(c.subCount.Load()) }

// SubscriptionTarget returns the size of the requested subscription universe.
func (c *Client) SubscriptionTarget() int { return int(c.subTarget.Load()) }

// SubscriptionInProgress reports whether background chunks are still pending.
func (c *Client) SubscriptionInProgress() bool { return c.subscribing.Load() }

// Close tears the connection down and waits for all loops to exit.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) subscribeRest(ctx context.Context, chunks [][]string) {
	defer c.wg.Done()
	defer c.subscribing.Store(false)

	for _, chunk := range chunks {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ChunkPace):
		}

		if err := c.writeSubscribe(chunk, false); err != nil {
			c.logger.Printf("[polymarket-ws] subscribe chunk failed: %v", err)
			return
		}
		c.subCount.Add(int64(len(chunk)))
	}
	c.logger.Printf("[polymarket-ws] subscribed to %d/%d assets",
		c.subCount.Load(), c.subTarget.Load())
}

func (c *Client) writeSubscribe(assetIDs []string, initial bool) error {
	msg := map[string]any{"assets_ids": assetIDs}
	if initial {
		msg["type"] = "market"
		if c.cfg.EnableCustomFeatures {
			msg["custom_feature_enabled"] = true
		}
	} else {
		msg["operation"] = "subscribe"
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

// readLoop reads until the socket fails or the watchdog fires, then closes
// the events channel.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.WatchdogTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			// Subscription bootstrap for a large universe can outlast the
			// watchdog before the first event arrives; tolerate silence
			// until the last chunk has been sent.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if c.subscribing.Load() {
					c.logger.Printf("[polymarket-ws] watchdog during bootstrap (%d/%d subscribed), waiting",
						c.subCount.Load(), c.subTarget.Load())
					continue
				}
				c.fail(ErrWatchdogTimeout)
				return
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}

		c.lastActivity.Store(time.Now().UnixNano())

		if msgType == websocket.TextMessage && IsControlText(data) {
			continue
		}

		events, err := ParseMessage(data, time.Now().UTC())
		if err != nil {
			sample := data
			if len(sample) > 200 {
				sample = sample[:200]
			}
			c.logger.Printf("[polymarket-ws] invalid JSON payload: %v (sample %q)", err, sample)
			continue
		}
		for _, unknown := range events.Unknown {
			c.logger.Printf("[polymarket-ws] unknown event type %q", unknown)
		}
		if events.Empty() {
			continue
		}

		select {
		case c.events <- events:
		case <-c.done:
			return
		}
	}
}

func (c *Client) keepaliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
					// Socket is likely dead; the read loop surfaces it.
					c.logger.Printf("[polymarket-ws] keepalive write failed: %v", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.lastErr == nil {
		c.lastErr = err
	}
	c.errMu.Unlock()
	c.logger.Printf("[polymarket-ws] connection lost: %v", err)
}

func chunkAssets(assetIDs []string, size int) [][]string {
	if size <= 0 {
		size = 20
	}
	var chunks [][]string
	for i := 0; i < len(assetIDs); i += size {
		end := i + size
		if end > len(assetIDs) {
			end = len(assetIDs)
		}
		chunks = append(chunks, assetIDs[i:end])
	}
	return chunks
}
