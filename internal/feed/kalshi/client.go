package kalshi

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

// ClientConfig configures the trade-API WebSocket client.
type ClientConfig struct {
	URL             string
	PingInterval    time.Duration
	WatchdogTimeout time.Duration
	WriteTimeout    time.Duration
}

// DefaultClientConfig returns the production settings. The elections
// subdomain serves all markets.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:             "wss://api.elections.kalshi.com/trade-api/ws/v2",
		PingInterval:    20 * time.Second,
		WatchdogTimeout: 120 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// ErrWatchdogTimeout is returned by Err after prolonged socket silence.
var ErrWatchdogTimeout = errors.New("watchdog timeout: no messages received")

// Client is a single-connection trade-API consumer. Like the market-channel
// client, reconnect policy belongs to the caller; a dead Client is discarded.
type Client struct {
	cfg    ClientConfig
	signer *Signer
	logger *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan Event
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	msgID atomic.Int64

	errMu   sync.Mutex
	lastErr error
}

// NewClient creates an unconnected client. The signer is required; the trade
// API rejects anonymous WebSocket connections.
func NewClient(cfg ClientConfig, signer *Signer, logger *log.Logger) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:    cfg,
		signer: signer,
		logger: logger,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}, nil
}

// Connect dials with signed headers and subscribes the given tickers to the
// trade and orderbook_delta channels.
func (c *Client) Connect(ctx context.Context, tickers []string) error {
	headers, err := c.signer.WSHeaders(time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 20 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.cfg.URL, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if len(tickers) > 0 {
		if err := c.subscribe([]string{"trade", "orderbook_delta"}, tickers); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	c.wg.Add(1)
	go c.readLoop()
	c.wg.Add(1)
	go c.pingLoop()

	c.logger.Printf("[kalshi-ws] connected, subscribed %d tickers", len(tickers))
	return nil
}

// Events delivers decoded messages. The channel closes when the connection
// dies or Close is called; Err then reports the cause.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err returns the terminal connection error, nil after a clean Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

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

func (c *Client) subscribe(channels, tickers []string) error {
	msg := map[string]any{
		"id":  c.msgID.Add(1),
		"cmd": "subscribe",
		"params": map[string]any{
			"channels":       channels,
			"market_tickers": tickers,
		},
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.WatchdogTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.fail(ErrWatchdogTimeout)
			} else {
				c.fail(fmt.Errorf("read: %w", err))
			}
			return
		}

		event, unknown := ParseMessage(data, time.Now().UTC())
		if event == nil {
			if unknown != "" {
				c.logger.Printf("[kalshi-ws] unhandled message type %q", unknown)
			}
			continue
		}

		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends protocol-level pings; the venue keeps authenticated
// connections alive as long as the transport stays responsive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Printf("[kalshi-ws] ping failed: %v", err)
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
	c.logger.Printf("[kalshi-ws] connection lost: %v", err)
}
