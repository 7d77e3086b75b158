// Package zkillfeed provides a WebSocket client for the zKillboard kill
// stream.
package zkillfeed

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
	"github.com/hervehildenbrand/kill-radar/pkg/subscription"
)

const (
	// DefaultURL is the zKillboard WebSocket endpoint.
	DefaultURL = "wss://zkillboard.com/websocket/"

	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// Client is a WebSocket client for the kill stream with automatic
// reconnection. It remembers the system channels it was asked to join and
// rejoins them, together with the public channel, on every connect.
type Client struct {
	url    string
	events chan<- Event
	done   chan struct{}
	wg     sync.WaitGroup
	log    *logrus.Entry

	reconnectDelay time.Duration
	after          func(time.Duration) <-chan time.Time

	// conn is only written under writeMu; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	conn    *websocket.Conn

	chanMu   sync.Mutex
	channels map[string]struct{}

	// Stats
	messagesReceived uint64
	killsReceived    uint64
	errors           uint64
	reconnects       uint64
	dropped          uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a client delivering parsed events to events.
func NewClient(url string, events chan<- Event, log *logrus.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:            url,
		events:         events,
		done:           make(chan struct{}),
		log:            log.WithField("component", "zkillfeed"),
		reconnectDelay: initialReconnectDelay,
		after:          time.After,
		channels:       make(map[string]struct{}),
	}
}

// Start begins the WebSocket connection in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		c.log.Warn("Client already running")
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	c.log.WithField("url", c.url).Info("Client started")
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.log.Info("Client stopped")
}

// Send applies subscription commands. The channel set is updated
// immediately; frames are written only while connected, otherwise they are
// replayed on the next connect.
func (c *Client) Send(cmds ...subscription.Command) error {
	c.chanMu.Lock()
	for _, cmd := range cmds {
		switch cmd.Action {
		case subscription.ActionSubscribe:
			c.channels[cmd.Channel] = struct{}{}
		case subscription.ActionUnsubscribe:
			delete(c.channels, cmd.Channel)
		}
	}
	c.chanMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	for _, cmd := range cmds {
		if err := c.writeLocked(cmd); err != nil {
			return fmt.Errorf("send %s %s: %w", cmd.Action, cmd.Channel, err)
		}
	}
	return nil
}

// Channels returns the system channels the client is joined to, sorted.
func (c *Client) Channels() []string {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Stats returns current statistics.
func (c *Client) Stats() map[string]interface{} {
	c.chanMu.Lock()
	channels := len(c.channels)
	c.chanMu.Unlock()

	return map[string]interface{}{
		"connected":         c.connected.Load(),
		"channels":          channels,
		"messages_received": atomic.LoadUint64(&c.messagesReceived),
		"kills_received":    atomic.LoadUint64(&c.killsReceived),
		"errors":            atomic.LoadUint64(&c.errors),
		"reconnects":        atomic.LoadUint64(&c.reconnects),
		"dropped":           atomic.LoadUint64(&c.dropped),
	}
}

func (c *Client) writeLocked(cmd subscription.Command) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, cmd.JSON())
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := c.reconnectDelay

	for c.running.Load() {
		connected, err := c.connectAndStream()
		if connected {
			// Backoff only applies to consecutive failed attempts.
			reconnectDelay = c.reconnectDelay
		}
		if err != nil {
			atomic.AddUint64(&c.errors, 1)
			atomic.AddUint64(&c.reconnects, 1)
			c.log.WithError(err).WithField("delay", reconnectDelay).Warn("Connection error, reconnecting")
		}

		select {
		case <-c.done:
			return
		case <-c.after(reconnectDelay):
			reconnectDelay = nextDelay(reconnectDelay)
		}
	}
}

// nextDelay applies the exponential backoff, capped at maxReconnectDelay.
func nextDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * reconnectBackoff)
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// subscribe attaches conn and joins the public channel plus every tracked
// system channel.
func (c *Client) subscribe(conn *websocket.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn = conn
	cmds := []subscription.Command{subscription.Subscribe(models.ChannelPublic)}
	for _, ch := range c.Channels() {
		cmds = append(cmds, subscription.Subscribe(ch))
	}
	for _, cmd := range cmds {
		if err := c.writeLocked(cmd); err != nil {
			c.conn = nil
			return fmt.Errorf("subscribe %s failed: %w", cmd.Channel, err)
		}
	}
	return nil
}

func (c *Client) detach() {
	c.writeMu.Lock()
	c.conn = nil
	c.writeMu.Unlock()
	c.connected.Store(false)
}

// connectAndStream reports whether the connection was established, along
// with the error that ended it.
func (c *Client) connectAndStream() (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	c.log.Debug("Connecting to kill feed")
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	if err := c.subscribe(conn); err != nil {
		return false, err
	}
	defer c.detach()

	c.connected.Store(true)
	c.log.WithField("channels", len(c.Channels())).Info("Connected and subscribed")

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				// Unblocks ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			if !c.running.Load() {
				return true, nil
			}
			return true, fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		n := atomic.AddUint64(&c.messagesReceived, 1)

		ev, err := ParseMessage(message)
		if err != nil {
			if n <= 10 {
				c.log.WithError(err).Debug("Ignoring feed message")
			}
			continue
		}

		if _, ok := ev.(*KillNotification); ok {
			atomic.AddUint64(&c.killsReceived, 1)
		}

		select {
		case c.events <- ev:
		default:
			if atomic.AddUint64(&c.dropped, 1)%100 == 1 {
				c.log.Warn("Event channel full, dropping event")
			}
		}
	}

	return true, nil
}
