// Package notifications keeps a device subscribed to the check-in status
// events of the server over a WebSocket.
package notifications

import (
	"context"
	"sync"

	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"

	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnected    Status = "CONNECTED"
	StatusFailed       Status = "FAILED"
)

var (
	ErrInvalidTopic = errors.New("topic must be child:{id} or service:{id}")
)

// Client is a single connection to the notification endpoint. It never
// reconnects on its own: a dropped connection moves it to FAILED and the
// owner decides when to Retry.
type Client struct {
	Url    string
	Origin string
	Token  string
	Logger *log.Logger
	// OnEvent receives every status event, from the read loop goroutine.
	OnEvent func(event checkin.StatusEvent)
	// OnStatus is told about every status change.
	OnStatus func(status Status)

	mu     sync.Mutex
	status Status
	conn   *websocket.Conn
	topics map[string]struct{}
	done   chan struct{}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == "" {
		return StatusDisconnected
	}
	return c.status
}

// Connect dials the server and subscribes again to every topic the client
// was subscribed to.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	origin := c.Origin
	if origin == "" {
		origin = "http://localhost/"
	}
	config, err := websocket.NewConfig(c.Url, origin)
	if err != nil {
		return errors.Wrap(err, "invalid notification url")
	}
	if c.Token != "" {
		config.Header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, err := config.DialContext(ctx)
	if err != nil {
		c.setStatus(StatusFailed)
		return errors.Wrap(checkin.ErrNetwork, err.Error())
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	topics := c.topicList()
	c.mu.Unlock()

	for _, topic := range topics {
		if err := websocket.JSON.Send(conn, api.Frame{Type: api.FrameSubscribe, Topic: topic}); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			conn.Close()
			c.setStatus(StatusFailed)
			return errors.Wrap(checkin.ErrNetwork, err.Error())
		}
	}

	c.setStatus(StatusConnected)
	go c.readLoop(conn, done)
	c.Logger.Info(ctx, "notifications connected", "url", c.Url, "topics", len(topics))
	return nil
}

// Disconnect closes the connection and waits for the read loop to stop.
// Subscriptions are kept for the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		<-done
	}
	c.setStatus(StatusDisconnected)
}

// Retry connects again after a failure. It is a no-op when connected.
func (c *Client) Retry(ctx context.Context) error {
	if c.Status() == StatusConnected {
		return nil
	}
	return c.Connect(ctx)
}

func (c *Client) Subscribe(topic string) error {
	if !checkin.ValidTopic(topic) {
		return ErrInvalidTopic
	}
	c.mu.Lock()
	if c.topics == nil {
		c.topics = map[string]struct{}{}
	}
	c.topics[topic] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := websocket.JSON.Send(conn, api.Frame{Type: api.FrameSubscribe, Topic: topic}); err != nil {
		return errors.Wrap(checkin.ErrNetwork, err.Error())
	}
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := websocket.JSON.Send(conn, api.Frame{Type: api.FrameUnsubscribe, Topic: topic}); err != nil {
		return errors.Wrap(checkin.ErrNetwork, err.Error())
	}
	return nil
}

// Topics returns the current subscriptions.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicList()
}

func (c *Client) topicList() []string {
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		var frame api.Frame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			c.mu.Lock()
			// conn is still current unless Disconnect closed it
			dropped := c.conn == conn
			if dropped {
				c.conn = nil
			}
			c.mu.Unlock()
			if dropped {
				conn.Close()
				c.Logger.Warn(ctx, "notifications connection lost", "err", err.Error())
				c.setStatus(StatusFailed)
			}
			return
		}

		switch frame.Type {
		case api.FrameEvent:
			if frame.Event != nil && c.OnEvent != nil {
				c.OnEvent(*frame.Event)
			}
		case api.FrameError:
			if frame.Error != nil {
				c.Logger.Warn(ctx, "subscription refused", "topic", frame.Topic, "code", frame.Error.Code)
			}
		default:
			c.Logger.Debug(ctx, "notification frame", "type", frame.Type, "topic", frame.Topic)
		}
	}
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()
	if changed && c.OnStatus != nil {
		c.OnStatus(status)
	}
}
