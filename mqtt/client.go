// Package mqtt publishes display frames to an MQTT broker so the contents
// of the LCD can be followed remotely.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/harveysanders/lcdtext/refresh"
)

const (
	DefaultTopic    = "lcdtext/frame"
	DefaultClientID = "lcdtext"
)

var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// Client mirrors frames to a broker topic.
type Client struct {
	ID      string
	Topic   string
	Timeout time.Duration
	// RetryDelay is the pause between failed connection attempts.
	RetryDelay time.Duration
	Logger     *slog.Logger
	Username   string // MQTT broker username (optional)
	Password   string // MQTT broker password (optional, requires Username)

	packetID uint16
}

// nextPacketID returns the identifier for the next PUBLISH. The encoder
// rejects zero even at QoS0, so the counter skips it on wraparound.
func (c *Client) nextPacketID() uint16 {
	c.packetID++
	if c.packetID == 0 {
		c.packetID = 1
	}
	return c.packetID
}

// ConnectAndPublish connects to the broker at addr and publishes every frame
// received on frames as JSON. It reconnects after failures and only returns
// once ctx is done.
func (c *Client) ConnectAndPublish(ctx context.Context, addr string, frames <-chan refresh.Frame) error {
	c.setDefaults()
	c.Logger.Info("mqtt:address", slog.String("addr", addr), slog.String("topic", c.Topic))

	for {
		err := c.session(ctx, addr, frames)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Error("mqtt:disconnected", slog.Any("reason", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}
}

func (c *Client) setDefaults() {
	if c.ID == "" {
		c.ID = DefaultClientID
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// session runs one TCP+MQTT connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context, addr string, frames <-chan refresh.Frame) error {
	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	c.Logger.Info("tcp:connected", slog.String("remote", conn.RemoteAddr().String()))

	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 4096)},
		OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			c.Logger.Debug("mqtt:received", slog.String("topic", string(varPub.TopicName)))
			return nil
		},
	}
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(c.ID))
	if c.Username != "" {
		varconn.Username = []byte(c.Username)
		if c.Password != "" {
			varconn.Password = []byte(c.Password)
		}
	}
	client := mqtt.NewClient(cfg)

	conn.SetDeadline(time.Now().Add(c.Timeout))
	if err := client.StartConnect(conn, &varconn); err != nil {
		return fmt.Errorf("mqtt start connect: %w", err)
	}
	for retries := 50; retries > 0 && !client.IsConnected(); retries-- {
		if err := client.HandleNext(); err != nil {
			c.Logger.Error("mqtt:handle-next-failed", slog.Any("reason", err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if !client.IsConnected() {
		if err := client.Err(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return errors.New("mqtt connect timed out")
	}
	c.Logger.Info("mqtt:connected")
	conn.SetDeadline(time.Time{})

	// Frames arrive every tick, well inside the keepalive window, so the
	// publishes themselves keep the session open.
	pubVar := mqtt.VariablesPublish{TopicName: []byte(c.Topic)}
	for client.IsConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-frames:
			payload, err := json.Marshal(f)
			if err != nil {
				c.Logger.Error("mqtt:marshal-failed", slog.Any("reason", err))
				continue
			}
			pubVar.PacketIdentifier = c.nextPacketID()
			conn.SetWriteDeadline(time.Now().Add(c.Timeout))
			if err := client.PublishPayload(pubFlags, pubVar, payload); err != nil {
				return fmt.Errorf("mqtt publish: %w", err)
			}
			c.Logger.Debug("mqtt:published", slog.Uint64("tick", f.Tick))
		}
	}
	if err := client.Err(); err != nil {
		return err
	}
	return errors.New("mqtt connection lost")
}
