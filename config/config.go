// Package config parses the lcdtext command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/harveysanders/lcdtext/grid"
	"github.com/harveysanders/lcdtext/lcd"
	"github.com/harveysanders/lcdtext/mqtt"
	"github.com/harveysanders/lcdtext/refresh"
)

// ErrUsage is wrapped by every command-line error.
var ErrUsage = errors.New("usage")

// Config holds all runtime configuration.
type Config struct {
	Path     string
	Interval time.Duration
	Rows     int
	Cols     int

	BusName string
	Addr    uint8
	Console bool
	LED     string

	MQTTAddr     string
	MQTTTopic    string
	MQTTClientID string
	MQTTUser     string
	MQTTPass     string

	WSAddr string
	Debug  bool
}

// Parse parses args (without the program name). Flag errors and help output
// go to output.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	var addr string

	fs := flag.NewFlagSet("lcdtext", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: lcdtext [flags] <path>")
		fs.PrintDefaults()
	}
	fs.DurationVar(&cfg.Interval, "interval", refresh.DefaultInterval, "Time between refreshes")
	fs.IntVar(&cfg.Rows, "rows", grid.DefaultRows, "Display rows")
	fs.IntVar(&cfg.Cols, "cols", grid.DefaultCols, "Display columns")
	fs.StringVar(&cfg.BusName, "bus", "", "I2C bus name (empty for the first bus)")
	fs.StringVar(&addr, "addr", "0", "I2C backpack address, e.g. 0x27 (0 probes 0x27 then 0x3F)")
	fs.BoolVar(&cfg.Console, "console", false, "Draw to stdout instead of an LCD")
	fs.StringVar(&cfg.LED, "led", "", "GPIO name of a heartbeat LED (empty disables)")
	fs.StringVar(&cfg.MQTTAddr, "mqtt", "", "MQTT broker host:port to mirror frames to (empty disables)")
	fs.StringVar(&cfg.MQTTTopic, "mqtt-topic", mqtt.DefaultTopic, "MQTT topic for frames")
	fs.StringVar(&cfg.MQTTClientID, "mqtt-id", mqtt.DefaultClientID, "MQTT client ID")
	fs.StringVar(&cfg.MQTTUser, "mqtt-user", "", "MQTT username (optional)")
	fs.StringVar(&cfg.MQTTPass, "mqtt-pass", "", "MQTT password (optional)")
	fs.StringVar(&cfg.WSAddr, "ws", "", "Websocket listen address, e.g. :8080 (empty disables)")
	fs.BoolVar(&cfg.Debug, "v", false, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	switch fs.NArg() {
	case 1:
		cfg.Path = fs.Arg(0)
	case 0:
		return nil, fmt.Errorf("%w: missing filename argument", ErrUsage)
	default:
		return nil, fmt.Errorf("%w: expected one filename argument, got %d", ErrUsage, fs.NArg())
	}

	a, err := strconv.ParseUint(addr, 0, 7)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid -addr %q", ErrUsage, addr)
	}
	cfg.Addr = uint8(a)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Rows < 1 || c.Rows > lcd.MaxRows {
		return fmt.Errorf("%w: -rows must be 1..%d, got %d", ErrUsage, lcd.MaxRows, c.Rows)
	}
	if c.Cols < 1 || c.Cols > lcd.MaxCols {
		return fmt.Errorf("%w: -cols must be 1..%d, got %d", ErrUsage, lcd.MaxCols, c.Cols)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: -interval must be positive, got %v", ErrUsage, c.Interval)
	}
	if c.Path == "" {
		return fmt.Errorf("%w: empty filename argument", ErrUsage)
	}
	return nil
}
