// Package lcd provides the display backends for lcdtext: an HD44780
// character LCD behind a PCF8574 I2C backpack, and a console stand-in for
// running without hardware.
//
// Example usage:
//
//	dev, err := lcd.Open(lcd.Config{Rows: 2, Cols: 16})
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//	dev.SetPosition(0, 0)
//	dev.WriteChar('A')
package lcd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers/hd44780i2c"
)

const (
	MaxRows = 4
	MaxCols = 40

	backlightBit = 0x08 // PCF8574 P3 drives the backlight transistor.
)

// DefaultAddrs are the usual backpack addresses, PCF8574 then PCF8574A.
var DefaultAddrs = []uint8{0x27, 0x3F}

// ErrNotFound is returned when no backpack acknowledges on the bus.
var ErrNotFound = errors.New("lcd not found")

// Bus is an I2C bus. Both periph's i2c.Bus and tinygo's drivers.I2C have
// this method.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// Config describes the display geometry and where to find it.
type Config struct {
	Rows int
	Cols int
	// BusName is passed to i2creg.Open. Empty selects the first bus.
	BusName string
	// Addr of the backpack. Zero probes DefaultAddrs in order.
	Addr   uint8
	Logger *slog.Logger
}

// Device is an HD44780 driven in 4-bit mode through the backpack.
type Device struct {
	dev    hd44780i2c.Device
	addr   uint8
	closer io.Closer
	// Preallocated so writing a character never allocates.
	char [1]byte
}

// Open initializes the host drivers, opens the I2C bus and configures the
// display on it.
func Open(cfg Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.BusName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.BusName, err)
	}
	d, err := New(bus, cfg)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.closer = bus
	return d, nil
}

// New configures the display on an already open bus. The caller keeps
// ownership of bus.
func New(bus Bus, cfg Config) (*Device, error) {
	if cfg.Rows < 1 || cfg.Rows > MaxRows || cfg.Cols < 1 || cfg.Cols > MaxCols {
		return nil, fmt.Errorf("unsupported geometry %dx%d", cfg.Rows, cfg.Cols)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	addrs := DefaultAddrs
	if cfg.Addr != 0 {
		addrs = []uint8{cfg.Addr}
	}
	addr, err := probe(bus, addrs, logger)
	if err != nil {
		return nil, err
	}

	d := &Device{
		dev:  hd44780i2c.New(bus, addr),
		addr: addr,
	}
	err = d.dev.Configure(hd44780i2c.Config{
		Width:  uint8(cfg.Cols),
		Height: uint8(cfg.Rows),
	})
	if err != nil {
		return nil, fmt.Errorf("configure hd44780 at %#02x: %w", addr, err)
	}
	d.dev.ClearDisplay()
	logger.Info("lcd:configured",
		slog.String("addr", fmt.Sprintf("%#02x", addr)),
		slog.Int("rows", cfg.Rows),
		slog.Int("cols", cfg.Cols),
	)
	return d, nil
}

// probe returns the first address in addrs that acknowledges a write.
func probe(bus Bus, addrs []uint8, logger *slog.Logger) (uint8, error) {
	for _, a := range addrs {
		err := bus.Tx(uint16(a), []byte{backlightBit}, nil)
		if err == nil {
			return a, nil
		}
		logger.Debug("lcd:probe", slog.String("addr", fmt.Sprintf("%#02x", a)), slog.Any("reason", err))
	}
	return 0, fmt.Errorf("%w on addresses %s", ErrNotFound, formatAddrs(addrs))
}

func formatAddrs(addrs []uint8) string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		s[i] = fmt.Sprintf("%#02x", a)
	}
	return strings.Join(s, ", ")
}

// Addr returns the backpack address in use.
func (d *Device) Addr() uint8 { return d.addr }

// SetPosition moves the cursor to row, col.
func (d *Device) SetPosition(row, col int) {
	d.dev.SetCursor(uint8(col), uint8(row))
}

// WriteChar writes c at the cursor and advances it.
func (d *Device) WriteChar(c byte) {
	d.char[0] = c
	d.dev.Print(d.char[:])
}

// Close blanks the display, turns the backlight off and releases the bus
// if Open created it.
func (d *Device) Close() error {
	d.dev.ClearDisplay()
	d.dev.BacklightOn(false)
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
