// Package led blinks a status LED on a GPIO pin, once per refresh tick.
package led

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// LED is an output pin that toggles on each Toggle call.
type LED struct {
	pin   gpio.PinOut
	level gpio.Level
}

// Open looks up the pin by name (e.g. "GPIO21") and drives it low.
func Open(name string) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no gpio pin named %q", name)
	}
	return New(p)
}

// New drives pin low and returns an LED on it.
func New(pin gpio.PinOut) (*LED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure %s as output: %w", pin, err)
	}
	return &LED{pin: pin, level: gpio.Low}, nil
}

// Toggle flips the LED.
func (l *LED) Toggle() error {
	l.level = !l.level
	return l.pin.Out(l.level)
}

// Off drives the LED low.
func (l *LED) Off() error {
	l.level = gpio.Low
	return l.pin.Out(gpio.Low)
}
