// Command lcdtext keeps a character LCD showing the first lines of a text
// file, re-reading the file once per tick.
//
//	lcdtext [flags] <path>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/harveysanders/lcdtext/config"
	"github.com/harveysanders/lcdtext/grid"
	"github.com/harveysanders/lcdtext/lcd"
	"github.com/harveysanders/lcdtext/led"
	"github.com/harveysanders/lcdtext/mqtt"
	"github.com/harveysanders/lcdtext/refresh"
	"github.com/harveysanders/lcdtext/ws"
)

const (
	exitOK    = 0
	exitInit  = 1
	exitUsage = 2

	// Buffered so a mirror can fall a few frames behind before dropping.
	mirrorQueue = 10
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Parse(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: level,
	}))

	var closeDisplay func() error
	open := func() (refresh.Display, error) {
		if cfg.Console {
			return lcd.NewConsole(stdout, cfg.Rows, cfg.Cols), nil
		}
		dev, err := lcd.Open(lcd.Config{
			Rows:    cfg.Rows,
			Cols:    cfg.Cols,
			BusName: cfg.BusName,
			Addr:    cfg.Addr,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		closeDisplay = dev.Close
		return dev, nil
	}

	var beat *led.LED
	if cfg.LED != "" {
		beat, err = led.Open(cfg.LED)
		if err != nil {
			logger.Error("led:open-failed", slog.String("pin", cfg.LED), slog.Any("reason", err))
		} else {
			defer beat.Off()
		}
	}

	var mirrors []chan refresh.Frame
	onTick := func(f refresh.Frame) {
		if beat != nil {
			if err := beat.Toggle(); err != nil {
				logger.Debug("led:toggle-failed", slog.Any("reason", err))
			}
		}
		for _, ch := range mirrors {
			if !refresh.Send(ch, f) {
				logger.Debug("refresh:frame-dropped", slog.Uint64("tick", f.Tick))
			}
		}
	}

	buf := grid.New(cfg.Rows, cfg.Cols)
	buf.SetLogger(logger)
	loop := refresh.New(refresh.Config{
		Grid:     buf,
		Path:     cfg.Path,
		Interval: cfg.Interval,
		Open:     open,
		OnTick:   onTick,
		Logger:   logger,
	})
	if err := loop.Start(); err != nil {
		logger.Error("lcdtext:init-failed", slog.Any("reason", err))
		return exitInit
	}
	if closeDisplay != nil {
		defer func() {
			if err := closeDisplay(); err != nil {
				logger.Error("lcd:close-failed", slog.Any("reason", err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MQTTAddr != "" {
		ch := make(chan refresh.Frame, mirrorQueue)
		mirrors = append(mirrors, ch)
		c := &mqtt.Client{
			ID:       cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUser,
			Password: cfg.MQTTPass,
			Logger:   logger,
		}
		g.Go(func() error {
			return ignoreCancel(c.ConnectAndPublish(gctx, cfg.MQTTAddr, ch))
		})
	}
	if cfg.WSAddr != "" {
		ch := make(chan refresh.Frame, mirrorQueue)
		mirrors = append(mirrors, ch)
		hub := ws.NewHub(logger)
		g.Go(func() error {
			return ignoreCancel(hub.Run(gctx, ch))
		})
		g.Go(func() error {
			// A mirror that cannot listen must not take the display down.
			if err := ignoreCancel(hub.ListenAndServe(gctx, cfg.WSAddr)); err != nil {
				logger.Error("ws:stopped", slog.Any("reason", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		return ignoreCancel(loop.Run(gctx))
	})

	if err := g.Wait(); err != nil {
		logger.Error("lcdtext:stopped", slog.Any("reason", err))
		return exitInit
	}
	logger.Info("lcdtext:shutdown", slog.Uint64("ticks", loop.Ticks()))
	return exitOK
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
