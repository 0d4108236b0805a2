//go:build linux

// Command aarctl drives an AAR motor board on a BBC micro:bit over
// Bluetooth LE. Commands are read from stdin and, when http.addr is set,
// from the HTTP API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikoaf/microbit-aar/aar"
	"github.com/mikoaf/microbit-aar/bluetooth"
	"github.com/mikoaf/microbit-aar/config"
	"github.com/mikoaf/microbit-aar/logging"
	"github.com/mikoaf/microbit-aar/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $AARCTL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Error("aarctl: exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bt := bluetooth.NewAdapter(cfg.Bluetooth.Adapter, log)
	if err := bt.Enable(); err != nil {
		return fmt.Errorf("enable %s: %w", bt.ID(), err)
	}
	if addr, err := bt.Address(); err == nil {
		log.Info("aarctl: controller ready", zap.String("adapter", bt.ID()), zap.Stringer("address", addr))
	}

	filter := aar.DefaultFilter()
	filter.NamePrefix = cfg.Device.NamePrefix
	filter.Address = cfg.Device.Address

	adapter := aar.New(aar.BlueZ(bt, log), aar.Options{
		Filter:      filter,
		SendSpacing: cfg.Send.Spacing(),
		Logger:      log,
	})
	defer adapter.Close() //nolint:errcheck

	adapter.OnFunc(aar.EventConnected, func() { fmt.Println("micro:bit connected") })
	adapter.OnFunc(aar.EventDisconnected, func() { fmt.Println("micro:bit disconnected") })

	discoverTimeout := cfg.Bluetooth.ScanTimeout() + cfg.Bluetooth.ConnectTimeout()

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           server.NewRouter(adapter, discoverTimeout, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("aarctl: http listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("aarctl: http server", zap.Error(err))
				stop()
			}
		}()
	}

	if err := discover(ctx, adapter, discoverTimeout); err != nil {
		log.Warn("aarctl: initial discovery failed, use 'discover' to retry", zap.Error(err))
	}

	lines := make(chan string)
	go readLines(lines)

	fmt.Println(usage)
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("aarctl: shutting down")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			cmdCtx, cancel := context.WithTimeout(ctx, discoverTimeout)
			out, err := execute(cmdCtx, adapter, line)
			cancel()
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if out != "" {
				fmt.Println(out)
			}
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("aarctl: http shutdown", zap.Error(err))
		}
	}
	return nil
}

func discover(ctx context.Context, adapter *aar.Adapter, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return adapter.Discover(ctx)
}

// readLines forwards stdin lines and closes out at EOF.
func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}
