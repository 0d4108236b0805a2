//go:build linux

// Command aarsim advertises a fake micro:bit with the UART service so
// aarctl can be exercised without hardware. Written frames are decoded,
// applied to two simulated motors and acknowledged on the notify
// characteristic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikoaf/microbit-aar/aar"
	"github.com/mikoaf/microbit-aar/bluetooth"
	"github.com/mikoaf/microbit-aar/config"
	"github.com/mikoaf/microbit-aar/logging"
)

const localName = "BBC micro:bit [aarsim]"

func main() {
	adapterID := flag.String("adapter", "hci0", "local Bluetooth controller")
	interval := flag.Duration("interval", 100*time.Millisecond, "advertising interval")
	level := flag.String("log-level", "info", "log level")
	dev := flag.Bool("dev", false, "human readable logs")
	flag.Parse()

	logCfg := config.Default().Log
	logCfg.Level = *level
	logCfg.Development = *dev
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(*adapterID, *interval, log); err != nil {
		log.Error("aarsim: exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(adapterID string, interval time.Duration, log *zap.Logger) error {
	adapter := bluetooth.NewAdapter(adapterID, log)
	if err := adapter.Enable(); err != nil {
		return err
	}

	var (
		mu        sync.Mutex
		connected = make(map[string]bluetooth.Device)
	)
	adapter.SetConnectHandler(func(device bluetooth.Device, isConnected bool) {
		addr := device.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if isConnected {
			log.Info("aarsim: central connected", zap.String("address", addr))
			connected[addr] = device
		} else {
			log.Info("aarsim: central disconnected", zap.String("address", addr))
			delete(connected, addr)
		}
	})

	b := newBoard(log)
	var notifyChar bluetooth.Characteristic

	onWrite := func(_ bluetooth.Connection, _ int, value []byte) {
		reply := b.apply(value)
		if !notifyChar.Notifying() {
			return
		}
		if _, err := notifyChar.Write([]byte(reply)); err != nil {
			log.Warn("aarsim: notify", zap.Error(err))
		}
	}

	svc := bluetooth.Service{
		UUID: aar.ServiceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:       aar.WriteCharUUID,
				Flags:      bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: onWrite,
			},
			{
				UUID:   aar.NotifyCharUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicIndicatePermission,
				Handle: &notifyChar,
			},
		},
	}
	if err := adapter.AddService(&svc); err != nil {
		return fmt.Errorf("add UART service: %w", err)
	}

	adv := adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    localName,
		ServiceUUIDs: []bluetooth.UUID{svc.UUID},
		Interval:     bluetooth.NewDuration(interval),
	}); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("name", localName),
		zap.String("adapter", adapter.ID()),
		zap.Duration("interval", interval),
	}
	if addr, err := adapter.Address(); err == nil {
		fields = append(fields, zap.Stringer("address", addr))
	}
	log.Info("aarsim: advertising", fields...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("aarsim: shutting down")
	if err := adv.Stop(); err != nil {
		log.Warn("aarsim: stop advertisement", zap.Error(err))
	}

	mu.Lock()
	defer mu.Unlock()
	for addr, dev := range connected {
		if err := dev.Disconnect(); err != nil {
			log.Warn("aarsim: disconnect", zap.String("address", addr), zap.Error(err))
		}
		delete(connected, addr)
	}
	return nil
}
