package aar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikoaf/microbit-aar/bluetooth"
)

// BlueZ returns a Transport on top of an enabled BlueZ adapter. The first
// device that matches the filter is chosen; RequestDevice gives up with
// ErrNoDevice when ctx expires.
func BlueZ(adapter *bluetooth.Adapter, log *zap.Logger) Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &blueZTransport{adapter: adapter, log: log}
}

type blueZTransport struct {
	adapter *bluetooth.Adapter
	log     *zap.Logger
}

func (t *blueZTransport) RequestDevice(ctx context.Context, filter DeviceFilter) (Device, error) {
	var found *bluetooth.ScanResult
	err := t.adapter.Scan(ctx, filter.Services, func(r bluetooth.ScanResult) bool {
		if !filter.Matches(r.LocalName, r.Address.String()) {
			return false
		}
		found = &r
		return true
	})
	if found == nil {
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("aar: scan: %w", err)
		}
		return nil, ErrNoDevice
	}
	t.log.Info("aar: device found",
		zap.String("name", found.LocalName),
		zap.Stringer("address", found.Address),
		zap.Int16("rssi", found.RSSI),
	)
	return &blueZDevice{adapter: t.adapter, addr: found.Address}, nil
}

type blueZDevice struct {
	adapter *bluetooth.Adapter
	addr    bluetooth.Address
	dev     *bluetooth.Device
}

func (d *blueZDevice) Connect(ctx context.Context) (Server, error) {
	dev, err := d.adapter.Connect(ctx, d.addr)
	if err != nil {
		return nil, err
	}
	d.dev = dev
	return blueZServer{dev: dev}, nil
}

func (d *blueZDevice) OnDisconnect(fn func()) error {
	if d.dev == nil {
		return ErrNotConnected
	}
	return d.dev.OnDisconnect(fn)
}

func (d *blueZDevice) Disconnect() error {
	if d.dev == nil {
		return nil
	}
	return d.dev.Disconnect()
}

type blueZServer struct {
	dev *bluetooth.Device
}

func (s blueZServer) Service(ctx context.Context, uuid bluetooth.UUID) (Service, error) {
	svc, err := s.dev.DiscoverService(ctx, uuid)
	if err != nil {
		if errors.Is(err, bluetooth.ErrServiceNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrServiceNotFound, err)
		}
		return nil, err
	}
	return blueZService{svc: svc}, nil
}

type blueZService struct {
	svc *bluetooth.DeviceService
}

func (s blueZService) Characteristic(ctx context.Context, uuid bluetooth.UUID) (Characteristic, error) {
	c, err := s.svc.Characteristic(ctx, uuid)
	if err != nil {
		if errors.Is(err, bluetooth.ErrCharacteristicNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrCharacteristicNotFound, err)
		}
		return nil, err
	}
	return c, nil
}
