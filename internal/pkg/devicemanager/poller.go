package devicemanager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"app-alfen-go/internal/pkg/discovery"
	"app-alfen-go/internal/pkg/register"
)

// Poll 执行一次完整的轮询：设备信息、站点状态，然后逐个插座读测量值和状态
func (d *Device) Poll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	product, err := d.readGroup(register.ProductIdentification, register.GenericUnit)
	if err != nil {
		d.lc.Warn("Failed to read product identification", "device", d.name, "error", err)
	} else {
		d.publishTelemetry(register.GenericUnit, register.ProductIdentification, product)
		if serial, ok := product[register.AddrSerialNumber].(string); ok && serial != "" {
			d.store.SetSerial(serial)
		}
	}

	station, err := d.readGroup(register.StationStatus, register.GenericUnit)
	if err != nil {
		d.lc.Warn("Failed to read station status", "device", d.name, "error", err)
		return err
	}
	d.publishTelemetry(register.GenericUnit, register.StationStatus, station)

	count, ok := register.AsInt(station[register.AddrSocketCount])
	if !ok {
		d.lc.Warn("Socket count not available, skipping sockets", "device", d.name)
		return nil
	}
	d.store.SetSocketCount(count)

	for socket := 1; socket <= count; socket++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.pollSocket(socket)
	}
	return nil
}

func (d *Device) pollSocket(socket int) {
	unit := uint8(socket)

	measurement, err := d.readGroup(register.SocketMeasurement, unit)
	if err != nil {
		d.lc.Warn("Failed to read socket measurement", "device", d.name, "socket", socket, "error", err)
	} else {
		d.store.SetMeasurement(socket, measurement)
		d.publishTelemetry(unit, register.SocketMeasurement, measurement)
		if power, ok := register.AsFloat(measurement[register.AddrRealPowerSum]); ok {
			d.metrics.SetSocketPower(d.name, socket, power)
		}
	}

	status, serr := d.readGroup(register.SocketStatus, unit)
	if serr != nil {
		d.lc.Warn("Failed to read socket status", "device", d.name, "socket", socket, "error", serr)
	} else {
		d.store.SetStatus(socket, status)
		d.publishTelemetry(unit, register.SocketStatus, status)
	}

	if err == nil && serr == nil {
		d.publishEvcc(socket, status, measurement)
	}
}

// RunPoller 按 PollInterval 提交轮询任务，直到 ctx 结束
func (d *Device) RunPoller(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.schedulePoll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.schedulePoll()
		}
	}
}

// schedulePoll 上一次轮询未结束时跳过本次
func (d *Device) schedulePoll() {
	if !d.polling.CompareAndSwap(false, true) {
		d.lc.Debug("Previous poll still running, skipping tick", "device", d.name)
		return
	}
	ok := d.submitter.Submit("poll "+d.name, func(ctx context.Context) error {
		defer d.polling.Store(false)
		return d.Poll(ctx)
	})
	if !ok {
		d.polling.Store(false)
	}
}

// Discover 读取序列号和插座数，为每个插座发布 retain 的 Home Assistant 发现消息
func (d *Device) Discover() error {
	d.mu.Lock()
	product, err := d.readGroup(register.ProductIdentification, register.GenericUnit)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("discovery of %s: %w", d.name, err)
	}
	station, err := d.readGroup(register.StationStatus, register.GenericUnit)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("discovery of %s: %w", d.name, err)
	}

	serial, _ := product[register.AddrSerialNumber].(string)
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return fmt.Errorf("discovery of %s: serial number not available", d.name)
	}
	count, ok := register.AsInt(station[register.AddrSocketCount])
	if !ok {
		return fmt.Errorf("discovery of %s: socket count not available", d.name)
	}
	d.store.SetSerial(serial)
	d.store.SetSocketCount(count)

	for socket := 1; socket <= count; socket++ {
		topic, payload, err := discovery.Build(serial, socket, d.name, d.opts.BaseTopic)
		if err != nil {
			return err
		}
		if d.publisher == nil {
			continue
		}
		if err := d.publisher.Publish(topic, payload, true); err != nil {
			d.lc.Warn("Failed to publish discovery", "device", d.name, "socket", socket, "error", err)
		}
	}
	d.lc.Info("Device discovered", "device", d.name, "serial", serial, "sockets", count)
	return nil
}
