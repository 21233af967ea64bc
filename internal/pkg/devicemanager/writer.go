package devicemanager

import (
	"context"
	"errors"
	"math"
	"time"

	"app-alfen-go/internal/pkg/register"
)

// Disable 停止插座充电：期望电流为 0
func (d *Device) Disable(socket int) {
	d.store.SetDesired(socket, Desired{Enabled: false})
	d.requestReassert()
}

// SetState 设置插座的充电电流和相数
func (d *Device) SetState(socket int, maxCurrent float64, phases int) {
	d.store.SetDesired(socket, Desired{Enabled: true, MaxCurrent: maxCurrent, Phases: phases})
	d.requestReassert()
}

// SocketRealPowerSum 返回最近一次读取的插座总有功功率(瓦，四舍五入)
func (d *Device) SocketRealPowerSum(socket int) (int, bool) {
	f, ok := register.AsFloat(d.store.Measurement(socket)[register.AddrRealPowerSum])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

// requestReassert 提交一次立即重写入，已有排队中的任务时合并
func (d *Device) requestReassert() {
	if !d.opts.WriteEnabled {
		return
	}
	if !d.reassertPending.CompareAndSwap(false, true) {
		return
	}
	ok := d.submitter.Submit("reassert "+d.name, func(ctx context.Context) error {
		d.reassertPending.Store(false)
		return d.Reassert(ctx)
	})
	if !ok {
		d.reassertPending.Store(false)
	}
}

// Reassert 把所有插座的期望状态重新写入设备
func (d *Device) Reassert(ctx context.Context) error {
	if !d.opts.WriteEnabled {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, sd := range d.store.DesiredStates() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.reassertSocket(sd.Socket, sd.Desired); err != nil {
			d.lc.Warn("Failed to write socket state", "device", d.name, "socket", sd.Socket, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Device) reassertSocket(socket int, desired Desired) error {
	unit := uint8(socket)

	// 刷新失败时沿用最近一次成功读取的状态
	status, err := d.readGroup(register.SocketStatus, unit)
	if err != nil {
		d.lc.Debug("Failed to refresh socket status before write", "device", d.name, "socket", socket, "error", err)
		status = d.store.Status(socket)
	} else {
		d.store.SetStatus(socket, status)
	}

	if !desired.Enabled {
		return d.writeItem(unit, register.ItemMaxCurrent, 0.0)
	}
	if status == nil {
		d.lc.Warn("Socket status unknown, skipping write", "device", d.name, "socket", socket)
		return nil
	}

	if err := d.writeItem(unit, register.ItemMaxCurrent, desired.MaxCurrent); err != nil {
		return err
	}
	if current, ok := register.AsInt(status[register.AddrPhases]); ok && current == desired.Phases {
		return nil
	}
	return d.writeItem(unit, register.ItemPhases, desired.Phases)
}

// RunWriter 按 WriteInterval 周期性重写入，写入未开启时直接返回
func (d *Device) RunWriter(ctx context.Context) {
	if !d.opts.WriteEnabled {
		d.lc.Info("Modbus writes disabled", "device", d.name)
		return
	}

	ticker := time.NewTicker(d.opts.WriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.requestReassert()
		}
	}
}
