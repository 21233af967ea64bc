package devicemanager

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"app-alfen-go/internal/pkg/register"
)

// EvccStatus evcc 读取的充电桩状态
type EvccStatus struct {
	Enabled bool    `json:"enabled"`
	Status  string  `json:"status"`
	Power   float64 `json:"power"`
}

// Mode3ToEvcc 把 IEC 61851 Mode 3 状态映射为 evcc 的 A/B/C/E，未知状态返回空串
func Mode3ToEvcc(state string) string {
	switch state {
	case "A":
		return "A"
	case "B1", "B2", "C1", "D1":
		return "B"
	case "C2", "D2":
		return "C"
	case "E", "F":
		return "E"
	default:
		return ""
	}
}

// BuildEvccStatus 从状态组和测量组构造 evcc 状态
func BuildEvccStatus(status, measurement map[uint16]any) (EvccStatus, error) {
	availability, ok := register.AsInt(status[register.AddrAvailability])
	if !ok {
		return EvccStatus{}, fmt.Errorf("field %d not present", register.AddrAvailability)
	}
	mode3, ok := status[register.AddrMode3State].(string)
	if !ok {
		return EvccStatus{}, fmt.Errorf("field %d not present", register.AddrMode3State)
	}
	power, ok := register.AsFloat(measurement[register.AddrRealPowerSum])
	if !ok || math.IsNaN(power) || math.IsInf(power, 0) {
		return EvccStatus{}, fmt.Errorf("field %d not present", register.AddrRealPowerSum)
	}
	return EvccStatus{
		Enabled: availability == 1,
		Status:  Mode3ToEvcc(mode3),
		Power:   power,
	}, nil
}

func (d *Device) evccStatusTopic(socket int) string {
	return fmt.Sprintf("%s/evcc/status/%s/%d", d.opts.BaseTopic, d.name, socket)
}

func (d *Device) publishEvcc(socket int, status, measurement map[uint16]any) {
	st, err := BuildEvccStatus(status, measurement)
	if err != nil {
		d.lc.Warn("Can't build evcc status", "device", d.name, "socket", socket, "error", err)
		return
	}
	d.publish(d.evccStatusTopic(socket), st, false)
}

// evccRequest evcc 最近一次下发的值
type evccRequest struct {
	enabled    bool
	maxCurrent float64
}

var ErrUnknownEvccKey = errors.New("unknown evcc key")

// ApplyEvcc 处理 {base}/evcc/set/{device}/{socket}/{key}
//   - enable: "true" 忽略大小写，其余均视为 false
//   - maxCurrent: 安培，>= 18A 时按三相平分
func (d *Device) ApplyEvcc(socket int, key, payload string) error {
	if !d.opts.WriteEnabled {
		return nil
	}

	d.evccMu.Lock()
	req := d.evccRequests[socket]
	switch key {
	case "enable":
		req.enabled = strings.EqualFold(strings.TrimSpace(payload), "true")
	case "maxCurrent":
		v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			d.evccMu.Unlock()
			return fmt.Errorf("invalid maxCurrent %q: %w", payload, err)
		}
		req.maxCurrent = v
	default:
		d.evccMu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEvccKey, key)
	}
	d.evccRequests[socket] = req
	d.evccMu.Unlock()

	d.lc.Info("Evcc request", "device", d.name, "socket", socket, "key", key, "payload", payload)
	if !req.enabled {
		d.Disable(socket)
		return nil
	}
	if req.maxCurrent >= 18 {
		d.SetState(socket, req.maxCurrent/3, 3)
	} else {
		d.SetState(socket, req.maxCurrent, 1)
	}
	return nil
}
