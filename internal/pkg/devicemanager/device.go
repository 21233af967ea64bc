package devicemanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/metrics"
	"app-alfen-go/internal/pkg/mqtt"
	"app-alfen-go/internal/pkg/register"
)

// Options 设备的轮询和写入参数
type Options struct {
	BaseTopic     string
	WriteEnabled  bool
	PollInterval  time.Duration
	WriteInterval time.Duration
}

// Device 一台充电桩：会话、状态、轮询和写入
type Device struct {
	name      string
	client    DeviceClient
	store     *StateStore
	opts      Options
	publisher Publisher
	submitter Submitter
	lc        logger.LoggingClient
	metrics   *metrics.Metrics

	// mu 保证一次轮询或一次重写入作为整体执行
	mu sync.Mutex

	polling         atomic.Bool
	reassertPending atomic.Bool

	evccMu       sync.Mutex
	evccRequests map[int]evccRequest
}

// NewDevice 创建设备，publisher 为 nil 时不发布遥测
func NewDevice(name string, client DeviceClient, opts Options, publisher Publisher, submitter Submitter,
	lc logger.LoggingClient, m *metrics.Metrics) (*Device, error) {
	if name == "" {
		return nil, errors.New("please specify a device name")
	}
	if client == nil {
		return nil, errors.New("please specify a device client")
	}
	if submitter == nil {
		return nil, errors.New("please specify a submitter")
	}
	if opts.BaseTopic == "" {
		opts.BaseTopic = "alfen"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.WriteInterval <= 0 {
		opts.WriteInterval = 10 * time.Second
	}

	return &Device{
		name:         name,
		client:       client,
		store:        NewStateStore(),
		opts:         opts,
		publisher:    publisher,
		submitter:    submitter,
		lc:           lc,
		metrics:      m,
		evccRequests: make(map[int]evccRequest),
	}, nil
}

func (d *Device) Name() string {
	return d.name
}

// Store 返回设备状态
func (d *Device) Store() *StateStore {
	return d.store
}

// Snapshot 返回设备状态的 JSON 视图
func (d *Device) Snapshot() DeviceSnapshot {
	return d.store.Snapshot(d.name)
}

func (d *Device) readGroup(group *register.Group, unit uint8) (map[uint16]any, error) {
	raw, err := d.client.ReadGroup(group, unit)
	if err == nil {
		var values map[uint16]any
		values, err = register.Decode(group, raw)
		if err == nil {
			d.metrics.ObserveRead(d.name, group.Name, nil)
			return values, nil
		}
	}
	d.metrics.ObserveRead(d.name, group.Name, err)
	return nil, err
}

func (d *Device) writeItem(unit uint8, item register.Item, value any) error {
	data, err := register.EncodeItem(item, value)
	if err != nil {
		return err
	}
	err = d.client.WriteRegisters(unit, item.Address, item.Size, data)
	d.metrics.ObserveWrite(d.name, item.Address, err)
	if err != nil {
		return err
	}
	d.lc.Debug("Register written", "device", d.name, "unit", unit, "item", item.Name, "value", value)
	return nil
}

func (d *Device) publish(topic string, payload any, retain bool) {
	if d.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.lc.Error("Failed to serialize payload", "topic", topic, "error", err)
		return
	}
	if err := d.publisher.Publish(topic, data, retain); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			d.lc.Trace("MQTT not connected, dropping message", "topic", topic)
			return
		}
		d.lc.Warn("Failed to publish", "topic", topic, "error", err)
	}
}

// telemetryTopic {base}/modbus/state/{device}/{unit}/{group}
func (d *Device) telemetryTopic(unit uint8, group *register.Group) string {
	return fmt.Sprintf("%s/modbus/state/%s/%d/%s", d.opts.BaseTopic, d.name, unit, group.Name)
}

func (d *Device) publishTelemetry(unit uint8, group *register.Group, values map[uint16]any) {
	d.publish(d.telemetryTopic(unit, group), register.Telemetry(values), false)
}

// Close 关闭会话
func (d *Device) Close() error {
	return d.client.Close()
}
