package devicemanager

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"app-alfen-go/internal/pkg/config"
	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/metrics"
	"app-alfen-go/internal/pkg/modbusclient"

	"golang.org/x/sync/errgroup"
)

// ClientFactory 为设备配置创建会话
type ClientFactory func(dc config.DeviceConfig) (DeviceClient, error)

// Manager 管理所有已连接的设备
type Manager struct {
	devices   []config.DeviceConfig
	opts      Options
	publisher Publisher
	submitter Submitter
	lc        logger.LoggingClient
	metrics   *metrics.Metrics
	newClient ClientFactory

	mu     sync.RWMutex
	byName map[string]*Device
	order  []string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager 创建设备管理器，publisher 可以为 nil
func NewManager(cfg *config.AppConfig, publisher Publisher, submitter Submitter,
	lc logger.LoggingClient, m *metrics.Metrics) *Manager {
	timeout := cfg.Modbus.GetTimeout()
	return &Manager{
		devices: cfg.Devices,
		opts: Options{
			BaseTopic:     cfg.Mqtt.BaseTopic,
			WriteEnabled:  cfg.Modbus.WriteEnabled,
			PollInterval:  cfg.Modbus.GetPollInterval(),
			WriteInterval: cfg.Modbus.GetWriteInterval(),
		},
		publisher: publisher,
		submitter: submitter,
		lc:        lc,
		metrics:   m,
		newClient: func(dc config.DeviceConfig) (DeviceClient, error) {
			return modbusclient.NewSession(dc.Name, dc.Address(), timeout, lc)
		},
		byName: make(map[string]*Device),
	}
}

// SetClientFactory 替换会话的创建方式
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.newClient = f
}

// Start 并行连接所有设备并执行发现，连接失败的设备在本次运行中被丢弃
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	var g errgroup.Group
	connected := make([]*Device, len(m.devices))
	for i, dc := range m.devices {
		if dc.Type == config.DeviceTypeHTTP {
			m.lc.Warn("HTTP devices are not supported, skipping", "device", dc.Name)
			continue
		}
		i, dc := i, dc
		g.Go(func() error {
			d, err := m.connect(dc)
			if err != nil {
				m.lc.Error("Failed to connect device, dropping it", "device", dc.Name, "address", dc.Address(), "error", err)
				return nil
			}
			if err := d.Discover(); err != nil {
				m.lc.Warn("Discovery failed", "device", dc.Name, "error", err)
			}
			connected[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, d := range connected {
		if d == nil {
			continue
		}
		m.byName[d.Name()] = d
		m.order = append(m.order, d.Name())
	}
	count := len(m.order)
	m.mu.Unlock()

	if count == 0 && len(m.devices) > 0 {
		m.lc.Warn("No device connected")
	}

	for _, d := range m.Devices() {
		m.wg.Add(2)
		go func(d *Device) {
			defer m.wg.Done()
			d.RunPoller(ctx)
		}(d)
		go func(d *Device) {
			defer m.wg.Done()
			d.RunWriter(ctx)
		}(d)
	}
	m.lc.Info("Device manager started", "devices", count)
	return nil
}

func (m *Manager) connect(dc config.DeviceConfig) (*Device, error) {
	client, err := m.newClient(dc)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return NewDevice(dc.Name, client, m.opts, m.publisher, m.submitter, m.lc, m.metrics)
}

// RegisterHandlers 订阅 evcc 的控制主题 {base}/evcc/set/{device}/{socket}/{key}
func (m *Manager) RegisterHandlers(sub Subscriber) error {
	pattern := m.opts.BaseTopic + "/evcc/set/+/+/+"
	return sub.Register(pattern, func(topic string, match []string, payload string) {
		if len(match) != 3 {
			return
		}
		d, ok := m.Device(match[0])
		if !ok {
			m.lc.Warn("Unknown evcc device", "device", match[0], "topic", topic)
			return
		}
		socket, err := strconv.Atoi(match[1])
		if err != nil || socket < 1 {
			m.lc.Warn("Invalid evcc socket", "topic", topic, "socket", match[1])
			return
		}
		if err := d.ApplyEvcc(socket, match[2], payload); err != nil {
			m.lc.Warn("Invalid evcc request", "topic", topic, "error", err)
		}
	})
}

// Device 按名称查找设备
func (m *Manager) Device(name string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byName[name]
	return d, ok
}

// Devices 按配置顺序返回已连接的设备
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.byName[name])
	}
	return out
}

// Snapshots 返回所有设备的状态视图
func (m *Manager) Snapshots() []DeviceSnapshot {
	devices := m.Devices()
	out := make([]DeviceSnapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}

// Snapshot 返回单个设备的状态视图
func (m *Manager) Snapshot(name string) (DeviceSnapshot, bool) {
	d, ok := m.Device(name)
	if !ok {
		return DeviceSnapshot{}, false
	}
	return d.Snapshot(), true
}

// Stop 停止轮询和写入并关闭所有会话
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var firstErr error
	for _, d := range m.Devices() {
		if err := d.Close(); err != nil {
			m.lc.Warn("Failed to close device", "device", d.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", d.Name(), err)
			}
		}
	}
	return firstErr
}
