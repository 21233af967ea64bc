package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/metrics"
	"app-alfen-go/internal/pkg/mqtt"
)

const (
	minCurrent  = 6   // A
	gridVoltage = 230 // V
	pvThreshold = 300 // W，低于此值 PV_ONLY 不充电
)

// SocketWriter 写入插座期望状态并读取插座功率
type SocketWriter interface {
	Disable(socket int)
	SetState(socket int, maxCurrent float64, phases int)
	SocketRealPowerSum(socket int) (int, bool)
}

// Subscriber 注册入站主题
type Subscriber interface {
	Register(pattern string, handler mqtt.Handler) error
}

// Config 单个插座控制器的配置
type Config struct {
	Device             string
	Socket             int
	BaseTopic          string
	PowerConsumedTopic string
	PowerProducedTopic string
	SolarTopic         string
	SolarField         string
	Interval           time.Duration
}

// Controller 根据电网和光伏功率调节一个插座的充电电流
type Controller struct {
	cfg     Config
	writer  SocketWriter
	lc      logger.LoggingClient
	metrics *metrics.Metrics

	mu   sync.RWMutex
	mode ChargeMode

	consumed PowerSample
	produced PowerSample
	solar    PowerSample
}

// New 创建控制器，初始模式为 OFF
func New(cfg Config, writer SocketWriter, lc logger.LoggingClient, m *metrics.Metrics) (*Controller, error) {
	if cfg.Device == "" {
		return nil, errors.New("please specify a device name")
	}
	if cfg.Socket < 1 {
		return nil, fmt.Errorf("invalid socket %d", cfg.Socket)
	}
	if writer == nil {
		return nil, errors.New("please specify a socket writer")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "alfen"
	}
	if cfg.SolarField == "" {
		cfg.SolarField = "data.Power_real_1_3"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Controller{
		cfg:     cfg,
		writer:  writer,
		lc:      lc,
		metrics: m,
		mode:    ModeOff,
	}, nil
}

// Register 订阅模式设置主题和功率主题
func (c *Controller) Register(sub Subscriber) error {
	setTopic := fmt.Sprintf("%s/set/%s/%d/+", c.cfg.BaseTopic, c.cfg.Device, c.cfg.Socket)
	if err := sub.Register(setTopic, c.handleSet); err != nil {
		return err
	}
	if c.cfg.PowerConsumedTopic != "" {
		if err := sub.Register(c.cfg.PowerConsumedTopic, c.gridHandler(&c.consumed, "consumed")); err != nil {
			return err
		}
	}
	if c.cfg.PowerProducedTopic != "" {
		if err := sub.Register(c.cfg.PowerProducedTopic, c.gridHandler(&c.produced, "produced")); err != nil {
			return err
		}
	}
	if c.cfg.SolarTopic != "" {
		if err := sub.Register(c.cfg.SolarTopic, c.handleSolar); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) handleSet(topic string, match []string, payload string) {
	if len(match) != 1 || !strings.EqualFold(match[0], "mode") {
		c.lc.Warn("Invalid set topic", "topic", topic)
		return
	}
	mode, err := ParseChargeMode(payload)
	if err != nil {
		c.lc.Warn("Ignoring charge mode", "topic", topic, "error", err)
		return
	}
	c.SetMode(mode)
}

func (c *Controller) gridHandler(sample *PowerSample, kind string) func(string, []string, string) {
	return func(topic string, _ []string, payload string) {
		watts, err := ParseKilowatts(payload)
		if err != nil {
			c.lc.Warn("Invalid grid power", "topic", topic, "error", err)
			return
		}
		sample.Set(watts)
		c.lc.Trace("Grid power", "kind", kind, "watts", watts)
	}
}

func (c *Controller) handleSolar(topic string, _ []string, payload string) {
	watts, err := ExtractWatts([]byte(payload), c.cfg.SolarField)
	if err != nil {
		c.lc.Warn("Invalid solar power", "topic", topic, "error", err)
		return
	}
	c.solar.Set(watts)
	c.lc.Trace("Solar power", "watts", watts)
}

// ParseKilowatts 把十进制 kW 字符串转换为瓦，小数部分截断
func ParseKilowatts(payload string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid power %q: %w", payload, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid power %q: not a finite number", payload)
	}
	return int(f * 1000), nil
}

// ExtractWatts 按点分路径从 JSON 中取出功率值(瓦)
func ExtractWatts(payload []byte, field string) (int, error) {
	var node any
	if err := json.Unmarshal(payload, &node); err != nil {
		return 0, fmt.Errorf("invalid json: %w", err)
	}
	for _, key := range strings.Split(field, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("field %s not found", field)
		}
		if node, ok = obj[key]; !ok {
			return 0, fmt.Errorf("field %s not found", field)
		}
	}
	f, ok := node.(float64)
	if !ok {
		return 0, fmt.Errorf("field %s is not a number", field)
	}
	return int(f), nil
}

// Mode 返回当前模式
func (c *Controller) Mode() ChargeMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode 设置充电模式，在下一个周期生效
func (c *Controller) SetMode(mode ChargeMode) {
	c.mu.Lock()
	prev := c.mode
	c.mode = mode
	c.mu.Unlock()
	if prev != mode {
		c.lc.Info("Charge mode changed", "device", c.cfg.Device, "socket", c.cfg.Socket, "from", prev, "to", mode)
	}
}

// Tick 执行一次控制计算
func (c *Controller) Tick() {
	produced, _ := c.produced.Get()
	consumed, _ := c.consumed.Get()
	grid := produced - consumed

	socketPower, ok := c.writer.SocketRealPowerSum(c.cfg.Socket)
	if !ok {
		c.lc.Warn("No socket power measurement, skipping tick", "device", c.cfg.Device, "socket", c.cfg.Socket)
		return
	}
	available := grid + socketPower
	c.metrics.SetAvailable(c.cfg.Device, c.cfg.Socket, available)

	mode := c.Mode()
	solar, _ := c.solar.Get()
	c.lc.Debug("Controller tick", "device", c.cfg.Device, "socket", c.cfg.Socket, "mode", mode,
		"grid", grid, "socketPower", socketPower, "available", available, "solar", solar)

	switch mode {
	case ModeOff:
		c.writer.Disable(c.cfg.Socket)
	case ModePVOnly:
		if available > pvThreshold {
			c.writer.SetState(c.cfg.Socket, math.Max(minCurrent, float64(available)/gridVoltage), 1)
		} else {
			c.writer.Disable(c.cfg.Socket)
		}
	case ModePVAndMin:
		c.writer.SetState(c.cfg.Socket, minCurrent, 1)
	case ModeFast:
		c.writer.SetState(c.cfg.Socket, minCurrent, 3)
	}
}

// Run 按 Interval 周期执行 Tick，直到 ctx 结束
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	c.lc.Info("Controller started", "device", c.cfg.Device, "socket", c.cfg.Socket, "interval", c.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
