package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 设备类型
const (
	DeviceTypeModbus = "MODBUS"
	DeviceTypeHTTP   = "HTTP"
)

// DeviceConfig 单台充电桩
type DeviceConfig struct {
	Name     string `yaml:"Name"`
	Type     string `yaml:"Type"` // "MODBUS" 或 "HTTP"
	Host     string `yaml:"Host"`
	Port     int    `yaml:"Port"`
	Username string `yaml:"Username"` // 仅 HTTP
	Password string `yaml:"Password"` // 仅 HTTP
}

// Address 返回 host:port
func (d *DeviceConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// ModbusConfig 保持Modbus客户端配置
type ModbusConfig struct {
	WriteEnabled  bool   `yaml:"WriteEnabled"`
	PollInterval  string `yaml:"PollInterval"`  // 例如 "1s"
	WriteInterval string `yaml:"WriteInterval"` // 例如 "10s"
	Timeout       string `yaml:"Timeout"`       // 例如 "5s"
}

// GetPollInterval 返回轮询间隔作为time.Duration
func (m *ModbusConfig) GetPollInterval() time.Duration {
	return parseDuration(m.PollInterval, time.Second)
}

// GetWriteInterval 返回写入重发间隔作为time.Duration
func (m *ModbusConfig) GetWriteInterval() time.Duration {
	return parseDuration(m.WriteInterval, 10*time.Second)
}

// GetTimeout 返回 Modbus 请求超时作为time.Duration
func (m *ModbusConfig) GetTimeout() time.Duration {
	return parseDuration(m.Timeout, 5*time.Second)
}

// MqttConfig 保持MQTT客户端配置
type MqttConfig struct {
	Enabled           bool   `yaml:"Enabled"`
	Broker            string `yaml:"Broker"`
	ClientID          string `yaml:"ClientID"`
	Username          string `yaml:"Username"`
	Password          string `yaml:"Password"`
	QoS               int    `yaml:"QoS"`
	KeepAlive         int    `yaml:"KeepAlive"` // 秒
	BaseTopic         string `yaml:"BaseTopic"`
	ReconnectDelay    string `yaml:"ReconnectDelay"`    // 连接断开后的重连间隔
	InitialRetryDelay string `yaml:"InitialRetryDelay"` // 首次连接失败后的重试间隔
}

// GetReconnectDelay 返回重连间隔作为time.Duration
func (m *MqttConfig) GetReconnectDelay() time.Duration {
	return parseDuration(m.ReconnectDelay, 30*time.Second)
}

// GetInitialRetryDelay 返回首次连接重试间隔作为time.Duration
func (m *MqttConfig) GetInitialRetryDelay() time.Duration {
	return parseDuration(m.InitialRetryDelay, 60*time.Second)
}

// ControllerConfig 充电功率控制配置
type ControllerConfig struct {
	Enabled            bool   `yaml:"Enabled"`
	Interval           string `yaml:"Interval"` // 例如 "5s"
	PowerConsumedTopic string `yaml:"PowerConsumedTopic"`
	PowerProducedTopic string `yaml:"PowerProducedTopic"`
	SolarTopic         string `yaml:"SolarTopic"`
	SolarField         string `yaml:"SolarField"` // 点分路径，例如 "data.Power_real_1_3"
}

// GetInterval 返回控制周期作为time.Duration
func (c *ControllerConfig) GetInterval() time.Duration {
	return parseDuration(c.Interval, 5*time.Second)
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Path    string `yaml:"Path"`
}

// WritableConfig 保持运行时可更改的配置
type WritableConfig struct {
	LogLevel string `yaml:"LogLevel"`
	LogFile  string `yaml:"LogFile"`
}

// ServiceConfig 保持服务HTTP端点配置
type ServiceConfig struct {
	Host string `yaml:"Host"`
	Port int    `yaml:"Port"`
}

// Address 返回 host:port
func (s *ServiceConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AppConfig 是主配置结构
type AppConfig struct {
	Writable   WritableConfig   `yaml:"Writable"`
	Service    ServiceConfig    `yaml:"Service"`
	Mqtt       MqttConfig       `yaml:"Mqtt"`
	Modbus     ModbusConfig     `yaml:"Modbus"`
	Devices    []DeviceConfig   `yaml:"Devices"`
	Controller ControllerConfig `yaml:"Controller"`
	Metrics    MetricsConfig    `yaml:"Metrics"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate 验证配置并填充默认值
func (c *AppConfig) Validate() error {
	if c.Mqtt.Enabled && c.Mqtt.Broker == "" {
		return errors.New("MQTT Broker cannot be empty")
	}
	if c.Mqtt.QoS < 0 || c.Mqtt.QoS > 2 {
		return errors.New("MQTT QoS must be 0, 1, or 2")
	}
	if c.Mqtt.KeepAlive <= 0 {
		c.Mqtt.KeepAlive = 60 // 默认值
	}
	if c.Mqtt.BaseTopic == "" {
		c.Mqtt.BaseTopic = "alfen"
	}
	c.Mqtt.BaseTopic = strings.TrimSuffix(c.Mqtt.BaseTopic, "/")

	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			return fmt.Errorf("device #%d: Name cannot be empty", i)
		}
		if strings.ContainsAny(d.Name, "/+#") {
			return fmt.Errorf("device %s: Name must not contain MQTT topic characters", d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("device %s: duplicate Name", d.Name)
		}
		seen[d.Name] = true

		d.Type = strings.ToUpper(d.Type)
		switch d.Type {
		case "":
			d.Type = DeviceTypeModbus
		case DeviceTypeModbus:
		case DeviceTypeHTTP:
			if d.Username == "" || d.Password == "" {
				return fmt.Errorf("device %s: HTTP device requires Username and Password", d.Name)
			}
		default:
			return fmt.Errorf("device %s: unknown Type %q (must be MODBUS or HTTP)", d.Name, d.Type)
		}
		if d.Host == "" {
			return fmt.Errorf("device %s: Host cannot be empty", d.Name)
		}
		if d.Port <= 0 {
			if d.Type == DeviceTypeHTTP {
				d.Port = 443
			} else {
				d.Port = 502
			}
		}
	}

	// 为控制器设置默认值
	if c.Controller.PowerConsumedTopic == "" {
		c.Controller.PowerConsumedTopic = "slimmelezer/sensor/power_consumed/state"
	}
	if c.Controller.PowerProducedTopic == "" {
		c.Controller.PowerProducedTopic = "slimmelezer/sensor/power_produced/state"
	}
	if c.Controller.SolarTopic == "" {
		c.Controller.SolarTopic = "serialread/power"
	}
	if c.Controller.SolarField == "" {
		c.Controller.SolarField = "data.Power_real_1_3"
	}

	// 为可写部分设置默认值
	if c.Writable.LogLevel == "" {
		c.Writable.LogLevel = "INFO"
	}

	// 为服务设置默认值
	if c.Service.Host == "" {
		c.Service.Host = "0.0.0.0"
	}
	if c.Service.Port <= 0 {
		c.Service.Port = 9464
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// LoadConfig 从YAML文件加载配置
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.Devices = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Writable: WritableConfig{
			LogLevel: "INFO",
		},
		Service: ServiceConfig{
			Host: "0.0.0.0",
			Port: 9464,
		},
		Mqtt: MqttConfig{
			Enabled:           true,
			Broker:            "tcp://localhost:1883",
			QoS:               0,
			KeepAlive:         60,
			BaseTopic:         "alfen",
			ReconnectDelay:    "30s",
			InitialRetryDelay: "60s",
		},
		Modbus: ModbusConfig{
			WriteEnabled:  false,
			PollInterval:  "1s",
			WriteInterval: "10s",
			Timeout:       "5s",
		},
		Controller: ControllerConfig{
			Enabled:            true,
			Interval:           "5s",
			PowerConsumedTopic: "slimmelezer/sensor/power_consumed/state",
			PowerProducedTopic: "slimmelezer/sensor/power_produced/state",
			SolarTopic:         "serialread/power",
			SolarField:         "data.Power_real_1_3",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}
