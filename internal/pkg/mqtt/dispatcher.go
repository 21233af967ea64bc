package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var ErrNotConnected = errors.New("mqtt not connected")

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Handler 处理匹配到的消息，match 为通配符捕获的各级主题
type Handler func(topic string, match []string, payload string)

type subscription struct {
	pattern string
	re      *regexp.Regexp
	handler Handler
}

// Config 保持调度器的连接配置
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	KeepAlive         int // 秒
	ReconnectDelay    time.Duration
	InitialRetryDelay time.Duration
	Timeout           time.Duration // 单个连接/订阅/发布操作的等待上限
}

// Dispatcher 管理 MQTT 连接并按主题模式分发消息
// paho 的自动重连被关闭，断线和连接失败都由这里按固定间隔重试
type Dispatcher struct {
	cfg     Config
	lc      logger.LoggingClient
	metrics *metrics.Metrics

	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu         sync.Mutex
	state      State
	client     pahomqtt.Client
	subs       []*subscription
	timer      *time.Timer
	stopped    bool
	lostDelay  backoff.BackOff
	retryDelay backoff.BackOff
}

// NewDispatcher 创建调度器，m 可以为 nil
func NewDispatcher(cfg Config, lc logger.LoggingClient, m *metrics.Metrics) (*Dispatcher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("please specify an MQTT broker")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "alfen-mqtt-" + uuid.NewString()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 30 * time.Second
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Dispatcher{
		cfg:        cfg,
		lc:         lc,
		metrics:    m,
		newClient:  pahomqtt.NewClient,
		state:      StateDisconnected,
		lostDelay:  backoff.NewConstantBackOff(cfg.ReconnectDelay),
		retryDelay: backoff.NewConstantBackOff(cfg.InitialRetryDelay),
	}, nil
}

// Start 发起第一次连接，失败时按 InitialRetryDelay 持续重试
func (d *Dispatcher) Start() {
	d.lc.Info("Starting MQTT dispatcher", "broker", d.cfg.Broker, "clientId", d.cfg.ClientID)
	d.connect()
}

func (d *Dispatcher) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(d.cfg.Broker)
	opts.SetClientID(d.cfg.ClientID)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
	}
	if d.cfg.Password != "" {
		opts.SetPassword(d.cfg.Password)
	}
	if d.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(time.Duration(d.cfg.KeepAlive) * time.Second)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(d.cfg.Timeout)
	opts.SetDefaultPublishHandler(d.handleMessage)
	opts.SetConnectionLostHandler(d.onConnectionLost)
	return opts
}

func (d *Dispatcher) connect() {
	d.mu.Lock()
	if d.stopped || d.state != StateDisconnected {
		d.mu.Unlock()
		return
	}
	d.state = StateConnecting
	client := d.newClient(d.clientOptions())
	d.client = client
	d.mu.Unlock()

	if err := d.wait(client.Connect()); err != nil {
		d.mu.Lock()
		if d.client == client {
			d.state = StateDisconnected
		}
		delay := d.retryDelay.NextBackOff()
		d.mu.Unlock()

		d.lc.Warn("MQTT connection failed", "broker", d.cfg.Broker, "error", err, "retryIn", delay)
		d.schedule(delay)
		return
	}
	d.onConnected(client)
}

func (d *Dispatcher) onConnected(client pahomqtt.Client) {
	d.mu.Lock()
	if d.stopped || d.client != client {
		d.mu.Unlock()
		client.Disconnect(250)
		return
	}
	d.state = StateConnected
	// 连接成功后重试策略从头开始
	d.retryDelay.Reset()
	d.lostDelay.Reset()
	subs := append([]*subscription(nil), d.subs...)
	d.mu.Unlock()

	d.metrics.SetConnected(true)
	d.lc.Info("MQTT connected, subscribing topics", "broker", d.cfg.Broker, "count", len(subs))
	for _, s := range subs {
		d.subscribe(client, s.pattern)
	}
}

func (d *Dispatcher) onConnectionLost(client pahomqtt.Client, err error) {
	d.mu.Lock()
	if d.stopped || d.client != client {
		d.mu.Unlock()
		return
	}
	d.state = StateDisconnected
	delay := d.lostDelay.NextBackOff()
	d.mu.Unlock()

	d.metrics.SetConnected(false)
	d.lc.Warn("MQTT connection lost", "error", err, "retryIn", delay)
	d.schedule(delay)
}

func (d *Dispatcher) schedule(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.connect)
}

func (d *Dispatcher) subscribe(client pahomqtt.Client, pattern string) {
	// 回调为 nil 时消息交给 DefaultPublishHandler
	if err := d.wait(client.Subscribe(pattern, d.cfg.QoS, nil)); err != nil {
		d.lc.Error("MQTT subscribe failed", "topic", pattern, "error", err)
		return
	}
	d.lc.Debug("Subscribed", "topic", pattern)
}

// Register 注册主题模式及其处理函数，已连接时立即订阅
func (d *Dispatcher) Register(pattern string, handler Handler) error {
	if handler == nil {
		return errors.New("please specify a handler")
	}
	re, err := CompileTopic(pattern)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.subs = append(d.subs, &subscription{pattern: pattern, re: re, handler: handler})
	connected := d.state == StateConnected
	client := d.client
	d.mu.Unlock()

	if connected {
		d.subscribe(client, pattern)
	} else {
		d.lc.Debug("Recorded subscription until connected", "topic", pattern)
	}
	return nil
}

func (d *Dispatcher) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := msg.Topic()
	payload := string(msg.Payload())
	d.metrics.MessageReceived()
	d.lc.Trace("Received MQTT message", "topic", topic)

	d.mu.Lock()
	subs := append([]*subscription(nil), d.subs...)
	d.mu.Unlock()

	for _, s := range subs {
		m := s.re.FindStringSubmatch(topic)
		if m == nil {
			continue
		}
		d.dispatch(s, topic, m[1:], payload)
	}
}

func (d *Dispatcher) dispatch(s *subscription, topic string, match []string, payload string) {
	defer func() {
		if r := recover(); r != nil {
			d.lc.Error("MQTT handler panicked", "pattern", s.pattern, "topic", topic, "panic", r)
		}
	}()
	s.handler(topic, match, payload)
}

// Publish 发布原始负载，未连接时返回 ErrNotConnected
func (d *Dispatcher) Publish(topic string, payload []byte, retain bool) error {
	d.mu.Lock()
	client, state := d.client, d.state
	d.mu.Unlock()

	if state != StateConnected {
		return ErrNotConnected
	}
	if err := d.wait(client.Publish(topic, d.cfg.QoS, retain, payload)); err != nil {
		return fmt.Errorf("MQTT publish to %s failed: %w", topic, err)
	}
	d.metrics.MessagePublished()
	return nil
}

// PublishJSON 序列化后发布
func (d *Dispatcher) PublishJSON(topic string, v any, retain bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize payload for %s: %w", topic, err)
	}
	return d.Publish(topic, data, retain)
}

func (d *Dispatcher) wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(d.cfg.Timeout) {
		return fmt.Errorf("timed out after %v", d.cfg.Timeout)
	}
	return token.Error()
}

// State 返回当前连接状态
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsConnected 是否已连接
func (d *Dispatcher) IsConnected() bool {
	return d.State() == StateConnected
}

// Stop 取消重连并断开连接
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	client := d.client
	d.state = StateDisconnected
	d.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(250)
	}
	d.metrics.SetConnected(false)
	d.lc.Info("MQTT dispatcher stopped")
}
