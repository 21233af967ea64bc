package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"app-alfen-go/internal/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken 立即完成的 token
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	retain  bool
	payload []byte
}

// fakeClient 记录订阅和发布调用的 paho 客户端
type fakeClient struct {
	opts       *pahomqtt.ClientOptions
	connectErr error

	mu         sync.Mutex
	connected  bool
	subscribes []string
	publishes  []published
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }
func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, published{topic: topic, retain: retained, payload: payload.([]byte)})
	return &fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, topic)
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token     { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (c *fakeClient) subscribeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribes...)
}

// deliver 模拟 broker 推送消息
func (c *fakeClient) deliver(topic, payload string) {
	c.opts.DefaultPublishHandler(c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

// loseConnection 模拟连接断开
func (c *fakeClient) loseConnection(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// clientFactory 依次产生 fakeClient，connectErrs 控制前几次连接是否失败
type clientFactory struct {
	mu          sync.Mutex
	clients     []*fakeClient
	connectErrs []error
}

func (f *clientFactory) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{opts: opts}
	if n := len(f.clients); n < len(f.connectErrs) {
		c.connectErr = f.connectErrs[n]
	}
	f.clients = append(f.clients, c)
	return c
}

func (f *clientFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *clientFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func newTestDispatcher(t *testing.T, f *clientFactory) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Config{
		Broker:            "tcp://broker:1883",
		ReconnectDelay:    10 * time.Millisecond,
		InitialRetryDelay: 10 * time.Millisecond,
		Timeout:           time.Second,
	}, logger.NewNopClient(), nil)
	require.NoError(t, err)
	d.newClient = f.newClient
	t.Cleanup(d.Stop)
	return d
}

func TestNewDispatcher(t *testing.T) {
	_, err := NewDispatcher(Config{}, logger.NewNopClient(), nil)
	assert.Error(t, err)

	_, err = NewDispatcher(Config{Broker: "tcp://b:1883", QoS: 3}, logger.NewNopClient(), nil)
	assert.Error(t, err)

	d, err := NewDispatcher(Config{Broker: "tcp://b:1883"}, logger.NewNopClient(), nil)
	require.NoError(t, err)
	assert.Contains(t, d.cfg.ClientID, "alfen-mqtt-")
	assert.Equal(t, 30*time.Second, d.cfg.ReconnectDelay)
	assert.Equal(t, 60*time.Second, d.cfg.InitialRetryDelay)
	assert.Equal(t, StateDisconnected, d.State())
}

func TestDispatcher_ClientOptions(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)
	d.Start()

	opts := f.client(0).opts
	assert.False(t, opts.AutoReconnect)
	assert.NotNil(t, opts.DefaultPublishHandler)
	assert.NotNil(t, opts.OnConnectionLost)
}

func TestDispatcher_ResubscribeAfterConnectionLoss(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)

	for _, p := range []string{"alfen/set/+/+/+", "slimmelezer/sensor/+/state", "serialread/power"} {
		require.NoError(t, d.Register(p, func(string, []string, string) {}))
	}

	d.Start()
	assert.Equal(t, StateConnected, d.State())
	assert.Len(t, f.client(0).subscribeCalls(), 3)

	f.client(0).loseConnection(errors.New("EOF"))

	assert.Eventually(t, func() bool {
		return f.count() == 2 && d.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alfen/set/+/+/+", "slimmelezer/sensor/+/state", "serialread/power"},
		f.client(1).subscribeCalls())
}

func TestDispatcher_InitialConnectFailureRetries(t *testing.T) {
	f := &clientFactory{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	d := newTestDispatcher(t, f)
	require.NoError(t, d.Register("a/#", func(string, []string, string) {}))

	d.Start()
	assert.NotEqual(t, StateConnected, d.State())

	assert.Eventually(t, func() bool {
		return d.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.count())
	assert.Empty(t, f.client(0).subscribeCalls())
	assert.Equal(t, []string{"a/#"}, f.client(2).subscribeCalls())
}

// countingBackOff 固定间隔，并记录调用次数
type countingBackOff struct {
	mu     sync.Mutex
	delay  time.Duration
	nexts  int
	resets int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nexts++
	return b.delay
}

func (b *countingBackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
}

func (b *countingBackOff) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nexts, b.resets
}

func TestDispatcher_ResetsBackOffOnConnect(t *testing.T) {
	f := &clientFactory{connectErrs: []error{errors.New("refused")}}
	d := newTestDispatcher(t, f)
	retry := &countingBackOff{delay: 5 * time.Millisecond}
	lost := &countingBackOff{delay: time.Hour}
	d.retryDelay = retry
	d.lostDelay = lost

	d.Start()
	assert.Eventually(t, func() bool {
		return d.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	nexts, resets := retry.counts()
	assert.Equal(t, 1, nexts)
	assert.Equal(t, 1, resets)
	_, resets = lost.counts()
	assert.Equal(t, 1, resets)

	f.client(1).loseConnection(errors.New("EOF"))
	assert.Eventually(t, func() bool {
		n, _ := lost.counts()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateDisconnected, d.State())
}

func TestDispatcher_RegisterWhileConnected(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)
	d.Start()
	require.Equal(t, StateConnected, d.State())

	require.NoError(t, d.Register("x/+", func(string, []string, string) {}))
	assert.Equal(t, []string{"x/+"}, f.client(0).subscribeCalls())
}

func TestDispatcher_RegisterInvalidPattern(t *testing.T) {
	d := newTestDispatcher(t, &clientFactory{})
	assert.ErrorIs(t, d.Register("a/#/b", func(string, []string, string) {}), ErrInvalidPattern)
	assert.Error(t, d.Register("a/b", nil))
}

func TestDispatcher_FanOutInRegistrationOrder(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)

	var calls []string
	var matches [][]string
	require.NoError(t, d.Register("alfen/set/+/+/+", func(topic string, m []string, payload string) {
		calls = append(calls, "first:"+payload)
		matches = append(matches, m)
	}))
	require.NoError(t, d.Register("alfen/#", func(topic string, m []string, payload string) {
		calls = append(calls, "second:"+payload)
		matches = append(matches, m)
	}))
	require.NoError(t, d.Register("other/+", func(string, []string, string) {
		calls = append(calls, "other")
	}))
	d.Start()

	f.client(0).deliver("alfen/set/garage/1/mode", "PV_ONLY")

	assert.Equal(t, []string{"first:PV_ONLY", "second:PV_ONLY"}, calls)
	assert.Equal(t, []string{"garage", "1", "mode"}, matches[0])
	assert.Equal(t, []string{"set/garage/1/mode"}, matches[1])
}

func TestDispatcher_HandlerPanicDoesNotStopFanOut(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)

	called := false
	require.NoError(t, d.Register("a/+", func(string, []string, string) { panic("bad handler") }))
	require.NoError(t, d.Register("a/+", func(string, []string, string) { called = true }))
	d.Start()

	assert.NotPanics(t, func() { f.client(0).deliver("a/b", "x") })
	assert.True(t, called)
}

func TestDispatcher_Publish(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)

	err := d.Publish("alfen/test", []byte("x"), false)
	assert.ErrorIs(t, err, ErrNotConnected)

	d.Start()
	require.NoError(t, d.Publish("alfen/test", []byte("x"), false))
	require.NoError(t, d.PublishJSON("alfen/json", map[string]any{"S344": 1380.5}, true))

	c := f.client(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.publishes, 2)
	assert.Equal(t, "alfen/test", c.publishes[0].topic)
	assert.False(t, c.publishes[0].retain)
	assert.Equal(t, "alfen/json", c.publishes[1].topic)
	assert.True(t, c.publishes[1].retain)
	assert.JSONEq(t, `{"S344":1380.5}`, string(c.publishes[1].payload))
}

func TestDispatcher_StopCancelsReconnect(t *testing.T) {
	f := &clientFactory{}
	d := newTestDispatcher(t, f)
	d.lostDelay = backoff.NewConstantBackOff(time.Hour)
	d.Start()

	f.client(0).loseConnection(errors.New("EOF"))
	d.Stop()

	assert.Equal(t, 1, f.count())
	assert.Equal(t, StateDisconnected, d.State())
	assert.ErrorIs(t, d.Publish("a", []byte("x"), false), ErrNotConnected)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
