package devicemanager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"app-alfen-go/internal/pkg/executor"
	"app-alfen-go/internal/pkg/mqtt"
	"app-alfen-go/internal/pkg/register"

	"github.com/stretchr/testify/require"
)

type fakeWrite struct {
	unit    uint8
	address uint16
	words   uint16
	data    []byte
}

// fakeClient 按 unit 保存寄存器，写入会反映到后续读取
type fakeClient struct {
	mu         sync.Mutex
	banks      map[uint8][]uint16
	reads      map[string]int
	writes     []fakeWrite
	failReads  map[string]bool // "group@unit"
	connectErr error
	closed     bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		banks:     make(map[uint8][]uint16),
		reads:     make(map[string]int),
		failReads: make(map[string]bool),
	}
}

func readKey(group string, unit uint8) string {
	return fmt.Sprintf("%s@%d", group, unit)
}

func (c *fakeClient) set(t *testing.T, unit uint8, group *register.Group, values map[uint16]any) {
	t.Helper()
	raw, err := register.EncodeGroup(group, values)
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.banks[unit]
	if !ok {
		b = make([]uint16, 65536)
		c.banks[unit] = b
	}
	for i := 0; i < int(group.Size); i++ {
		b[int(group.Address)+i] = binary.BigEndian.Uint16(raw[i*2:])
	}
}

func (c *fakeClient) failRead(group *register.Group, unit uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReads[readKey(group.Name, unit)] = true
}

func (c *fakeClient) Connect() error { return c.connectErr }

func (c *fakeClient) ReadGroup(group *register.Group, unit uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[group.Name]++
	if c.failReads[readKey(group.Name, unit)] {
		return nil, errors.New("read timeout")
	}
	b, ok := c.banks[unit]
	if !ok {
		return nil, errors.New("illegal data address")
	}
	raw := make([]byte, group.ByteLen())
	for i := 0; i < int(group.Size); i++ {
		binary.BigEndian.PutUint16(raw[i*2:], b[int(group.Address)+i])
	}
	return raw, nil
}

func (c *fakeClient) WriteRegisters(unit uint8, address, words uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, fakeWrite{unit: unit, address: address, words: words, data: append([]byte(nil), data...)})
	b, ok := c.banks[unit]
	if !ok {
		return errors.New("illegal data address")
	}
	for i := 0; i < int(words); i++ {
		b[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) readCount(group *register.Group) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[group.Name]
}

func (c *fakeClient) writesTo(address uint16) []fakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []fakeWrite
	for _, w := range c.writes {
		if w.address == address {
			out = append(out, w)
		}
	}
	return out
}

// seedAlfen 填充一台带 sockets 个插座的充电桩
func seedAlfen(t *testing.T, c *fakeClient, sockets int) {
	t.Helper()
	c.set(t, register.GenericUnit, register.ProductIdentification, map[uint16]any{
		100:                       "ALF_1000",
		register.AddrSerialNumber: "ACE0123456",
	})
	c.set(t, register.GenericUnit, register.StationStatus, map[uint16]any{
		register.AddrSocketCount: uint16(sockets),
	})
	for i := 1; i <= sockets; i++ {
		c.set(t, uint8(i), register.SocketMeasurement, map[uint16]any{
			306:                       float32(230),
			register.AddrRealPowerSum: float32(1379.6),
		})
		c.set(t, uint8(i), register.SocketStatus, map[uint16]any{
			register.AddrAvailability: uint16(1),
			register.AddrMode3State:   "C2",
			register.AddrMaxCurrent:   float32(16),
			register.AddrPhases:       uint16(3),
		})
	}
}

// syncSubmitter 在调用方 goroutine 中直接执行任务
type syncSubmitter struct {
	mu    sync.Mutex
	count int
}

func (s *syncSubmitter) Submit(name string, job executor.Job) bool {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	_ = job(context.Background())
	return true
}

type message struct {
	topic   string
	payload []byte
	retain  bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message{topic: topic, payload: payload, retain: retain})
	return nil
}

func (p *fakePublisher) find(topic string) (message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].topic == topic {
			return p.messages[i], true
		}
	}
	return message{}, false
}

// fakeSubscriber 记录注册的处理函数
type fakeSubscriber struct {
	patterns []string
	handlers []mqtt.Handler
}

func (s *fakeSubscriber) Register(pattern string, handler mqtt.Handler) error {
	if _, err := mqtt.CompileTopic(pattern); err != nil {
		return err
	}
	s.patterns = append(s.patterns, pattern)
	s.handlers = append(s.handlers, handler)
	return nil
}

func (s *fakeSubscriber) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	for i, p := range s.patterns {
		re, err := mqtt.CompileTopic(p)
		require.NoError(t, err)
		if m := re.FindStringSubmatch(topic); m != nil {
			s.handlers[i](topic, m[1:], payload)
		}
	}
}
