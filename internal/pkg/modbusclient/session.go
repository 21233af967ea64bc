package modbusclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/register"

	"github.com/goburrow/modbus"
)

var ErrNotConnected = errors.New("modbus session not connected")

// Session 单台充电桩的 Modbus TCP 连接，同一时刻只有一个请求在途
type Session struct {
	name    string
	address string
	timeout time.Duration
	lc      logger.LoggingClient

	mu        sync.Mutex
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	connected bool
}

// NewSession 创建会话，此时还不会建立连接
func NewSession(name, address string, timeout time.Duration, lc logger.LoggingClient) (*Session, error) {
	if name == "" {
		return nil, errors.New("please specify a device name")
	}
	if address == "" {
		return nil, errors.New("please specify a device address")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Session{
		name:    name,
		address: address,
		timeout: timeout,
		lc:      lc,
	}, nil
}

// Name 设备名
func (s *Session) Name() string {
	return s.name
}

// Connect 建立 TCP 连接
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	handler := modbus.NewTCPClientHandler(s.address)
	handler.Timeout = s.timeout
	handler.SlaveId = register.GenericUnit
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("connect %s (%s): %w", s.name, s.address, err)
	}

	s.handler = handler
	s.client = modbus.NewClient(handler)
	s.connected = true
	s.lc.Info("Modbus connected", "device", s.name, "address", s.address)
	return nil
}

// ReadGroup 读取整个寄存器组的原始字节
func (s *Session) ReadGroup(group *register.Group, unitID uint8) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}

	s.handler.SlaveId = unitID
	raw, err := s.client.ReadHoldingRegisters(group.Address, group.Size)
	if err != nil {
		return nil, fmt.Errorf("read %s unit %d from %s: %w", group.Name, unitID, s.name, err)
	}
	if len(raw) != group.ByteLen() {
		return nil, fmt.Errorf("read %s unit %d from %s: %w: got %d bytes",
			group.Name, unitID, s.name, register.ErrSizeMismatch, len(raw))
	}
	s.lc.Trace("Read group", "device", s.name, "unit", unitID, "group", group.Name)
	return raw, nil
}

// WriteRegisters 写入连续的保持寄存器，words 为寄存器个数
func (s *Session) WriteRegisters(unitID uint8, address, words uint16, data []byte) error {
	if len(data) != int(words)*2 {
		return fmt.Errorf("write %d at unit %d: %w: %d words need %d bytes, got %d",
			address, unitID, register.ErrSizeMismatch, words, words*2, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	s.handler.SlaveId = unitID
	if _, err := s.client.WriteMultipleRegisters(address, words, data); err != nil {
		return fmt.Errorf("write %d unit %d to %s: %w", address, unitID, s.name, err)
	}
	s.lc.Debug("Wrote registers", "device", s.name, "unit", unitID, "address", address, "words", words)
	return nil
}

// Close 关闭连接
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	if err := s.handler.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	s.lc.Info("Modbus disconnected", "device", s.name)
	return nil
}
