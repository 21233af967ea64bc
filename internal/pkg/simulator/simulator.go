package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/register"

	"github.com/goburrow/serial"
	"github.com/tbrandon/mbserver"
)

// 监听类型
const (
	TypeTCP = "TCP"
	TypeRTU = "RTU"
)

// SerialConfig RTU 串口参数
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// Config 模拟器配置
type Config struct {
	Type         string // TCP 或 RTU
	Address      string // TCP 监听地址，例如 "127.0.0.1:502"
	Serial       SerialConfig
	Sockets      int
	SerialNumber string
}

// Write 记录一次写请求
type Write struct {
	Unit    uint8
	Address uint16
	Values  []uint16
}

// Simulator 按 Alfen 寄存器表应答的 Modbus 从站，每个 unit id 有独立的保持寄存器
type Simulator struct {
	cfg    Config
	lc     logger.LoggingClient
	server *mbserver.Server

	mu     sync.Mutex
	banks  map[uint8][]uint16
	writes []Write

	running atomic.Bool
}

// New 创建模拟器并填充默认数据
func New(cfg Config, lc logger.LoggingClient) (*Simulator, error) {
	if cfg.Type == "" {
		cfg.Type = TypeTCP
	}
	if cfg.Sockets <= 0 {
		cfg.Sockets = 1
	}
	if cfg.Sockets >= int(register.GenericUnit) {
		return nil, fmt.Errorf("socket count %d collides with unit %d", cfg.Sockets, register.GenericUnit)
	}
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = "ACE0000001"
	}

	s := &Simulator{
		cfg:   cfg,
		lc:    lc,
		banks: make(map[uint8][]uint16),
	}
	if err := s.seed(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulator) seed() error {
	now := time.Now()
	if err := s.SetRegisters(register.GenericUnit, register.ProductIdentification, map[uint16]any{
		100:                       "ALF_1000",
		117:                       "Alfen NV",
		122:                       int16(1),
		123:                       "6.4.0-4210",
		140:                       "NG910",
		register.AddrSerialNumber: s.cfg.SerialNumber,
		168:                       int16(now.Year()),
		169:                       int16(now.Month()),
		170:                       int16(now.Day()),
		171:                       int16(now.Hour()),
		172:                       int16(now.Minute()),
		173:                       int16(now.Second()),
		174:                       uint64(3600),
		178:                       int16(60),
	}); err != nil {
		return err
	}
	if err := s.SetRegisters(register.GenericUnit, register.StationStatus, map[uint16]any{
		1100:                     float32(32),
		1102:                     float32(25.5),
		1104:                     uint16(1),
		register.AddrSocketCount: uint16(s.cfg.Sockets),
	}); err != nil {
		return err
	}

	for i := 1; i <= s.cfg.Sockets; i++ {
		unit := uint8(i)
		if err := s.SetRegisters(unit, register.SocketMeasurement, map[uint16]any{
			300:                       int16(0),
			305:                       uint16(1),
			306:                       float32(230),
			308:                       float32(230),
			310:                       float32(230),
			320:                       float32(6),
			336:                       float32(50),
			register.AddrRealPowerSum: float32(1380),
			374:                       float64(12345),
		}); err != nil {
			return err
		}
		if err := s.SetRegisters(unit, register.SocketStatus, map[uint16]any{
			register.AddrAvailability: uint16(1),
			register.AddrMode3State:   "C2",
			1206:                      float32(16),
			register.AddrMaxCurrent:   float32(16),
			register.AddrPhases:       uint16(3),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) bank(unit uint8) []uint16 {
	b, ok := s.banks[unit]
	if !ok {
		b = make([]uint16, 65536)
		s.banks[unit] = b
	}
	return b
}

// SetRegisters 按寄存器组布局写入一组值，未给出的项置 0
func (s *Simulator) SetRegisters(unit uint8, group *register.Group, values map[uint16]any) error {
	raw, err := register.EncodeGroup(group, values)
	if err != nil {
		return fmt.Errorf("seed %s unit %d: %w", group.Name, unit, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bank(unit)
	for i := 0; i < int(group.Size); i++ {
		b[int(group.Address)+i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return nil
}

// Registers 返回某个 unit 从 address 开始的 count 个寄存器的副本
func (s *Simulator) Registers(unit uint8, address, count uint16) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.banks[unit]
	if !ok || int(address)+int(count) > len(b) {
		return nil
	}
	return append([]uint16(nil), b[address:address+count]...)
}

// Writes 返回收到的写请求
func (s *Simulator) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Start 启动监听
func (s *Simulator) Start() error {
	if s.running.Load() {
		return errors.New("simulator already running")
	}

	s.server = mbserver.NewServer()
	s.server.RegisterFunctionHandler(3, s.handleReadHoldingRegisters)    // 0x03 读保持寄存器
	s.server.RegisterFunctionHandler(6, s.handleWriteSingleRegister)     // 0x06 写单个寄存器
	s.server.RegisterFunctionHandler(16, s.handleWriteMultipleRegisters) // 0x10 写多个寄存器

	var err error
	switch s.cfg.Type {
	case TypeTCP:
		err = s.startTCP()
	case TypeRTU:
		err = s.startRTU()
	default:
		return fmt.Errorf("unsupported Modbus type: %s (must be TCP or RTU)", s.cfg.Type)
	}
	if err != nil {
		return err
	}

	s.running.Store(true)
	return nil
}

func (s *Simulator) startTCP() error {
	if err := s.server.ListenTCP(s.cfg.Address); err != nil {
		return fmt.Errorf("failed to start Modbus TCP listener: %w", err)
	}
	s.lc.Info("Simulator listening", "type", TypeTCP, "address", s.cfg.Address, "sockets", s.cfg.Sockets)
	return nil
}

func (s *Simulator) startRTU() error {
	serialConfig := &serial.Config{
		Address:  s.cfg.Serial.Port,
		BaudRate: s.cfg.Serial.BaudRate,
		DataBits: s.cfg.Serial.DataBits,
		StopBits: s.cfg.Serial.StopBits,
		Parity:   s.cfg.Serial.Parity,
		Timeout:  s.cfg.Serial.Timeout,
	}
	if err := s.server.ListenRTU(serialConfig); err != nil {
		return fmt.Errorf("failed to start Modbus RTU listener: %w", err)
	}
	s.lc.Info("Simulator listening", "type", TypeRTU, "port", s.cfg.Serial.Port, "sockets", s.cfg.Sockets)
	return nil
}

// Stop 停止监听
func (s *Simulator) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.server.Close()
	s.lc.Info("Simulator stopped")
}

// unitOf 取请求帧中的 unit id
func unitOf(frame mbserver.Framer) uint8 {
	switch f := frame.(type) {
	case *mbserver.TCPFrame:
		return f.Device
	case *mbserver.RTUFrame:
		return f.Address
	default:
		return register.GenericUnit
	}
}

func (s *Simulator) handleReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}
	unit := unitOf(frame)
	addr := binary.BigEndian.Uint16(data[0:2])
	qty := binary.BigEndian.Uint16(data[2:4])
	if qty < 1 || qty > 125 {
		return nil, &mbserver.IllegalDataValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.banks[unit]
	if !ok {
		s.lc.Debug("Read from unknown unit", "unit", unit)
		return nil, &mbserver.IllegalDataAddress
	}
	if int(addr)+int(qty) > len(b) {
		return nil, &mbserver.IllegalDataAddress
	}

	resp := make([]byte, 1+int(qty)*2)
	resp[0] = byte(qty * 2)
	for i := 0; i < int(qty); i++ {
		binary.BigEndian.PutUint16(resp[1+i*2:], b[int(addr)+i])
	}
	s.lc.Trace("Read holding registers", "unit", unit, "address", addr, "quantity", qty)
	return resp, &mbserver.Success
}

func (s *Simulator) handleWriteSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}
	unit := unitOf(frame)
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	s.store(unit, addr, []uint16{value})
	return data[:4], &mbserver.Success
}

func (s *Simulator) handleWriteMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 5 {
		return nil, &mbserver.IllegalDataValue
	}
	unit := unitOf(frame)
	addr := binary.BigEndian.Uint16(data[0:2])
	qty := binary.BigEndian.Uint16(data[2:4])
	byteCount := int(data[4])

	if qty < 1 || qty > 123 || byteCount != int(qty)*2 || len(data) < 5+byteCount {
		return nil, &mbserver.IllegalDataValue
	}
	if int(addr)+int(qty) > 65536 {
		return nil, &mbserver.IllegalDataAddress
	}

	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[5+i*2:])
	}
	s.store(unit, addr, values)
	return data[:4], &mbserver.Success
}

func (s *Simulator) store(unit uint8, addr uint16, values []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bank(unit)
	copy(b[addr:], values)
	s.writes = append(s.writes, Write{Unit: unit, Address: addr, Values: values})
	s.lc.Debug("Registers written", "unit", unit, "address", addr, "quantity", len(values))
}
