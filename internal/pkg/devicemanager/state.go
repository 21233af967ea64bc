package devicemanager

import (
	"sort"
	"sync"

	"app-alfen-go/internal/pkg/register"
)

// Desired 插座期望的充电状态
type Desired struct {
	Enabled    bool    `json:"enabled"`
	MaxCurrent float64 `json:"maxCurrent"`
	Phases     int     `json:"phases"`
}

// SocketDesired 带插座号的期望状态
type SocketDesired struct {
	Socket  int
	Desired Desired
}

type socketState struct {
	status      map[uint16]any
	measurement map[uint16]any
	desired     *Desired
}

// StateStore 保存设备最近一次读取的值和各插座的期望状态
type StateStore struct {
	mu          sync.RWMutex
	serial      string
	socketCount int
	sockets     map[int]*socketState
}

func NewStateStore() *StateStore {
	return &StateStore{sockets: make(map[int]*socketState)}
}

func (s *StateStore) socket(i int) *socketState {
	st, ok := s.sockets[i]
	if !ok {
		st = &socketState{}
		s.sockets[i] = st
	}
	return st
}

func (s *StateStore) SetStatus(socket int, values map[uint16]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socket(socket).status = values
}

func (s *StateStore) SetMeasurement(socket int, values map[uint16]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socket(socket).measurement = values
}

// Status 返回最近一次读取的状态组，未读到时为 nil
func (s *StateStore) Status(socket int) map[uint16]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sockets[socket]; ok {
		return st.status
	}
	return nil
}

// Measurement 返回最近一次读取的测量组，未读到时为 nil
func (s *StateStore) Measurement(socket int) map[uint16]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sockets[socket]; ok {
		return st.measurement
	}
	return nil
}

func (s *StateStore) SetDesired(socket int, d Desired) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socket(socket).desired = &d
}

// Desired 返回插座的期望状态
func (s *StateStore) Desired(socket int) (Desired, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sockets[socket]; ok && st.desired != nil {
		return *st.desired, true
	}
	return Desired{}, false
}

// DesiredStates 返回所有设置过期望状态的插座，按插座号排序
func (s *StateStore) DesiredStates() []SocketDesired {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SocketDesired, 0, len(s.sockets))
	for i, st := range s.sockets {
		if st.desired != nil {
			out = append(out, SocketDesired{Socket: i, Desired: *st.desired})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Socket < out[b].Socket })
	return out
}

func (s *StateStore) SetSocketCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketCount = n
}

func (s *StateStore) SocketCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socketCount
}

func (s *StateStore) SetSerial(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial = serial
}

func (s *StateStore) Serial() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serial
}

// SocketSnapshot 插座状态的 JSON 视图
type SocketSnapshot struct {
	Status      map[string]any `json:"status,omitempty"`
	Measurement map[string]any `json:"measurement,omitempty"`
	Desired     *Desired       `json:"desired,omitempty"`
}

// DeviceSnapshot 设备状态的 JSON 视图
type DeviceSnapshot struct {
	Name        string                 `json:"name"`
	Serial      string                 `json:"serial,omitempty"`
	SocketCount int                    `json:"socketCount"`
	Sockets     map[int]SocketSnapshot `json:"sockets"`
}

// Snapshot 拷贝当前状态
func (s *StateStore) Snapshot(name string) DeviceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := DeviceSnapshot{
		Name:        name,
		Serial:      s.serial,
		SocketCount: s.socketCount,
		Sockets:     make(map[int]SocketSnapshot, len(s.sockets)),
	}
	for i, st := range s.sockets {
		ss := SocketSnapshot{}
		if st.status != nil {
			ss.Status = register.Telemetry(st.status)
		}
		if st.measurement != nil {
			ss.Measurement = register.Telemetry(st.measurement)
		}
		if st.desired != nil {
			d := *st.desired
			ss.Desired = &d
		}
		snap.Sockets[i] = ss
	}
	return snap
}
