package devicemanager

import (
	"app-alfen-go/internal/pkg/executor"
	"app-alfen-go/internal/pkg/mqtt"
	"app-alfen-go/internal/pkg/register"
)

// DeviceClient 单台设备的 Modbus 会话
type DeviceClient interface {
	Connect() error
	ReadGroup(group *register.Group, unitID uint8) ([]byte, error)
	WriteRegisters(unitID uint8, address, words uint16, data []byte) error
	Close() error
}

// Publisher 发布遥测
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// Subscriber 注册入站主题
type Subscriber interface {
	Register(pattern string, handler mqtt.Handler) error
}

// Submitter 把阻塞的设备 I/O 交给 worker 执行
type Submitter interface {
	Submit(name string, job executor.Job) bool
}
