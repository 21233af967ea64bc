package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"app-alfen-go/internal/pkg/register"
)

// Home Assistant 设备信息
const (
	DeviceName   = "alfen-mqtt"
	Manufacturer = "mouse256"
	Model        = "alfen"
	prefix       = "homeassistant/device/" + DeviceName
)

// Device HA 设备描述
type Device struct {
	Identifiers  string `json:"identifiers"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Name         string `json:"name"`
}

// Origin 发布者描述
type Origin struct {
	Name string `json:"name"`
}

// Component 单个传感器实体
type Component struct {
	Name                      string `json:"name"`
	UniqueID                  string `json:"unique_id"`
	Platform                  string `json:"platform"`
	DeviceClass               string `json:"device_class"`
	StateClass                string `json:"state_class"`
	UnitOfMeasurement         string `json:"unit_of_measurement"`
	SuggestedDisplayPrecision int    `json:"suggested_display_precision"`
	ValueTemplate             string `json:"value_template"`
}

// Payload 设备级发现消息
type Payload struct {
	Device     Device               `json:"device"`
	Origin     Origin               `json:"origin"`
	StateTopic string               `json:"state_topic"`
	Components map[string]Component `json:"components"`
}

// Topic 返回某个插座的发现主题
func Topic(serial string, socket int) string {
	return fmt.Sprintf("%s/%s-%d/config", prefix, serial, socket)
}

// StateTopic 返回插座测量值的遥测主题
func StateTopic(baseTopic, device string, socket int) string {
	return fmt.Sprintf("%s/modbus/state/%s/%d/%s", baseTopic, device, socket, register.SocketMeasurement.Name)
}

// NewPayload 用带 Tag 的测量项构造发现消息
func NewPayload(serial string, socket int, device, baseTopic string) Payload {
	id := serial + "-" + strconv.Itoa(socket)
	components := make(map[string]Component)
	for _, item := range register.SocketMeasurement.Items {
		if item.Tag == nil {
			continue
		}
		key := register.SocketMeasurement.Name + "_" + strconv.Itoa(int(item.Address))
		components[key] = Component{
			Name:                      item.Name,
			UniqueID:                  id + "-" + key,
			Platform:                  "sensor",
			DeviceClass:               item.Tag.DeviceClass,
			StateClass:                item.Tag.StateClass,
			UnitOfMeasurement:         item.Tag.Unit,
			SuggestedDisplayPrecision: item.Tag.Precision,
			ValueTemplate:             "{{ value_json." + register.TelemetryKey(item.Address) + " }}",
		}
	}

	return Payload{
		Device: Device{
			Identifiers:  id,
			Manufacturer: Manufacturer,
			Model:        Model,
			Name:         DeviceName,
		},
		Origin:     Origin{Name: DeviceName},
		StateTopic: StateTopic(baseTopic, device, socket),
		Components: components,
	}
}

// Build 返回发现主题和序列化后的负载，消息需以 retain 发布
func Build(serial string, socket int, device, baseTopic string) (string, []byte, error) {
	if serial == "" {
		return "", nil, errors.New("please specify a serial number")
	}
	if socket < 1 {
		return "", nil, fmt.Errorf("invalid socket %d", socket)
	}
	data, err := json.Marshal(NewPayload(serial, socket, device, baseTopic))
	if err != nil {
		return "", nil, fmt.Errorf("failed to serialize discovery payload: %w", err)
	}
	return Topic(serial, socket), data, nil
}
