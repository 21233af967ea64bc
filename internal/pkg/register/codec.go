package register

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrSizeMismatch    = errors.New("register data size mismatch")
	ErrUnsupportedType = errors.New("unsupported register type")
)

// Decode 将一个寄存器组的原始字节按大端序解析为 地址->值
func Decode(group *Group, raw []byte) (map[uint16]any, error) {
	if len(raw) != group.ByteLen() {
		return nil, fmt.Errorf("%w: group %s expects %d bytes, got %d",
			ErrSizeMismatch, group.Name, group.ByteLen(), len(raw))
	}

	values := make(map[uint16]any, len(group.Items))
	for _, item := range group.Items {
		offset := int(item.Address-group.Address) * 2
		end := offset + int(item.Size)*2
		if item.Address < group.Address || end > len(raw) {
			return nil, fmt.Errorf("%w: item %s (%d) outside group %s",
				ErrSizeMismatch, item.Name, item.Address, group.Name)
		}
		v, err := decodeItem(item, raw[offset:end])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Name, err)
		}
		values[item.Address] = v
	}
	return values, nil
}

func decodeItem(item Item, data []byte) (any, error) {
	switch item.Type {
	case TypeString:
		// 先整体解码再在第一个 NUL 处截断，避免截断多字节字符
		s := string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
		if i := strings.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return s, nil
	case TypeSigned16:
		if len(data) < 2 {
			return nil, fmt.Errorf("insufficient data for int16")
		}
		return int16(binary.BigEndian.Uint16(data)), nil
	case TypeUnsigned16:
		if len(data) < 2 {
			return nil, fmt.Errorf("insufficient data for uint16")
		}
		return binary.BigEndian.Uint16(data), nil
	case TypeUnsigned32, TypeUnsigned64:
		// UNSIGNED64 只取前 4 字节，下游已依赖这个形态
		if len(data) < 4 {
			return nil, fmt.Errorf("insufficient data for uint32")
		}
		return uint64(binary.BigEndian.Uint32(data)), nil
	case TypeFloat32:
		if len(data) < 4 {
			return nil, fmt.Errorf("insufficient data for float32")
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
	case TypeFloat64:
		if len(data) < 8 {
			return nil, fmt.Errorf("insufficient data for float64")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, item.Type)
	}
}

// EncodeItem 将值编码为可写寄存器的字节，只支持 FLOAT32 和 UNSIGNED16
func EncodeItem(item Item, value any) ([]byte, error) {
	switch item.Type {
	case TypeFloat32, TypeUnsigned16:
	default:
		return nil, fmt.Errorf("%w: cannot write %s (%s)", ErrUnsupportedType, item.Name, item.Type)
	}
	data, err := encodeValue(item.Type, int(item.Size)*2, value)
	if err != nil {
		return nil, err
	}
	if len(data) != int(item.Size)*2 {
		return nil, fmt.Errorf("%w: item %s expects %d bytes, encoded %d",
			ErrSizeMismatch, item.Name, item.Size*2, len(data))
	}
	return data, nil
}

// encodeValue 对所有类型编码，size 为目标字节数（STRING 不足补 NUL）
func encodeValue(t Type, size int, value any) ([]byte, error) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("cannot convert %T to string", value)
		}
		result := make([]byte, size)
		copy(result, s)
		return result, nil
	case TypeSigned16:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		result := make([]byte, 2)
		binary.BigEndian.PutUint16(result, uint16(int16(v)))
		return result, nil
	case TypeUnsigned16:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		result := make([]byte, 2)
		binary.BigEndian.PutUint16(result, uint16(v))
		return result, nil
	case TypeUnsigned32, TypeUnsigned64:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		n := 4
		if t == TypeUnsigned64 {
			n = 8
		}
		// 与解码保持一致：只有前 4 字节有效
		result := make([]byte, n)
		binary.BigEndian.PutUint32(result, uint32(v))
		return result, nil
	case TypeFloat32:
		v, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		result := make([]byte, 4)
		binary.BigEndian.PutUint32(result, math.Float32bits(float32(v)))
		return result, nil
	case TypeFloat64:
		v, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		result := make([]byte, 8)
		binary.BigEndian.PutUint64(result, math.Float64bits(v))
		return result, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

// EncodeGroup 按寄存器组布局把 地址->值 编码成完整的原始数据，未给出的项保持为 0
func EncodeGroup(group *Group, values map[uint16]any) ([]byte, error) {
	raw := make([]byte, group.ByteLen())
	for _, item := range group.Items {
		v, ok := values[item.Address]
		if !ok {
			continue
		}
		data, err := encodeValue(item.Type, int(item.Size)*2, v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", item.Name, err)
		}
		offset := int(item.Address-group.Address) * 2
		copy(raw[offset:offset+int(item.Size)*2], data)
	}
	return raw, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", value)
	}
}

// TelemetryKey 遥测 JSON 的键，部分下游无法处理数字键
func TelemetryKey(addr uint16) string {
	return "S" + strconv.FormatUint(uint64(addr), 10)
}

// Telemetry 把解码结果转换为可直接序列化的 JSON 对象，NaN/Inf 置为 null
func Telemetry(values map[uint16]any) map[string]any {
	out := make(map[string]any, len(values))
	for addr, v := range values {
		switch f := v.(type) {
		case float32:
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				v = nil
			}
		case float64:
			if math.IsNaN(f) || math.IsInf(f, 0) {
				v = nil
			}
		}
		out[TelemetryKey(addr)] = v
	}
	return out
}

// AsFloat 将解码值转换为 float64，用于功率等数值计算
func AsFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AsInt 将解码值转换为 int
func AsInt(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, false
	}
	return int(i), true
}
