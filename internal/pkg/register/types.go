package register

// Type 寄存器项的数据类型
type Type int

const (
	TypeString Type = iota
	TypeSigned16
	TypeUnsigned16
	TypeUnsigned32
	TypeUnsigned64
	TypeFloat32
	TypeFloat64
)

var typeNames = map[Type]string{
	TypeString:     "STRING",
	TypeSigned16:   "SIGNED16",
	TypeUnsigned16: "UNSIGNED16",
	TypeUnsigned32: "UNSIGNED32",
	TypeUnsigned64: "UNSIGNED64",
	TypeFloat32:    "FLOAT32",
	TypeFloat64:    "FLOAT64",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Tag 描述一个遥测项在 Home Assistant 中的展示方式
type Tag struct {
	DeviceClass string
	StateClass  string
	Unit        string
	Precision   int
}

var (
	TagPowerWatt  = &Tag{DeviceClass: "power", StateClass: "measurement", Unit: "W", Precision: 0}
	TagVoltage    = &Tag{DeviceClass: "voltage", StateClass: "measurement", Unit: "V", Precision: 0}
	TagCurrent2   = &Tag{DeviceClass: "current", StateClass: "measurement", Unit: "A", Precision: 2}
	TagFrequency2 = &Tag{DeviceClass: "frequency", StateClass: "measurement", Unit: "Hz", Precision: 2}
	TagEnergy     = &Tag{DeviceClass: "energy", StateClass: "total_increasing", Unit: "Wh", Precision: 0}
)

// Item 单个寄存器项，地址和长度均以字(16bit)为单位
type Item struct {
	Name     string
	Address  uint16
	Size     uint16
	Type     Type
	Tag      *Tag
	Writable bool
}

// Group 一次请求读取的连续寄存器区间
type Group struct {
	Name    string
	Address uint16
	Size    uint16
	Items   []Item
}

// ByteLen 返回该组原始数据的字节数
func (g *Group) ByteLen() int {
	return int(g.Size) * 2
}

// Contains 判断地址是否落在该组范围内
func (g *Group) Contains(addr uint16) bool {
	return addr >= g.Address && uint32(addr) < uint32(g.Address)+uint32(g.Size)
}

// Item 按起始地址查找寄存器项
func (g *Group) Item(addr uint16) (Item, bool) {
	for _, it := range g.Items {
		if it.Address == addr {
			return it, true
		}
	}
	return Item{}, false
}
