package register

// GenericUnit 设备级寄存器组所用的 unit id，插座使用 1..N
const GenericUnit uint8 = 200

const (
	AddrSerialNumber = 157
	AddrSocketCount  = 1105
	AddrRealPowerSum = 344
	AddrAvailability = 1200
	AddrMode3State   = 1201
	AddrMaxCurrent   = 1210
	AddrPhases       = 1215
)

// 可写寄存器
var (
	ItemMaxCurrent = Item{Name: "Modbus Slave Max Current", Address: AddrMaxCurrent, Size: 2, Type: TypeFloat32, Tag: TagCurrent2, Writable: true}
	ItemPhases     = Item{Name: "Charge using 1 or 3 phases", Address: AddrPhases, Size: 1, Type: TypeUnsigned16, Writable: true}
)

var ProductIdentification = &Group{
	Name:    "product_identification",
	Address: 100,
	Size:    79,
	Items: []Item{
		{Name: "Name", Address: 100, Size: 17, Type: TypeString},
		{Name: "Manufacturer", Address: 117, Size: 5, Type: TypeString},
		{Name: "Modbus table version", Address: 122, Size: 1, Type: TypeSigned16},
		{Name: "Firmware version", Address: 123, Size: 17, Type: TypeString},
		{Name: "Platform type", Address: 140, Size: 17, Type: TypeString},
		{Name: "Station serial number", Address: AddrSerialNumber, Size: 11, Type: TypeString},
		{Name: "Date year", Address: 168, Size: 1, Type: TypeSigned16},
		{Name: "Date month", Address: 169, Size: 1, Type: TypeSigned16},
		{Name: "Date day", Address: 170, Size: 1, Type: TypeSigned16},
		{Name: "Time hour", Address: 171, Size: 1, Type: TypeSigned16},
		{Name: "Time minute", Address: 172, Size: 1, Type: TypeSigned16},
		{Name: "Time second", Address: 173, Size: 1, Type: TypeSigned16},
		{Name: "Uptime", Address: 174, Size: 4, Type: TypeUnsigned64},
		{Name: "Time zone", Address: 178, Size: 1, Type: TypeSigned16},
	},
}

var StationStatus = &Group{
	Name:    "station_status",
	Address: 1100,
	Size:    6,
	Items: []Item{
		{Name: "Station Active Max Current", Address: 1100, Size: 2, Type: TypeFloat32},
		{Name: "Temperature", Address: 1102, Size: 2, Type: TypeFloat32},
		{Name: "OCPP state", Address: 1104, Size: 1, Type: TypeUnsigned16},
		{Name: "Nr of sockets", Address: AddrSocketCount, Size: 1, Type: TypeUnsigned16},
	},
}

var SocketMeasurement = &Group{
	Name:    "socket_measurement",
	Address: 300,
	Size:    125,
	Items: []Item{
		{Name: "Meter state", Address: 300, Size: 1, Type: TypeSigned16},
		{Name: "Meter last value timestamp", Address: 301, Size: 4, Type: TypeUnsigned64},
		{Name: "Meter type", Address: 305, Size: 1, Type: TypeUnsigned16},
		{Name: "Voltage Phase V(L1-N)", Address: 306, Size: 2, Type: TypeFloat32, Tag: TagVoltage},
		{Name: "Voltage Phase V(L2-N)", Address: 308, Size: 2, Type: TypeFloat32, Tag: TagVoltage},
		{Name: "Voltage Phase V(L3-N)", Address: 310, Size: 2, Type: TypeFloat32, Tag: TagVoltage},
		{Name: "Voltage Phase V(L1-L2)", Address: 312, Size: 2, Type: TypeFloat32},
		{Name: "Voltage Phase V(L2-L3)", Address: 314, Size: 2, Type: TypeFloat32},
		{Name: "Voltage Phase V(L3-L1)", Address: 316, Size: 2, Type: TypeFloat32},
		{Name: "Current N", Address: 318, Size: 2, Type: TypeFloat32},
		{Name: "Current Phase L1", Address: 320, Size: 2, Type: TypeFloat32, Tag: TagCurrent2},
		{Name: "Current Phase L2", Address: 322, Size: 2, Type: TypeFloat32, Tag: TagCurrent2},
		{Name: "Current Phase L3", Address: 324, Size: 2, Type: TypeFloat32, Tag: TagCurrent2},
		{Name: "Current Sum", Address: 326, Size: 2, Type: TypeFloat32},
		{Name: "Power Factor Phase L1", Address: 328, Size: 2, Type: TypeFloat32},
		{Name: "Power Factor Phase L2", Address: 330, Size: 2, Type: TypeFloat32},
		{Name: "Power Factor Phase L3", Address: 332, Size: 2, Type: TypeFloat32},
		{Name: "Power Factor Sum", Address: 334, Size: 2, Type: TypeFloat32},
		{Name: "Frequency", Address: 336, Size: 2, Type: TypeFloat32, Tag: TagFrequency2},
		{Name: "Real Power Phase L1", Address: 338, Size: 2, Type: TypeFloat32},
		{Name: "Real Power Phase L2", Address: 340, Size: 2, Type: TypeFloat32},
		{Name: "Real Power Phase L3", Address: 342, Size: 2, Type: TypeFloat32},
		{Name: "Real Power Sum", Address: AddrRealPowerSum, Size: 2, Type: TypeFloat32, Tag: TagPowerWatt},
		{Name: "Apparent Power Phase L1", Address: 346, Size: 2, Type: TypeFloat32},
		{Name: "Apparent Power Phase L2", Address: 348, Size: 2, Type: TypeFloat32},
		{Name: "Apparent Power Phase L3", Address: 350, Size: 2, Type: TypeFloat32},
		{Name: "Apparent Power Sum", Address: 352, Size: 2, Type: TypeFloat32},
		{Name: "Reactive Power Phase L1", Address: 354, Size: 2, Type: TypeFloat32},
		{Name: "Reactive Power Phase L2", Address: 356, Size: 2, Type: TypeFloat32},
		{Name: "Reactive Power Phase L3", Address: 358, Size: 2, Type: TypeFloat32},
		{Name: "Reactive Power Sum", Address: 360, Size: 2, Type: TypeFloat32},
		{Name: "Real Energy Delivered Phase L1", Address: 362, Size: 4, Type: TypeFloat64},
		{Name: "Real Energy Delivered Phase L2", Address: 366, Size: 4, Type: TypeFloat64},
		{Name: "Real Energy Delivered Phase L3", Address: 370, Size: 4, Type: TypeFloat64},
		{Name: "Real Energy Delivered Sum", Address: 374, Size: 4, Type: TypeFloat64, Tag: TagEnergy},
		{Name: "Real Energy Consumed Phase L1", Address: 378, Size: 4, Type: TypeFloat64},
		{Name: "Real Energy Consumed Phase L2", Address: 382, Size: 4, Type: TypeFloat64},
		{Name: "Real Energy Consumed Phase L3", Address: 386, Size: 4, Type: TypeFloat64},
		{Name: "Real Energy Consumed Sum", Address: 390, Size: 4, Type: TypeFloat64},
		{Name: "Apparent Energy Phase L1", Address: 394, Size: 4, Type: TypeFloat64},
		{Name: "Apparent Energy Phase L2", Address: 398, Size: 4, Type: TypeFloat64},
		{Name: "Apparent Energy Phase L3", Address: 402, Size: 4, Type: TypeFloat64},
		{Name: "Apparent Energy Sum", Address: 406, Size: 4, Type: TypeFloat64},
		{Name: "Reactive Energy Phase L1", Address: 410, Size: 4, Type: TypeFloat64},
		{Name: "Reactive Energy Phase L2", Address: 414, Size: 4, Type: TypeFloat64},
		{Name: "Reactive Energy Phase L3", Address: 418, Size: 4, Type: TypeFloat64},
		// 422 (Reactive Energy Sum) 读出来的值不可靠，不解析
	},
}

var SocketStatus = &Group{
	Name:    "status",
	Address: 1200,
	Size:    16,
	Items: []Item{
		{Name: "Availability", Address: AddrAvailability, Size: 1, Type: TypeUnsigned16},
		{Name: "Mode 3 state", Address: AddrMode3State, Size: 5, Type: TypeString},
		{Name: "Actual Applied Max Current", Address: 1206, Size: 2, Type: TypeFloat32, Tag: TagCurrent2},
		{Name: "Modbus Slave Max Current valid time", Address: 1208, Size: 2, Type: TypeUnsigned32},
		ItemMaxCurrent,
		{Name: "Active Load Balancing Safe Current", Address: 1212, Size: 2, Type: TypeFloat32},
		{Name: "Modbus Slave received setpoint accounted for", Address: 1214, Size: 1, Type: TypeUnsigned16},
		ItemPhases,
	},
}

// Groups 返回全部寄存器组，按轮询顺序排列
func Groups() []*Group {
	return []*Group{ProductIdentification, StationStatus, SocketMeasurement, SocketStatus}
}
