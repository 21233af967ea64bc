package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alfen"

// Metrics 网关的 Prometheus 指标，nil 接收者上的所有方法都是空操作
type Metrics struct {
	reads          *prometheus.CounterVec
	writes         *prometheus.CounterVec
	messages       *prometheus.CounterVec
	connected      prometheus.Gauge
	socketPower    *prometheus.GaugeVec
	availablePower *prometheus.GaugeVec
}

// New 创建指标并注册到 reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "reads_total",
			Help:      "Modbus register group reads by result.",
		}, []string{"device", "group", "result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "writes_total",
			Help:      "Modbus register writes by result.",
		}, []string{"device", "register", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_total",
			Help:      "MQTT messages by direction.",
		}, []string{"direction"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "1 when the MQTT dispatcher is connected.",
		}),
		socketPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "real_power_watts",
			Help:      "Last polled real power sum of a socket.",
		}, []string{"device", "socket"}),
		availablePower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "available_watts",
			Help:      "Power available for charging computed by the last controller tick.",
		}, []string{"device", "socket"}),
	}

	for _, c := range []prometheus.Collector{
		m.reads, m.writes, m.messages, m.connected, m.socketPower, m.availablePower,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRead 记录一次寄存器组读取
func (m *Metrics) ObserveRead(device, group string, err error) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(device, group, result(err)).Inc()
}

// ObserveWrite 记录一次寄存器写入
func (m *Metrics) ObserveWrite(device string, register uint16, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(device, strconv.Itoa(int(register)), result(err)).Inc()
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("in").Inc()
}

func (m *Metrics) MessagePublished() {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("out").Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) SetSocketPower(device string, socket int, watts float64) {
	if m == nil {
		return
	}
	m.socketPower.WithLabelValues(device, strconv.Itoa(socket)).Set(watts)
}

func (m *Metrics) SetAvailable(device string, socket int, watts int) {
	if m == nil {
		return
	}
	m.availablePower.WithLabelValues(device, strconv.Itoa(socket)).Set(float64(watts))
}
