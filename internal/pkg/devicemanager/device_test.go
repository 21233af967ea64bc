package devicemanager

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"app-alfen-go/internal/pkg/executor"
	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/mqtt"
	"app-alfen-go/internal/pkg/register"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, client DeviceClient, writeEnabled bool, pub Publisher) *Device {
	t.Helper()
	d, err := NewDevice("garage", client, Options{WriteEnabled: writeEnabled}, pub, &syncSubmitter{},
		logger.NewNopClient(), nil)
	require.NoError(t, err)
	return d
}

func TestNewDevice_Validation(t *testing.T) {
	_, err := NewDevice("", newFakeClient(), Options{}, nil, &syncSubmitter{}, logger.NewNopClient(), nil)
	assert.Error(t, err)
	_, err = NewDevice("garage", nil, Options{}, nil, &syncSubmitter{}, logger.NewNopClient(), nil)
	assert.Error(t, err)
	_, err = NewDevice("garage", newFakeClient(), Options{}, nil, nil, logger.NewNopClient(), nil)
	assert.Error(t, err)

	d, err := NewDevice("garage", newFakeClient(), Options{}, nil, &syncSubmitter{}, logger.NewNopClient(), nil)
	require.NoError(t, err)
	assert.Equal(t, "alfen", d.opts.BaseTopic)
}

func TestPoll_ReadsEverySocket(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 3)
	pub := &fakePublisher{}
	d := newTestDevice(t, client, false, pub)

	require.NoError(t, d.Poll(context.Background()))

	assert.Equal(t, 1, client.readCount(register.ProductIdentification))
	assert.Equal(t, 1, client.readCount(register.StationStatus))
	assert.Equal(t, 3, client.readCount(register.SocketMeasurement))
	assert.Equal(t, 3, client.readCount(register.SocketStatus))

	assert.Equal(t, 3, d.Store().SocketCount())
	assert.Equal(t, "ACE0123456", d.Store().Serial())

	for _, topic := range []string{
		"alfen/modbus/state/garage/200/product_identification",
		"alfen/modbus/state/garage/200/station_status",
		"alfen/modbus/state/garage/1/socket_measurement",
		"alfen/modbus/state/garage/3/status",
	} {
		_, ok := pub.find(topic)
		assert.True(t, ok, topic)
	}

	msg, ok := pub.find("alfen/modbus/state/garage/2/status")
	require.True(t, ok)
	assert.False(t, msg.retain)
	assert.Contains(t, string(msg.payload), `"S1201":"C2"`)

	msg, ok = pub.find("alfen/evcc/status/garage/2")
	require.True(t, ok)
	assert.JSONEq(t, `{"enabled":true,"status":"C","power":1379.5999755859375}`, string(msg.payload))
}

func TestPoll_StationFailureSkipsSockets(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 2)
	client.failRead(register.StationStatus, register.GenericUnit)
	d := newTestDevice(t, client, false, &fakePublisher{})

	assert.Error(t, d.Poll(context.Background()))
	assert.Equal(t, 0, client.readCount(register.SocketMeasurement))
	assert.Equal(t, 0, client.readCount(register.SocketStatus))
}

func TestPoll_ReadFailureTreatedAsAbsent(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 2)
	client.failRead(register.SocketMeasurement, 2)
	pub := &fakePublisher{}
	d := newTestDevice(t, client, false, pub)

	require.NoError(t, d.Poll(context.Background()))

	assert.Nil(t, d.Store().Measurement(2))
	assert.NotNil(t, d.Store().Status(2))
	_, ok := pub.find("alfen/evcc/status/garage/2")
	assert.False(t, ok)
	_, ok = pub.find("alfen/evcc/status/garage/1")
	assert.True(t, ok)
}

func TestPoll_PublishNotConnectedIsIgnored(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	d := newTestDevice(t, client, false, &fakePublisher{err: mqtt.ErrNotConnected})

	require.NoError(t, d.Poll(context.Background()))
	assert.NotNil(t, d.Store().Status(1))
}

func TestPoll_CancelledContext(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 2)
	d := newTestDevice(t, client, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Poll(ctx), context.Canceled)
	assert.Equal(t, 0, client.readCount(register.SocketMeasurement))
}

// countingSubmitter 只记录提交次数，不执行
type countingSubmitter struct {
	count int
}

func (s *countingSubmitter) Submit(string, executor.Job) bool {
	s.count++
	return true
}

func TestSchedulePoll_SkipsWhileBusy(t *testing.T) {
	sub := &countingSubmitter{}
	d, err := NewDevice("garage", newFakeClient(), Options{}, nil, sub, logger.NewNopClient(), nil)
	require.NoError(t, err)

	d.schedulePoll()
	d.schedulePoll()
	assert.Equal(t, 1, sub.count)

	d.polling.Store(false)
	d.schedulePoll()
	assert.Equal(t, 2, sub.count)
}

func TestSocketRealPowerSum(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	d := newTestDevice(t, client, false, nil)

	_, ok := d.SocketRealPowerSum(1)
	assert.False(t, ok)

	require.NoError(t, d.Poll(context.Background()))
	power, ok := d.SocketRealPowerSum(1)
	assert.True(t, ok)
	assert.Equal(t, 1380, power)

	client.set(t, 1, register.SocketMeasurement, map[uint16]any{register.AddrRealPowerSum: float32(math.NaN())})
	require.NoError(t, d.Poll(context.Background()))
	_, ok = d.SocketRealPowerSum(1)
	assert.False(t, ok)
}

func decodeFloat(data []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(data))
}

func TestSetState_PhaseWrittenOnce(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	d := newTestDevice(t, client, true, nil)

	d.SetState(1, 6, 1)
	d.SetState(1, 6, 1)

	current := client.writesTo(register.AddrMaxCurrent)
	require.Len(t, current, 2)
	assert.Equal(t, uint8(1), current[0].unit)
	assert.Equal(t, uint16(2), current[0].words)
	assert.Equal(t, float32(6), decodeFloat(current[1].data))

	phases := client.writesTo(register.AddrPhases)
	require.Len(t, phases, 1)
	assert.Equal(t, []byte{0, 1}, phases[0].data)

	desired, ok := d.Store().Desired(1)
	require.True(t, ok)
	assert.Equal(t, Desired{Enabled: true, MaxCurrent: 6, Phases: 1}, desired)
}

func TestDisable_WritesZero(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	d := newTestDevice(t, client, true, nil)

	d.Disable(1)

	current := client.writesTo(register.AddrMaxCurrent)
	require.Len(t, current, 1)
	assert.Equal(t, float32(0), decodeFloat(current[0].data))
	assert.Empty(t, client.writesTo(register.AddrPhases))
}

func TestWriteDisabled(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	sub := &syncSubmitter{}
	d, err := NewDevice("garage", client, Options{WriteEnabled: false}, nil, sub, logger.NewNopClient(), nil)
	require.NoError(t, err)

	d.SetState(1, 10, 3)
	d.Disable(1)
	require.NoError(t, d.Reassert(context.Background()))

	assert.Equal(t, 0, sub.count)
	assert.Empty(t, client.writes)

	// RunWriter 在写入关闭时立即返回
	d.RunWriter(context.Background())
}

func TestReassert_StatusUnknown(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 2)
	client.failRead(register.SocketStatus, 1)
	client.failRead(register.SocketStatus, 2)
	d := newTestDevice(t, client, true, nil)

	d.SetState(1, 8, 1)
	assert.Empty(t, client.writes)

	d.Disable(2)
	current := client.writesTo(register.AddrMaxCurrent)
	require.Len(t, current, 1)
	assert.Equal(t, uint8(2), current[0].unit)
}

func TestReassert_FallsBackToLastKnownStatus(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	d := newTestDevice(t, client, true, nil)

	require.NoError(t, d.Poll(context.Background()))
	require.NotNil(t, d.Store().Status(1))

	client.failRead(register.SocketStatus, 1)
	d.SetState(1, 10, 1)

	current := client.writesTo(register.AddrMaxCurrent)
	require.Len(t, current, 1)
	assert.Equal(t, float32(10), decodeFloat(current[0].data))
	// 上次读到的相数是 3
	phases := client.writesTo(register.AddrPhases)
	require.Len(t, phases, 1)
	assert.Equal(t, []byte{0, 1}, phases[0].data)
	assert.NotNil(t, d.Store().Status(1))
}

func TestReassert_AllDesiredSockets(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 2)
	d := newTestDevice(t, client, true, nil)

	d.store.SetDesired(2, Desired{Enabled: true, MaxCurrent: 10, Phases: 3})
	d.store.SetDesired(1, Desired{Enabled: false})
	require.NoError(t, d.Reassert(context.Background()))

	current := client.writesTo(register.AddrMaxCurrent)
	require.Len(t, current, 2)
	assert.Equal(t, uint8(1), current[0].unit)
	assert.Equal(t, float32(0), decodeFloat(current[0].data))
	assert.Equal(t, uint8(2), current[1].unit)
	assert.Equal(t, float32(10), decodeFloat(current[1].data))
	// 相数已经是 3
	assert.Empty(t, client.writesTo(register.AddrPhases))
}

func TestDiscover(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 2)
	pub := &fakePublisher{}
	d := newTestDevice(t, client, false, pub)

	require.NoError(t, d.Discover())

	for _, topic := range []string{
		"homeassistant/device/alfen-mqtt/ACE0123456-1/config",
		"homeassistant/device/alfen-mqtt/ACE0123456-2/config",
	} {
		msg, ok := pub.find(topic)
		require.True(t, ok, topic)
		assert.True(t, msg.retain)
	}
	assert.Equal(t, 2, d.Store().SocketCount())
}

func TestDiscover_NoSerial(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	client.set(t, register.GenericUnit, register.ProductIdentification, map[uint16]any{})
	d := newTestDevice(t, client, false, &fakePublisher{})

	assert.Error(t, d.Discover())
}

func TestSnapshot(t *testing.T) {
	client := newFakeClient()
	seedAlfen(t, client, 1)
	d := newTestDevice(t, client, true, nil)

	require.NoError(t, d.Poll(context.Background()))
	d.SetState(1, 6, 1)

	snap := d.Snapshot()
	assert.Equal(t, "garage", snap.Name)
	assert.Equal(t, "ACE0123456", snap.Serial)
	assert.Equal(t, 1, snap.SocketCount)
	require.Contains(t, snap.Sockets, 1)
	assert.Equal(t, "C2", snap.Sockets[1].Status["S1201"])
	require.NotNil(t, snap.Sockets[1].Desired)
	assert.Equal(t, 6.0, snap.Sockets[1].Desired.MaxCurrent)
}
