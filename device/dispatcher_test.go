package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramseymcgrath/Hurricane/backend/simhal"
	"github.com/ramseymcgrath/Hurricane/descriptor"
	"github.com/ramseymcgrath/Hurricane/event"
	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *simhal.HAL, *registry.Registry) {
	t.Helper()
	h := simhal.New()
	reg := registry.New(h)
	bus := event.New()

	var desc descriptor.DeviceDescriptor
	desc.SetDefaults()
	desc.VendorID = 0xCAFE

	d := New(h, reg, bus, desc)
	return d, h, reg
}

func TestHandleSetupGetDeviceDescriptor(t *testing.T) {
	d, h, _ := newTestDispatcher(t)

	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeDevice) << 8,
		Length:      descriptor.DeviceLength,
	}
	require.NoError(t, d.HandleSetup(setup))

	sent := h.SentEP0()
	require.Len(t, sent, 1)
	assert.Equal(t, descriptor.DeviceLength, len(sent[0]))
}

func TestHandleSetupGetConfigurationDescriptor(t *testing.T) {
	d, h, reg := newTestDispatcher(t)

	_, err := reg.AddInterface(0, 0x03, 0x01, 0x02)
	require.NoError(t, err)
	require.NoError(t, reg.ConfigureEndpoint(0, 0x81, 0x03, 8, 10))

	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeConfiguration) << 8,
		Length:      64,
	}
	require.NoError(t, d.HandleSetup(setup))

	sent := h.SentEP0()
	require.Len(t, sent, 1)
	assert.Greater(t, len(sent[0]), 0)
}

func TestHandleSetupUnknownStringStalls(t *testing.T) {
	d, h, _ := newTestDispatcher(t)

	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeString)<<8 | 5,
		Length:      32,
	}
	require.NoError(t, d.HandleSetup(setup))
	assert.True(t, h.Stalled(0x80))
}

func TestHandleSetupSetConfigurationInvokesCallback(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	var got uint8
	d.SetConfigurationCallback(func(value uint8) { got = value })

	setup := wire.SetupPacket{
		RequestType: wire.RequestDirOut,
		Request:     wire.StdSetConfiguration,
		Value:       1,
	}
	require.NoError(t, d.HandleSetup(setup))
	assert.Equal(t, uint8(1), got)
	assert.Equal(t, uint8(1), d.configValue)
}

func TestHandleSetupClassRequestStallsWithoutHandler(t *testing.T) {
	d, h, _ := newTestDispatcher(t)

	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn | (1 << 5) | uint8(wire.RecipientInterface),
		Request:     wire.HidGetReport,
		Index:       0,
		Length:      8,
	}
	require.NoError(t, d.HandleSetup(setup))
	assert.True(t, h.Stalled(0x80))
}

func TestHandleSetupClassRequestSynchronous(t *testing.T) {
	d, h, reg := newTestDispatcher(t)

	_, err := reg.AddInterface(0, 0x03, 0x01, 0x02)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterControlHandler(0, func(setup wire.SetupPacket, buf []byte, respond func(n int, stall bool)) bool {
		n := copy(buf, []byte{0x01, 0x02, 0x03})
		respond(n, false)
		return true
	}))

	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn | (1 << 5) | uint8(wire.RecipientInterface),
		Request:     wire.HidGetReport,
		Index:       0,
		Length:      8,
	}
	require.NoError(t, d.HandleSetup(setup))

	sent := h.SentEP0()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, sent[0])
	assert.False(t, h.Stalled(0x80))
}

// TestHandleSetupClassRequestAsyncTimeout exercises the asynchronous
// handler path: the handler never calls respond, so the dispatcher must
// give up after PendingTimeout and stall.
func TestHandleSetupClassRequestAsyncTimeout(t *testing.T) {
	d, h, reg := newTestDispatcher(t)

	origNow := pendingStartTime
	fakeNow := time.Now()
	pendingStartTime = func() time.Time { return fakeNow }
	defer func() { pendingStartTime = origNow }()

	_, err := reg.AddInterface(0, 0x03, 0x01, 0x02)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterControlHandler(0, func(setup wire.SetupPacket, buf []byte, respond func(n int, stall bool)) bool {
		return false // asynchronous, never calls respond
	}))

	done := make(chan error, 1)
	go func() {
		setup := wire.SetupPacket{
			RequestType: wire.RequestDirIn | (1 << 5) | uint8(wire.RecipientInterface),
			Request:     wire.HidGetReport,
			Index:       0,
			Length:      8,
		}
		done <- d.HandleSetup(setup)
	}()

	// advance the fake clock past the timeout while the goroutine is
	// polling d.pending.ready
	time.Sleep(5 * time.Millisecond)
	pendingStartTime = func() time.Time { return fakeNow.Add(PendingTimeout + time.Second) }

	require.NoError(t, <-done)
	assert.True(t, h.Stalled(0x80))
}

func TestHandleSetupRejectsReentrantPending(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.pending.pending = true

	setup := wire.SetupPacket{RequestType: wire.RequestDirIn, Request: wire.StdGetDescriptor}
	err := d.HandleSetup(setup)
	assert.Error(t, err)
}
