package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramseymcgrath/Hurricane/backend/simhal"
	"github.com/ramseymcgrath/Hurricane/descriptor"
	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

func buildMouseConfigDescriptor(t *testing.T) []byte {
	t.Helper()

	header := descriptor.ConfigHeader{
		Length:             descriptor.ConfigurationLength,
		DescriptorType:     wire.DescTypeConfiguration,
		NumInterfaces:      1,
		ConfigurationValue: 1,
		MaxPower:           50,
	}
	iface := descriptor.InterfaceDescriptor{
		Length:          descriptor.InterfaceLength,
		DescriptorType:  wire.DescTypeInterface,
		InterfaceNumber: 0,
		NumEndpoints:    1,
		InterfaceClass:  0x03,
		InterfaceSubClass: 0x01,
		InterfaceProtocol: 0x02,
	}
	hid := descriptor.HIDDescriptor{}
	hid.SetDefaults(52)
	ep := descriptor.EndpointDescriptor{
		Length:          descriptor.EndpointLength,
		DescriptorType:  wire.DescTypeEndpoint,
		EndpointAddress: 0x81,
		Attributes:      0x03,
		MaxPacketSize:   4,
		Interval:        10,
	}

	var body []byte
	body = append(body, iface.Bytes()...)
	body = append(body, hid.Bytes()...)
	body = append(body, ep.Bytes()...)
	header.TotalLength = uint16(descriptor.ConfigurationLength + len(body))

	out := append([]byte(nil), header.Bytes()...)
	out = append(out, body...)
	return out
}

// TestEnumerateMouseEndToEnd drives the full FSM against a scripted HAL
// reproducing a single-interface boot-protocol mouse, matching the
// mouse-enumeration end-to-end scenario.
func TestEnumerateMouseEndToEnd(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)

	var attached bool
	require.NoError(t, reg.RegisterHostClassHandler(registry.HostClassHandler{
		Class: 0x03, SubClass: 0x01, Protocol: 0x02,
		Attach: func(dev registry.HostDevice) error {
			attached = true
			return nil
		},
	}))

	var devDesc descriptor.DeviceDescriptor
	devDesc.SetDefaults()
	devDesc.VendorID = 0x1234
	devDesc.ProductID = 0x5678

	configBytes := buildMouseConfigDescriptor(t)

	// GetDeviceDescShort
	h.ScriptControl(0, simhal.ControlResponse{Data: devDesc.Bytes()[:8]})
	// SetAddress
	h.ScriptControl(0, simhal.ControlResponse{})
	// GetDeviceDescFull
	h.ScriptControl(1, simhal.ControlResponse{Data: devDesc.Bytes()})
	// GetConfigDescHeader
	h.ScriptControl(1, simhal.ControlResponse{Data: configBytes[:descriptor.ConfigurationLength]})
	// GetConfigDescFull
	h.ScriptControl(1, simhal.ControlResponse{Data: configBytes})
	// SetConfiguration
	h.ScriptControl(1, simhal.ControlResponse{})

	e := New(h, reg)
	e.Attach(wire.SpeedFull)

	for i := 0; i < 6; i++ {
		require.NoError(t, e.Poll())
	}

	assert.Equal(t, Complete, e.State())
	assert.True(t, attached)
	assert.Equal(t, uint8(0x81), e.dev.boundEndpoint)
}

// buildCompositeHIDConfigDescriptor builds a two-interface composite
// configuration descriptor (keyboard then mouse), both class=3 HID, to
// verify the enumerator binds the first one.
func buildCompositeHIDConfigDescriptor(t *testing.T) []byte {
	t.Helper()

	header := descriptor.ConfigHeader{
		Length:             descriptor.ConfigurationLength,
		DescriptorType:     wire.DescTypeConfiguration,
		NumInterfaces:      2,
		ConfigurationValue: 1,
		MaxPower:           50,
	}

	keyboardIface := descriptor.InterfaceDescriptor{
		Length:            descriptor.InterfaceLength,
		DescriptorType:    wire.DescTypeInterface,
		InterfaceNumber:   0,
		NumEndpoints:      1,
		InterfaceClass:    0x03,
		InterfaceSubClass: 0x01,
		InterfaceProtocol: 0x01,
	}
	keyboardHID := descriptor.HIDDescriptor{}
	keyboardHID.SetDefaults(63)
	keyboardEp := descriptor.EndpointDescriptor{
		Length:          descriptor.EndpointLength,
		DescriptorType:  wire.DescTypeEndpoint,
		EndpointAddress: 0x81,
		Attributes:      0x03,
		MaxPacketSize:   8,
		Interval:        10,
	}

	mouseIface := descriptor.InterfaceDescriptor{
		Length:            descriptor.InterfaceLength,
		DescriptorType:    wire.DescTypeInterface,
		InterfaceNumber:   1,
		NumEndpoints:      1,
		InterfaceClass:    0x03,
		InterfaceSubClass: 0x01,
		InterfaceProtocol: 0x02,
	}
	mouseHID := descriptor.HIDDescriptor{}
	mouseHID.SetDefaults(52)
	mouseEp := descriptor.EndpointDescriptor{
		Length:          descriptor.EndpointLength,
		DescriptorType:  wire.DescTypeEndpoint,
		EndpointAddress: 0x82,
		Attributes:      0x03,
		MaxPacketSize:   4,
		Interval:        10,
	}

	var body []byte
	body = append(body, keyboardIface.Bytes()...)
	body = append(body, keyboardHID.Bytes()...)
	body = append(body, keyboardEp.Bytes()...)
	body = append(body, mouseIface.Bytes()...)
	body = append(body, mouseHID.Bytes()...)
	body = append(body, mouseEp.Bytes()...)
	header.TotalLength = uint16(descriptor.ConfigurationLength + len(body))

	out := append([]byte(nil), header.Bytes()...)
	out = append(out, body...)
	return out
}

// TestEnumerateCompositeHIDBindsFirstInterface reproduces a composite
// keyboard+mouse device: the enumerator must bind the first HID interface
// (the keyboard) and its endpoint, not the last one encountered.
func TestEnumerateCompositeHIDBindsFirstInterface(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)

	require.NoError(t, reg.RegisterHostClassHandler(registry.HostClassHandler{
		Class: 0x03, SubClass: 0x01, Protocol: 0x01,
	}))

	var devDesc descriptor.DeviceDescriptor
	devDesc.SetDefaults()

	configBytes := buildCompositeHIDConfigDescriptor(t)

	h.ScriptControl(0, simhal.ControlResponse{Data: devDesc.Bytes()[:8]})
	h.ScriptControl(0, simhal.ControlResponse{})
	h.ScriptControl(1, simhal.ControlResponse{Data: devDesc.Bytes()})
	h.ScriptControl(1, simhal.ControlResponse{Data: configBytes[:descriptor.ConfigurationLength]})
	h.ScriptControl(1, simhal.ControlResponse{Data: configBytes})
	h.ScriptControl(1, simhal.ControlResponse{})

	e := New(h, reg)
	e.Attach(wire.SpeedFull)

	for i := 0; i < 6; i++ {
		require.NoError(t, e.Poll())
	}

	assert.Equal(t, Complete, e.State())
	assert.Equal(t, uint8(0), e.dev.boundInterface, "must bind the first HID interface (keyboard), not the second (mouse)")
	assert.Equal(t, uint8(0x81), e.dev.boundEndpoint, "must bind the first HID interface's endpoint, not the second's")
}

func TestEnumeratorControlRoutesThroughHandlerWhenItIntercepts(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)
	e := New(h, reg)
	e.Attach(wire.SpeedFull)

	var called bool
	e.handler = &registry.HostClassHandler{
		Control: func(dev registry.HostDevice, setup wire.SetupPacket, data []byte) (int, error) {
			called = true
			return len(data), nil
		},
	}

	n, err := e.Control(wire.SetupPacket{}, make([]byte, 4))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 4, n)
}

func TestEnumeratorControlFallsThroughWhenHandlerDeclines(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)
	e := New(h, reg)
	e.Attach(wire.SpeedFull)

	var called bool
	e.handler = &registry.HostClassHandler{
		Control: func(dev registry.HostDevice, setup wire.SetupPacket, data []byte) (int, error) {
			called = true
			return 0, usberr.ErrNotReady
		},
	}

	h.ScriptControl(e.dev.address, simhal.ControlResponse{Data: []byte{0x42}})

	n, err := e.Control(wire.SetupPacket{}, make([]byte, 1))
	require.NoError(t, err)
	assert.True(t, called, "the declining handler must still be consulted before falling through")
	assert.Equal(t, 1, n)
}

func TestEnumeratorControlNoDeviceAttached(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)
	e := New(h, reg)

	_, err := e.Control(wire.SetupPacket{}, nil)
	require.ErrorIs(t, err, usberr.ErrNotReady)
}

func TestEnumeratorRetryExhaustion(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)

	for i := 0; i < MaxRetries; i++ {
		h.ScriptControl(0, simhal.ControlResponse{Err: assertTimeoutErr()})
	}

	e := New(h, reg)
	e.Attach(wire.SpeedFull)

	var lastErr error
	for i := 0; i < MaxRetries; i++ {
		lastErr = e.Poll()
	}

	require.Error(t, lastErr)
	assert.Equal(t, Idle, e.State())
}

func TestEnumeratorDetachResetsToIdle(t *testing.T) {
	h := simhal.New()
	reg := registry.New(nil)
	e := New(h, reg)

	e.Attach(wire.SpeedFull)
	assert.Equal(t, GetDeviceDescShort, e.State())

	detached := false
	e.handler = &registry.HostClassHandler{Detach: func() { detached = true }}
	e.Detach()

	assert.Equal(t, Idle, e.State())
	assert.True(t, detached)
}

func assertTimeoutErr() error {
	return errTimeout
}

var errTimeout = &simpleErr{"usb: transfer timeout"}

type simpleErr struct{ s string }

func (e *simpleErr) Error() string { return e.s }
