// Package host implements the host-role enumerator: a single-port,
// single-device state machine that drives a newly attached device through
// GET_DESCRIPTOR/SET_ADDRESS/SET_CONFIGURATION and hands it off to a
// registered class driver. Its structure follows
// usbarmory-tamago/imx6/usb's device-mode enumeration flow generalized to
// the host role, the way other_examples' ardnew-softusb host package does.
package host

import (
	"fmt"
	"log"
	"time"
	"unicode/utf16"

	"github.com/ramseymcgrath/Hurricane/descriptor"
	"github.com/ramseymcgrath/Hurricane/hal"
	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// State names the host enumerator's FSM states.
type State uint8

const (
	Idle State = iota
	GetDeviceDescShort
	SetAddress
	GetDeviceDescFull
	GetConfigDescHeader
	GetConfigDescFull
	SetConfiguration
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case GetDeviceDescShort:
		return "GetDeviceDescShort"
	case SetAddress:
		return "SetAddress"
	case GetDeviceDescFull:
		return "GetDeviceDescFull"
	case GetConfigDescHeader:
		return "GetConfigDescHeader"
	case GetConfigDescFull:
		return "GetConfigDescFull"
	case SetConfiguration:
		return "SetConfiguration"
	case Complete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// MaxRetries bounds per-request retries.
const MaxRetries = 3

// ConfigBufferCap bounds the configuration descriptor buffer.
const ConfigBufferCap = 512

// RecoveryDelay is the mandatory settle time after SET_ADDRESS.
const RecoveryDelay = 2 * time.Millisecond

// assignedAddress is the single address this single-device host assigns.
const assignedAddress = 1

// enumeratingAddress is the address every device responds on before
// SET_ADDRESS completes.
const enumeratingAddress = 0

// Device is the attached device's accumulated state, and implements
// registry.HostDevice so class drivers can use it without importing this
// package.
type Device struct {
	address    uint8
	speed      wire.Speed
	deviceDesc descriptor.DeviceDescriptor
	configRaw  []byte

	boundInterface uint8
	boundEndpoint  uint8

	hal hal.HostHAL
}

func (d *Device) Address() uint8                          { return d.address }
func (d *Device) Speed() wire.Speed                        { return d.speed }
func (d *Device) Descriptor() descriptor.DeviceDescriptor { return d.deviceDesc }
func (d *Device) BoundInterface() uint8                    { return d.boundInterface }
func (d *Device) BoundEndpoint() uint8                      { return d.boundEndpoint }

func (d *Device) InterruptIn(ep uint8, buf []byte) (int, error) {
	return d.hal.HostInterruptIn(d.address, ep, buf)
}

func (d *Device) InterruptOut(ep uint8, buf []byte) (int, error) {
	return d.hal.HostInterruptOut(d.address, ep, buf)
}

func (d *Device) Control(setup wire.SetupPacket, buf []byte) (int, error) {
	return d.hal.HostControl(d.address, setup, buf)
}

// ReadStringDescriptor fetches and decodes a UTF-16LE string descriptor.
// Failures are non-fatal to enumeration (spec SPEC_FULL.md "supplemented
// features"): callers get an error but may ignore it and keep going.
func (d *Device) ReadStringDescriptor(index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}
	return readStringDescriptor(d.hal, d.address, index)
}

// Enumerator drives the single-device host FSM.
type Enumerator struct {
	hal hal.HostHAL
	reg *registry.Registry

	state   State
	retries int

	configHeaderLen uint16

	dev     *Device
	handler *registry.HostClassHandler
}

// New returns an idle enumerator bound to hal for transfers and reg for
// class-handler lookup.
func New(h hal.HostHAL, reg *registry.Registry) *Enumerator {
	return &Enumerator{hal: h, reg: reg, state: Idle}
}

// State reports the enumerator's current FSM state.
func (e *Enumerator) State() State { return e.state }

// Attach starts enumeration of a newly attached device.
func (e *Enumerator) Attach(speed wire.Speed) {
	e.dev = &Device{address: enumeratingAddress, speed: speed, hal: e.hal}
	e.handler = nil
	e.retries = 0
	e.state = GetDeviceDescShort
	log.Printf("usbhost: device attached, speed=%s", speed)
}

// Detach resets the enumerator to Idle and notifies the bound class handler,
// if any, from any state.
func (e *Enumerator) Detach() {
	if e.handler != nil && e.handler.Detach != nil {
		e.handler.Detach()
	}
	e.dev = nil
	e.handler = nil
	e.retries = 0
	e.state = Idle
	log.Printf("usbhost: device detached")
}

// Poll advances the FSM by one step. It should be called repeatedly from
// the cooperative polling context.
func (e *Enumerator) Poll() error {
	switch e.state {
	case Idle:
		return nil
	case GetDeviceDescShort:
		return e.stepGetDeviceDescShort()
	case SetAddress:
		return e.stepSetAddress()
	case GetDeviceDescFull:
		return e.stepGetDeviceDescFull()
	case GetConfigDescHeader:
		return e.stepGetConfigDescHeader()
	case GetConfigDescFull:
		return e.stepGetConfigDescFull()
	case SetConfiguration:
		return e.stepSetConfiguration()
	case Complete:
		e.pollData()
		return nil
	default:
		return fmt.Errorf("usbhost: poll: unknown state %s: %w", e.state, usberr.ErrInternal)
	}
}

func (e *Enumerator) retryOrFail(err error) error {
	e.retries++
	if e.retries >= MaxRetries {
		failed := e.state
		log.Printf("usbhost: %s: retry budget exhausted: %v", failed, err)
		e.state = Idle
		e.retries = 0
		return fmt.Errorf("usbhost: enumeration failed in state %s: %w", failed, err)
	}
	return nil
}

func (e *Enumerator) stepGetDeviceDescShort() error {
	buf := make([]byte, 8)
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeDevice) << 8,
		Length:      8,
	}
	n, err := e.hal.HostControl(enumeratingAddress, setup, buf)
	if err != nil || n < 8 {
		return e.retryOrFail(err)
	}

	e.retries = 0
	e.state = SetAddress
	return nil
}

func (e *Enumerator) stepSetAddress() error {
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirOut,
		Request:     wire.StdSetAddress,
		Value:       assignedAddress,
	}
	_, err := e.hal.HostControl(enumeratingAddress, setup, nil)
	if err != nil {
		return e.retryOrFail(err)
	}

	time.Sleep(RecoveryDelay)
	e.dev.address = assignedAddress
	e.retries = 0
	e.state = GetDeviceDescFull
	return nil
}

func (e *Enumerator) stepGetDeviceDescFull() error {
	buf := make([]byte, descriptor.DeviceLength)
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeDevice) << 8,
		Length:      uint16(descriptor.DeviceLength),
	}
	n, err := e.hal.HostControl(assignedAddress, setup, buf)
	if err != nil || n < descriptor.DeviceLength {
		return e.retryOrFail(err)
	}

	d, err := descriptor.ParseDevice(buf)
	if err != nil {
		return e.retryOrFail(err)
	}

	e.dev.deviceDesc = d
	e.retries = 0
	e.state = GetConfigDescHeader
	return nil
}

func (e *Enumerator) stepGetConfigDescHeader() error {
	buf := make([]byte, descriptor.ConfigurationLength)
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeConfiguration) << 8,
		Length:      uint16(descriptor.ConfigurationLength),
	}
	n, err := e.hal.HostControl(assignedAddress, setup, buf)
	if err != nil || n < descriptor.ConfigurationLength {
		return e.retryOrFail(err)
	}

	h, err := descriptor.ParseConfigurationHeader(buf)
	if err != nil {
		return e.retryOrFail(err)
	}
	if int(h.TotalLength) > ConfigBufferCap {
		log.Printf("usbhost: configuration descriptor too large (%d > %d)", h.TotalLength, ConfigBufferCap)
		e.state = Idle
		e.retries = 0
		return fmt.Errorf("usbhost: get_config_desc_header: %w", usberr.ErrBufferOverflow)
	}

	e.configHeaderLen = h.TotalLength
	e.retries = 0
	e.state = GetConfigDescFull
	return nil
}

func (e *Enumerator) stepGetConfigDescFull() error {
	total := int(e.configHeaderLen)
	buf := make([]byte, total)
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeConfiguration) << 8,
		Length:      uint16(total),
	}
	n, err := e.hal.HostControl(assignedAddress, setup, buf)
	if err != nil || n < total {
		return e.retryOrFail(err)
	}

	descs, err := descriptor.WalkConfiguration(buf)
	if err != nil {
		return e.retryOrFail(err)
	}

	e.dev.configRaw = buf

	var hidIface *descriptor.InterfaceDescriptor
	var hidEp *descriptor.EndpointDescriptor
	inHIDInterface := false
	for i := range descs {
		td := descs[i]
		switch td.Kind {
		case descriptor.KindInterface:
			switch {
			case hidIface != nil:
				// Already bound to the first HID interface encountered;
				// later interfaces (HID or not) are not considered.
				inHIDInterface = false
			case td.Interface.InterfaceClass == hidInterfaceClass:
				iface := td.Interface
				hidIface = &iface
				inHIDInterface = true
			default:
				inHIDInterface = false
			}
		case descriptor.KindEndpoint:
			if inHIDInterface && hidEp == nil && isInterruptIn(td.Endpoint) {
				ep := td.Endpoint
				hidEp = &ep
			}
		}
	}

	if hidIface != nil {
		e.dev.boundInterface = hidIface.InterfaceNumber
		if hidEp != nil {
			e.dev.boundEndpoint = hidEp.EndpointAddress
		}

		class, sub, proto := hidIface.InterfaceClass, hidIface.InterfaceSubClass, hidIface.InterfaceProtocol
		if h, ok := e.reg.FindHostHandler(class, sub, proto); ok {
			e.handler = h
		}
	}

	e.retries = 0
	e.state = SetConfiguration
	return nil
}

func (e *Enumerator) stepSetConfiguration() error {
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirOut,
		Request:     wire.StdSetConfiguration,
		Value:       1,
	}
	_, err := e.hal.HostControl(assignedAddress, setup, nil)
	if err != nil {
		return e.retryOrFail(err)
	}

	e.retries = 0
	e.state = Complete

	if e.handler != nil && e.handler.Attach != nil {
		if err := e.handler.Attach(e.dev); err != nil {
			log.Printf("usbhost: class handler attach failed: %v", err)
		}
	}

	log.Printf("usbhost: enumeration complete, vid=%#04x pid=%#04x", e.dev.deviceDesc.VendorID, e.dev.deviceDesc.ProductID)
	return nil
}

// Control issues a control transfer against the attached device. If a class
// handler is bound and supplies a Control callback, the request is routed
// through it first so the handler can intercept, validate or fully answer
// it without the caller needing to reach for the bound Device directly; the
// handler returning usberr.ErrNotReady falls through to the transfer going
// straight to the HAL, matching a handler that declines to intercept.
func (e *Enumerator) Control(setup wire.SetupPacket, buf []byte) (int, error) {
	if e.dev == nil {
		return 0, fmt.Errorf("usbhost: control: no device attached: %w", usberr.ErrNotReady)
	}
	if e.handler != nil && e.handler.Control != nil {
		n, err := e.handler.Control(e.dev, setup, buf)
		if err != usberr.ErrNotReady {
			return n, err
		}
	}
	return e.dev.Control(setup, buf)
}

func (e *Enumerator) pollData() {
	if e.handler == nil || e.handler.Data == nil || e.dev.boundEndpoint == 0 {
		return
	}

	buf := make([]byte, 64)
	n, err := e.dev.InterruptIn(e.dev.boundEndpoint, buf)
	if err != nil {
		if err != usberr.ErrTransferTimeout {
			log.Printf("usbhost: interrupt-in poll: %v", err)
		}
		return
	}
	if n > 0 {
		e.handler.Data(e.dev, e.dev.boundEndpoint, buf[:n])
	}
}

// hidInterfaceClass is the USB-IF assigned class code for HID.
const hidInterfaceClass = 0x03

func isInterruptIn(ep descriptor.EndpointDescriptor) bool {
	const transferTypeMask = 0x03
	const transferTypeInterrupt = 0x03
	return ep.IsIn() && ep.Attributes&transferTypeMask == transferTypeInterrupt
}

func readStringDescriptor(h hal.HostHAL, addr uint8, index uint8) (string, error) {
	hdr := make([]byte, 2)
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirIn,
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeString)<<8 | uint16(index),
		Index:       wire.LangIDUSEnglish,
		Length:      2,
	}
	n, err := h.HostControl(addr, setup, hdr)
	if err != nil || n < 2 {
		return "", fmt.Errorf("usbhost: read_string_descriptor: header: %w", err)
	}

	length := int(hdr[0])
	if length < 2 {
		return "", fmt.Errorf("usbhost: read_string_descriptor: invalid length %d: %w", length, usberr.ErrParse)
	}

	buf := make([]byte, length)
	setup.Length = uint16(length)
	n, err = h.HostControl(addr, setup, buf)
	if err != nil || n < length {
		return "", fmt.Errorf("usbhost: read_string_descriptor: body: %w", err)
	}

	raw := buf[2:n]
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}
