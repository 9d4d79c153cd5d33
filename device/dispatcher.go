// Package device implements the device-mode control dispatcher: every setup
// packet the device HAL receives is handled here, either internally
// (standard requests) or by routing to the owning interface's registered
// class/vendor handler.
package device

import (
	"fmt"
	"log"
	"time"

	"github.com/ramseymcgrath/Hurricane/descriptor"
	"github.com/ramseymcgrath/Hurricane/event"
	"github.com/ramseymcgrath/Hurricane/hal"
	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// PendingTimeout bounds how long an asynchronous class/vendor handler may
// take before the dispatcher responds STALL.
const PendingTimeout = 1 * time.Second

// MaxPendingResponse bounds the pending-request response buffer.
const MaxPendingResponse = 512

// pendingRequest is the singleton pending control-request slot for the
// single control endpoint.
type pendingRequest struct {
	setup    wire.SetupPacket
	response [MaxPendingResponse]byte
	respLen  int
	pending  bool
	ready    bool
	handled  bool
	stall    bool
	started  time.Time
}

// stringEntry holds one stored string descriptor's raw wire bytes.
type stringEntry struct {
	bytes []byte
}

// Dispatcher is the device-mode control endpoint state machine.
type Dispatcher struct {
	hal hal.DeviceHAL
	reg *registry.Registry
	bus *event.Bus

	deviceDesc descriptor.DeviceDescriptor
	strings    map[uint8]stringEntry

	configValue uint8
	altSettings map[uint8]uint8

	configCallback   func(value uint8)
	interfaceCallback func(iface, alt uint8)

	pending pendingRequest
}

// New returns a dispatcher for the given device descriptor, backed by hal
// for transfers, reg for interface lookup, and bus for control-request
// delivery.
func New(h hal.DeviceHAL, reg *registry.Registry, bus *event.Bus, deviceDesc descriptor.DeviceDescriptor) *Dispatcher {
	return &Dispatcher{
		hal:         h,
		reg:         reg,
		bus:         bus,
		deviceDesc:  deviceDesc,
		strings:     make(map[uint8]stringEntry),
		altSettings: make(map[uint8]uint8),
	}
}

// SetStringDescriptor stores the raw UTF-16LE payload (including the 2-byte
// bLength/bDescriptorType header) returned for GET_DESCRIPTOR(STRING, idx).
func (d *Dispatcher) SetStringDescriptor(index uint8, b []byte) {
	d.strings[index] = stringEntry{bytes: b}
}

// SetConfigurationCallback installs the callback invoked on SET_CONFIGURATION.
func (d *Dispatcher) SetConfigurationCallback(fn func(value uint8)) {
	d.configCallback = fn
}

// SetInterfaceCallback installs the callback invoked on SET_INTERFACE.
func (d *Dispatcher) SetInterfaceCallback(fn func(iface, alt uint8)) {
	d.interfaceCallback = fn
}

// HandleSetup is the dispatcher's entry point: every setup packet the
// device HAL receives passes through here. It returns an error for
// unrecoverable HAL failures and for a setup packet that arrives while a
// previous class/vendor request is still pending; protocol errors are
// resolved into STALL responses on the wire and returned as nil.
func (d *Dispatcher) HandleSetup(setup wire.SetupPacket) error {
	if d.pending.pending {
		return fmt.Errorf("usbdev: handle_setup: previous request still pending: %w", usberr.ErrInternal)
	}

	if setup.Kind() == wire.RequestKindStandard {
		return d.handleStandard(setup)
	}
	return d.handleClassOrVendor(setup)
}

func (d *Dispatcher) handleStandard(setup wire.SetupPacket) error {
	switch setup.Request {
	case wire.StdGetDescriptor:
		return d.handleGetDescriptor(setup)
	case wire.StdSetAddress:
		return d.statusStage(setup)
	case wire.StdSetConfiguration:
		d.configValue = uint8(setup.Value)
		if d.configCallback != nil {
			d.configCallback(d.configValue)
		}
		return d.statusStage(setup)
	case wire.StdGetConfiguration:
		return d.sendIN(setup, []byte{d.configValue})
	case wire.StdSetInterface:
		iface := uint8(setup.Index)
		alt := uint8(setup.Value)
		d.altSettings[iface] = alt
		if d.interfaceCallback != nil {
			d.interfaceCallback(iface, alt)
		}
		return d.statusStage(setup)
	case wire.StdGetInterface:
		iface := uint8(setup.Index)
		return d.sendIN(setup, []byte{d.altSettings[iface]})
	default:
		log.Printf("usbdev: unsupported standard request %#02x", setup.Request)
		return d.stall(setup)
	}
}

func (d *Dispatcher) handleGetDescriptor(setup wire.SetupPacket) error {
	descType := uint8(setup.Value >> 8)
	descIndex := uint8(setup.Value)

	switch descType {
	case wire.DescTypeDevice:
		return d.sendIN(setup, d.deviceDesc.Bytes())

	case wire.DescTypeConfiguration:
		cfg, err := d.reg.AssembleConfiguration(descriptor.ConfigParams{
			ConfigurationValue: 1,
			MaxPower:           50,
		})
		if err != nil {
			log.Printf("usbdev: assemble_configuration: %v", err)
			return d.stall(setup)
		}
		return d.sendIN(setup, cfg)

	case wire.DescTypeString:
		entry, ok := d.strings[descIndex]
		if !ok {
			return d.stall(setup)
		}
		return d.sendIN(setup, entry.bytes)

	case wire.DescTypeHIDReport:
		iface := uint8(setup.Index)
		entry, ok := d.reg.GetInterface(iface)
		if !ok {
			return d.stall(setup)
		}
		report, ok := entry.HandlerData().(interface{ ReportDescriptor() []byte })
		if !ok {
			return d.stall(setup)
		}
		return d.sendIN(setup, report.ReportDescriptor())

	default:
		log.Printf("usbdev: get_descriptor: unsupported type %#02x", descType)
		return d.stall(setup)
	}
}

func (d *Dispatcher) handleClassOrVendor(setup wire.SetupPacket) error {
	var iface uint8
	if setup.RecipientOf() == wire.RecipientInterface {
		iface = uint8(setup.Index)
	}

	handler, ok := d.reg.ControlHandlerOf(iface)
	if !ok {
		log.Printf("usbdev: no handler for interface %d, stalling %s", iface, setup)
		return d.stall(setup)
	}

	d.pending = pendingRequest{setup: setup, pending: true, started: time.Time{}}
	d.pending.started = pendingStartTime()

	respond := func(n int, stall bool) {
		if n > MaxPendingResponse {
			n = MaxPendingResponse
		}
		d.pending.respLen = n
		d.pending.stall = stall
		d.pending.ready = true
	}

	dataBuf := make([]byte, setup.Length)
	if !setup.IsIn() && setup.Length > 0 {
		n, err := d.hal.DeviceRecvEP0(dataBuf)
		if err != nil {
			d.pending = pendingRequest{}
			return fmt.Errorf("usbdev: handle_class_or_vendor: recv data stage: %w", err)
		}
		dataBuf = dataBuf[:n]
	}

	// For an IN request the handler writes its response into the shared
	// response buffer; for OUT/no-data the handler reads the already
	// received payload from dataBuf and has nothing further to write.
	handlerBuf := d.pending.response[:]
	if !setup.IsIn() {
		handlerBuf = dataBuf
	}

	synchronous := d.bus.NotifyWithResponse(setup, dataBuf, func(s wire.SetupPacket, data []byte, r func(n int, stall bool)) bool {
		return handler(s, handlerBuf, r)
	}, respond)

	if synchronous {
		return d.completePending(setup)
	}

	return d.waitForAsync(setup)
}

func (d *Dispatcher) waitForAsync(setup wire.SetupPacket) error {
	deadline := pendingStartTime().Add(PendingTimeout)
	for !d.pending.ready {
		if pendingStartTime().After(deadline) {
			log.Printf("usbdev: class/vendor request timed out, stalling %s", setup)
			d.pending = pendingRequest{}
			return d.stall(setup)
		}
		time.Sleep(time.Millisecond)
	}
	return d.completePending(setup)
}

func (d *Dispatcher) completePending(setup wire.SetupPacket) error {
	defer func() { d.pending = pendingRequest{} }()

	if d.pending.stall {
		return d.stall(setup)
	}

	if setup.IsIn() {
		n := d.pending.respLen
		if n > int(setup.Length) {
			n = int(setup.Length)
		}
		return d.sendIN(setup, d.pending.response[:n])
	}

	return d.statusStage(setup)
}

// pendingStartTime is a seam over time.Now so tests can control elapsed
// time deterministically; production code just calls time.Now.
var pendingStartTime = time.Now

func (d *Dispatcher) sendIN(setup wire.SetupPacket, data []byte) error {
	n := len(data)
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	if err := d.hal.DeviceSendEP0(data[:n]); err != nil {
		return fmt.Errorf("usbdev: send_in: %w", err)
	}
	// zero-length OUT status stage
	_, err := d.hal.DeviceRecvEP0(nil)
	if err != nil {
		return fmt.Errorf("usbdev: send_in: status stage: %w", err)
	}
	return nil
}

func (d *Dispatcher) statusStage(setup wire.SetupPacket) error {
	if setup.RequestType&0x80 != 0 {
		return d.hal.DeviceSendEP0(nil)
	}
	_, err := d.hal.DeviceRecvEP0(nil)
	return err
}

func (d *Dispatcher) stall(setup wire.SetupPacket) error {
	ep := uint8(0)
	if setup.IsIn() {
		ep = 0x80
	}
	return d.hal.DeviceEndpointStall(ep, true)
}
