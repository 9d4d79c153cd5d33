package hid

import (
	"github.com/ramseymcgrath/Hurricane/hal"
	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// ReportLength is the fixed boot-protocol report size this driver assumes
// for both directions (buttons/axes for mice, modifier+keys for keyboards).
const ReportLength = 8

// OutputReportHandler receives SET_REPORT(output) payloads, e.g. keyboard
// LED state.
type OutputReportHandler func(data []byte)

// Device implements the device-role HID class driver: it answers HID class
// requests on one interface and exposes SendReport for interrupt-IN
// transfers.
type Device struct {
	hal  hal.DeviceTransfers
	ep   uint8
	desc []byte

	inputReport []byte
	idle        uint8
	protocol    uint8

	onOutputReport OutputReportHandler
}

// NewDevice returns a device-role HID driver serving reportDescriptor and
// transmitting on interrupt endpoint ep.
func NewDevice(h hal.DeviceTransfers, ep uint8, reportDescriptor []byte) *Device {
	return &Device{
		hal:         h,
		ep:          ep,
		desc:        reportDescriptor,
		inputReport: make([]byte, ReportLength),
		protocol:    1, // report protocol by default
	}
}

// ReportDescriptor returns the stored HID report descriptor bytes, used by
// the control dispatcher to answer GET_DESCRIPTOR(HID_REPORT).
func (d *Device) ReportDescriptor() []byte { return d.desc }

// SetOutputReportHandler installs the callback invoked when the host sends
// SET_REPORT(output) — e.g. keyboard LED state.
func (d *Device) SetOutputReportHandler(fn OutputReportHandler) {
	d.onOutputReport = fn
}

// UpdateInputReport replaces the snapshot GET_REPORT(input) returns.
func (d *Device) UpdateInputReport(data []byte) {
	n := copy(d.inputReport, data)
	for i := n; i < len(d.inputReport); i++ {
		d.inputReport[i] = 0
	}
}

// SendReport performs the interrupt-IN transfer for data.
func (d *Device) SendReport(data []byte) error {
	_, err := d.hal.DeviceInterruptIn(d.ep, data)
	return err
}

// ControlHandler returns the registry.ControlHandlerFunc to register for
// this driver's interface.
func (d *Device) ControlHandler() registry.ControlHandlerFunc {
	return d.handleControl
}

// handleControl serves the HID class requests the registry routes to this
// interface; GET_DESCRIPTOR(HID_REPORT) is a standard request the
// dispatcher answers directly via ReportDescriptor, not through here.
func (d *Device) handleControl(setup wire.SetupPacket, buf []byte, respond func(n int, stall bool)) (handled bool) {
	switch setup.Request {
	case wire.HidGetReport:
		// spec: unknown/absent report returns a zero-filled snapshot
		// rather than stalling.
		n := copy(buf, d.inputReport)
		respond(n, false)
		return true

	case wire.HidSetReport:
		if d.onOutputReport != nil {
			d.onOutputReport(buf)
		}
		respond(0, false)
		return true

	case wire.HidGetIdle:
		respond(copy(buf, []byte{d.idle}), false)
		return true

	case wire.HidSetIdle:
		d.idle = uint8(setup.Value >> 8)
		respond(0, false)
		return true

	case wire.HidGetProtocol:
		respond(copy(buf, []byte{d.protocol}), false)
		return true

	case wire.HidSetProtocol:
		d.protocol = uint8(setup.Value)
		respond(0, false)
		return true

	default:
		respond(0, true)
		return true
	}
}
