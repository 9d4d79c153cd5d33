// Package hid implements the HID class driver for both roles: a host-role
// attach/poll path that drives an attached boot protocol mouse or keyboard,
// and a device-role control handler that serves HID requests and forwards
// output reports (keyboard LEDs) to the application.
package hid

import (
	"log"

	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// Boot-protocol sub/protocol codes (HID 1.11 §4.2, §4.3).
const (
	SubClassBoot   = 0x01
	ProtocolNone   = 0x00
	ProtocolKeyboard = 0x01
	ProtocolMouse    = 0x02
)

// MouseReport is a decoded boot-protocol mouse report.
type MouseReport struct {
	Buttons uint8
	DX      int8
	DY      int8
	Wheel   int8
}

// KeyboardReport is a decoded boot-protocol keyboard report.
type KeyboardReport struct {
	Modifier uint8
	Keys     [6]uint8
}

// DecodeMouseReport parses a boot-protocol mouse report: bytes
// [buttons, dx, dy, wheel?]. The wheel byte is optional; reports shorter
// than 4 bytes leave Wheel at zero.
func DecodeMouseReport(b []byte) (MouseReport, bool) {
	if len(b) < 3 {
		return MouseReport{}, false
	}
	r := MouseReport{
		Buttons: b[0],
		DX:      int8(b[1]),
		DY:      int8(b[2]),
	}
	if len(b) >= 4 {
		r.Wheel = int8(b[3])
	}
	return r, true
}

// DecodeKeyboardReport parses a boot-protocol keyboard report: bytes
// [modifier, reserved, kc1..kc6].
func DecodeKeyboardReport(b []byte) (KeyboardReport, bool) {
	if len(b) < 8 {
		return KeyboardReport{}, false
	}
	var r KeyboardReport
	r.Modifier = b[0]
	copy(r.Keys[:], b[2:8])
	return r, true
}

// HostHandlers are the application callbacks a host-role HID driver
// delivers decoded reports to.
type HostHandlers struct {
	OnMouse    func(MouseReport)
	OnKeyboard func(KeyboardReport)
}

// HostDriver implements the host-role attach/poll behaviour and is
// installed into the registry as a registry.HostClassHandler.
type HostDriver struct {
	protocol uint8
	handlers HostHandlers

	reportDesc    []byte
	reportDescCap int
}

// NewHostDriver returns a HostDriver that decodes reports for the given HID
// boot protocol (ProtocolMouse or ProtocolKeyboard) and delivers them to
// handlers. reportDescCap bounds how many bytes of the HID report
// descriptor are retained on attach.
func NewHostDriver(protocol uint8, handlers HostHandlers, reportDescCap int) *HostDriver {
	return &HostDriver{protocol: protocol, handlers: handlers, reportDescCap: reportDescCap}
}

// Handler builds the registry.HostClassHandler entry for this driver, bound
// to the given class and subclass and to the driver's own boot protocol.
func (d *HostDriver) Handler(class, subclass uint8) registry.HostClassHandler {
	return registry.HostClassHandler{
		Class:    class,
		SubClass: subclass,
		Protocol: d.protocol,
		Attach:   d.attach,
		Detach:   d.detach,
		Control:  d.control,
		Data:     d.data,
	}
}

// control declines every request: boot-protocol HID devices never need to
// intercept host-issued control transfers, since the enumerator's own
// Control path already serves them directly against the device.
func (d *HostDriver) control(dev registry.HostDevice, setup wire.SetupPacket, data []byte) (int, error) {
	return 0, usberr.ErrNotReady
}

func (d *HostDriver) attach(dev registry.HostDevice) error {
	iface := dev.BoundInterface()

	classInterface := wire.RequestDirOut | (1 << 5) | uint8(wire.RecipientInterface)

	idleSetup := wire.SetupPacket{
		RequestType: classInterface,
		Request:     wire.HidSetIdle,
		Value:       0,
		Index:       uint16(iface),
	}
	if _, err := dev.Control(idleSetup, nil); err != nil {
		log.Printf("hid: set_idle best-effort failed: %v", err)
	}

	protoSetup := wire.SetupPacket{
		RequestType: classInterface,
		Request:     wire.HidSetProtocol,
		Value:       1,
		Index:       uint16(iface),
	}
	if _, err := dev.Control(protoSetup, nil); err != nil {
		log.Printf("hid: set_protocol best-effort failed: %v", err)
	}

	buf := make([]byte, d.reportDescCap)
	reportSetup := wire.SetupPacket{
		RequestType: wire.RequestDirIn | uint8(wire.RecipientInterface),
		Request:     wire.StdGetDescriptor,
		Value:       uint16(wire.DescTypeHIDReport) << 8,
		Index:       uint16(iface),
		Length:      uint16(d.reportDescCap),
	}
	n, err := dev.Control(reportSetup, buf)
	if err != nil {
		log.Printf("hid: get_descriptor(hid_report) failed: %v", err)
	} else {
		d.reportDesc = append([]byte(nil), buf[:n]...)
	}

	return nil
}

func (d *HostDriver) detach() {
	d.reportDesc = nil
}

func (d *HostDriver) data(dev registry.HostDevice, ep uint8, data []byte) {
	switch d.protocol {
	case ProtocolMouse:
		if r, ok := DecodeMouseReport(data); ok && d.handlers.OnMouse != nil {
			d.handlers.OnMouse(r)
		}
	case ProtocolKeyboard:
		if r, ok := DecodeKeyboardReport(data); ok && d.handlers.OnKeyboard != nil {
			d.handlers.OnKeyboard(r)
		}
	}
}

// SetKeyboardLEDs sends SET_REPORT(output, report_id=0, interface) with a
// single LED bitmask byte.
func SetKeyboardLEDs(dev registry.HostDevice, iface uint8, leds uint8) error {
	setup := wire.SetupPacket{
		RequestType: wire.RequestDirOut | (1 << 5) | uint8(wire.RecipientInterface),
		Request:     wire.HidSetReport,
		Value:       0x0200, // report type=Output(2), report id=0
		Index:       uint16(iface),
		Length:      1,
	}
	_, err := dev.Control(setup, []byte{leds})
	return err
}
