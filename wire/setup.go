// Package wire defines the shared, wire-level USB types used by every layer
// of the stack: the control-request setup packet, the standard request and
// descriptor type codes from USB 2.0 Chapter 9, and the tagged event type
// that flows between the HAL and the host/device state machines.
//
// https://github.com/usbarmory/tamago
package wire

import "fmt"

// SetupPacketSize is the fixed length of a USB control-request header.
const SetupPacketSize = 8

// SetupPacket implements
// p276, Table 9-2. Format of Setup Data, USB Specification Revision 2.0.
//
// All multi-byte fields are little-endian on the wire.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Direction bit within bmRequestType.
const (
	RequestDirOut = 0 << 7
	RequestDirIn  = 1 << 7
)

// Type bits (6:5) within bmRequestType.
type RequestKind uint8

const (
	RequestKindStandard RequestKind = 0
	RequestKindClass    RequestKind = 1
	RequestKindVendor   RequestKind = 2
	RequestKindReserved RequestKind = 3
)

// Recipient bits (4:0) within bmRequestType.
type Recipient uint8

const (
	RecipientDevice    Recipient = 0
	RecipientInterface Recipient = 1
	RecipientEndpoint  Recipient = 2
	RecipientOther     Recipient = 3
)

// IsIn reports whether the data stage, if any, flows device-to-host.
func (s SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// Kind returns the standard/class/vendor/reserved bits of bmRequestType.
func (s SetupPacket) Kind() RequestKind {
	return RequestKind((s.RequestType >> 5) & 0x03)
}

// RecipientOf returns the recipient bits of bmRequestType.
func (s SetupPacket) RecipientOf() Recipient {
	return Recipient(s.RequestType & 0x1f)
}

// ParseSetupPacket parses 8 raw bytes into a SetupPacket. It returns false
// if data is too short.
func ParseSetupPacket(data []byte) (SetupPacket, bool) {
	var s SetupPacket
	if len(data) < SetupPacketSize {
		return s, false
	}
	s.RequestType = data[0]
	s.Request = data[1]
	s.Value = uint16(data[2]) | uint16(data[3])<<8
	s.Index = uint16(data[4]) | uint16(data[5])<<8
	s.Length = uint16(data[6]) | uint16(data[7])<<8
	return s, true
}

// MarshalTo writes the setup packet to buf in wire order. It returns the
// number of bytes written (8), or 0 if buf is too small.
func (s SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

func (s SetupPacket) String() string {
	return fmt.Sprintf("bmRequestType=%#02x bRequest=%#02x wValue=%#04x wIndex=%#04x wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// p279, Table 9-4. Standard Request Codes, USB Specification Revision 2.0.
const (
	StdGetStatus        = 0x00
	StdClearFeature     = 0x01
	StdSetFeature       = 0x03
	StdSetAddress       = 0x05
	StdGetDescriptor    = 0x06
	StdSetDescriptor    = 0x07
	StdGetConfiguration = 0x08
	StdSetConfiguration = 0x09
	StdGetInterface     = 0x0A
	StdSetInterface     = 0x0B
	StdSynchFrame       = 0x0C
)

// HID class request codes.
const (
	HidGetReport   = 0x01
	HidGetIdle     = 0x02
	HidGetProtocol = 0x03
	HidSetReport   = 0x09
	HidSetIdle     = 0x0A
	HidSetProtocol = 0x0B
)

// p279, Table 9-5. Descriptor Types, USB Specification Revision 2.0, plus
// the HID class descriptor types from the HID 1.11 specification.
const (
	DescTypeDevice        = 0x01
	DescTypeConfiguration = 0x02
	DescTypeString        = 0x03
	DescTypeInterface     = 0x04
	DescTypeEndpoint      = 0x05
	DescTypeHID           = 0x21
	DescTypeHIDReport     = 0x22
)

// LangIDUSEnglish is the language ID used for string descriptor requests.
const LangIDUSEnglish = 0x0409
