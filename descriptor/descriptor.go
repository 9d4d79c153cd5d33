// Package descriptor implements a USB descriptor codec: pure functions over
// byte slices with no I/O. Parsing is not allocation-free: each parser decodes
// through bytes.Reader and binary.Read, which allocate scratch space. Layouts
// are reproduced from USB 2.0 Chapter 9, and structs are (de)serialized with
// encoding/binary the same way usbarmory-tamago/imx6/usb/descriptor.go turns
// its descriptor structs into wire bytes via binary.Write.
package descriptor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// Fixed descriptor lengths.
const (
	DeviceLength        = 18
	ConfigurationLength = 9
	InterfaceLength     = 9
	EndpointLength      = 7
	HIDLength           = 9
)

// DeviceDescriptor implements
// p290, Table 9-8. Standard Device Descriptor, USB Specification Revision 2.0.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BcdUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	BcdDevice         uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// ParseDevice parses a device descriptor from wire bytes.
//
// Requires len(b) >= 18, b[0] == 18 and b[1] == 0x01.
func ParseDevice(b []byte) (DeviceDescriptor, error) {
	var d DeviceDescriptor

	if len(b) < DeviceLength {
		return d, fmt.Errorf("descriptor: parse_device: short buffer (%d < %d): %w", len(b), DeviceLength, usberr.ErrParse)
	}
	if b[0] != DeviceLength {
		return d, fmt.Errorf("descriptor: parse_device: bLength=%d, want %d: %w", b[0], DeviceLength, usberr.ErrParse)
	}
	if b[1] != wire.DescTypeDevice {
		return d, fmt.Errorf("descriptor: parse_device: bDescriptorType=%#02x, want %#02x: %w", b[1], wire.DescTypeDevice, usberr.ErrParse)
	}

	if err := binary.Read(bytes.NewReader(b[:DeviceLength]), binary.LittleEndian, &d); err != nil {
		return d, fmt.Errorf("descriptor: parse_device: %w", usberr.ErrParse)
	}

	return d, nil
}

// Bytes serializes the descriptor back to its 18-byte wire form. Round-trips
// with ParseDevice: serialize(parse_device(b)) == b[0:18].
func (d DeviceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// SetDefaults initializes the conventional default values for a device
// descriptor (USB 2.0, EP0 64-byte max packet, one configuration).
func (d *DeviceDescriptor) SetDefaults() {
	d.Length = DeviceLength
	d.DescriptorType = wire.DescTypeDevice
	d.BcdUSB = 0x0200
	d.MaxPacketSize0 = 64
	d.NumConfigurations = 1
}

// ConfigHeader implements
// p293, Table 9-10. Standard Configuration Descriptor, USB Specification Revision 2.0
// (header portion only; the full tree follows in the wire stream).
type ConfigHeader struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

// ParseConfigurationHeader parses the 9-byte configuration descriptor header.
//
// Requires len(b) >= 9 and b[1] == 0x02.
func ParseConfigurationHeader(b []byte) (ConfigHeader, error) {
	var h ConfigHeader

	if len(b) < ConfigurationLength {
		return h, fmt.Errorf("descriptor: parse_configuration_header: short buffer (%d < %d): %w", len(b), ConfigurationLength, usberr.ErrParse)
	}
	if b[1] != wire.DescTypeConfiguration {
		return h, fmt.Errorf("descriptor: parse_configuration_header: bDescriptorType=%#02x, want %#02x: %w", b[1], wire.DescTypeConfiguration, usberr.ErrParse)
	}

	if err := binary.Read(bytes.NewReader(b[:ConfigurationLength]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("descriptor: parse_configuration_header: %w", usberr.ErrParse)
	}

	return h, nil
}

// Bytes serializes the configuration header to its 9-byte wire form.
func (h ConfigHeader) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// InterfaceDescriptor implements
// p296, Table 9-12. Standard Interface Descriptor, USB Specification Revision 2.0.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

func parseInterface(b []byte) (InterfaceDescriptor, error) {
	var d InterfaceDescriptor
	if len(b) < InterfaceLength {
		return d, fmt.Errorf("descriptor: parse_interface: short buffer: %w", usberr.ErrParse)
	}
	if err := binary.Read(bytes.NewReader(b[:InterfaceLength]), binary.LittleEndian, &d); err != nil {
		return d, fmt.Errorf("descriptor: parse_interface: %w", usberr.ErrParse)
	}
	return d, nil
}

// Bytes serializes the interface descriptor to its 9-byte wire form.
func (d InterfaceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// EndpointDescriptor implements
// p297, Table 9-13. Standard Endpoint Descriptor, USB Specification Revision 2.0.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func parseEndpoint(b []byte) (EndpointDescriptor, error) {
	var d EndpointDescriptor
	if len(b) < EndpointLength {
		return d, fmt.Errorf("descriptor: parse_endpoint: short buffer: %w", usberr.ErrParse)
	}
	if err := binary.Read(bytes.NewReader(b[:EndpointLength]), binary.LittleEndian, &d); err != nil {
		return d, fmt.Errorf("descriptor: parse_endpoint: %w", usberr.ErrParse)
	}
	return d, nil
}

// Bytes serializes the endpoint descriptor to its 7-byte wire form.
func (d EndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// Number returns the endpoint number (0-15).
func (d EndpointDescriptor) Number() uint8 { return d.EndpointAddress & 0x0f }

// IsIn reports whether the endpoint transfers device-to-host.
func (d EndpointDescriptor) IsIn() bool { return d.EndpointAddress&0x80 != 0 }

// HIDDescriptor implements p22, Section 6.2.1 HID Descriptor, Device Class
// Definition for Human Interface Devices (HID), Version 1.11.
type HIDDescriptor struct {
	Length                 uint8
	DescriptorType         uint8
	BcdHID                 uint16
	CountryCode            uint8
	NumDescriptors         uint8
	ReportDescriptorType   uint8
	ReportDescriptorLength uint16
}

func parseHID(b []byte) (HIDDescriptor, error) {
	var d HIDDescriptor
	if len(b) < HIDLength {
		return d, fmt.Errorf("descriptor: parse_hid: short buffer: %w", usberr.ErrParse)
	}
	if err := binary.Read(bytes.NewReader(b[:HIDLength]), binary.LittleEndian, &d); err != nil {
		return d, fmt.Errorf("descriptor: parse_hid: %w", usberr.ErrParse)
	}
	return d, nil
}

// Bytes serializes the HID descriptor to its 9-byte wire form.
func (d HIDDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// SetDefaults initializes the conventional HID 1.11 defaults used by
// boot-protocol devices: country code 0 (not localized) and one report
// descriptor of reportLength bytes.
func (d *HIDDescriptor) SetDefaults(reportLength uint16) {
	d.Length = HIDLength
	d.DescriptorType = wire.DescTypeHID
	d.BcdHID = 0x0111
	d.CountryCode = 0
	d.NumDescriptors = 1
	d.ReportDescriptorType = wire.DescTypeHIDReport
	d.ReportDescriptorLength = reportLength
}
