package descriptor

import (
	"fmt"

	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// EndpointView is the minimal read-only view of a registered endpoint that
// AssembleConfiguration needs. registry.EndpointEntry implements it.
type EndpointView interface {
	Address() uint8
	Attributes() uint8
	MaxPacketSize() uint16
	Interval() uint8
	Configured() bool
}

// InterfaceView is the minimal read-only view of a registered interface that
// AssembleConfiguration needs. registry.InterfaceEntry implements it.
type InterfaceView interface {
	Number() uint8
	Class() (class, subclass, protocol uint8)
	Endpoints() []EndpointView
}

// ConfigParams carries the configuration-header fields that are not derived
// from the interface registry itself.
type ConfigParams struct {
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

// AssembleConfiguration builds a composite configuration descriptor from the
// interface registry: a 9-byte config header, then for each registered
// interface a 9-byte interface descriptor,
// a 9-byte HID descriptor when class==3, then one 7-byte endpoint descriptor
// per configured endpoint, in insertion order. wTotalLength and
// bNumInterfaces are patched after layout.
func AssembleConfiguration(ifaces []InterfaceView, params ConfigParams) ([]byte, error) {
	var body []byte

	for _, iface := range ifaces {
		class, sub, proto := iface.Class()

		endpoints := iface.Endpoints()
		configured := configuredEndpoints(endpoints)
		if len(configured) > 0xff {
			return nil, fmt.Errorf("descriptor: assemble_configuration: interface %d: %d configured endpoints exceeds uint8 range: %w",
				iface.Number(), len(configured), usberr.ErrInternal)
		}

		id := InterfaceDescriptor{
			Length:            InterfaceLength,
			DescriptorType:    wire.DescTypeInterface,
			InterfaceNumber:   iface.Number(),
			NumEndpoints:      uint8(len(configured)),
			InterfaceClass:    class,
			InterfaceSubClass: sub,
			InterfaceProtocol: proto,
		}
		body = append(body, id.Bytes()...)

		if class == hidClass {
			hid := HIDDescriptor{}
			hid.SetDefaults(0)
			body = append(body, hid.Bytes()...)
		}

		for _, ep := range configured {
			ed := EndpointDescriptor{
				Length:          EndpointLength,
				DescriptorType:  wire.DescTypeEndpoint,
				EndpointAddress: ep.Address(),
				Attributes:      ep.Attributes(),
				MaxPacketSize:   ep.MaxPacketSize(),
				Interval:        ep.Interval(),
			}
			body = append(body, ed.Bytes()...)
		}
	}

	header := ConfigHeader{
		Length:             ConfigurationLength,
		DescriptorType:     wire.DescTypeConfiguration,
		NumInterfaces:      uint8(len(ifaces)),
		ConfigurationValue: params.ConfigurationValue,
		Configuration:      params.Configuration,
		Attributes:         params.Attributes,
		MaxPower:           params.MaxPower,
	}
	header.TotalLength = uint16(ConfigurationLength + len(body))

	out := make([]byte, 0, header.TotalLength)
	out = append(out, header.Bytes()...)
	out = append(out, body...)

	return out, nil
}

// hidClass is the USB-IF assigned class code for the Human Interface Device
// class. A HID interface carries an extra 9-byte HID descriptor between its
// interface descriptor and its endpoint descriptors.
const hidClass = 0x03

func configuredEndpoints(eps []EndpointView) []EndpointView {
	out := make([]EndpointView, 0, len(eps))
	for _, ep := range eps {
		if ep.Configured() {
			out = append(out, ep)
		}
	}
	return out
}
