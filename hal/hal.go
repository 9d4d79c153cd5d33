// Package hal defines the hardware abstraction the core depends on. It is a
// capability-set interface, not an implementation: any board backend
// satisfying these methods with the specified semantics can drive the host
// and device state machines in this module. The interface shapes are
// generalized from a register-level USB driver into a portable Go interface,
// the same way other_examples' ardnew-softusb host/hal and device/hal
// packages split their own hardware dependency.
package hal

import (
	"time"

	"github.com/ramseymcgrath/Hurricane/wire"
)

// Default transfer timeouts.
const (
	DefaultControlTimeout   = 5 * time.Second
	DefaultInterruptTimeout = 1 * time.Second
)

// Bus covers bus-wide control common to both roles.
type Bus interface {
	ResetBus() error
	EnableHost() error
	EnableDevice() error
}

// HostTransfers covers the blocking (from the enumerator's perspective)
// transfer primitives used while acting as a USB host. Implementations may
// be asynchronous internally; the core does not assume re-entrancy.
type HostTransfers interface {
	// HostControl performs a control transfer to device address addr. For
	// IN transfers buf is filled with the response; for OUT transfers buf
	// holds the data stage. It returns the number of bytes transferred.
	HostControl(addr uint8, setup wire.SetupPacket, buf []byte) (int, error)
	HostInterruptIn(addr uint8, ep uint8, buf []byte) (int, error)
	HostInterruptOut(addr uint8, ep uint8, buf []byte) (int, error)
}

// DeviceTransfers covers EP0 and interrupt-endpoint transfers used while
// acting as a USB device.
type DeviceTransfers interface {
	DeviceSendEP0(buf []byte) error
	DeviceRecvEP0(buf []byte) (int, error)
	DeviceInterruptIn(ep uint8, buf []byte) (int, error)
	DeviceInterruptOut(ep uint8, buf []byte) (int, error)
}

// DescriptorPush covers pushing device-mode descriptors down to hardware.
type DescriptorPush interface {
	SetDescriptors(deviceBytes, configBytes []byte) error
	SetHIDReportDescriptor(iface uint8, b []byte) error
	SetStringDescriptor(index uint8, b []byte) error
}

// EndpointConfig covers device-mode interface and endpoint configuration.
type EndpointConfig interface {
	DeviceConfigureInterface(num, class, subclass, protocol uint8) error
	DeviceConfigureEndpoint(iface uint8, address, attributes uint8, maxPacket uint16, interval uint8) error
	DeviceEndpointEnable(address uint8, enable bool) error
	DeviceEndpointStall(address uint8, stall bool) error
	DeviceReset() error
}

// EventCallbacks lets the core observe Chapter-9 events the hardware
// detects internally (e.g. a hardware state machine that auto-ACKs
// SET_CONFIGURATION before software sees the setup packet).
type EventCallbacks interface {
	SetConfigurationCallback(fn func(value uint8))
	SetInterfaceCallback(fn func(iface, alt uint8))
}

// HostHAL is the capability set required to drive the host enumerator.
type HostHAL interface {
	Bus
	HostTransfers
}

// DeviceHAL is the capability set required to drive the device dispatcher.
type DeviceHAL interface {
	Bus
	DeviceTransfers
	DescriptorPush
	EndpointConfig
	EventCallbacks
}

// HAL is the full capability set for a dual-role backend.
type HAL interface {
	HostHAL
	DeviceHAL
}

// Error taxonomy returned by HAL implementations. These reuse
// usberr's sentinels so core code never needs a HAL-specific error type:
// NotReady        -> usberr.ErrNotReady
// TransferTimeout -> usberr.ErrTransferTimeout
// Stall           -> usberr.ErrStall
// InvalidEndpoint -> usberr.ErrInvalidEndpoint
// BufferOverflow  -> usberr.ErrBufferOverflow
