// Package linuxhal implements hal.HostHAL on top of the Linux usbdevfs
// ioctl interface, grounded on Daedaluz-gousb's usbfs package
// (usbfs/ioctl.go, device_linux.go): USBDEVFS_CONTROL for control
// transfers, USBDEVFS_RESET for bus reset, USBDEVFS_CLAIMINTERFACE /
// USBDEVFS_RELEASEINTERFACE around attach/detach. It is host-only: usbdevfs
// has no concept of acting as a device, so every device-role method returns
// usberr.ErrNotReady, except the event-callback setters, which are no-ops.
package linuxhal

import (
	"fmt"
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"

	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

var (
	ctlUSBDevfsControl          = uint32(ioctl.IOWR('U', 0, unsafe.Sizeof(ctrlTransfer{})))
	ctlUSBDevfsClaimInterface   = uint32(ioctl.IOR('U', 15, unsafe.Sizeof(uint32(0))))
	ctlUSBDevfsReleaseInterface = uint32(ioctl.IOR('U', 16, unsafe.Sizeof(uint32(0))))
	ctlUSBDevfsReset            = uint32(ioctl.IO('U', 20))
)

// ctrlTransfer mirrors struct usbdevfs_ctrltransfer from
// linux/usbdevice_fs.h.
type ctrlTransfer struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32
	Data        uintptr
}

// ControlTimeoutMillis is the ioctl timeout passed to USBDEVFS_CONTROL.
const ControlTimeoutMillis = 5000

// HAL is a Linux usbdevfs-backed host HAL for exactly one downstream
// device node.
type HAL struct {
	fd int
}

// Open opens the usbdevfs device node for the given bus/device numbers
// (e.g. /dev/bus/usb/001/005).
func Open(busNumber, deviceNumber int) (*HAL, error) {
	path := fmt.Sprintf("/dev/bus/usb/%03d/%03d", busNumber, deviceNumber)
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("linuxhal: open %s: %w", path, err)
	}
	return &HAL{fd: fd}, nil
}

// Close closes the underlying device node.
func (h *HAL) Close() error {
	return syscall.Close(h.fd)
}

func (h *HAL) ioctl(req uint32, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Bus

func (h *HAL) ResetBus() error {
	if err := h.ioctl(ctlUSBDevfsReset, nil); err != nil {
		return fmt.Errorf("linuxhal: reset_bus: %w", err)
	}
	return nil
}

func (h *HAL) EnableHost() error { return nil }

func (h *HAL) EnableDevice() error {
	return fmt.Errorf("linuxhal: enable_device: usbdevfs is host-only: %w", usberr.ErrNotReady)
}

// ClaimInterface claims iface via USBDEVFS_CLAIMINTERFACE. The host
// enumerator does not call it; callers claim the interface themselves.
func (h *HAL) ClaimInterface(iface uint32) error {
	v := iface
	if err := h.ioctl(ctlUSBDevfsClaimInterface, unsafe.Pointer(&v)); err != nil {
		return fmt.Errorf("linuxhal: claim_interface: %w", err)
	}
	return nil
}

// ReleaseInterface releases iface via USBDEVFS_RELEASEINTERFACE.
func (h *HAL) ReleaseInterface(iface uint32) error {
	v := iface
	if err := h.ioctl(ctlUSBDevfsReleaseInterface, unsafe.Pointer(&v)); err != nil {
		return fmt.Errorf("linuxhal: release_interface: %w", err)
	}
	return nil
}

// HostTransfers

func (h *HAL) HostControl(addr uint8, setup wire.SetupPacket, buf []byte) (int, error) {
	xfer := ctrlTransfer{
		RequestType: setup.RequestType,
		Request:     setup.Request,
		Value:       setup.Value,
		Index:       setup.Index,
		Timeout:     ControlTimeoutMillis,
	}
	if len(buf) > 0 {
		xfer.Length = uint16(len(buf))
		xfer.Data = uintptr(unsafe.Pointer(&buf[0]))
	}

	n, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), uintptr(ctlUSBDevfsControl), uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return int(n), mapErrno(errno)
	}
	return int(n), nil
}

func (h *HAL) HostInterruptIn(addr uint8, ep uint8, buf []byte) (int, error) {
	return h.bulkOrInterruptTransfer(ep|0x80, buf)
}

func (h *HAL) HostInterruptOut(addr uint8, ep uint8, buf []byte) (int, error) {
	return h.bulkOrInterruptTransfer(ep&0x7f, buf)
}

// bulkTransfer mirrors struct usbdevfs_bulktransfer; usbdevfs serves
// interrupt endpoints through the same USBDEVFS_BULK ioctl.
type bulkTransfer struct {
	Endpoint uint32
	Length   uint32
	Timeout  uint32
	Data     uintptr
}

var ctlUSBDevfsBulk = uint32(ioctl.IOWR('U', 2, unsafe.Sizeof(bulkTransfer{})))

func (h *HAL) bulkOrInterruptTransfer(ep uint8, buf []byte) (int, error) {
	xfer := bulkTransfer{
		Endpoint: uint32(ep),
		Timeout:  1000,
	}
	if len(buf) > 0 {
		xfer.Length = uint32(len(buf))
		xfer.Data = uintptr(unsafe.Pointer(&buf[0]))
	}

	n, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), uintptr(ctlUSBDevfsBulk), uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return int(n), mapErrno(errno)
	}
	return int(n), nil
}

func mapErrno(errno syscall.Errno) error {
	switch errno {
	case syscall.ETIMEDOUT:
		return usberr.ErrTransferTimeout
	case syscall.EPIPE:
		return usberr.ErrStall
	default:
		return fmt.Errorf("linuxhal: ioctl: %w", errno)
	}
}

// DeviceTransfers, DescriptorPush, EndpointConfig, EventCallbacks: usbdevfs
// has no device-mode role, so every method here is a stub returning
// ErrNotReady, except the event-callback setters, which are no-ops.

func (h *HAL) DeviceSendEP0(buf []byte) error                { return usberr.ErrNotReady }
func (h *HAL) DeviceRecvEP0(buf []byte) (int, error)         { return 0, usberr.ErrNotReady }
func (h *HAL) DeviceInterruptIn(ep uint8, buf []byte) (int, error)  { return 0, usberr.ErrNotReady }
func (h *HAL) DeviceInterruptOut(ep uint8, buf []byte) (int, error) { return 0, usberr.ErrNotReady }

func (h *HAL) SetDescriptors(deviceBytes, configBytes []byte) error { return usberr.ErrNotReady }
func (h *HAL) SetHIDReportDescriptor(iface uint8, b []byte) error   { return usberr.ErrNotReady }
func (h *HAL) SetStringDescriptor(index uint8, b []byte) error      { return usberr.ErrNotReady }

func (h *HAL) DeviceConfigureInterface(num, class, subclass, protocol uint8) error { return usberr.ErrNotReady }
func (h *HAL) DeviceConfigureEndpoint(iface uint8, address, attributes uint8, maxPacket uint16, interval uint8) error {
	return usberr.ErrNotReady
}
func (h *HAL) DeviceEndpointEnable(address uint8, enable bool) error { return usberr.ErrNotReady }
func (h *HAL) DeviceEndpointStall(address uint8, stall bool) error  { return usberr.ErrNotReady }
func (h *HAL) DeviceReset() error                                    { return usberr.ErrNotReady }

func (h *HAL) SetConfigurationCallback(fn func(value uint8))    {}
func (h *HAL) SetInterfaceCallback(fn func(iface, alt uint8)) {}
