// Package simhal is a deterministic in-memory fake of hal.HAL for tests. It
// replays scripted control-transfer responses rather than talking to real
// hardware, grounded on Hurricane's dummy board stub HAL
// (hw/boards/dummy/usb_hw_hal_dummy.c), which always reports a connected
// device and returns canned bytes from every transfer.
package simhal

import (
	"fmt"
	"sync"

	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// ControlResponse is one scripted answer to a host-role control transfer.
type ControlResponse struct {
	Data  []byte
	Err   error
	Delay int // number of Poll-equivalent steps to hold before answering; unused by HAL methods directly, reserved for future async scripting
}

// HAL is a scripted, deterministic fake satisfying hal.HAL. Host-role
// control responses are consumed in FIFO order per device address;
// interrupt-IN data is served from a FIFO queue per (address, endpoint).
type HAL struct {
	mu sync.Mutex

	controlResponses map[uint8][]ControlResponse
	interruptIn      map[epKey][][]byte

	deviceSentEP0 [][]byte
	deviceRecvQ   [][]byte

	configCallback    func(value uint8)
	interfaceCallback func(iface, alt uint8)

	descriptorPushes   [][2][]byte
	hidReports         map[uint8][]byte
	stringDescriptors  map[uint8][]byte
	configuredEndpoints map[uint8]bool
	stalledEndpoints    map[uint8]bool

	resetCount int
}

type epKey struct {
	addr uint8
	ep   uint8
}

// New returns an empty scripted HAL.
func New() *HAL {
	return &HAL{
		controlResponses:    make(map[uint8][]ControlResponse),
		interruptIn:         make(map[epKey][][]byte),
		hidReports:          make(map[uint8][]byte),
		stringDescriptors:   make(map[uint8][]byte),
		configuredEndpoints: make(map[uint8]bool),
		stalledEndpoints:    make(map[uint8]bool),
	}
}

// ScriptControl appends a scripted response to the FIFO for host-role
// control transfers addressed to addr.
func (h *HAL) ScriptControl(addr uint8, resp ControlResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controlResponses[addr] = append(h.controlResponses[addr], resp)
}

// ScriptInterruptIn appends scripted interrupt-IN payload data for
// (addr, ep).
func (h *HAL) ScriptInterruptIn(addr, ep uint8, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := epKey{addr, ep}
	h.interruptIn[k] = append(h.interruptIn[k], data)
}

// Bus

func (h *HAL) ResetBus() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetCount++
	return nil
}

func (h *HAL) EnableHost() error   { return nil }
func (h *HAL) EnableDevice() error { return nil }

// ResetCount reports how many times ResetBus was called.
func (h *HAL) ResetCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resetCount
}

// HostTransfers

func (h *HAL) HostControl(addr uint8, setup wire.SetupPacket, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	queue := h.controlResponses[addr]
	if len(queue) == 0 {
		return 0, fmt.Errorf("simhal: host_control: no scripted response for addr %d %s: %w", addr, setup, usberr.ErrNotReady)
	}

	resp := queue[0]
	h.controlResponses[addr] = queue[1:]

	if resp.Err != nil {
		return 0, resp.Err
	}

	n := copy(buf, resp.Data)
	if n == 0 {
		n = len(resp.Data)
	}
	return n, nil
}

func (h *HAL) HostInterruptIn(addr uint8, ep uint8, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := epKey{addr, ep}
	queue := h.interruptIn[k]
	if len(queue) == 0 {
		return 0, usberr.ErrTransferTimeout
	}

	data := queue[0]
	h.interruptIn[k] = queue[1:]
	n := copy(buf, data)
	return n, nil
}

func (h *HAL) HostInterruptOut(addr uint8, ep uint8, buf []byte) (int, error) {
	return len(buf), nil
}

// DeviceTransfers

func (h *HAL) DeviceSendEP0(buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := append([]byte(nil), buf...)
	h.deviceSentEP0 = append(h.deviceSentEP0, cp)
	return nil
}

func (h *HAL) DeviceRecvEP0(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.deviceRecvQ) == 0 {
		return 0, nil
	}
	data := h.deviceRecvQ[0]
	h.deviceRecvQ = h.deviceRecvQ[1:]
	n := copy(buf, data)
	return n, nil
}

// QueueDeviceRecv stages the next OUT data-stage payload DeviceRecvEP0 will
// return.
func (h *HAL) QueueDeviceRecv(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deviceRecvQ = append(h.deviceRecvQ, data)
}

// SentEP0 returns every payload sent via DeviceSendEP0, in order.
func (h *HAL) SentEP0() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deviceSentEP0
}

func (h *HAL) DeviceInterruptIn(ep uint8, buf []byte) (int, error) {
	return len(buf), nil
}

func (h *HAL) DeviceInterruptOut(ep uint8, buf []byte) (int, error) {
	return len(buf), nil
}

// DescriptorPush

func (h *HAL) SetDescriptors(deviceBytes, configBytes []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.descriptorPushes = append(h.descriptorPushes, [2][]byte{deviceBytes, configBytes})
	return nil
}

func (h *HAL) SetHIDReportDescriptor(iface uint8, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hidReports[iface] = b
	return nil
}

func (h *HAL) SetStringDescriptor(index uint8, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stringDescriptors[index] = b
	return nil
}

// EndpointConfig

func (h *HAL) DeviceConfigureInterface(num, class, subclass, protocol uint8) error {
	return nil
}

func (h *HAL) DeviceConfigureEndpoint(iface uint8, address, attributes uint8, maxPacket uint16, interval uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configuredEndpoints[address] = true
	return nil
}

func (h *HAL) DeviceEndpointEnable(address uint8, enable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configuredEndpoints[address] = enable
	return nil
}

func (h *HAL) DeviceEndpointStall(address uint8, stall bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stalledEndpoints[address] = stall
	return nil
}

// Stalled reports whether address currently carries a STALL condition, for
// test assertions.
func (h *HAL) Stalled(address uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stalledEndpoints[address]
}

func (h *HAL) DeviceReset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configuredEndpoints = make(map[uint8]bool)
	h.stalledEndpoints = make(map[uint8]bool)
	return nil
}

// EventCallbacks

func (h *HAL) SetConfigurationCallback(fn func(value uint8)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configCallback = fn
}

func (h *HAL) SetInterfaceCallback(fn func(iface, alt uint8)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interfaceCallback = fn
}

// FireConfigurationCallback invokes the installed SET_CONFIGURATION
// callback, if any, letting tests simulate the HAL-side event.
func (h *HAL) FireConfigurationCallback(value uint8) {
	h.mu.Lock()
	fn := h.configCallback
	h.mu.Unlock()
	if fn != nil {
		fn(value)
	}
}
