// Package registry implements the interface registry: a thread-safe store of
// device-mode interfaces and endpoints, plus a pluggable table of host-mode
// class drivers matched by (class, subclass, protocol) with wildcard
// fallback. The registry is the sole owner of every entry it hands out;
// borrows returned by Get* are invalidated by any subsequent mutation.
package registry

import (
	"fmt"
	"sync"

	"github.com/ramseymcgrath/Hurricane/descriptor"
	"github.com/ramseymcgrath/Hurricane/hal"
	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// MaxEndpointsPerInterface bounds the fixed-capacity endpoint array per
// interface.
const MaxEndpointsPerInterface = 16

// MaxHostHandlers bounds the host class-driver handler table.
const MaxHostHandlers = 8

// HandlerType tags what kind of opaque handler data an interface entry
// carries.
type HandlerType uint8

const (
	HandlerNone HandlerType = iota
	HandlerHID
	HandlerVendor
)

// ControlHandlerFunc is a device-mode interface's class/vendor request
// handler. It follows a two-handler-shape protocol: returning true means it
// already wrote the response into buf and reported its length (and stall
// flag) by calling respond; returning false means it will call respond later
// (asynchronously).
type ControlHandlerFunc func(setup wire.SetupPacket, buf []byte, respond func(n int, stall bool)) (handled bool)

// EndpointEntry is one configured endpoint record.
type EndpointEntry struct {
	address       uint8
	attributes    uint8
	maxPacketSize uint16
	interval      uint8
	configured    bool
}

func (e *EndpointEntry) Address() uint8       { return e.address }
func (e *EndpointEntry) Attributes() uint8    { return e.attributes }
func (e *EndpointEntry) MaxPacketSize() uint16 { return e.maxPacketSize }
func (e *EndpointEntry) Interval() uint8      { return e.interval }
func (e *EndpointEntry) Configured() bool     { return e.configured }

// InterfaceEntry is one registered device-mode interface.
type InterfaceEntry struct {
	number         uint8
	class          uint8
	subClass       uint8
	protocol       uint8
	handlerType    HandlerType
	handlerData    interface{}
	controlHandler ControlHandlerFunc

	endpoints   [MaxEndpointsPerInterface]EndpointEntry
	endpointIdx map[uint8]int
	numEp       int
}

func (e *InterfaceEntry) Number() uint8 { return e.number }

func (e *InterfaceEntry) Class() (class, subclass, protocol uint8) {
	return e.class, e.subClass, e.protocol
}

// Endpoints returns the entry's configured endpoints in insertion order as
// the descriptor.EndpointView the assembler needs.
func (e *InterfaceEntry) Endpoints() []descriptor.EndpointView {
	out := make([]descriptor.EndpointView, 0, e.numEp)
	for i := 0; i < e.numEp; i++ {
		out = append(out, &e.endpoints[i])
	}
	return out
}

// HandlerType returns the interface's opaque handler type tag.
func (e *InterfaceEntry) HandlerType() HandlerType { return e.handlerType }

// HandlerData returns the interface's opaque handler data.
func (e *InterfaceEntry) HandlerData() interface{} { return e.handlerData }

// HostDevice is the host-side view of an attached device a class driver is
// bound to. host.Device implements it; defined here (rather than imported
// from package host) so registry never depends on host.
type HostDevice interface {
	Address() uint8
	Speed() wire.Speed
	Descriptor() descriptor.DeviceDescriptor
	InterruptIn(ep uint8, buf []byte) (int, error)
	InterruptOut(ep uint8, buf []byte) (int, error)
	Control(setup wire.SetupPacket, buf []byte) (int, error)
	BoundInterface() uint8
	BoundEndpoint() uint8
}

// HostClassHandler is a (class, subclass, protocol) triple plus its five
// lifecycle callbacks, with the convention that 0 in subclass or protocol
// matches any.
type HostClassHandler struct {
	Class, SubClass, Protocol uint8

	// Match is an optional custom predicate consulted by FindHostHandler in
	// addition to the triple match, grounded on Hurricane's
	// usb_interface_manager.c handler table (see SPEC_FULL.md "Supplemented
	// features"). nil means triple-match only; non-nil must also return
	// true for the handler to be selected.
	Match func(class, subclass, protocol uint8) bool

	Attach func(dev HostDevice) error
	Detach func()
	// Control, if set, is consulted by host.Enumerator.Control before a
	// control transfer goes straight to the device; returning
	// usberr.ErrNotReady declines and falls through to the HAL.
	Control func(dev HostDevice, setup wire.SetupPacket, data []byte) (int, error)
	Data    func(dev HostDevice, ep uint8, data []byte)

	active bool
}

// Registry is the coarse-locked interface/endpoint/host-handler store.
type Registry struct {
	mu sync.Mutex

	hal   hal.EndpointConfig
	order []uint8
	byNum map[uint8]*InterfaceEntry

	hostHandlers []HostClassHandler
}

// New returns an empty registry. hal may be nil for registries that only
// track host-mode handlers (e.g. a host-only backend never calls
// AddInterface/ConfigureEndpoint).
func New(h hal.EndpointConfig) *Registry {
	return &Registry{
		hal:   h,
		byNum: make(map[uint8]*InterfaceEntry),
	}
}

// AddInterface inserts a new device-mode interface entry, invokes the HAL's
// DeviceConfigureInterface, and returns the entry for further configuration.
func (r *Registry) AddInterface(num, class, subclass, protocol uint8) (*InterfaceEntry, error) {
	if num > 0x1f {
		return nil, fmt.Errorf("registry: add_interface: invalid interface number %d: %w", num, usberr.ErrInvalidParam)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNum[num]; exists {
		return nil, fmt.Errorf("registry: add_interface: interface %d already exists: %w", num, usberr.ErrAlreadyExists)
	}

	entry := &InterfaceEntry{
		number:      num,
		class:       class,
		subClass:    subclass,
		protocol:    protocol,
		endpointIdx: make(map[uint8]int),
	}

	if r.hal != nil {
		if err := r.hal.DeviceConfigureInterface(num, class, subclass, protocol); err != nil {
			return nil, fmt.Errorf("registry: add_interface: hal: %w", err)
		}
	}

	r.byNum[num] = entry
	r.order = append(r.order, num)

	return entry, nil
}

// RemoveInterface deregisters an interface and frees its storage.
func (r *Registry) RemoveInterface(num uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNum[num]; !exists {
		return fmt.Errorf("registry: remove_interface: interface %d: %w", num, usberr.ErrNotFound)
	}

	delete(r.byNum, num)
	for i, n := range r.order {
		if n == num {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	return nil
}

// ConfigureEndpoint inserts or updates an endpoint record on an existing
// interface and invokes the HAL's DeviceConfigureEndpoint.
func (r *Registry) ConfigureEndpoint(iface uint8, address, attributes uint8, maxPacket uint16, interval uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byNum[iface]
	if !exists {
		return fmt.Errorf("registry: configure_endpoint: interface %d: %w", iface, usberr.ErrNotFound)
	}

	idx, has := entry.endpointIdx[address]
	if !has {
		if entry.numEp >= MaxEndpointsPerInterface {
			return fmt.Errorf("registry: configure_endpoint: interface %d: %w", iface, usberr.ErrNoMemory)
		}
		idx = entry.numEp
		entry.endpointIdx[address] = idx
		entry.numEp++
	}

	entry.endpoints[idx] = EndpointEntry{
		address:       address,
		attributes:    attributes,
		maxPacketSize: maxPacket,
		interval:      interval,
		configured:    true,
	}

	if r.hal != nil {
		if err := r.hal.DeviceConfigureEndpoint(iface, address, attributes, maxPacket, interval); err != nil {
			return fmt.Errorf("registry: configure_endpoint: hal: %w", err)
		}
	}

	return nil
}

// RegisterControlHandler sets the class/vendor control-request handler
// reference for an existing interface.
func (r *Registry) RegisterControlHandler(iface uint8, fn ControlHandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byNum[iface]
	if !exists {
		return fmt.Errorf("registry: register_control_handler: interface %d: %w", iface, usberr.ErrNotFound)
	}

	entry.controlHandler = fn
	return nil
}

// SetHandlerData sets the opaque handler type/data tag stored on an
// interface, used by class drivers (e.g. hid.Device) to recognize their own
// interfaces without a second lookup table.
func (r *Registry) SetHandlerData(iface uint8, t HandlerType, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byNum[iface]
	if !exists {
		return fmt.Errorf("registry: set_handler_data: interface %d: %w", iface, usberr.ErrNotFound)
	}

	entry.handlerType = t
	entry.handlerData = data
	return nil
}

// GetInterface returns a read-only borrow of an interface entry. The borrow
// is invalidated by any subsequent registry mutation.
func (r *Registry) GetInterface(num uint8) (*InterfaceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byNum[num]
	return e, ok
}

// GetEndpoint returns a read-only borrow of an endpoint record.
func (r *Registry) GetEndpoint(iface uint8, address uint8) (*EndpointEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byNum[iface]
	if !ok {
		return nil, false
	}
	idx, ok := entry.endpointIdx[address]
	if !ok {
		return nil, false
	}
	return &entry.endpoints[idx], true
}

// ControlHandlerOf returns the registered control handler for iface, if any.
func (r *Registry) ControlHandlerOf(iface uint8) (ControlHandlerFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byNum[iface]
	if !ok || entry.controlHandler == nil {
		return nil, false
	}
	return entry.controlHandler, true
}

// AssembleConfiguration builds the composite configuration descriptor for
// every currently registered interface, in insertion order.
func (r *Registry) AssembleConfiguration(params descriptor.ConfigParams) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]descriptor.InterfaceView, 0, len(r.order))
	for _, num := range r.order {
		views = append(views, r.byNum[num])
	}

	return descriptor.AssembleConfiguration(views, params)
}

// NumInterfaces reports how many interfaces are currently registered.
func (r *Registry) NumInterfaces() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// RegisterHostClassHandler appends a host-mode class driver entry. Exact
// duplicate (class, subclass, protocol) triples are rejected.
func (r *Registry) RegisterHostClassHandler(h HostClassHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.hostHandlers {
		e := &r.hostHandlers[i]
		if e.active && e.Class == h.Class && e.SubClass == h.SubClass && e.Protocol == h.Protocol {
			return fmt.Errorf("registry: register_host_class_handler: (%d,%d,%d): %w", h.Class, h.SubClass, h.Protocol, usberr.ErrAlreadyExists)
		}
	}

	if len(r.hostHandlers) >= MaxHostHandlers {
		return fmt.Errorf("registry: register_host_class_handler: %w", usberr.ErrNoMemory)
	}

	h.active = true
	r.hostHandlers = append(r.hostHandlers, h)
	return nil
}

// UnregisterHostClassHandler deactivates an exact-match handler without
// compacting the slice, preserving the indices (and thus insertion order)
// of the handlers that remain.
func (r *Registry) UnregisterHostClassHandler(class, subclass, protocol uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.hostHandlers {
		e := &r.hostHandlers[i]
		if e.active && e.Class == class && e.SubClass == subclass && e.Protocol == protocol {
			e.active = false
			return nil
		}
	}

	return fmt.Errorf("registry: unregister_host_class_handler: (%d,%d,%d): %w", class, subclass, protocol, usberr.ErrNotFound)
}

// FindHostHandler performs a two-pass lookup: an exact-match pass first,
// then a class-match pass treating 0 in subclass/protocol as a wildcard.
// First match (by insertion order) wins in each pass.
func (r *Registry) FindHostHandler(class, subclass, protocol uint8) (*HostClassHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.hostHandlers {
		e := &r.hostHandlers[i]
		if e.active && e.Class == class && e.SubClass == subclass && e.Protocol == protocol && (e.Match == nil || e.Match(class, subclass, protocol)) {
			return e, true
		}
	}

	for i := range r.hostHandlers {
		e := &r.hostHandlers[i]
		if !e.active || e.Class != class {
			continue
		}
		subOK := e.SubClass == 0 || e.SubClass == subclass
		protoOK := e.Protocol == 0 || e.Protocol == protocol
		if subOK && protoOK && (e.Match == nil || e.Match(class, subclass, protocol)) {
			return e, true
		}
	}

	return nil, false
}
