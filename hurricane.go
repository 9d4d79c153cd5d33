// Package hurricane wires components A through G into the dual-role USB
// stack described across the component sections: a descriptor codec, an
// interface registry, a host enumerator, a device control dispatcher, a HID
// class driver and an event bus, all driven from one cooperative Context.
package hurricane

import (
	"fmt"
	"log"

	"github.com/ramseymcgrath/Hurricane/descriptor"
	"github.com/ramseymcgrath/Hurricane/device"
	"github.com/ramseymcgrath/Hurricane/event"
	"github.com/ramseymcgrath/Hurricane/hal"
	"github.com/ramseymcgrath/Hurricane/host"
	"github.com/ramseymcgrath/Hurricane/registry"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// Context is the top-level handle an application holds. It owns the
// registry, event bus, device dispatcher and host enumerator, and exposes
// the application interface for host and application code.
type Context struct {
	hal hal.HAL

	reg       *registry.Registry
	bus       *event.Bus
	queue     *event.Queue
	dispatch  *device.Dispatcher
	enumerate *host.Enumerator

	deviceDesc descriptor.DeviceDescriptor
	configured bool
}

// Init establishes the registry and resets state. Every call returns a new
// Context with an empty registry and default descriptors; calling it again
// yields the same fresh state and leaves any earlier Context untouched.
func Init(h hal.HAL) *Context {
	reg := registry.New(h)
	bus := event.New()

	deviceDesc := descriptor.DeviceDescriptor{}
	deviceDesc.SetDefaults()

	ctx := &Context{
		hal:        h,
		reg:        reg,
		bus:        bus,
		queue:      &event.Queue{},
		deviceDesc: deviceDesc,
	}

	ctx.dispatch = device.New(h, reg, bus, deviceDesc)
	h.SetConfigurationCallback(func(value uint8) {
		ctx.configured = value != 0
		ctx.bus.Notify(wire.Event{Kind: wire.EventInterfaceEnabled})
	})

	ctx.enumerate = host.New(h, reg)

	log.Printf("hurricane: init complete")
	return ctx
}

// Deinit frees all registry storage and clears descriptor buffers. The
// Context must not be used afterward.
func (c *Context) Deinit() {
	c.reg = registry.New(c.hal)
	c.deviceDesc = descriptor.DeviceDescriptor{}
	c.dispatch = device.New(c.hal, c.reg, c.bus, c.deviceDesc)
	c.enumerate = host.New(c.hal, c.reg)
	c.configured = false
	log.Printf("hurricane: deinit complete")
}

// UpdateDeviceDescriptors validates lengths and forwards the device,
// configuration, string and HID report descriptor bytes to the HAL. If the
// device or configuration bytes fail validation, or the HAL rejects them,
// nothing is pushed and the previous descriptors remain in effect. A HAL
// failure while pushing string or HID report descriptors returns at that
// point: the device and configuration descriptors and any earlier string or
// report descriptors have already been pushed and are not rolled back.
func (c *Context) UpdateDeviceDescriptors(deviceBytes, configBytes []byte, strings map[uint8][]byte, hidReportBytes map[uint8][]byte) error {
	d, err := descriptor.ParseDevice(deviceBytes)
	if err != nil {
		return fmt.Errorf("hurricane: update_device_descriptors: %w", err)
	}
	if _, err := descriptor.ParseConfigurationHeader(configBytes); err != nil {
		return fmt.Errorf("hurricane: update_device_descriptors: %w", err)
	}

	if err := c.hal.SetDescriptors(deviceBytes, configBytes); err != nil {
		return fmt.Errorf("hurricane: update_device_descriptors: hal: %w", err)
	}

	for idx, b := range strings {
		if err := c.hal.SetStringDescriptor(idx, b); err != nil {
			return fmt.Errorf("hurricane: update_device_descriptors: string %d: %w", idx, err)
		}
		c.dispatch.SetStringDescriptor(idx, b)
	}

	for iface, b := range hidReportBytes {
		if err := c.hal.SetHIDReportDescriptor(iface, b); err != nil {
			return fmt.Errorf("hurricane: update_device_descriptors: hid report %d: %w", iface, err)
		}
	}

	c.deviceDesc = d
	return nil
}

// AddInterface registers a new device-mode interface at runtime.
func (c *Context) AddInterface(num, class, subclass, protocol uint8) (*registry.InterfaceEntry, error) {
	return c.reg.AddInterface(num, class, subclass, protocol)
}

// ConfigureEndpoint registers an endpoint on a previously added interface.
func (c *Context) ConfigureEndpoint(iface, address, attributes uint8, maxPacket uint16, interval uint8) error {
	return c.reg.ConfigureEndpoint(iface, address, attributes, maxPacket, interval)
}

// UpdateHIDReportDescriptor pushes a new HID report descriptor for iface
// down to the HAL, used alongside AddInterface for dynamically added HID
// functions.
func (c *Context) UpdateHIDReportDescriptor(iface uint8, b []byte) error {
	return c.hal.SetHIDReportDescriptor(iface, b)
}

// TriggerReset forces the upstream host to re-enumerate after a dynamic
// interface change.
func (c *Context) TriggerReset() error {
	return c.hal.ResetBus()
}

// RegisterHostClassHandler installs a host-role class driver.
func (c *Context) RegisterHostClassHandler(h registry.HostClassHandler) error {
	return c.reg.RegisterHostClassHandler(h)
}

// RegisterControlHandler installs a device-role class/vendor control
// handler for an interface, delivered via the event bus.
func (c *Context) RegisterControlHandler(iface uint8, fn registry.ControlHandlerFunc) error {
	return c.reg.RegisterControlHandler(iface, fn)
}

// HandleAttach notifies the host enumerator of a newly attached downstream
// device. Applications call this from their HAL's attach interrupt handler,
// or push a wire.Event through Enqueue to defer it to Task.
func (c *Context) HandleAttach(speed wire.Speed) {
	c.enumerate.Attach(speed)
}

// HandleDetach notifies the host enumerator of a downstream detach.
func (c *Context) HandleDetach() {
	c.enumerate.Detach()
}

// HandleSetup dispatches one device-mode setup packet.
func (c *Context) HandleSetup(setup wire.SetupPacket) error {
	return c.dispatch.HandleSetup(setup)
}

// Enqueue pushes a raw HAL event onto the bounded ISR-to-poll-loop queue
// It is safe to call from an interrupt bottom-half.
func (c *Context) Enqueue(ev wire.Event) bool {
	return c.queue.Push(ev)
}

// Task is the periodic tick driving the stack: it must be invoked frequently
// enough to satisfy the 1 s control-timeout budget (a 1 ms cadence is
// customary). It drains the event queue and advances the host enumerator.
func (c *Context) Task() {
	for {
		ev, ok := c.queue.Pop()
		if !ok {
			break
		}
		c.routeEvent(ev)
	}

	if err := c.enumerate.Poll(); err != nil {
		log.Printf("hurricane: task: host poll: %v", err)
	}
}

func (c *Context) routeEvent(ev wire.Event) {
	switch ev.Kind {
	case wire.EventDeviceAttached:
		c.enumerate.Attach(wire.SpeedFull)
	case wire.EventDeviceDetached:
		c.enumerate.Detach()
	case wire.EventControlRequest:
		if err := c.dispatch.HandleSetup(ev.Setup); err != nil {
			log.Printf("hurricane: task: handle_setup: %v", err)
		}
	default:
		c.bus.Notify(ev)
	}
}

// Configured reports whether the device side has seen SET_CONFIGURATION
// with a non-zero value.
func (c *Context) Configured() bool { return c.configured }

// Registry exposes the underlying interface registry for advanced callers
// (e.g. the HID driver wiring its report descriptor lookup).
func (c *Context) Registry() *registry.Registry { return c.reg }

// Bus exposes the underlying event bus.
func (c *Context) Bus() *event.Bus { return c.bus }
