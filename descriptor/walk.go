package descriptor

import (
	"fmt"

	"github.com/ramseymcgrath/Hurricane/usberr"
	"github.com/ramseymcgrath/Hurricane/wire"
)

// Kind identifies the decoded variant carried by a TypedDescriptor.
type Kind uint8

const (
	KindConfiguration Kind = iota
	KindInterface
	KindEndpoint
	KindHID
	KindUnknown
)

// TypedDescriptor is one element of a walked configuration tree. Only the
// field matching Kind is populated.
type TypedDescriptor struct {
	Kind      Kind
	Raw       []byte
	Config    ConfigHeader
	Interface InterfaceDescriptor
	Endpoint  EndpointDescriptor
	HID       HIDDescriptor
	Unknown   UnknownDescriptor
}

// UnknownDescriptor carries any descriptor type the walker does not decode
// into a typed field (spec: "Unknown types are surfaced as Unknown{type,
// bytes} rather than errors").
type UnknownDescriptor struct {
	Type uint8
	Data []byte
}

// Walker is a restartable, lazy iterator over a configuration descriptor
// tree: create a new Walker(b) to start over from the beginning. It advances
// by bLength at each step and never reads past the end of the buffer.
type Walker struct {
	buf []byte
	pos int
}

// NewWalker returns a Walker starting at the beginning of b.
func NewWalker(b []byte) *Walker {
	return &Walker{buf: b}
}

// Next returns the next descriptor in the tree. It returns (_, false, nil)
// cleanly at end-of-buffer, and a non-nil error if bLength is zero or would
// step outside the buffer.
func (w *Walker) Next() (TypedDescriptor, bool, error) {
	if w.pos >= len(w.buf) {
		return TypedDescriptor{}, false, nil
	}

	remaining := w.buf[w.pos:]
	if len(remaining) < 2 {
		return TypedDescriptor{}, false, fmt.Errorf("descriptor: walk_configuration: truncated header at offset %d: %w", w.pos, usberr.ErrParse)
	}

	length := remaining[0]
	if length == 0 {
		return TypedDescriptor{}, false, fmt.Errorf("descriptor: walk_configuration: zero-length descriptor at offset %d: %w", w.pos, usberr.ErrParse)
	}
	if int(length) > len(remaining) {
		return TypedDescriptor{}, false, fmt.Errorf("descriptor: walk_configuration: descriptor of length %d overruns buffer at offset %d: %w", length, w.pos, usberr.ErrParse)
	}

	raw := remaining[:length]
	descType := raw[1]

	var td TypedDescriptor
	td.Raw = raw

	switch descType {
	case wire.DescTypeConfiguration:
		h, err := ParseConfigurationHeader(raw)
		if err != nil {
			return TypedDescriptor{}, false, err
		}
		td.Kind = KindConfiguration
		td.Config = h
	case wire.DescTypeInterface:
		d, err := parseInterface(raw)
		if err != nil {
			return TypedDescriptor{}, false, err
		}
		td.Kind = KindInterface
		td.Interface = d
	case wire.DescTypeEndpoint:
		d, err := parseEndpoint(raw)
		if err != nil {
			return TypedDescriptor{}, false, err
		}
		td.Kind = KindEndpoint
		td.Endpoint = d
	case wire.DescTypeHID:
		d, err := parseHID(raw)
		if err != nil {
			return TypedDescriptor{}, false, err
		}
		td.Kind = KindHID
		td.HID = d
	default:
		td.Kind = KindUnknown
		td.Unknown = UnknownDescriptor{Type: descType, Data: raw}
	}

	w.pos += int(length)

	return td, true, nil
}

// WalkConfiguration walks the full tree eagerly and returns every decoded
// descriptor in wire order. It is a convenience wrapper around Walker for
// callers that do not need lazy iteration.
func WalkConfiguration(b []byte) ([]TypedDescriptor, error) {
	w := NewWalker(b)
	var out []TypedDescriptor
	for {
		td, ok, err := w.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, td)
	}
}
