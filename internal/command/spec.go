package command

import (
	"fmt"
	"time"
)

// ValueType identifies how a command's payload is typed on the item side.
type ValueType string

// Supported value types.
const (
	ValueBool   ValueType = "bool"
	ValueInt    ValueType = "int"
	ValueFloat  ValueType = "float"
	ValueString ValueType = "string"
	ValueJSON   ValueType = "json"
)

// ValidValueType reports whether t is a recognised value type.
func ValidValueType(t ValueType) bool {
	switch t {
	case ValueBool, ValueInt, ValueFloat, ValueString, ValueJSON:
		return true
	}
	return false
}

// Spec describes one symbolic command: its direction capability and the
// rules for building a request and parsing a response.
//
// Specs are immutable once loaded into a Table and are shared read-only by
// all device sessions of a device type.
type Spec struct {
	// Name is the symbolic command name used in item configuration.
	Name string

	// Opcode is the base request payload. Used directly when no
	// read/write template is given, and substituted for $C otherwise.
	Opcode string

	// Read and Write declare the direction capability.
	Read  bool
	Write bool

	// ReadCmd is the request template for reads. Empty means Opcode.
	ReadCmd string

	// WriteCmd is the request template for writes. Empty means Opcode.
	WriteCmd string

	// Type is the item-side value type. Empty defaults to string.
	Type ValueType

	// ItemPath selects a sub-element of a JSON response, one key per
	// level. Only meaningful for Type json.
	ItemPath []string

	// Mult and Div scale numeric values: item = device * Mult / Div.
	// Zero values are treated as 1.
	Mult float64
	Div  float64

	// Timeout overrides the device's request timeout for this command.
	// Zero means no override.
	Timeout time.Duration
}

// Readable reports whether the command may be read.
func (s Spec) Readable() bool { return s.Read }

// Writable reports whether the command may be written.
func (s Spec) Writable() bool { return s.Write }

// valueType returns the effective value type (string when unset).
func (s Spec) valueType() ValueType {
	if s.Type == "" {
		return ValueString
	}
	return s.Type
}

// scale returns the effective mult and div factors, defaulting zeros to 1.
func (s Spec) scale() (mult, div float64) {
	mult, div = s.Mult, s.Div
	if mult == 0 {
		mult = 1
	}
	if div == 0 {
		div = 1
	}
	return mult, div
}

// validate checks a spec for configuration errors.
func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: command without a name", ErrInvalidSpec)
	}
	if !s.Read && !s.Write {
		return fmt.Errorf("%w: command %q is neither readable nor writable", ErrInvalidSpec, s.Name)
	}
	if s.Opcode == "" && s.ReadCmd == "" && s.WriteCmd == "" {
		return fmt.Errorf("%w: command %q has no opcode or templates", ErrInvalidSpec, s.Name)
	}
	if s.Type != "" && !ValidValueType(s.Type) {
		return fmt.Errorf("%w: command %q has unknown type %q", ErrInvalidSpec, s.Name, s.Type)
	}
	if s.Mult < 0 || s.Div < 0 {
		return fmt.Errorf("%w: command %q has negative scale factor", ErrInvalidSpec, s.Name)
	}
	if len(s.ItemPath) > 0 && s.valueType() != ValueJSON {
		return fmt.Errorf("%w: command %q sets item_path but type is %q", ErrInvalidSpec, s.Name, s.valueType())
	}
	return nil
}
