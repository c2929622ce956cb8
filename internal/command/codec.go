package command

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// maxSubstitutionPasses bounds the repeated $P substitution so a parameter
// value referencing itself cannot loop forever.
const maxSubstitutionPasses = 8

// paramPattern matches $P:key: placeholders in request templates.
var paramPattern = regexp.MustCompile(`\$P:([^:]+):`)

// EncodeRead builds the wire payload for a read of s.
//
// The read template (ReadCmd, falling back to Opcode) is expanded with the
// device parameters. $V placeholders are removed, as a read carries no value.
//
// Parameters:
//   - s: the command spec
//   - params: typed device parameters for $P substitution
//
// Returns:
//   - []byte: request payload
//   - error: ErrEncoding if the template expands to nothing
func EncodeRead(s Spec, params map[string]any) ([]byte, error) {
	tmpl := s.ReadCmd
	if tmpl == "" {
		tmpl = s.Opcode
	}

	out := substitute(tmpl, s.Opcode, params, "")
	if out == "" {
		return nil, fmt.Errorf("%w: command %q read template is empty", ErrEncoding, s.Name)
	}
	return []byte(out), nil
}

// EncodeWrite builds the wire payload for writing value with s.
//
// The value is rendered according to the spec's type (numerics with the
// inverse of the read scale), then the write template (WriteCmd, falling
// back to Opcode) is expanded with device parameters and the value.
//
// Returns ErrEncoding if the value cannot be represented in the spec's type.
func EncodeWrite(s Spec, params map[string]any, value any) ([]byte, error) {
	rendered, err := encodeValue(s, value)
	if err != nil {
		return nil, err
	}

	tmpl := s.WriteCmd
	if tmpl == "" {
		tmpl = s.Opcode
	}

	out := substitute(tmpl, s.Opcode, params, rendered)
	if out == "" {
		return nil, fmt.Errorf("%w: command %q write template is empty", ErrEncoding, s.Name)
	}
	return []byte(out), nil
}

// Decode parses a raw device response into the spec's item-side type.
//
// Numeric values are scaled with item = device * mult / div. JSON responses
// are unmarshalled and, if ItemPath is set, the selected sub-element is
// returned.
//
// Returns ErrDecoding if the payload does not parse as the declared type.
func Decode(s Spec, data []byte) (any, error) {
	switch s.valueType() {
	case ValueBool:
		v, ok := parseBool(strings.TrimSpace(string(data)))
		if !ok {
			return nil, fmt.Errorf("%w: command %q: %q is not a bool", ErrDecoding, s.Name, data)
		}
		return v, nil

	case ValueInt:
		n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: command %q: %v", ErrDecoding, s.Name, err)
		}
		mult, div := s.scale()
		if mult == div {
			return n, nil
		}
		return int64(math.Round(float64(n) * mult / div)), nil

	case ValueFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: command %q: %v", ErrDecoding, s.Name, err)
		}
		mult, div := s.scale()
		return f * mult / div, nil

	case ValueJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: command %q: %v", ErrDecoding, s.Name, err)
		}
		return extractPath(s, v)

	default: // ValueString
		return string(data), nil
	}
}

// extractPath walks the spec's ItemPath into a decoded JSON document.
func extractPath(s Spec, v any) (any, error) {
	for _, key := range s.ItemPath {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: command %q: path element %q: not an object", ErrDecoding, s.Name, key)
		}
		v, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("%w: command %q: path element %q not found", ErrDecoding, s.Name, key)
		}
	}
	return v, nil
}

// encodeValue renders an item-side value for the wire per the spec's type.
func encodeValue(s Spec, value any) (string, error) {
	switch s.valueType() {
	case ValueBool:
		b, ok := coerceBool(value)
		if !ok {
			return "", fmt.Errorf("%w: command %q: %v is not a bool", ErrEncoding, s.Name, value)
		}
		if b {
			return "1", nil
		}
		return "0", nil

	case ValueInt:
		f, ok := coerceFloat(value)
		if !ok {
			return "", fmt.Errorf("%w: command %q: %v is not numeric", ErrEncoding, s.Name, value)
		}
		mult, div := s.scale()
		return strconv.FormatInt(int64(math.Round(f*div/mult)), 10), nil

	case ValueFloat:
		f, ok := coerceFloat(value)
		if !ok {
			return "", fmt.Errorf("%w: command %q: %v is not numeric", ErrEncoding, s.Name, value)
		}
		mult, div := s.scale()
		return strconv.FormatFloat(f*div/mult, 'g', -1, 64), nil

	case ValueJSON:
		data, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("%w: command %q: %v", ErrEncoding, s.Name, err)
		}
		return string(data), nil

	default: // ValueString
		return fmt.Sprint(value), nil
	}
}

// substitute expands a request template.
//
// Order matters: $C first so an opcode may contain $P references, then
// repeated $P passes, then $V, so a value is never re-expanded.
func substitute(tmpl, opcode string, params map[string]any, value string) string {
	out := strings.ReplaceAll(tmpl, "$C", opcode)

	for pass := 0; pass < maxSubstitutionPasses && paramPattern.MatchString(out); pass++ {
		out = paramPattern.ReplaceAllStringFunc(out, func(m string) string {
			sub := paramPattern.FindStringSubmatch(m)
			v, ok := params[sub[1]]
			if !ok {
				return ""
			}
			return fmt.Sprint(v)
		})
	}

	return strings.ReplaceAll(out, "$V", value)
}

// parseBool interprets the boolean spellings devices commonly emit.
func parseBool(s string) (value, ok bool) {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	}
	return false, false
}

// coerceBool accepts bools and their common string/numeric spellings.
func coerceBool(v any) (value, ok bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		return parseBool(b)
	case int, int64, float64:
		f, _ := coerceFloat(v)
		return f != 0, true
	}
	return false, false
}

// coerceFloat accepts the numeric types items deliver (JSON decodes
// numbers as float64; config and tests may use Go ints).
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
