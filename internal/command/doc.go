// Package command provides the Command Table for Multigate.
//
// A command table is the static, per-device-type mapping from symbolic
// command names to wire-level encoding and decoding rules. Tables are built
// once from configuration and shared read-only by every device session of
// that type.
//
// # Key Types
//
//   - Spec: one command — name, direction capability, request templates,
//     value type and numeric transform
//   - Table: validated lookup of Specs by name
//
// # Templates
//
// Request templates support three placeholders, matching the original
// MultiDevice configuration format:
//
//   - $C        — replaced with the command opcode
//   - $P:key:   — replaced with the device parameter "key"
//   - $V        — replaced with the encoded value (writes only)
//
// Parameter substitution is applied repeatedly, so an opcode may itself
// contain $P references.
//
// # Value transform
//
// Numeric commands may carry a mult/div scale. Decoding applies
// item = device * mult / div; encoding applies the inverse. A command with
// mult == div is passed through untouched.
package command
