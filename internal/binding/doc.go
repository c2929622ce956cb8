// Package binding provides the Item Binding Registry for Multigate.
//
// A binding associates one host item with one (device, command) pair plus
// read/write/cycle flags. The registry is built once from configuration,
// validated, and then shared read-only by the dispatcher — it requires no
// locking after construction.
//
// # Validation
//
// Construction enforces two invariants from the configuration model:
//
//   - every binding must reference a configured device and a command known
//     to that device's table; a dangling reference fails construction with
//     ErrUnknownDevice (or the table's unknown-command error), never at
//     first use
//   - at most one binding may author writes to a given (device, command)
//     pair; a second write-enabled binding fails construction with
//     ErrAmbiguousWriter
//
// Flags that a command's capability cannot honour (md_write on a read-only
// command, md_read on a write-only command) are demoted with a note, matching
// the original plugin's warn-and-ignore behaviour.
package binding
