package binding

import (
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/multigate/internal/command"
)

// Binding associates one host item with a device command and its flags.
type Binding struct {
	// Item is the host-side item identifier. Unique across the registry.
	Item string

	// Device and Command select the command spec this item is bound to.
	Device  string
	Command string

	// Read marks the item as interested in read results for the command.
	Read bool

	// Write marks the item as the author of writes for the command.
	Write bool

	// ReadInitial requests one read at startup, once the device connects.
	ReadInitial bool

	// ReadAll marks the item as a trigger: any value arriving on it causes
	// a read of every readable command of Device. Trigger items carry no
	// command of their own.
	ReadAll bool

	// Cycle requests periodic reads at this interval. Zero disables.
	Cycle time.Duration
}

// reads reports whether the binding wants read results delivered to it.
// Cyclic and startup reads imply read interest even without the plain
// read flag.
func (b Binding) reads() bool {
	return b.Read || b.ReadInitial || b.Cycle > 0
}

type pairKey struct {
	device  string
	command string
}

// Registry is the validated, immutable set of item bindings.
type Registry struct {
	byItem  map[string]Binding
	readers map[pairKey][]Binding
	writers map[pairKey]Binding
	initial map[string][]string
	cycles  map[string]map[string]time.Duration
	readAll map[string]string
	devices []string
	notes   []string
}

// NewRegistry validates bindings against the per-device command tables and
// builds the lookup structures the dispatcher works from.
//
// Construction fails on a duplicate item, an unknown device or command, or
// two write-enabled bindings for the same (device, command) pair. Flags a
// command's capability cannot honour are demoted and recorded as a note.
//
// Parameters:
//   - bindings: raw bindings from configuration
//   - tables: command tables keyed by device identifier
//
// Returns:
//   - *Registry: the immutable registry
//   - error: ErrDuplicateItem, ErrUnknownDevice, ErrAmbiguousWriter, or a
//     table resolution error
func NewRegistry(bindings []Binding, tables map[string]*command.Table) (*Registry, error) {
	r := &Registry{
		byItem:  make(map[string]Binding),
		readers: make(map[pairKey][]Binding),
		writers: make(map[pairKey]Binding),
		initial: make(map[string][]string),
		cycles:  make(map[string]map[string]time.Duration),
		readAll: make(map[string]string),
	}

	seenDevice := make(map[string]bool)

	for _, b := range bindings {
		if _, dup := r.byItem[b.Item]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateItem, b.Item)
		}

		tbl, ok := tables[b.Device]
		if !ok {
			return nil, fmt.Errorf("%w: item %q references device %q", ErrUnknownDevice, b.Item, b.Device)
		}
		if !seenDevice[b.Device] {
			seenDevice[b.Device] = true
			r.devices = append(r.devices, b.Device)
		}

		if b.ReadAll {
			// Trigger items are device-scoped, not command-scoped.
			r.byItem[b.Item] = b
			r.readAll[b.Item] = b.Device
			continue
		}

		spec, err := tbl.Resolve(b.Command)
		if err != nil {
			return nil, fmt.Errorf("item %q: device %q: %w", b.Item, b.Device, err)
		}

		b = r.demote(b, spec)

		key := pairKey{b.Device, b.Command}
		if b.Write {
			if prev, taken := r.writers[key]; taken {
				return nil, fmt.Errorf("%w: items %q and %q both write %s/%s",
					ErrAmbiguousWriter, prev.Item, b.Item, b.Device, b.Command)
			}
			r.writers[key] = b
		}
		if b.reads() {
			r.readers[key] = append(r.readers[key], b)
		}
		if b.ReadInitial {
			r.initial[b.Device] = appendUnique(r.initial[b.Device], b.Command)
		}
		if b.Cycle > 0 {
			r.mergeCycle(b.Device, b.Command, b.Cycle)
		}

		r.byItem[b.Item] = b
	}

	sort.Strings(r.devices)
	for _, cmds := range r.initial {
		sort.Strings(cmds)
	}
	return r, nil
}

// demote clears flags the command's capability cannot honour, noting each.
func (r *Registry) demote(b Binding, spec command.Spec) Binding {
	if b.Write && !spec.Writable() {
		r.notes = append(r.notes,
			fmt.Sprintf("item %q: command %s/%s is not writable, write flag ignored", b.Item, b.Device, b.Command))
		b.Write = false
	}
	if b.reads() && !spec.Readable() {
		r.notes = append(r.notes,
			fmt.Sprintf("item %q: command %s/%s is not readable, read flags ignored", b.Item, b.Device, b.Command))
		b.Read = false
		b.ReadInitial = false
		b.Cycle = 0
	}
	return b
}

// mergeCycle records the interval for (device, command), keeping the
// minimum when several bindings request cyclic reads of the same command.
func (r *Registry) mergeCycle(device, cmd string, interval time.Duration) {
	m := r.cycles[device]
	if m == nil {
		m = make(map[string]time.Duration)
		r.cycles[device] = m
	}
	if cur, ok := m[cmd]; !ok || interval < cur {
		m[cmd] = interval
	}
}

// Binding returns the binding for an item.
func (r *Registry) Binding(item string) (Binding, bool) {
	b, ok := r.byItem[item]
	return b, ok
}

// ReadersFor returns every binding interested in read results for the
// (device, command) pair. A decoded response fans out to all of them.
func (r *Registry) ReadersFor(device, cmd string) []Binding {
	return r.readers[pairKey{device, cmd}]
}

// WriterFor returns the single binding allowed to write (device, command),
// if one is configured.
func (r *Registry) WriterFor(device, cmd string) (Binding, bool) {
	b, ok := r.writers[pairKey{device, cmd}]
	return b, ok
}

// ReadableCommands returns the sorted command names of device that have at
// least one read-interested binding. Read-all issues one read per entry.
func (r *Registry) ReadableCommands(device string) []string {
	var cmds []string
	for key := range r.readers {
		if key.device == device {
			cmds = append(cmds, key.command)
		}
	}
	sort.Strings(cmds)
	return cmds
}

// InitialCommands returns the sorted, deduplicated command names of device
// flagged for a one-shot read at startup.
func (r *Registry) InitialCommands(device string) []string {
	return r.initial[device]
}

// Cycles returns the merged cyclic read intervals for device, keyed by
// command name. The map is a copy.
func (r *Registry) Cycles(device string) map[string]time.Duration {
	src := r.cycles[device]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(src))
	for cmd, iv := range src {
		out[cmd] = iv
	}
	return out
}

// ReadAllDevice resolves a trigger item to the device it reads.
func (r *Registry) ReadAllDevice(item string) (string, bool) {
	device, ok := r.readAll[item]
	return device, ok
}

// Bindings returns all bindings sorted by item identifier.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, len(r.byItem))
	for _, b := range r.byItem {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Devices returns the sorted device identifiers referenced by any binding.
func (r *Registry) Devices() []string {
	return r.devices
}

// Notes returns the demotion notes collected during construction, for the
// caller to log once at startup.
func (r *Registry) Notes() []string {
	return r.notes
}

// Len returns the number of registered items, trigger items included.
func (r *Registry) Len() int {
	return len(r.byItem)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
