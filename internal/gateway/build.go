package gateway

import (
	"fmt"
	"time"

	"github.com/nerrad567/multigate/internal/binding"
	"github.com/nerrad567/multigate/internal/command"
	"github.com/nerrad567/multigate/internal/infrastructure/config"
)

// buildTables constructs one command table per table definition and maps
// each configured device to its table. The registry and the sessions are
// keyed by device identifier, so the returned map is too; devices sharing
// a table share the same immutable instance.
func buildTables(cfg *config.Config) (map[string]*command.Table, error) {
	byType := make(map[string]*command.Table, len(cfg.CommandTables))
	for name, cmds := range cfg.CommandTables {
		specs := make([]command.Spec, 0, len(cmds))
		for _, c := range cmds {
			specs = append(specs, command.Spec{
				Name:     c.Name,
				Opcode:   c.Opcode,
				Read:     c.Read,
				Write:    c.Write,
				ReadCmd:  c.ReadCmd,
				WriteCmd: c.WriteCmd,
				Type:     command.ValueType(c.Type),
				ItemPath: c.ItemPath,
				Mult:     c.Mult,
				Div:      c.Div,
				Timeout:  time.Duration(c.TimeoutSeconds) * time.Second,
			})
		}
		tbl, err := command.NewTable(name, specs)
		if err != nil {
			return nil, fmt.Errorf("command table %q: %w", name, err)
		}
		byType[name] = tbl
	}

	byDevice := make(map[string]*command.Table, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		tbl, ok := byType[dev.Table]
		if !ok {
			return nil, fmt.Errorf("device %q: unknown command table %q", dev.ID, dev.Table)
		}
		byDevice[dev.ID] = tbl
	}
	return byDevice, nil
}

// buildBindings converts item configuration entries to registry bindings.
func buildBindings(items []config.ItemConfig) []binding.Binding {
	bindings := make([]binding.Binding, 0, len(items))
	for _, it := range items {
		bindings = append(bindings, binding.Binding{
			Item:        it.Item,
			Device:      it.Device,
			Command:     it.Command,
			Read:        it.Read,
			Write:       it.Write,
			ReadInitial: it.ReadInitial,
			ReadAll:     it.ReadAll,
			Cycle:       time.Duration(it.CycleSeconds) * time.Second,
		})
	}
	return bindings
}
