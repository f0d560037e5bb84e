// Package dispatch resolves normalized inbound events against a declarative
// command table and drives the multi-turn "ask" conversations that collect
// typed arguments across successive messages.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ParamType tags a command argument slot with its expected primitive type.
// The set is closed on purpose: slot parsing is a table lookup, not
// reflection.
type ParamType int

const (
	ParamString ParamType = iota
	ParamInt
	ParamFloat
)

func (t ParamType) String() string {
	switch t {
	case ParamString:
		return "string"
	case ParamInt:
		return "integer"
	case ParamFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Parse converts raw user text into the slot's Go value. Numeric slots use
// strict parsing; string slots accept any non-empty text.
func (t ParamType) Parse(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case ParamString:
		if raw == "" {
			return nil, fmt.Errorf("empty value")
		}
		return raw, nil
	case ParamInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return v, nil
	case ParamFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a float: %q", raw)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported slot type %d", int(t))
	}
}

// Slot is one typed parameter of a command.
type Slot struct {
	Name string
	Type ParamType
}

// Reply is what an action (or the dispatcher itself) wants sent back.
// ReplyMarkup is an already-serialized keyboard descriptor.
type Reply struct {
	Text        string
	ReplyMarkup string
}

// Call carries the resolved invocation to the bound action. Args are in slot
// order and already converted to the slot's type (string, int64 or float64).
type Call struct {
	ChatID  string
	Command string
	Args    []interface{}
}

// Action is the capability bound to a command at registration time.
type Action func(ctx context.Context, call Call) ([]Reply, error)

// Command is one declarative table entry. Prompts, when present, are asked
// one per slot whenever the command is invoked without enough arguments.
type Command struct {
	Name        string
	Menu        string
	Description string
	Slots       []Slot
	Prompts     []string
	Action      Action
}

// MenuNone marks commands that belong to no menu keyboard.
const MenuNone = "/none"

// Registry is the read-only command table consulted at dispatch time. All
// validation happens at registration so dispatch never discovers a malformed
// entry.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command to the table. It rejects duplicate names, missing
// actions, prompt/slot count mismatches and duplicate slot names.
func (r *Registry) Register(cmd Command) error {
	cmd.Name = strings.TrimSpace(cmd.Name)
	cmd.Menu = strings.TrimSpace(cmd.Menu)

	if !strings.HasPrefix(cmd.Name, "/") || len(cmd.Name) < 2 {
		return fmt.Errorf("dispatch: command name %q must start with '/'", cmd.Name)
	}
	if cmd.Menu == "" {
		cmd.Menu = MenuNone
	}
	if !strings.HasPrefix(cmd.Menu, "/") {
		return fmt.Errorf("dispatch: menu %q must start with '/'", cmd.Menu)
	}
	if cmd.Action == nil {
		return fmt.Errorf("dispatch: command %q has no action", cmd.Name)
	}
	if len(cmd.Prompts) > 0 && len(cmd.Prompts) != len(cmd.Slots) {
		return fmt.Errorf("dispatch: command %q declares %d prompts for %d slots",
			cmd.Name, len(cmd.Prompts), len(cmd.Slots))
	}
	seen := make(map[string]bool, len(cmd.Slots))
	for _, slot := range cmd.Slots {
		if slot.Name == "" {
			return fmt.Errorf("dispatch: command %q has an unnamed slot", cmd.Name)
		}
		if seen[slot.Name] {
			return fmt.Errorf("dispatch: command %q repeats slot %q", cmd.Name, slot.Name)
		}
		seen[slot.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("dispatch: command %q already registered", cmd.Name)
	}
	r.commands[cmd.Name] = &cmd
	return nil
}

// MustRegister is Register for static tables built at startup.
func (r *Registry) MustRegister(cmd Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// CommandsForMenu returns the commands grouped under a menu, sorted by name.
func (r *Registry) CommandsForMenu(menu string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Command
	for _, cmd := range r.commands {
		if cmd.Menu == menu {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Menus returns the distinct menu identifiers, sorted, excluding MenuNone.
func (r *Registry) Menus() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool)
	for _, cmd := range r.commands {
		if cmd.Menu != MenuNone {
			set[cmd.Menu] = true
		}
	}
	out := make([]string, 0, len(set))
	for menu := range set {
		out = append(out, menu)
	}
	sort.Strings(out)
	return out
}

// IsMenu reports whether name identifies a registered menu.
func (r *Registry) IsMenu(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cmd := range r.commands {
		if cmd.Menu == name && cmd.Menu != MenuNone {
			return true
		}
	}
	return false
}
