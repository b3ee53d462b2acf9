// Package tagcmd lets reserved tags act as post-processing commands on a
// bookmark instead of being stored literally.
//
// The rule registry is an explicit map owned by the Engine instance — never
// a process-wide global — so tests and callers can build isolated engines
// with their own command sets.
package tagcmd

import (
	"sort"
)

// Bookmark is the minimal mutable view a command operates on. The caller
// owns persistence; commands only rewrite the tag set.
type Bookmark interface {
	HasTag(name string) bool
	AddTag(name string)
	RemoveTag(name string)
	TagNames() []string
}

// Command is one reserved-tag rule. Run may add or remove ordinary tags;
// the reserved tag itself is removed by the engine before Run is invoked.
type Command interface {
	Run(b Bookmark)
}

// CommandFunc adapts a function to the Command interface.
type CommandFunc func(b Bookmark)

func (f CommandFunc) Run(b Bookmark) { f(b) }

// Engine applies the registered commands to a bookmark's tag set.
type Engine struct {
	registry map[string]Command
}

// New creates an Engine with the given rules. Pass Builtin() for the stock
// command set, or compose your own map.
func New(registry map[string]Command) *Engine {
	reg := make(map[string]Command, len(registry))
	for k, v := range registry {
		reg[k] = v
	}
	return &Engine{registry: reg}
}

// Register adds or replaces a rule.
func (e *Engine) Register(tag string, cmd Command) {
	e.registry[tag] = cmd
}

// Apply runs every matching command against b. Matching reserved tags are
// removed first, then the commands run in sorted tag order so the result is
// deterministic when a bookmark carries more than one command tag.
func (e *Engine) Apply(b Bookmark) {
	var matched []string
	for _, name := range b.TagNames() {
		if _, ok := e.registry[name]; ok {
			matched = append(matched, name)
		}
	}
	if len(matched) == 0 {
		return
	}
	sort.Strings(matched)

	for _, name := range matched {
		b.RemoveTag(name)
	}
	for _, name := range matched {
		e.registry[name].Run(b)
	}
}

// Builtin returns the stock rules:
//
//	!toread — mark to-read: adds the "toread" tag if absent
//	!read   — mark read: removes the "toread" tag
func Builtin() map[string]Command {
	return map[string]Command{
		"!toread": CommandFunc(func(b Bookmark) {
			if !b.HasTag("toread") {
				b.AddTag("toread")
			}
		}),
		"!read": CommandFunc(func(b Bookmark) {
			b.RemoveTag("toread")
		}),
	}
}
