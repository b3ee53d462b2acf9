package tagcmd_test

import (
	"slices"
	"sort"
	"testing"

	"github.com/hazyhaar/marque/tagcmd"
)

// tagSet is a test double for the bookmark tag view.
type tagSet map[string]bool

func (s tagSet) HasTag(name string) bool { return s[name] }
func (s tagSet) AddTag(name string)      { s[name] = true }
func (s tagSet) RemoveTag(name string)   { delete(s, name) }
func (s tagSet) TagNames() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func TestToReadCommand(t *testing.T) {
	e := tagcmd.New(tagcmd.Builtin())

	b := tagSet{"!toread": true, "golang": true}
	e.Apply(b)

	if b["!toread"] {
		t.Error("reserved tag should be removed")
	}
	if !b["toread"] {
		t.Error("toread tag should be added")
	}
	if !b["golang"] {
		t.Error("ordinary tags must survive")
	}
}

func TestToReadIdempotent(t *testing.T) {
	e := tagcmd.New(tagcmd.Builtin())

	b := tagSet{"!toread": true, "toread": true}
	e.Apply(b)

	if got := b.TagNames(); !slices.Equal(got, []string{"toread"}) {
		t.Errorf("tags = %v, want [toread]", got)
	}
}

func TestReadCommand(t *testing.T) {
	e := tagcmd.New(tagcmd.Builtin())

	b := tagSet{"!read": true, "toread": true, "golang": true}
	e.Apply(b)

	if got := b.TagNames(); !slices.Equal(got, []string{"golang"}) {
		t.Errorf("tags = %v, want [golang]", got)
	}
}

func TestNoMatchingCommands(t *testing.T) {
	e := tagcmd.New(tagcmd.Builtin())

	b := tagSet{"golang": true, "sqlite": true}
	e.Apply(b)

	if got := b.TagNames(); !slices.Equal(got, []string{"golang", "sqlite"}) {
		t.Errorf("tags = %v", got)
	}
}

func TestCustomRegistryIsolated(t *testing.T) {
	reg := map[string]tagcmd.Command{
		"!pin": tagcmd.CommandFunc(func(b tagcmd.Bookmark) { b.AddTag("pinned") }),
	}
	e := tagcmd.New(reg)
	e.Register("!star", tagcmd.CommandFunc(func(b tagcmd.Bookmark) { b.AddTag("starred") }))

	// Mutating the engine must not leak into the caller's map.
	if _, ok := reg["!star"]; ok {
		t.Fatal("engine registry not isolated from the input map")
	}

	b := tagSet{"!pin": true, "!star": true}
	e.Apply(b)
	if got := b.TagNames(); !slices.Equal(got, []string{"pinned", "starred"}) {
		t.Errorf("tags = %v", got)
	}
}
