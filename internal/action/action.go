// Package action translates client input into integer action codes.
//
// Simple action spaces map a label to its index in an ordered list.
// Advanced action spaces map the set of currently held keys to a code,
// matching the whole set exactly and falling back to the "no keys" entry.
package action

import (
	"fmt"
	"sort"
	"strings"
)

// Mode is the action-space kind of a translator.
type Mode string

const (
	ModeSimple   Mode = "simple"
	ModeAdvanced Mode = "advanced"
)

// Binding maps one key set to an action code. A nil Keys slice is the
// "no keys" entry, equivalent to an empty set.
type Binding struct {
	Keys   []string
	Action int
}

// Table is an immutable key-set to action lookup.
type Table struct {
	codes      map[string]int
	defaultSet bool
	fallback   int
}

// NewTable builds a table from bindings. Later bindings for the same set
// replace earlier ones.
func NewTable(bindings []Binding) *Table {
	t := &Table{codes: make(map[string]int, len(bindings))}
	for _, b := range bindings {
		k := setKey(b.Keys)
		t.codes[k] = b.Action
		if k == "" {
			t.defaultSet = true
			t.fallback = b.Action
		}
	}
	return t
}

// NewIndexedTable builds a table where each key set's position is its
// action code.
func NewIndexedTable(keySets [][]string) *Table {
	bindings := make([]Binding, len(keySets))
	for i, ks := range keySets {
		bindings[i] = Binding{Keys: ks, Action: i}
	}
	return NewTable(bindings)
}

// Lookup returns the code for an exact key set, or the default.
func (t *Table) Lookup(keys []string) int {
	if code, ok := t.codes[setKey(keys)]; ok {
		return code
	}
	return t.Default()
}

// Default is the "no keys" code, or 0 when the table has none.
func (t *Table) Default() int {
	if t.defaultSet {
		return t.fallback
	}
	return 0
}

// Len returns the number of distinct key sets.
func (t *Table) Len() int {
	return len(t.codes)
}

// setKey canonicalises a key set so order and duplicates do not matter.
func setKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	uniq := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		uniq[k] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for k := range uniq {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// Translator holds the action-space configuration of one session and, for
// advanced spaces, the set of keys currently held.
type Translator struct {
	mode   Mode
	labels map[string]int
	table  *Table
	valid  map[string]struct{}
	active map[string]struct{}
}

// NewSimple returns a translator for an ordered label list.
func NewSimple(labels []string) *Translator {
	idx := make(map[string]int, len(labels))
	for i, l := range labels {
		l = normalize(l)
		if _, dup := idx[l]; !dup {
			idx[l] = i
		}
	}
	return &Translator{mode: ModeSimple, labels: idx}
}

// NewAdvanced returns a translator for a key-set table. An empty validKeys
// means every key is accepted.
func NewAdvanced(table *Table, validKeys []string) *Translator {
	t := &Translator{
		mode:   ModeAdvanced,
		table:  table,
		active: make(map[string]struct{}),
	}
	if len(validKeys) > 0 {
		t.valid = make(map[string]struct{}, len(validKeys))
		for _, k := range validKeys {
			t.valid[k] = struct{}{}
		}
	}
	return t
}

// Mode returns the action-space kind.
func (t *Translator) Mode() Mode {
	return t.mode
}

// Initial is the action in effect before any input.
func (t *Translator) Initial() int {
	if t.mode == ModeAdvanced {
		return t.table.Default()
	}
	return 0
}

// Label maps a simple action label to its code. Unknown labels are 0.
func (t *Translator) Label(label string) int {
	if code, ok := t.labels[normalize(label)]; ok {
		return code
	}
	return 0
}

// KeyDown adds key to the active set if it passes the allow-list.
func (t *Translator) KeyDown(key string) {
	if t.valid != nil {
		if _, ok := t.valid[key]; !ok {
			return
		}
	}
	t.active[key] = struct{}{}
}

// KeyUp removes key from the active set.
func (t *Translator) KeyUp(key string) {
	delete(t.active, key)
}

// Keys applies key-down then key-up transitions and returns the resolved code.
func (t *Translator) Keys(down, up []string) int {
	for _, k := range down {
		t.KeyDown(k)
	}
	for _, k := range up {
		t.KeyUp(k)
	}
	return t.Resolve()
}

// Resolve looks up the current active set.
func (t *Translator) Resolve() int {
	return t.table.Lookup(t.ActiveKeys())
}

// ActiveKeys returns the held keys, sorted.
func (t *Translator) ActiveKeys() []string {
	keys := make([]string, 0, len(t.active))
	for k := range t.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Translator) String() string {
	if t.mode == ModeAdvanced {
		return fmt.Sprintf("advanced(%d key sets, %d valid keys)", t.table.Len(), len(t.valid))
	}
	return fmt.Sprintf("simple(%d labels)", len(t.labels))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
