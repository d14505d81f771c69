// Package source defines the closed set of conversation log providers memex ingests.
package source

import "fmt"

// Kind identifies one log provider or sub-format.
// The set is closed; Index returns a dense ordinal usable as an array index.
type Kind uint8

const (
	Claude Kind = iota
	CodexSession
	CodexHistory

	kindCount
)

// Count is the number of source kinds. Counter arrays are sized with it.
const Count = int(kindCount)

var kindNames = [Count]string{
	Claude:       "claude",
	CodexSession: "codex-session",
	CodexHistory: "codex-history",
}

// All returns every kind in ordinal order.
func All() []Kind {
	return []Kind{Claude, CodexSession, CodexHistory}
}

// Index returns the dense ordinal of the kind.
func (k Kind) Index() int {
	return int(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k < kindCount
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind by name, so JSON output reads "claude" not 0.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid source kind: %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// ParseKind resolves a kind from its name. The provider name "codex"
// is not accepted here since it covers two kinds; use ParseFilter for that.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown source: %s", name)
}

// ParseFilter resolves a list of kind or provider names into kinds.
// Provider names expand to all kinds of that provider.
func ParseFilter(names []string) ([]Kind, error) {
	if len(names) == 0 {
		return All(), nil
	}

	seen := make(map[Kind]bool)
	var kinds []Kind
	add := func(k Kind) {
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}

	for _, name := range names {
		if g, ok := groupByTitle(name); ok {
			for _, k := range g.Kinds {
				add(k)
			}
			continue
		}
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		add(k)
	}
	return kinds, nil
}

// Group is a set of kinds displayed together as one provider.
type Group struct {
	Title string
	Kinds []Kind
}

// DefaultGroups returns the display grouping: claude alone, both codex
// sub-formats combined.
func DefaultGroups() []Group {
	return []Group{
		{Title: "claude", Kinds: []Kind{Claude}},
		{Title: "codex", Kinds: []Kind{CodexSession, CodexHistory}},
	}
}

func groupByTitle(title string) (Group, bool) {
	for _, g := range DefaultGroups() {
		if g.Title == title {
			return g, true
		}
	}
	return Group{}, false
}
