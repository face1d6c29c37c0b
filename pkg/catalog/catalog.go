// Package catalog builds the unified tool catalog from per-backend tool lists.
package catalog

import (
	"sort"
	"time"

	"github.com/toolgate/toolgate/pkg/mcp"
)

// Separator joins a backend prefix and a tool name into a public name.
const Separator = "."

// Source is one backend's contribution to the catalog: its connected tool
// list and the prefix its tools are published under.
type Source struct {
	Backend string
	Prefix  string
	Tools   []mcp.Tool
}

// Entry is one published tool: the public (prefixed) name and the backend
// that serves it.
type Entry struct {
	Name     string
	Backend  string
	ToolName string
	Tool     mcp.Tool
}

// Collision records a public name claimed by more than one backend. The
// earlier-registered backend keeps the name; the loser's tool is hidden.
type Collision struct {
	Name   string
	Winner string
	Loser  string
}

// Snapshot is an immutable view of the merged catalog. Lookups and listings
// never mutate it, so a snapshot can be shared across requests without locks.
type Snapshot struct {
	entries    map[string]Entry
	names      []string
	collisions []Collision
	builtAt    time.Time
}

// Merge builds a snapshot from sources in registration order. When two
// sources publish the same public name, the earlier source wins and a
// Collision is recorded.
func Merge(sources []Source) *Snapshot {
	s := &Snapshot{
		entries: make(map[string]Entry),
		builtAt: time.Now(),
	}

	for _, src := range sources {
		for _, tool := range src.Tools {
			name := PublicName(src.Prefix, tool.Name)
			if existing, taken := s.entries[name]; taken {
				s.collisions = append(s.collisions, Collision{
					Name:   name,
					Winner: existing.Backend,
					Loser:  src.Backend,
				})
				continue
			}
			published := tool
			published.Name = name
			s.entries[name] = Entry{
				Name:     name,
				Backend:  src.Backend,
				ToolName: tool.Name,
				Tool:     published,
			}
			s.names = append(s.names, name)
		}
	}

	sort.Strings(s.names)
	return s
}

// PublicName joins a prefix and a tool name. An empty prefix publishes the
// tool under its bare name.
func PublicName(prefix, tool string) string {
	if prefix == "" {
		return tool
	}
	return prefix + Separator + tool
}

// Resolve looks up a public name and returns its entry.
func (s *Snapshot) Resolve(name string) (Entry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// Tools returns all published tools sorted by public name.
func (s *Snapshot) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.entries[name].Tool)
	}
	return out
}

// Len returns the number of published tools.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Collisions returns the hidden-name records from the merge, in the order
// they were discovered.
func (s *Snapshot) Collisions() []Collision {
	return s.collisions
}

// BuiltAt returns when the snapshot was merged.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Empty returns a snapshot with no tools.
func Empty() *Snapshot {
	return &Snapshot{entries: make(map[string]Entry), builtAt: time.Now()}
}
