// Package node tracks the fleet of remote shell-executor nodes
// connected to the broker: presence, the "locus" picker policy, and
// fuzzy name lookup for chat commands.
package node

import (
	"sort"
	"strings"
	"sync"
)

// Node is one remote executor connected to the broker. An ejected node
// stays in the table, refusing new submissions, rather than being
// modeled as a separate type, so the table's value type stays uniform.
type Node struct {
	Name    string
	Version string
	ejected bool
}

// CanAcceptJobs reports whether jobs may be submitted to this node.
func (n *Node) CanAcceptJobs() bool {
	return !n.ejected
}

// Ejected reports whether this node has been ejected from the grid.
func (n *Node) Ejected() bool {
	return n.ejected
}

func (n *Node) String() string {
	return n.Name
}

// Table is the registry of nodes currently known to the controller,
// guarded by a mutex: chat and broker handling run on separate
// goroutines that both touch the table.
type Table struct {
	mu    sync.Mutex
	nodes map[string]*Node
	order []string // insertion order, for picker policy and stable iteration
	locus string
}

// NewTable creates an empty node table.
func NewTable() *Table {
	return &Table{nodes: make(map[string]*Node)}
}

// Seen registers the presence of a node, creating it if new or
// updating its reported version if already present.
func (t *Table) Seen(name, version string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.nodes[name]; ok {
		existing.Version = version
		existing.ejected = false
		return existing
	}
	n := &Node{Name: name, Version: version}
	t.nodes[name] = n
	t.order = append(t.order, name)
	return n
}

// Gone removes a node from the table.
func (t *Table) Gone(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[name]; !ok {
		return
	}
	delete(t.nodes, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Eject marks a node as ejected: it stays in the table but refuses
// further submissions.
func (t *Table) Eject(name string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[name]
	if !ok {
		return nil, false
	}
	n.ejected = true
	return n, true
}

// Present reports whether a node with the given exact name is in the
// table.
func (t *Table) Present(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nodes[name]
	return ok
}

// HasNodes reports whether any node is currently tracked.
func (t *Table) HasNodes() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes) > 0
}

// Get returns the node with the given exact name, if any.
func (t *Table) Get(name string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[name]
	return n, ok
}

// All returns every tracked node in insertion order.
func (t *Table) All() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.nodes[name])
	}
	return out
}

// ByName performs a three-tier fuzzy lookup: an exact (case-sensitive) match wins outright; failing that, every
// case-insensitive match is returned; failing that, every node whose
// name has q as a prefix is returned.
func (t *Table) ByName(q string) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.nodes[q]; ok {
		return []*Node{n}
	}

	var ci []*Node
	lowerQ := strings.ToLower(q)
	for _, name := range t.order {
		if strings.ToLower(name) == lowerQ {
			ci = append(ci, t.nodes[name])
		}
	}
	if len(ci) > 0 {
		return ci
	}

	var prefixed []*Node
	for _, name := range t.order {
		if strings.HasPrefix(name, q) {
			prefixed = append(prefixed, t.nodes[name])
		}
	}
	return prefixed
}

// Pick selects a node to submit a job to: prefer the given user
// locus if it names a present
// node that can accept jobs; else the table-global locus if present
// (ejected or not); else the first node
// (in insertion order) that can accept jobs, which also becomes the
// new global locus; else nil.
func (t *Table) Pick(userLocus string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if userLocus != "" {
		if n, ok := t.nodes[userLocus]; ok && n.CanAcceptJobs() {
			return n
		}
	}

	if n, ok := t.nodes[t.locus]; ok {
		return n
	}

	for _, name := range t.order {
		n := t.nodes[name]
		if n.CanAcceptJobs() {
			t.locus = name
			return n
		}
	}
	return nil
}

// Locus returns the current table-global locus node name, which may
// name an absent node or be empty.
func (t *Table) Locus() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locus
}

// SetLocus forces the table-global locus, independent of picker logic.
// Used to seed the locus from the configured target node, and by tests.
func (t *Table) SetLocus(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locus = name
}

// Names returns every tracked node name, sorted, for deterministic
// display output (e.g. `!nodes`).
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
