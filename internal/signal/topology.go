package signal

import "sort"

// Edge is an undirected link, stored with A < B.
type Edge struct {
	A string `json:"a"`
	B string `json:"b"`
}

func newEdge(a, b string) Edge {
	if b < a {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// Topology is the routing graph plus the quarantine blacklist.
//
// INVARIANTS:
//   - adjacency is symmetric: b ∈ adj[a] ⇔ a ∈ adj[b]
//   - no self edges, no self blacklist entries
//   - every id in adj or blacklist was added and not removed
//
// The orchestrator owns the topology; it is not safe for concurrent use.
type Topology struct {
	adj       map[string]map[string]struct{}
	blacklist map[string]map[string]struct{}
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{
		adj:       make(map[string]map[string]struct{}),
		blacklist: make(map[string]map[string]struct{}),
	}
}

// AddCell registers id with no links. Adding a known id is a no-op.
func (t *Topology) AddCell(id string) {
	if _, ok := t.adj[id]; !ok {
		t.adj[id] = make(map[string]struct{})
	}
}

// Has reports whether id is registered.
func (t *Topology) Has(id string) bool {
	_, ok := t.adj[id]
	return ok
}

// Chain links ids in order as a linear chain (0-1, 1-2, ...), the initial
// shape of a graph-mode population.
func (t *Topology) Chain(ids []string) []Edge {
	var added []Edge
	for i, id := range ids {
		t.AddCell(id)
		if i > 0 {
			if ok, _ := t.Connect(ids[i-1], id); ok {
				added = append(added, newEdge(ids[i-1], id))
			}
		}
	}
	return added
}

// RemoveCell deletes id, every edge touching it and every blacklist entry
// naming it. Returns the removed edges sorted.
func (t *Topology) RemoveCell(id string) []Edge {
	var removed []Edge
	for n := range t.adj[id] {
		delete(t.adj[n], id)
		removed = append(removed, newEdge(id, n))
	}
	delete(t.adj, id)

	delete(t.blacklist, id)
	for owner, blocked := range t.blacklist {
		delete(blocked, id)
		if len(blocked) == 0 {
			delete(t.blacklist, owner)
		}
	}

	sortEdges(removed)
	return removed
}

// Connect links a and b and lifts any blacklist entry between them.
// Returns whether an edge was added and whether a blacklist entry was lifted.
// Unknown ids and self links are ignored.
func (t *Topology) Connect(a, b string) (added, unblocked bool) {
	if a == b || !t.Has(a) || !t.Has(b) {
		return false, false
	}

	unblocked = t.Unblock(a, b)

	if _, ok := t.adj[a][b]; !ok {
		t.adj[a][b] = struct{}{}
		t.adj[b][a] = struct{}{}
		added = true
	}
	return added, unblocked
}

// Disconnect removes the a-b edge and blacklists b from a's point of view.
// Returns whether an edge was removed and whether a new blacklist entry was
// created; repeating a disconnect returns (false, false).
func (t *Topology) Disconnect(a, b string) (removed, blacklisted bool) {
	if a == b || !t.Has(a) || !t.Has(b) {
		return false, false
	}

	if _, ok := t.adj[a][b]; ok {
		delete(t.adj[a], b)
		delete(t.adj[b], a)
		removed = true
	}

	blocked, ok := t.blacklist[a]
	if !ok {
		blocked = make(map[string]struct{})
		t.blacklist[a] = blocked
	}
	if _, ok := blocked[b]; !ok {
		blocked[b] = struct{}{}
		blacklisted = true
	}
	return removed, blacklisted
}

// Unblock lifts blacklist entries between a and b in both directions
// without adding an edge. Used in global mode, where there is no adjacency.
func (t *Topology) Unblock(a, b string) bool {
	lifted := t.unblock(a, b)
	if t.unblock(b, a) {
		lifted = true
	}
	return lifted
}

// Blocked reports whether either side has blacklisted the other.
func (t *Topology) Blocked(a, b string) bool {
	if _, ok := t.blacklist[a][b]; ok {
		return true
	}
	_, ok := t.blacklist[b][a]
	return ok
}

// Connected reports whether a and b share an edge.
func (t *Topology) Connected(a, b string) bool {
	_, ok := t.adj[a][b]
	return ok
}

// Neighbors returns id's adjacency list in ascending order.
func (t *Topology) Neighbors(id string) []string {
	return sortedKeys(t.adj[id])
}

// Degree returns the number of links id has.
func (t *Topology) Degree(id string) int {
	return len(t.adj[id])
}

// Quarantined returns the peers id has blacklisted, ascending.
func (t *Topology) Quarantined(id string) []string {
	return sortedKeys(t.blacklist[id])
}

// Edges returns every edge once, sorted.
func (t *Topology) Edges() []Edge {
	var out []Edge
	for a, ns := range t.adj {
		for b := range ns {
			if a < b {
				out = append(out, Edge{A: a, B: b})
			}
		}
	}
	sortEdges(out)
	return out
}

// Stats summarizes the graph shape.
type Stats struct {
	Edges       int     `json:"edges"`
	AvgDegree   float64 `json:"avg_degree"`
	Isolated    int     `json:"isolated"`
	Blacklisted int     `json:"blacklisted"`
}

// Stats computes summary statistics over every registered cell.
func (t *Topology) Stats() Stats {
	var s Stats
	degrees := 0
	for _, ns := range t.adj {
		degrees += len(ns)
		if len(ns) == 0 {
			s.Isolated++
		}
	}
	s.Edges = degrees / 2
	if len(t.adj) > 0 {
		s.AvgDegree = float64(degrees) / float64(len(t.adj))
	}
	for _, blocked := range t.blacklist {
		s.Blacklisted += len(blocked)
	}
	return s
}

// Unreachable counts cells blacklisted against every other registered
// cell, including a cell with no peers at all. It is the isolation measure
// for broadcast routing, where adjacency plays no part.
func (t *Topology) Unreachable() int {
	n := 0
	for id := range t.adj {
		reachable := false
		for other := range t.adj {
			if other != id && !t.Blocked(id, other) {
				reachable = true
				break
			}
		}
		if !reachable {
			n++
		}
	}
	return n
}

func (t *Topology) unblock(owner, peer string) bool {
	blocked, ok := t.blacklist[owner]
	if !ok {
		return false
	}
	if _, ok := blocked[peer]; !ok {
		return false
	}
	delete(blocked, peer)
	if len(blocked) == 0 {
		delete(t.blacklist, owner)
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
}
