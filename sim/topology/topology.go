// Package topology models the static server network as an undirected,
// unweighted graph and answers hop-distance queries between servers.
//
// Distances are computed once at construction; the topology never changes
// afterwards, so a *Topology is safe for concurrent reads and may be shared
// between a live simulation and its what-if copies.
package topology

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// ErrNoPath is returned when two servers are not connected, or when either
// server is not part of the topology.
var ErrNoPath = errors.New("no path between servers")

// Edge is an undirected link between two servers.
type Edge struct {
	A int64 `yaml:"server_1"`
	B int64 `yaml:"server_2"`
}

// Topology holds the server graph and its all-pairs hop distances.
type Topology struct {
	g     *simple.UndirectedGraph
	paths path.AllShortest
	nodes []int64
}

// New builds a topology over the given server ids. Edges referencing
// unknown servers and self-loops are rejected.
func New(servers []int64, edges []Edge) (*Topology, error) {
	g := simple.NewUndirectedGraph()
	for _, id := range servers {
		if g.Node(id) != nil {
			return nil, fmt.Errorf("duplicate server %d in topology", id)
		}
		g.AddNode(simple.Node(id))
	}
	for i, e := range edges {
		if e.A == e.B {
			return nil, fmt.Errorf("topology edge[%d]: self-loop on server %d", i, e.A)
		}
		if g.Node(e.A) == nil || g.Node(e.B) == nil {
			return nil, fmt.Errorf("topology edge[%d]: unknown server in %d-%d", i, e.A, e.B)
		}
		g.SetEdge(simple.Edge{F: simple.Node(e.A), T: simple.Node(e.B)})
	}
	nodes := append([]int64(nil), servers...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return &Topology{
		g:     g,
		paths: path.DijkstraAllPaths(g),
		nodes: nodes,
	}, nil
}

// HopDistance returns the unweighted shortest-path length between a and b.
// A server is at distance 0 from itself.
func (t *Topology) HopDistance(a, b int64) (int, error) {
	if t.g.Node(a) == nil || t.g.Node(b) == nil {
		return 0, fmt.Errorf("hop distance %d-%d: unknown server: %w", a, b, ErrNoPath)
	}
	if a == b {
		return 0, nil
	}
	w := t.paths.Weight(a, b)
	if math.IsInf(w, 1) {
		return 0, fmt.Errorf("hop distance %d-%d: %w", a, b, ErrNoPath)
	}
	return int(w), nil
}

// Neighbors returns the servers directly linked to id, in ascending order.
func (t *Topology) Neighbors(id int64) []int64 {
	if t.g.Node(id) == nil {
		return nil
	}
	var out []int64
	it := t.g.From(id)
	for it.Next() {
		out = append(out, it.Node().ID())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Nodes returns all server ids in ascending order.
func (t *Topology) Nodes() []int64 {
	return append([]int64(nil), t.nodes...)
}

// Connected reports whether every pair of servers has a path.
func (t *Topology) Connected() bool {
	for i := 1; i < len(t.nodes); i++ {
		if _, err := t.HopDistance(t.nodes[0], t.nodes[i]); err != nil {
			return false
		}
	}
	return true
}
