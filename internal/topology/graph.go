// Package topology builds the immutable in-memory graph a check pass runs
// over. Neighbor order is sorted by device id so path computation is
// reproducible run to run.
package topology

import (
	"sort"

	"netval/internal/confparse"
	"netval/internal/models"
)

// Extras carries the per-device facts recovered from the latest parsed
// configuration that the store does not model relationally.
type Extras struct {
	Routes    []confparse.StaticRoute
	DHCPPools []string
}

type Node struct {
	ID           string
	Hostname     string
	Role         string
	ManagementIP string
	Vlans        map[int]string
	Interfaces   map[string]models.Interface
	Routes       []confparse.StaticRoute
	DHCPPools    []string
}

// HasVlan reports whether the VLAN is present in the device's VLAN database.
func (n *Node) HasVlan(id int) bool {
	_, ok := n.Vlans[id]
	return ok
}

// SortedVlans returns the VLAN ids in ascending order.
func (n *Node) SortedVlans() []int {
	out := make([]int, 0, len(n.Vlans))
	for v := range n.Vlans {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

type Edge struct {
	LinkID  string
	A, B    string
	AIf     string
	BIf     string
	Medium  string
	Allowed []int
}

// AllowsVlan treats an empty allow-list as unconstrained.
func (e *Edge) AllowsVlan(v int) bool {
	if len(e.Allowed) == 0 {
		return true
	}
	for _, a := range e.Allowed {
		if a == v {
			return true
		}
	}
	return false
}

// Other returns the far endpoint and the interface names (near, far) as seen
// from the given device.
func (e *Edge) Other(deviceID string) (peer, nearIf, farIf string) {
	if e.A == deviceID {
		return e.B, e.AIf, e.BIf
	}
	return e.A, e.BIf, e.AIf
}

type neighbor struct {
	id   string
	edge int
}

type Graph struct {
	Nodes map[string]*Node
	Edges []Edge

	adj   map[string][]neighbor
	order []string
}

// Assemble builds the graph from the project's devices and links. The result
// is immutable for the duration of a check pass.
func Assemble(devices []models.Device, links []models.Link, extras map[string]Extras) *Graph {
	g := &Graph{
		Nodes: make(map[string]*Node, len(devices)),
		adj:   make(map[string][]neighbor),
	}
	for _, d := range devices {
		n := &Node{
			ID:           d.ID,
			Hostname:     d.Hostname,
			Role:         d.Role,
			ManagementIP: d.ManagementIP,
			Vlans:        make(map[int]string, len(d.Vlans)),
			Interfaces:   make(map[string]models.Interface, len(d.Interfaces)),
		}
		if ex, ok := extras[d.ID]; ok {
			n.Routes = ex.Routes
			n.DHCPPools = ex.DHCPPools
		}
		for _, v := range d.Vlans {
			n.Vlans[v.VlanID] = v.Name
		}
		for _, i := range d.Interfaces {
			n.Interfaces[i.Name] = i
		}
		g.Nodes[d.ID] = n
		g.order = append(g.order, d.ID)
	}
	sort.Strings(g.order)

	for _, l := range links {
		if _, ok := g.Nodes[l.SourceDeviceID]; !ok {
			continue
		}
		if _, ok := g.Nodes[l.TargetDeviceID]; !ok {
			continue
		}
		allowed := append([]int(nil), l.VlanAllowList...)
		sort.Ints(allowed)
		idx := len(g.Edges)
		g.Edges = append(g.Edges, Edge{
			LinkID:  l.ID,
			A:       l.SourceDeviceID,
			AIf:     l.SourceInterface,
			B:       l.TargetDeviceID,
			BIf:     l.TargetInterface,
			Medium:  l.Medium,
			Allowed: allowed,
		})
		g.adj[l.SourceDeviceID] = append(g.adj[l.SourceDeviceID], neighbor{id: l.TargetDeviceID, edge: idx})
		g.adj[l.TargetDeviceID] = append(g.adj[l.TargetDeviceID], neighbor{id: l.SourceDeviceID, edge: idx})
	}
	for id := range g.adj {
		ns := g.adj[id]
		sort.Slice(ns, func(i, j int) bool {
			if ns[i].id != ns[j].id {
				return ns[i].id < ns[j].id
			}
			return ns[i].edge < ns[j].edge
		})
		g.adj[id] = ns
	}
	return g
}

// NodeIDs returns all device ids in lexical order.
func (g *Graph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

// EdgesAt returns the edges incident to a device, neighbor-sorted.
func (g *Graph) EdgesAt(deviceID string) []*Edge {
	var out []*Edge
	for _, n := range g.adj[deviceID] {
		out = append(out, &g.Edges[n.edge])
	}
	return out
}

// ShortestPath runs BFS from src to dst. Ties break toward the lexically
// smaller device id. Returns the node path and the edges walked, or ok=false
// when no path exists.
func (g *Graph) ShortestPath(src, dst string) (nodes []string, edges []*Edge, ok bool) {
	if src == dst {
		return []string{src}, nil, true
	}
	if _, exists := g.Nodes[src]; !exists {
		return nil, nil, false
	}
	prev := map[string]neighbor{}
	visited := map[string]bool{src: true}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.adj[cur] {
			if visited[nb.id] {
				continue
			}
			visited[nb.id] = true
			prev[nb.id] = neighbor{id: cur, edge: nb.edge}
			if nb.id == dst {
				return g.unwind(src, dst, prev)
			}
			queue = append(queue, nb.id)
		}
	}
	return nil, nil, false
}

func (g *Graph) unwind(src, dst string, prev map[string]neighbor) ([]string, []*Edge, bool) {
	var nodes []string
	var edges []*Edge
	cur := dst
	for cur != src {
		p := prev[cur]
		nodes = append([]string{cur}, nodes...)
		edges = append([]*Edge{&g.Edges[p.edge]}, edges...)
		cur = p.id
	}
	nodes = append([]string{src}, nodes...)
	return nodes, edges, true
}

// Reachability computes the dense path-existence matrix over every ordered
// pair of devices, keyed by hostname.
func (g *Graph) Reachability() map[string]map[string]bool {
	matrix := make(map[string]map[string]bool, len(g.order))
	for _, src := range g.order {
		row := make(map[string]bool, len(g.order))
		reached := map[string]bool{src: true}
		queue := []string{src}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range g.adj[cur] {
				if !reached[nb.id] {
					reached[nb.id] = true
					queue = append(queue, nb.id)
				}
			}
		}
		for _, dst := range g.order {
			row[g.Nodes[dst].Hostname] = reached[dst]
		}
		matrix[g.Nodes[src].Hostname] = row
	}
	return matrix
}
