package topology

import (
	"testing"

	"netval/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func device(id, hostname, role string) models.Device {
	return models.Device{ID: id, Hostname: hostname, Role: role}
}

func link(id, a, aIf, b, bIf string, allowed ...int) models.Link {
	return models.Link{
		ID: id, SourceDeviceID: a, SourceInterface: aIf,
		TargetDeviceID: b, TargetInterface: bIf,
		VlanAllowList: allowed,
	}
}

func TestAssembleNodeOrder(t *testing.T) {
	g := Assemble([]models.Device{
		device("c", "SW-C", "switch"),
		device("a", "SW-A", "switch"),
		device("b", "SW-B", "switch"),
	}, nil, nil)
	assert.Equal(t, []string{"a", "b", "c"}, g.NodeIDs())
}

func TestShortestPathTieBreak(t *testing.T) {
	// Two equal-length paths a->b->d and a->c->d; BFS must pick the lexically
	// smaller intermediate.
	g := Assemble([]models.Device{
		device("a", "A", "switch"), device("b", "B", "switch"),
		device("c", "C", "switch"), device("d", "D", "switch"),
	}, []models.Link{
		link("l1", "a", "1", "c", "1"),
		link("l2", "a", "2", "b", "1"),
		link("l3", "c", "2", "d", "1"),
		link("l4", "b", "2", "d", "2"),
	}, nil)

	nodes, edges, ok := g.ShortestPath("a", "d")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "d"}, nodes)
	require.Len(t, edges, 2)
	assert.Equal(t, "l2", edges[0].LinkID)
	assert.Equal(t, "l4", edges[1].LinkID)
}

func TestShortestPathNoPath(t *testing.T) {
	g := Assemble([]models.Device{
		device("a", "A", "switch"), device("b", "B", "switch"),
	}, nil, nil)
	_, _, ok := g.ShortestPath("a", "b")
	assert.False(t, ok)

	nodes, edges, ok := g.ShortestPath("a", "a")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, nodes)
	assert.Empty(t, edges)
}

func TestEdgeAllowsVlan(t *testing.T) {
	unconstrained := Edge{}
	assert.True(t, unconstrained.AllowsVlan(42))

	constrained := Edge{Allowed: []int{10, 20}}
	assert.True(t, constrained.AllowsVlan(10))
	assert.False(t, constrained.AllowsVlan(30))
}

func TestEdgeOther(t *testing.T) {
	e := Edge{A: "a", AIf: "Gi0/1", B: "b", BIf: "Gi0/2"}
	peer, near, far := e.Other("a")
	assert.Equal(t, "b", peer)
	assert.Equal(t, "Gi0/1", near)
	assert.Equal(t, "Gi0/2", far)

	peer, near, far = e.Other("b")
	assert.Equal(t, "a", peer)
	assert.Equal(t, "Gi0/2", near)
	assert.Equal(t, "Gi0/1", far)
}

func TestReachabilityMatrix(t *testing.T) {
	g := Assemble([]models.Device{
		device("a", "A", "switch"), device("b", "B", "switch"),
		device("c", "C", "switch"),
	}, []models.Link{
		link("l1", "a", "1", "b", "1"),
	}, nil)

	m := g.Reachability()
	assert.True(t, m["A"]["B"])
	assert.True(t, m["B"]["A"])
	assert.False(t, m["A"]["C"])
	assert.True(t, m["C"]["C"])
}

func TestAssembleDropsDanglingLinks(t *testing.T) {
	g := Assemble([]models.Device{
		device("a", "A", "switch"),
	}, []models.Link{
		link("l1", "a", "1", "ghost", "1"),
	}, nil)
	assert.Empty(t, g.Edges)
}

func TestNodeVlans(t *testing.T) {
	d := device("a", "A", "switch")
	d.Vlans = []models.DeviceVlan{{DeviceID: "a", VlanID: 20}, {DeviceID: "a", VlanID: 10, Name: "USERS"}}
	g := Assemble([]models.Device{d}, nil, nil)

	n := g.Nodes["a"]
	assert.True(t, n.HasVlan(10))
	assert.False(t, n.HasVlan(30))
	assert.Equal(t, []int{10, 20}, n.SortedVlans())
}
