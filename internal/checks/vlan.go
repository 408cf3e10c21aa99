package checks

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"netval/internal/topology"
)

// vlanFix is the remediation fragment for a VLAN missing from a device's
// VLAN database.
func vlanFix(v int) string {
	return fmt.Sprintf("vlan %d\n name VLAN%d", v, v)
}

// vlanContinuity verifies every VLAN on an edge's allow-list exists in both
// endpoints' VLAN databases.
func vlanContinuity(g *topology.Graph) []Result {
	var out []Result
	for i := range g.Edges {
		e := &g.Edges[i]
		for _, v := range e.Allowed {
			for _, end := range []struct {
				id, iface string
			}{{e.A, e.AIf}, {e.B, e.BIf}} {
				node := g.Nodes[end.id]
				if node.HasVlan(v) {
					continue
				}
				out = append(out, Result{
					CheckID:      "VLAN_CONTINUITY",
					Severity:     SeverityError,
					DeviceID:     end.id,
					Hostname:     node.Hostname,
					Interface:    end.iface,
					VlanID:       v,
					Detail:       fmt.Sprintf("VLAN %d allowed on link but absent from %s's VLAN database", v, node.Hostname),
					SuggestedFix: vlanFix(v),
				})
			}
		}
	}
	if len(out) == 0 {
		out = append(out, pass("VLAN_CONTINUITY", "all link allow-lists are continuous"))
	}
	return out
}

var reSVIName = regexp.MustCompile(`^Vlan(\d+)$`)

// vlanOrphanSVI flags SVIs whose VLAN is not present locally.
func vlanOrphanSVI(g *topology.Graph) []Result {
	var out []Result
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		names := make([]string, 0, len(node.Interfaces))
		for name := range node.Interfaces {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			iface := node.Interfaces[name]
			m := reSVIName.FindStringSubmatch(name)
			if m == nil || iface.IPAddress == "" {
				continue
			}
			v, _ := strconv.Atoi(m[1])
			if node.HasVlan(v) {
				continue
			}
			out = append(out, Result{
				CheckID:      "VLAN_ORPHAN_SVI",
				Severity:     SeverityError,
				DeviceID:     id,
				Hostname:     node.Hostname,
				Interface:    name,
				VlanID:       v,
				Detail:       fmt.Sprintf("SVI %s has an IP but VLAN %d is not in %s's VLAN database", name, v, node.Hostname),
				SuggestedFix: vlanFix(v),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, pass("VLAN_ORPHAN_SVI", "all SVIs are anchored"))
	}
	return out
}

// trunkNativeMismatch compares native VLANs across each trunk link.
func trunkNativeMismatch(g *topology.Graph) []Result {
	var out []Result
	for i := range g.Edges {
		e := &g.Edges[i]
		a, aOK := g.Nodes[e.A].Interfaces[e.AIf]
		b, bOK := g.Nodes[e.B].Interfaces[e.BIf]
		if !aOK || !bOK {
			continue
		}
		if a.Mode != "trunk" || b.Mode != "trunk" {
			continue
		}
		if a.VlanNative == nil || b.VlanNative == nil {
			continue
		}
		if *a.VlanNative == *b.VlanNative {
			continue
		}
		out = append(out, Result{
			CheckID:   "TRUNK_NATIVE_MISMATCH",
			Severity:  SeverityError,
			DeviceID:  e.B,
			Hostname:  g.Nodes[e.B].Hostname,
			Interface: e.BIf,
			VlanID:    *a.VlanNative,
			Detail: fmt.Sprintf("native VLAN %d on %s %s does not match native VLAN %d on %s %s",
				*b.VlanNative, g.Nodes[e.B].Hostname, e.BIf,
				*a.VlanNative, g.Nodes[e.A].Hostname, e.AIf),
			SuggestedFix: fmt.Sprintf("interface %s\n switchport trunk native vlan %d", e.BIf, *a.VlanNative),
			Previous:     strconv.Itoa(*b.VlanNative),
		})
	}
	if len(out) == 0 {
		out = append(out, pass("TRUNK_NATIVE_MISMATCH", "all trunk native VLANs agree"))
	}
	return out
}

// duplexMismatch flags links whose endpoints disagree on an explicit duplex
// setting. Auto or unset ends are skipped.
func duplexMismatch(g *topology.Graph) []Result {
	var out []Result
	for i := range g.Edges {
		e := &g.Edges[i]
		a, aOK := g.Nodes[e.A].Interfaces[e.AIf]
		b, bOK := g.Nodes[e.B].Interfaces[e.BIf]
		if !aOK || !bOK {
			continue
		}
		if !explicitDuplex(a.Duplex) || !explicitDuplex(b.Duplex) {
			continue
		}
		if a.Duplex == b.Duplex {
			continue
		}
		out = append(out, Result{
			CheckID:   "DUPLEX_MISMATCH",
			Severity:  SeverityError,
			DeviceID:  e.B,
			Hostname:  g.Nodes[e.B].Hostname,
			Interface: e.BIf,
			Detail: fmt.Sprintf("duplex %s on %s %s does not match duplex %s on %s %s",
				b.Duplex, g.Nodes[e.B].Hostname, e.BIf,
				a.Duplex, g.Nodes[e.A].Hostname, e.AIf),
			SuggestedFix: fmt.Sprintf("interface %s\n duplex %s", e.BIf, a.Duplex),
			Previous:     b.Duplex,
		})
	}
	if len(out) == 0 {
		out = append(out, pass("DUPLEX_MISMATCH", "no explicit duplex conflicts"))
	}
	return out
}

func explicitDuplex(d string) bool {
	return d == "full" || d == "half"
}
