package checks

import (
	"fmt"

	"netval/internal/topology"
)

// wlcJoinChain walks every (AP, WLC) pair and verifies the AP's access VLAN is
// carried on every trunk hop of the shortest path.
//
// Hop numbering starts at 1 on the first edge after the AP's uplink, so a
// failure "at hop 2" is the second switch-to-switch edge.
func wlcJoinChain(g *topology.Graph) []Result {
	var aps, wlcs []string
	for _, id := range g.NodeIDs() {
		switch g.Nodes[id].Role {
		case "ap":
			aps = append(aps, id)
		case "wlc":
			wlcs = append(wlcs, id)
		}
	}
	if len(aps) == 0 || len(wlcs) == 0 {
		return nil
	}

	var out []Result
	for _, apID := range aps {
		ap := g.Nodes[apID]
		apVlan, uplinkOK := apUplinkVlan(g, apID)
		if !uplinkOK {
			out = append(out, Result{
				CheckID:  "WLC_JOIN_CHAIN",
				Severity: SeverityError,
				DeviceID: apID,
				Hostname: ap.Hostname,
				Detail:   "AP uplink has no access VLAN.",
			})
			continue
		}
		for _, wlcID := range wlcs {
			wlc := g.Nodes[wlcID]
			nodes, edges, ok := g.ShortestPath(apID, wlcID)
			if !ok {
				out = append(out, Result{
					CheckID:  "WLC_JOIN_CHAIN",
					Severity: SeverityError,
					DeviceID: apID,
					Hostname: ap.Hostname,
					Detail:   fmt.Sprintf("no path from %s to %s", ap.Hostname, wlc.Hostname),
				})
				continue
			}
			blocked := false
			for idx, e := range edges {
				if idx == 0 {
					continue // the AP's own uplink edge
				}
				if len(e.Allowed) == 0 || e.AllowsVlan(apVlan) {
					continue
				}
				hop := idx
				hopSwitch := g.Nodes[nodes[idx]]
				_, nearIf, _ := e.Other(nodes[idx])
				out = append(out, Result{
					CheckID:      "WLC_JOIN_CHAIN",
					Severity:     SeverityError,
					DeviceID:     nodes[idx],
					Hostname:     hopSwitch.Hostname,
					Interface:    nearIf,
					VlanID:       apVlan,
					Detail:       fmt.Sprintf("AP VLAN %d missing from trunk at hop %d", apVlan, hop),
					SuggestedFix: fmt.Sprintf("switchport trunk allowed vlan add %d", apVlan),
				})
				blocked = true
			}
			if !blocked {
				out = append(out, Result{
					CheckID:  "WLC_JOIN_CHAIN",
					Severity: SeverityInfo,
					Passed:   true,
					DeviceID: apID,
					Hostname: ap.Hostname,
					VlanID:   apVlan,
					Detail:   fmt.Sprintf("%s can reach %s on VLAN %d", ap.Hostname, wlc.Hostname, apVlan),
				})
			}
		}
	}
	return out
}

// apUplinkVlan finds the AP's single access-mode port whose link peer is a
// switch and returns its access VLAN.
func apUplinkVlan(g *topology.Graph, apID string) (int, bool) {
	ap := g.Nodes[apID]
	for _, e := range g.EdgesAt(apID) {
		peer, nearIf, _ := e.Other(apID)
		if g.Nodes[peer].Role != "switch" {
			continue
		}
		iface, ok := ap.Interfaces[nearIf]
		if !ok {
			continue
		}
		if iface.Mode == "access" && iface.VlanAccess != nil {
			return *iface.VlanAccess, true
		}
	}
	return 0, false
}
