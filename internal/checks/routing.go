package checks

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"netval/internal/topology"
)

// mgmtSSHPath verifies every device with a management IP has a path to the
// designated management source. The source is the lexically first router,
// falling back to the first firewall; with neither present there is nothing
// to verify.
func mgmtSSHPath(g *topology.Graph) []Result {
	source := ""
	for _, role := range []string{"router", "firewall"} {
		for _, id := range g.NodeIDs() {
			if g.Nodes[id].Role == role {
				source = id
				break
			}
		}
		if source != "" {
			break
		}
	}
	if source == "" {
		return nil
	}

	var out []Result
	src := g.Nodes[source]
	for _, id := range g.NodeIDs() {
		if id == source {
			continue
		}
		node := g.Nodes[id]
		if node.ManagementIP == "" {
			continue
		}
		if _, _, ok := g.ShortestPath(source, id); !ok {
			out = append(out, Result{
				CheckID:  "MGMT_SSH_PATH",
				Severity: SeverityError,
				DeviceID: id,
				Hostname: node.Hostname,
				Detail:   fmt.Sprintf("management IP %s on %s is unreachable from %s", node.ManagementIP, node.Hostname, src.Hostname),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, pass("MGMT_SSH_PATH", fmt.Sprintf("all management IPs reachable from %s", src.Hostname)))
	}
	return out
}

// routingBlackhole checks that every static route's next hop is resolvable on
// one of the device's routed or SVI interfaces, either as an address inside a
// connected subnet or as a local interface name.
func routingBlackhole(g *topology.Graph) []Result {
	var out []Result
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		for _, r := range node.Routes {
			if nextHopResolvable(node, r.NextHop) {
				continue
			}
			out = append(out, Result{
				CheckID:  "ROUTING_BLACKHOLE",
				Severity: SeverityError,
				DeviceID: id,
				Hostname: node.Hostname,
				Detail: fmt.Sprintf("static route %s %s via %s has no resolvable next hop on %s",
					r.Prefix, r.Mask, r.NextHop, node.Hostname),
				SuggestedFix: fmt.Sprintf("no ip route %s %s %s", r.Prefix, r.Mask, r.NextHop),
				Previous:     fmt.Sprintf("ip route %s %s %s", r.Prefix, r.Mask, r.NextHop),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, pass("ROUTING_BLACKHOLE", "all static route next hops resolve"))
	}
	return out
}

func nextHopResolvable(node *topology.Node, nextHop string) bool {
	hop := net.ParseIP(nextHop)
	for name, iface := range node.Interfaces {
		if hop == nil && strings.EqualFold(name, nextHop) {
			return true
		}
		if hop == nil || iface.IPAddress == "" || iface.IPMask == "" {
			continue
		}
		ip := net.ParseIP(iface.IPAddress)
		mask := net.IPMask(net.ParseIP(iface.IPMask).To4())
		if ip == nil || mask == nil {
			continue
		}
		if ip.Mask(mask).Equal(hop.Mask(mask)) {
			return true
		}
	}
	return false
}

// dhcpReachability warns when an access-VLAN SVI has neither a helper address
// nor a DHCP pool on any device it can reach.
func dhcpReachability(g *topology.Graph) []Result {
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
			if len(iface.HelperAddresses) > 0 || dhcpPoolReachable(g, id) {
				continue
			}
			out = append(out, Result{
				CheckID:   "DHCP_REACHABILITY",
				Severity:  SeverityWarning,
				DeviceID:  id,
				Hostname:  node.Hostname,
				Interface: name,
				Detail:    fmt.Sprintf("no DHCP helper or reachable DHCP pool for %s on %s", name, node.Hostname),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, pass("DHCP_REACHABILITY", "all SVIs have a DHCP source"))
	}
	return out
}

func dhcpPoolReachable(g *topology.Graph, from string) bool {
	for _, id := range g.NodeIDs() {
		if len(g.Nodes[id].DHCPPools) == 0 {
			continue
		}
		if id == from {
			return true
		}
		if _, _, ok := g.ShortestPath(from, id); ok {
			return true
		}
	}
	return false
}
