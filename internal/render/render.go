// Package render emits a deterministic IOS CLI block from the device
// sub-model. Rendering is pure: equal input yields byte-identical output.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"netval/internal/confparse"
)

// Interface kinds in render order. Unlisted kinds sort after these,
// alphabetically.
var kindOrder = []string{
	"FastEthernet",
	"GigabitEthernet",
	"TenGigabitEthernet",
	"TwentyFiveGigE",
	"FortyGigabitEthernet",
	"Port-channel",
	"Loopback",
	"Vlan",
}

var reIfName = regexp.MustCompile(`^([A-Za-z-]+)([0-9/.]*)$`)

type ifKey struct {
	kindRank int
	kind     string
	path     []int
}

func ifaceKey(name string) ifKey {
	g := reIfName.FindStringSubmatch(name)
	if g == nil {
		return ifKey{kindRank: len(kindOrder) + 1, kind: name}
	}
	kind, digits := g[1], g[2]
	rank := len(kindOrder)
	for i, k := range kindOrder {
		if k == kind {
			rank = i
			break
		}
	}
	var path []int
	for _, part := range strings.FieldsFunc(digits, func(r rune) bool { return r == '/' || r == '.' }) {
		n, _ := strconv.Atoi(part)
		path = append(path, n)
	}
	return ifKey{kindRank: rank, kind: kind, path: path}
}

func lessIface(a, b string) bool {
	ka, kb := ifaceKey(a), ifaceKey(b)
	if ka.kindRank != kb.kindRank {
		return ka.kindRank < kb.kindRank
	}
	if ka.kind != kb.kind {
		return ka.kind < kb.kind
	}
	for i := 0; i < len(ka.path) && i < len(kb.path); i++ {
		if ka.path[i] != kb.path[i] {
			return ka.path[i] < kb.path[i]
		}
	}
	return len(ka.path) < len(kb.path)
}

// Render produces the full CLI block for a device sub-model.
func Render(m *confparse.DeviceModel) string {
	var b strings.Builder

	if m.Hostname != "" {
		fmt.Fprintf(&b, "hostname %s\n!\n", m.Hostname)
	}

	vlans := append([]confparse.VlanConfig(nil), m.Vlans...)
	sort.Slice(vlans, func(i, j int) bool { return vlans[i].ID < vlans[j].ID })
	for _, v := range vlans {
		fmt.Fprintf(&b, "vlan %d\n", v.ID)
		if v.Name != "" {
			fmt.Fprintf(&b, " name %s\n", v.Name)
		}
		b.WriteString("!\n")
	}

	ifaces := append([]confparse.InterfaceConfig(nil), m.Interfaces...)
	sort.Slice(ifaces, func(i, j int) bool { return lessIface(ifaces[i].Name, ifaces[j].Name) })
	for _, ic := range ifaces {
		renderInterface(&b, ic)
	}

	routes := append([]confparse.StaticRoute(nil), m.StaticRoutes...)
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Prefix != routes[j].Prefix {
			return routes[i].Prefix < routes[j].Prefix
		}
		if routes[i].Mask != routes[j].Mask {
			return routes[i].Mask < routes[j].Mask
		}
		return routes[i].NextHop < routes[j].NextHop
	})
	for _, r := range routes {
		fmt.Fprintf(&b, "ip route %s %s %s\n", r.Prefix, r.Mask, r.NextHop)
	}
	if len(routes) > 0 {
		b.WriteString("!\n")
	}

	b.WriteString("end\n")
	return b.String()
}

func renderInterface(b *strings.Builder, ic confparse.InterfaceConfig) {
	fmt.Fprintf(b, "interface %s\n", ic.Name)
	if ic.Description != "" {
		fmt.Fprintf(b, " description %s\n", ic.Description)
	}

	switch ic.Mode {
	case "access":
		b.WriteString(" switchport mode access\n")
		if ic.VlanAccess != nil {
			fmt.Fprintf(b, " switchport access vlan %d\n", *ic.VlanAccess)
		}
	case "trunk":
		b.WriteString(" switchport mode trunk\n")
		if ic.VlanNative != nil {
			fmt.Fprintf(b, " switchport trunk native vlan %d\n", *ic.VlanNative)
		}
		if len(ic.TrunkAllowed) > 0 {
			allowed := append([]int(nil), ic.TrunkAllowed...)
			sort.Ints(allowed)
			fmt.Fprintf(b, " switchport trunk allowed vlan %s\n", joinInts(allowed))
		}
	case "routed":
		if !ic.SVI {
			b.WriteString(" no switchport\n")
		}
	}

	if ic.IPAddress != "" && ic.IPMask != "" {
		fmt.Fprintf(b, " ip address %s %s\n", ic.IPAddress, ic.IPMask)
	}
	for _, h := range ic.HelperAddresses {
		fmt.Fprintf(b, " ip helper-address %s\n", h)
	}
	if ic.Duplex != "" {
		fmt.Fprintf(b, " duplex %s\n", ic.Duplex)
	}
	if ic.State == "down" {
		b.WriteString(" shutdown\n")
	}
	b.WriteString("!\n")
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
