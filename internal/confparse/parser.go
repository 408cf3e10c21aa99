// Package confparse turns an IOS-family running configuration into the
// canonical device sub-model. Parsing is line oriented and never fails:
// stanzas it does not understand are kept verbatim and reported as warnings.
package confparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type DeviceModel struct {
	Hostname         string            `json:"hostname"`
	Interfaces       []InterfaceConfig `json:"interfaces"`
	Vlans            []VlanConfig      `json:"vlans"`
	RoutingProtocols []string          `json:"routing_protocols"`
	StaticRoutes     []StaticRoute     `json:"static_routes"`
	ACLs             []ACL             `json:"acls"`
	DHCPPools        []string          `json:"dhcp_pools"`
	Unrecognized     []string          `json:"unrecognized,omitempty"`
	Warnings         []ParseWarning    `json:"warnings,omitempty"`
}

type InterfaceConfig struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Mode            string   `json:"mode"`
	VlanAccess      *int     `json:"vlan_access,omitempty"`
	VlanNative      *int     `json:"vlan_native,omitempty"`
	TrunkAllowed    []int    `json:"vlan_trunk_allowed,omitempty"`
	IPAddress       string   `json:"ip_address,omitempty"`
	IPMask          string   `json:"ip_mask,omitempty"`
	Duplex          string   `json:"duplex,omitempty"`
	State           string   `json:"state"`
	SVI             bool     `json:"svi,omitempty"`
	SVIVlan         int      `json:"svi_vlan,omitempty"`
	HelperAddresses []string `json:"helper_addresses,omitempty"`
}

type VlanConfig struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type StaticRoute struct {
	Prefix  string `json:"prefix"`
	Mask    string `json:"mask"`
	NextHop string `json:"next_hop"`
}

type ACL struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

type ParseWarning struct {
	Line int    `json:"line"`
	Msg  string `json:"msg"`
}

var (
	reSVI      = regexp.MustCompile(`^Vlan(\d+)$`)
	reIPAddr   = regexp.MustCompile(`^ip address (\d+\.\d+\.\d+\.\d+) (\d+\.\d+\.\d+\.\d+)`)
	reIPRoute  = regexp.MustCompile(`^ip route (\d+\.\d+\.\d+\.\d+) (\d+\.\d+\.\d+\.\d+) (\S+)`)
	reRouter   = regexp.MustCompile(`^router (\S+)`)
	reVlanDecl = regexp.MustCompile(`^vlan (\d+)$`)
)

// Lines that carry no model content and warrant no warning.
var noise = map[string]bool{
	"!": true, "end": true, "exit": true, "": true,
	"boot-start-marker": true, "boot-end-marker": true,
}

func isNoise(line string) bool {
	if noise[line] {
		return true
	}
	for _, prefix := range []string{"version ", "service ", "no service ", "banner ", "line ", "ntp ", "clock ", "!"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Parse consumes the raw configuration text. It always returns a model; the
// Warnings list carries everything that did not parse cleanly.
func Parse(raw string) *DeviceModel {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")

	m := &DeviceModel{}
	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case isNoise(trimmed):
			i++

		case strings.HasPrefix(trimmed, "hostname "):
			m.Hostname = strings.TrimSpace(strings.TrimPrefix(trimmed, "hostname "))
			i++

		case strings.HasPrefix(trimmed, "interface "):
			i = m.parseInterface(lines, i)

		case reVlanDecl.MatchString(trimmed):
			i = m.parseVlan(lines, i)

		case reRouter.MatchString(trimmed):
			proto := reRouter.FindStringSubmatch(trimmed)[1]
			m.RoutingProtocols = appendUnique(m.RoutingProtocols, proto)
			i = skipBlock(lines, i)

		case reIPRoute.MatchString(trimmed):
			g := reIPRoute.FindStringSubmatch(trimmed)
			m.StaticRoutes = append(m.StaticRoutes, StaticRoute{Prefix: g[1], Mask: g[2], NextHop: g[3]})
			i++

		case strings.HasPrefix(trimmed, "ip access-list "):
			i = m.parseNamedACL(lines, i)

		case strings.HasPrefix(trimmed, "access-list "):
			m.parseNumberedACL(trimmed)
			i++

		case strings.HasPrefix(trimmed, "ip dhcp pool "):
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "ip dhcp pool "))
			m.DHCPPools = append(m.DHCPPools, name)
			i = skipBlock(lines, i)

		default:
			m.Unrecognized = append(m.Unrecognized, line)
			m.Warnings = append(m.Warnings, ParseWarning{Line: i + 1, Msg: fmt.Sprintf("unrecognized stanza: %q", trimmed)})
			i = skipBlock(lines, i)
		}
	}
	return m
}

// skipBlock advances past the current line and any indented continuation.
func skipBlock(lines []string, i int) int {
	i++
	for i < len(lines) && (strings.HasPrefix(lines[i], " ") || strings.HasPrefix(lines[i], "\t")) {
		i++
	}
	return i
}

func (m *DeviceModel) parseInterface(lines []string, i int) int {
	name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), "interface "))
	ic := InterfaceConfig{Name: name, Mode: "unknown", State: "up"}

	switchport := false
	hasTrunkCfg := false
	explicitMode := ""

	i++
	for i < len(lines) && (strings.HasPrefix(lines[i], " ") || strings.HasPrefix(lines[i], "\t")) {
		body := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(body, "description "):
			ic.Description = strings.TrimPrefix(body, "description ")

		case body == "switchport mode access":
			switchport, explicitMode = true, "access"
		case body == "switchport mode trunk":
			switchport, explicitMode = true, "trunk"
		case body == "switchport":
			switchport = true
		case body == "no switchport":
			switchport = false

		case strings.HasPrefix(body, "switchport access vlan "):
			switchport = true
			if v, err := strconv.Atoi(strings.TrimPrefix(body, "switchport access vlan ")); err == nil {
				if v >= 1 && v <= 4094 {
					ic.VlanAccess = &v
				} else {
					m.Warnings = append(m.Warnings, ParseWarning{Line: i + 1, Msg: fmt.Sprintf("vlan %d outside 1..4094", v)})
				}
			}

		case strings.HasPrefix(body, "switchport trunk native vlan "):
			switchport, hasTrunkCfg = true, true
			if v, err := strconv.Atoi(strings.TrimPrefix(body, "switchport trunk native vlan ")); err == nil {
				if v >= 1 && v <= 4094 {
					ic.VlanNative = &v
				} else {
					m.Warnings = append(m.Warnings, ParseWarning{Line: i + 1, Msg: fmt.Sprintf("vlan %d outside 1..4094", v)})
				}
			}

		case strings.HasPrefix(body, "switchport trunk allowed vlan "):
			switchport, hasTrunkCfg = true, true
			spec := strings.TrimPrefix(body, "switchport trunk allowed vlan ")
			ic.TrunkAllowed = m.applyTrunkSpec(ic.TrunkAllowed, spec, i+1)

		case reIPAddr.MatchString(body):
			g := reIPAddr.FindStringSubmatch(body)
			ic.IPAddress, ic.IPMask = g[1], g[2]

		case strings.HasPrefix(body, "ip helper-address "):
			ic.HelperAddresses = append(ic.HelperAddresses, strings.TrimPrefix(body, "ip helper-address "))

		case strings.HasPrefix(body, "duplex "):
			ic.Duplex = strings.TrimPrefix(body, "duplex ")

		case body == "shutdown":
			ic.State = "down"
		case body == "no shutdown":
			ic.State = "up"
		}
		i++
	}

	switch {
	case explicitMode != "":
		ic.Mode = explicitMode
	case switchport && ic.VlanAccess != nil:
		ic.Mode = "access"
	case switchport && hasTrunkCfg:
		ic.Mode = "trunk"
	case !switchport && ic.IPAddress != "":
		ic.Mode = "routed"
	}

	if g := reSVI.FindStringSubmatch(name); g != nil && ic.IPAddress != "" {
		ic.SVI = true
		ic.SVIVlan, _ = strconv.Atoi(g[1])
		if ic.Mode == "unknown" {
			ic.Mode = "routed"
		}
	}

	m.Interfaces = append(m.Interfaces, ic)
	return i
}

// applyTrunkSpec folds one "switchport trunk allowed vlan ..." line into the
// accumulated allow-list, honoring the add/remove/none/all keywords.
func (m *DeviceModel) applyTrunkSpec(current []int, spec string, lineNo int) []int {
	spec = strings.TrimSpace(spec)
	var set []int
	var warns []string
	switch {
	case spec == "none", spec == "all":
		return nil
	case strings.HasPrefix(spec, "add "):
		set, warns = ExpandRange(strings.TrimPrefix(spec, "add "))
		current = mergeSets(current, set)
	case strings.HasPrefix(spec, "remove "):
		set, warns = ExpandRange(strings.TrimPrefix(spec, "remove "))
		current = subtractSet(current, set)
	default:
		current, warns = ExpandRange(spec)
	}
	for _, w := range warns {
		m.Warnings = append(m.Warnings, ParseWarning{Line: lineNo, Msg: w})
	}
	return current
}

func (m *DeviceModel) parseVlan(lines []string, i int) int {
	id, _ := strconv.Atoi(reVlanDecl.FindStringSubmatch(strings.TrimSpace(lines[i]))[1])
	vc := VlanConfig{ID: id}
	i++
	for i < len(lines) && (strings.HasPrefix(lines[i], " ") || strings.HasPrefix(lines[i], "\t")) {
		body := strings.TrimSpace(lines[i])
		if strings.HasPrefix(body, "name ") {
			vc.Name = strings.TrimPrefix(body, "name ")
		}
		i++
	}
	if id < 1 || id > 4094 {
		m.Warnings = append(m.Warnings, ParseWarning{Line: i, Msg: fmt.Sprintf("vlan %d outside 1..4094", id)})
		return i
	}
	m.Vlans = append(m.Vlans, vc)
	return i
}

func (m *DeviceModel) parseNamedACL(lines []string, i int) int {
	header := strings.TrimSpace(lines[i])
	fields := strings.Fields(header)
	name := fields[len(fields)-1]
	acl := ACL{Name: name}
	i++
	for i < len(lines) && (strings.HasPrefix(lines[i], " ") || strings.HasPrefix(lines[i], "\t")) {
		acl.Lines = append(acl.Lines, strings.TrimSpace(lines[i]))
		i++
	}
	m.ACLs = append(m.ACLs, acl)
	return i
}

func (m *DeviceModel) parseNumberedACL(line string) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return
	}
	name := fields[1]
	for idx := range m.ACLs {
		if m.ACLs[idx].Name == name {
			m.ACLs[idx].Lines = append(m.ACLs[idx].Lines, strings.Join(fields[2:], " "))
			return
		}
	}
	m.ACLs = append(m.ACLs, ACL{Name: name, Lines: []string{strings.Join(fields[2:], " ")}})
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
