// Package checks holds the fixed registry of topology validations. Each check
// is a pure function over the assembled graph; the registry order is the
// execution order, so results are reproducible.
package checks

import (
	"netval/internal/topology"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Result is one structured finding.
type Result struct {
	CheckID      string `json:"check_id"`
	Severity     string `json:"severity"`
	Passed       bool   `json:"passed"`
	DeviceID     string `json:"device_id,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
	Interface    string `json:"interface,omitempty"`
	VlanID       int    `json:"vlan_id,omitempty"`
	Detail       string `json:"detail"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
	// Previous captures the setting the suggested fix replaces, so the
	// remediation planner can render an exact inverse.
	Previous string `json:"previous,omitempty"`
}

// Check is one named variant in the registry.
type Check struct {
	ID       string
	Name     string
	Severity string
	Run      func(g *topology.Graph) []Result
}

// Registry returns the checks in their fixed execution order.
func Registry() []Check {
	return []Check{
		{ID: "VLAN_CONTINUITY", Name: "VLAN continuity across links", Severity: SeverityError, Run: vlanContinuity},
		{ID: "VLAN_ORPHAN_SVI", Name: "SVIs anchored on present VLANs", Severity: SeverityError, Run: vlanOrphanSVI},
		{ID: "WLC_JOIN_CHAIN", Name: "AP to WLC join chain", Severity: SeverityError, Run: wlcJoinChain},
		{ID: "TRUNK_NATIVE_MISMATCH", Name: "Trunk native VLAN agreement", Severity: SeverityError, Run: trunkNativeMismatch},
		{ID: "MGMT_SSH_PATH", Name: "Management reachability", Severity: SeverityError, Run: mgmtSSHPath},
		{ID: "ROUTING_BLACKHOLE", Name: "Static route next-hop resolution", Severity: SeverityError, Run: routingBlackhole},
		{ID: "DHCP_REACHABILITY", Name: "DHCP service reachability", Severity: SeverityWarning, Run: dhcpReachability},
		{ID: "DUPLEX_MISMATCH", Name: "Link duplex agreement", Severity: SeverityError, Run: duplexMismatch},
	}
}

// pass builds the single info finding a check emits when nothing failed.
func pass(checkID, detail string) Result {
	return Result{CheckID: checkID, Severity: SeverityInfo, Passed: true, Detail: detail}
}
