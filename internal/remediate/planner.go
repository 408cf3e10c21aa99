// Package remediate turns failed audit findings into a reviewable plan of
// CLI patches with exact inverses, and drives the plan lifecycle.
package remediate

import (
	"fmt"
	"sort"

	"netval/internal/checks"
	"netval/internal/engine"
	"netval/internal/models"
)

// template renders the patch and its inverse for one finding. ok=false means
// the check has no automatic fix.
type template func(f checks.Result) (patch, rollback string, ok bool)

var templates = map[string]template{
	"VLAN_CONTINUITY": vlanCreate,
	"VLAN_ORPHAN_SVI": vlanCreate,
	"WLC_JOIN_CHAIN": func(f checks.Result) (string, string, bool) {
		if f.Interface == "" || f.VlanID == 0 {
			return "", "", false
		}
		patch := fmt.Sprintf("interface %s\n switchport trunk allowed vlan add %d", f.Interface, f.VlanID)
		rollback := fmt.Sprintf("interface %s\n switchport trunk allowed vlan remove %d", f.Interface, f.VlanID)
		return patch, rollback, true
	},
	"TRUNK_NATIVE_MISMATCH": func(f checks.Result) (string, string, bool) {
		if f.Interface == "" || f.SuggestedFix == "" {
			return "", "", false
		}
		rollback := fmt.Sprintf("interface %s\n no switchport trunk native vlan", f.Interface)
		if f.Previous != "" {
			rollback = fmt.Sprintf("interface %s\n switchport trunk native vlan %s", f.Interface, f.Previous)
		}
		return f.SuggestedFix, rollback, true
	},
	"ROUTING_BLACKHOLE": func(f checks.Result) (string, string, bool) {
		if f.SuggestedFix == "" || f.Previous == "" {
			return "", "", false
		}
		return f.SuggestedFix, f.Previous, true
	},
	"DUPLEX_MISMATCH": func(f checks.Result) (string, string, bool) {
		if f.Interface == "" || f.SuggestedFix == "" {
			return "", "", false
		}
		rollback := fmt.Sprintf("interface %s\n duplex auto", f.Interface)
		if f.Previous != "" {
			rollback = fmt.Sprintf("interface %s\n duplex %s", f.Interface, f.Previous)
		}
		return f.SuggestedFix, rollback, true
	},
}

func vlanCreate(f checks.Result) (string, string, bool) {
	if f.VlanID == 0 {
		return "", "", false
	}
	return fmt.Sprintf("vlan %d\n name VLAN%d", f.VlanID, f.VlanID),
		fmt.Sprintf("no vlan %d", f.VlanID), true
}

// BuildPlan groups the audit's failed findings by device and renders one
// item per templatable finding. Items start approved; review unchecks them.
func BuildPlan(projectID string, audit *engine.AuditResult) *models.RemediationPlan {
	plan := &models.RemediationPlan{ProjectID: projectID, Status: models.PlanPending}

	seen := map[string]bool{}
	for _, f := range audit.Findings {
		if f.Passed || f.DeviceID == "" {
			continue
		}
		tmpl, ok := templates[f.CheckID]
		if !ok {
			continue
		}
		patch, rollback, ok := tmpl(f)
		if !ok {
			continue
		}
		// One item per (device, patch); repeated findings collapse.
		key := f.DeviceID + "\x00" + patch
		if seen[key] {
			continue
		}
		seen[key] = true
		plan.Items = append(plan.Items, models.RemediationItem{
			DeviceID:      f.DeviceID,
			Interface:     f.Interface,
			SourceCheckID: f.CheckID,
			CliPatch:      patch,
			RollbackCli:   rollback,
			Approved:      true,
		})
	}

	sort.Slice(plan.Items, func(i, j int) bool {
		a, b := plan.Items[i], plan.Items[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if a.SourceCheckID != b.SourceCheckID {
			return a.SourceCheckID < b.SourceCheckID
		}
		return a.CliPatch < b.CliPatch
	})
	return plan
}
