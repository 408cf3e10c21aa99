// Package engine runs the validation pipeline: assemble the topology graph,
// execute the check registry in order, aggregate findings into an audit
// result that can be rendered without re-reading the topology.
package engine

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"netval/internal/checks"
	"netval/internal/confparse"
	"netval/internal/jobs"
	"netval/internal/models"
	"netval/internal/store"
	"netval/internal/topology"
)

type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// AuditResult is self-describing: hostnames travel with the findings so the
// UI never needs the topology to render it.
type AuditResult struct {
	ProjectID    string                     `json:"project_id"`
	Summary      Summary                    `json:"summary"`
	Findings     []checks.Result            `json:"findings"`
	Reachability map[string]map[string]bool `json:"reachability"`
	Hostnames    map[string]string          `json:"hostnames"`
}

type Engine struct {
	store       *store.Store
	jobs        *jobs.Manager
	checkBudget time.Duration
}

func New(st *store.Store, jm *jobs.Manager) *Engine {
	return &Engine{store: st, jobs: jm, checkBudget: 10 * time.Second}
}

// Assemble reads the topology once and builds the immutable graph, parsing
// each device's newest snapshot for routing and DHCP facts.
func (e *Engine) Assemble(projectID string) (*topology.Graph, error) {
	devices, err := e.store.ListDevices(projectID)
	if err != nil {
		return nil, err
	}
	links, err := e.store.ListLinks(projectID)
	if err != nil {
		return nil, err
	}
	extras := make(map[string]topology.Extras)
	for _, d := range devices {
		snap, err := e.store.LatestSnapshot(d.ID)
		if err != nil {
			continue // device has no config yet
		}
		parsed := confparse.Parse(snap.RawConfig)
		extras[d.ID] = topology.Extras{
			Routes:    parsed.StaticRoutes,
			DHCPPools: parsed.DHCPPools,
		}
	}
	return topology.Assemble(devices, links, extras), nil
}

// RunSimulation executes the full pipeline under the given job id. Check
// failures become findings; only assembly failure fails the job.
func (e *Engine) RunSimulation(projectID, jobID string) {
	if err := e.jobs.Start(jobID); err != nil {
		slog.Error("simulation start failed", "job", jobID, "error", err)
	}

	g, err := e.Assemble(projectID)
	if err != nil {
		e.jobs.Fail(jobID, "topology assembly failed: "+err.Error())
		return
	}

	result := e.Audit(projectID, g, func(ev jobs.Event) {
		e.jobs.Publish(jobID, ev)
	})
	e.jobs.Complete(jobID, result)
}

// Audit runs every registered check against the graph and aggregates. The
// emit callback fires between checks; pass nil to run silently.
func (e *Engine) Audit(projectID string, g *topology.Graph, emit func(jobs.Event)) *AuditResult {
	if emit == nil {
		emit = func(jobs.Event) {}
	}

	var findings []checks.Result
	registry := checks.Registry()
	for i, c := range registry {
		emit(jobs.Event{"event": "check_start", "check_id": c.ID, "index": i, "total": len(registry)})
		results := e.runGuarded(c, g)
		failed := 0
		for _, r := range results {
			if !r.Passed {
				failed++
			}
		}
		findings = append(findings, results...)
		emit(jobs.Event{"event": "check_complete", "check_id": c.ID, "findings": len(results), "failed": failed})
	}

	result := &AuditResult{
		ProjectID:    projectID,
		Findings:     findings,
		Reachability: g.Reachability(),
		Hostnames:    make(map[string]string, len(g.Nodes)),
	}
	for _, id := range g.NodeIDs() {
		result.Hostnames[id] = g.Nodes[id].Hostname
	}
	for _, f := range findings {
		result.Summary.Total++
		if f.Passed {
			result.Summary.Passed++
			continue
		}
		result.Summary.Failed++
		switch f.Severity {
		case checks.SeverityWarning:
			result.Summary.Warnings++
		default:
			result.Summary.Errors++
		}
	}
	return result
}

// runGuarded converts a panicking or overrunning check into an internal
// error finding so the rest of the pass still runs.
func (e *Engine) runGuarded(c checks.Check, g *topology.Graph) (results []checks.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			results = []checks.Result{{
				CheckID:  c.ID + "_INTERNAL",
				Severity: checks.SeverityError,
				Detail:   fmt.Sprintf("%v", r),
			}}
		}
	}()
	results = c.Run(g)
	if elapsed := time.Since(start); elapsed > e.checkBudget {
		results = append(results, checks.Result{
			CheckID:  c.ID + "_INTERNAL",
			Severity: checks.SeverityError,
			Detail:   fmt.Sprintf("check exceeded budget: ran %s", elapsed.Round(time.Millisecond)),
		})
	}
	return results
}

var sviName = regexp.MustCompile(`^Vlan(\d+)$`)

// DeviceModelOf rebuilds the parser sub-model from the stored device rows so
// the renderer can emit CLI without a raw config on hand.
func DeviceModelOf(d *models.Device) *confparse.DeviceModel {
	m := &confparse.DeviceModel{Hostname: d.Hostname}
	for _, v := range d.Vlans {
		m.Vlans = append(m.Vlans, confparse.VlanConfig{ID: v.VlanID, Name: v.Name})
	}
	for _, i := range d.Interfaces {
		ic := confparse.InterfaceConfig{
			Name:            i.Name,
			Description:     i.Description,
			Mode:            i.Mode,
			VlanAccess:      i.VlanAccess,
			VlanNative:      i.VlanNative,
			TrunkAllowed:    append([]int(nil), i.VlanTrunkAllowed...),
			IPAddress:       i.IPAddress,
			IPMask:          i.IPMask,
			Duplex:          i.Duplex,
			HelperAddresses: append([]string(nil), i.HelperAddresses...),
			State:           i.State,
		}
		if ic.State == "" || ic.State == "unknown" {
			ic.State = "up"
		}
		if g := sviName.FindStringSubmatch(i.Name); g != nil && i.IPAddress != "" {
			ic.SVI = true
			ic.SVIVlan, _ = strconv.Atoi(g[1])
		}
		m.Interfaces = append(m.Interfaces, ic)
	}
	return m
}
