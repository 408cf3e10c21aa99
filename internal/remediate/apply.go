package remediate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"netval/internal/jobs"
	"netval/internal/models"
	"netval/internal/sshio"
	"netval/internal/store"
	"netval/internal/vault"
)

// CredentialLoader is the slice of the vault the applicator needs.
type CredentialLoader interface {
	Load(ref string) (vault.Material, error)
}

type DeviceOutcome struct {
	DeviceID string `json:"device_id"`
	Hostname string `json:"hostname"`
	Status   string `json:"status"`
	Lines    int    `json:"lines"`
	Error    string `json:"error,omitempty"`
}

type ApplyResult struct {
	PlanID  string          `json:"plan_id"`
	Status  string          `json:"status"`
	Devices []DeviceOutcome `json:"devices"`
}

type Applicator struct {
	store     *store.Store
	pool      *sshio.Pool
	creds     CredentialLoader
	jobs      *jobs.Manager
	retention time.Duration
}

func NewApplicator(st *store.Store, pool *sshio.Pool, creds CredentialLoader, jm *jobs.Manager, retention time.Duration) *Applicator {
	return &Applicator{store: st, pool: pool, creds: creds, jobs: jm, retention: retention}
}

// Approve moves a pending plan to approved.
func (a *Applicator) Approve(planID string) (*models.RemediationPlan, error) {
	p, err := a.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PlanPending && p.Status != models.PlanApproved {
		return nil, &store.ValidationError{Field: "status", Msg: "plan is not approvable from " + p.Status}
	}
	if err := a.store.SetPlanStatus(planID, models.PlanApproved, nil); err != nil {
		return nil, err
	}
	return a.store.GetPlan(planID)
}

// Apply pushes every approved item device by device under the given job.
// One device failing does not stop the rest, but the plan ends failed.
func (a *Applicator) Apply(ctx context.Context, planID, jobID string) {
	if err := a.jobs.Start(jobID); err != nil {
		slog.Error("apply start failed", "job", jobID, "error", err)
	}

	plan, err := a.store.GetPlan(planID)
	if err != nil {
		a.jobs.Fail(jobID, err.Error())
		return
	}
	if plan.Status != models.PlanApproved {
		a.jobs.Fail(jobID, "plan must be approved before apply, is "+plan.Status)
		return
	}
	if err := a.store.SetPlanStatus(planID, models.PlanApplying, nil); err != nil {
		a.jobs.Fail(jobID, err.Error())
		return
	}

	result := a.pushPlan(ctx, plan, jobID, false)
	a.finish(planID, jobID, result)
}

// Rollback pushes every item's inverse. Allowed while the plan is applied,
// inside the retention window, and not superseded by a later apply.
func (a *Applicator) Rollback(ctx context.Context, planID, jobID string) {
	if err := a.jobs.Start(jobID); err != nil {
		slog.Error("rollback start failed", "job", jobID, "error", err)
	}

	plan, err := a.store.GetPlan(planID)
	if err != nil {
		a.jobs.Fail(jobID, err.Error())
		return
	}
	if plan.Status != models.PlanApplied {
		a.jobs.Fail(jobID, "only an applied plan can be rolled back, is "+plan.Status)
		return
	}
	if plan.AppliedAt != nil && time.Since(*plan.AppliedAt) > a.retention {
		a.jobs.Fail(jobID, "rollback window has expired")
		return
	}
	newest, err := a.store.LatestAppliedPlan(plan.ProjectID)
	if err != nil {
		a.jobs.Fail(jobID, err.Error())
		return
	}
	if newest.ID != plan.ID {
		a.jobs.Fail(jobID, "superseded by a later apply (plan "+newest.ID+")")
		return
	}

	result := a.pushPlan(ctx, plan, jobID, true)
	if result.Status == models.PlanApplied {
		result.Status = models.PlanRolledBack
	}
	a.finish(planID, jobID, result)
}

// pushPlan sends the plan's approved patches (or their inverses) to each
// device in sorted order, streaming progress.
func (a *Applicator) pushPlan(ctx context.Context, plan *models.RemediationPlan, jobID string, inverse bool) *ApplyResult {
	byDevice := map[string][]models.RemediationItem{}
	for _, item := range plan.Items {
		if !item.Approved {
			continue
		}
		byDevice[item.DeviceID] = append(byDevice[item.DeviceID], item)
	}
	deviceIDs := make([]string, 0, len(byDevice))
	for id := range byDevice {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)

	result := &ApplyResult{PlanID: plan.ID, Status: models.PlanApplied}
	for _, deviceID := range deviceIDs {
		outcome := a.pushDevice(ctx, deviceID, byDevice[deviceID], jobID, inverse)
		if outcome.Status != "ok" {
			result.Status = models.PlanFailed
		}
		result.Devices = append(result.Devices, outcome)
		a.jobs.Publish(jobID, jobs.Event{
			"event":  "push_device_complete",
			"device": outcome.Hostname,
			"status": outcome.Status,
			"error":  outcome.Error,
		})
	}
	return result
}

func (a *Applicator) pushDevice(ctx context.Context, deviceID string, items []models.RemediationItem, jobID string, inverse bool) DeviceOutcome {
	outcome := DeviceOutcome{DeviceID: deviceID, Status: "ok"}

	dev, err := a.store.GetDevice(deviceID)
	if err != nil {
		outcome.Status, outcome.Error = "failed", err.Error()
		return outcome
	}
	outcome.Hostname = dev.Hostname
	if dev.CredentialRef == "" {
		outcome.Status, outcome.Error = "failed", "device has no stored credentials"
		return outcome
	}
	mat, err := a.creds.Load(dev.CredentialRef)
	if err != nil {
		outcome.Status, outcome.Error = "failed", err.Error()
		return outcome
	}
	if dev.ManagementIP == "" {
		outcome.Status, outcome.Error = "failed", "device has no management IP"
		return outcome
	}

	var blocks []string
	for _, item := range items {
		if inverse {
			blocks = append(blocks, item.RollbackCli)
		} else {
			blocks = append(blocks, item.CliPatch)
		}
	}
	patch := strings.Join(blocks, "\n")

	res, err := a.pool.Push(ctx, dev.ManagementIP, mat, patch, true,
		func(pre string) error {
			// The rollback target must exist before configure mode opens.
			_, serr := a.store.AddSnapshot(deviceID, pre, models.SourcePrePush)
			return serr
		},
		func(line string) {
			a.jobs.Publish(jobID, jobs.Event{"event": "push_line", "device": dev.Hostname, "line": line})
		})
	if err != nil {
		outcome.Status, outcome.Error = "failed", err.Error()
		return outcome
	}
	outcome.Lines = res.LinesSent
	return outcome
}

func (a *Applicator) finish(planID, jobID string, result *ApplyResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		payload = nil
	}
	if err := a.store.SetPlanStatus(planID, result.Status, payload); err != nil {
		slog.Error("plan status write failed", "plan", planID, "error", err)
	}
	a.jobs.Complete(jobID, result)
}
