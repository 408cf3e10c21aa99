package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"netval/internal/ai"
	"netval/internal/db"
	"netval/internal/engine"
	"netval/internal/jobs"
	"netval/internal/models"
	"netval/internal/remediate"
	"netval/internal/sshio"
	"netval/internal/store"
	"netval/internal/vault"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCreds struct {
	mu      sync.Mutex
	entries map[string]vault.Material
	seq     int
}

func newMemCreds() *memCreds { return &memCreds{entries: map[string]vault.Material{}} }

func (m *memCreds) Store(projectID, deviceID string, mat vault.Material) (string, error) {
	if mat.Username == "" {
		return "", fmt.Errorf("credential material requires a username")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := fmt.Sprintf("netval:%s:%s:%d", projectID, deviceID, m.seq)
	m.entries[ref] = mat
	return ref, nil
}

func (m *memCreds) Load(ref string) (vault.Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mat, ok := m.entries[ref]
	if !ok {
		return vault.Material{}, fmt.Errorf("no entry for %s", ref)
	}
	return mat, nil
}

func (m *memCreds) Delete(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ref)
	return nil
}

type testRig struct {
	app   *fiber.App
	store *store.Store
	jobs  *jobs.Manager
	creds *memCreds
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	creds := newMemCreds()
	st := store.New(db.OpenMemory(), creds)
	jm := jobs.NewManager(st)
	eng := engine.New(st, jm)
	pool := sshio.NewPool(sshio.NewNetDialer(time.Second), 2, time.Second)
	applicator := remediate.NewApplicator(st, pool, creds, jm, 24*time.Hour)
	bridge := ai.New(ai.Settings{Provider: ai.ProviderOllama})

	app := fiber.New()
	NewServer(st, jm, eng, pool, creds, applicator, bridge).SetupRoutes(app)
	return &testRig{app: app, store: st, jobs: jm, creds: creds}
}

func (r *testRig) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.app.Test(req, 10000)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (r *testRig) newProject(t *testing.T, name string) string {
	t.Helper()
	resp := r.request(t, "POST", "/api/v1/projects", fiber.Map{"name": name})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return decode[models.Project](t, resp).ID
}

func (r *testRig) newDevice(t *testing.T, projectID, hostname, role string) string {
	t.Helper()
	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/devices",
		fiber.Map{"hostname": hostname, "role": role})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return decode[models.Device](t, resp).ID
}

func TestHealth(t *testing.T) {
	r := newRig(t)
	resp := r.request(t, "GET", "/api/v1/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestProjectCRUD(t *testing.T) {
	r := newRig(t)
	id := r.newProject(t, "campus")

	resp := r.request(t, "GET", "/api/v1/projects", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	list := decode[[]models.Project](t, resp)
	require.Len(t, list, 1)

	resp = r.request(t, "GET", "/api/v1/projects/"+id, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = r.request(t, "DELETE", "/api/v1/projects/"+id, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = r.request(t, "GET", "/api/v1/projects/"+id, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestProjectValidation(t *testing.T) {
	r := newRig(t)
	resp := r.request(t, "POST", "/api/v1/projects", fiber.Map{"description": "no name"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = r.request(t, "POST", "/api/v1/projects", fiber.Map{"id": "client-chosen", "name": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDeviceRoutes(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	deviceID := r.newDevice(t, projectID, "SW-1", "switch")

	resp := r.request(t, "GET", "/api/v1/devices/"+projectID, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	list := decode[[]models.Device](t, resp)
	require.Len(t, list, 1)

	resp = r.request(t, "GET", "/api/v1/devices/detail/"+deviceID, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	d := decode[models.Device](t, resp)
	assert.Equal(t, "SW-1", d.Hostname)

	resp = r.request(t, "PUT", "/api/v1/devices/"+deviceID, fiber.Map{"hostname": "SW-RENAMED"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	d = decode[models.Device](t, resp)
	assert.Equal(t, "SW-RENAMED", d.Hostname)

	resp = r.request(t, "POST", "/api/v1/projects/"+projectID+"/devices",
		fiber.Map{"hostname": "X", "role": "fridge"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = r.request(t, "DELETE", "/api/v1/devices/"+deviceID, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestLinkRoutes(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	d1 := r.newDevice(t, projectID, "SW-1", "switch")
	d2 := r.newDevice(t, projectID, "SW-2", "switch")

	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/links", fiber.Map{
		"source_device_id": d1, "target_device_id": d2,
		"vlan_allow_list": []int{10, 20},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	l := decode[models.Link](t, resp)

	resp = r.request(t, "POST", "/api/v1/projects/"+projectID+"/links", fiber.Map{
		"source_device_id": d1, "target_device_id": d1,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Both list spellings serve the same rows.
	resp = r.request(t, "GET", "/api/v1/projects/"+projectID+"/links", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	nested := decode[[]models.Link](t, resp)
	resp = r.request(t, "GET", "/api/v1/links/"+projectID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	flat := decode[[]models.Link](t, resp)
	assert.Equal(t, nested, flat)
	require.Len(t, flat, 1)

	resp = r.request(t, "DELETE", "/api/v1/links/"+l.ID, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	deviceID := r.newDevice(t, projectID, "SW-1", "switch")

	cfg := "hostname SW-PARSED\nvlan 10\n name USERS\ninterface GigabitEthernet1/0/1\n switchport mode access\n switchport access vlan 10\n"
	resp := r.request(t, "POST", "/api/v1/configs/"+deviceID, fiber.Map{"config": cfg})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = r.request(t, "GET", "/api/v1/configs/"+deviceID+"/latest", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	snap := decode[models.ConfigSnapshot](t, resp)
	assert.Equal(t, cfg, snap.RawConfig)
	assert.Equal(t, store.HashConfig(cfg), snap.ConfigHash)

	resp = r.request(t, "GET", "/api/v1/devices/"+deviceID+"/generate-cli", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	cli, ok := body["cli"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(cli, "hostname SW-PARSED\n"))
	assert.Contains(t, cli, "switchport access vlan 10")
}

func TestProjectCliGeneration(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	r.newDevice(t, projectID, "SW-B", "switch")
	r.newDevice(t, projectID, "SW-A", "switch")

	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/generate-cli", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	type cliRow struct {
		DeviceID string `json:"device_id"`
		Hostname string `json:"hostname"`
		Cli      string `json:"cli"`
	}
	type cliResponse struct {
		ProjectID string   `json:"project_id"`
		Devices   []cliRow `json:"devices"`
	}
	body := decode[cliResponse](t, resp)
	require.Len(t, body.Devices, 2)
	// Hostname order, not insertion order.
	assert.Equal(t, "SW-A", body.Devices[0].Hostname)
	assert.Equal(t, "SW-B", body.Devices[1].Hostname)
	assert.True(t, strings.HasPrefix(body.Devices[0].Cli, "hostname SW-A\n"))

	resp = r.request(t, "POST", "/api/v1/projects/ghost/generate-cli", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestEmptyConfigRejected(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	deviceID := r.newDevice(t, projectID, "SW-1", "switch")

	resp := r.request(t, "POST", "/api/v1/configs/"+deviceID, fiber.Map{"config": "  \n"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestValidationJob(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	r.newDevice(t, projectID, "SW-1", "switch")

	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/validate", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	j := decode[models.Job](t, resp)
	assert.Equal(t, models.KindSimulation, j.Kind)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := r.store.GetJob(j.ID)
		require.NoError(t, err)
		if got.Status == models.JobComplete || got.Status == models.JobFailed {
			assert.Equal(t, models.JobComplete, got.Status)
			assert.NotEmpty(t, got.Result)
			break
		}
		require.True(t, time.Now().Before(deadline), "job never terminated")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestValidateUnknownProject(t *testing.T) {
	r := newRig(t)
	resp := r.request(t, "POST", "/api/v1/projects/ghost/validate", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCredentialsNeverEchoed(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	deviceID := r.newDevice(t, projectID, "SW-1", "switch")

	resp := r.request(t, "POST", "/api/v1/devices/"+deviceID+"/credentials",
		fiber.Map{"username": "admin", "password": "hunter2"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotContains(t, string(raw), "hunter2")

	// Device detail must not leak the reference either.
	resp = r.request(t, "GET", "/api/v1/devices/detail/"+deviceID, nil)
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotContains(t, string(raw), "credential_ref")
	assert.NotContains(t, string(raw), "hunter2")

	resp = r.request(t, "DELETE", "/api/v1/devices/"+deviceID+"/credentials", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Empty(t, r.creds.entries)
}

func TestApplyRequiresConfirm(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	deviceID := r.newDevice(t, projectID, "SW-1", "switch")

	plan := models.RemediationPlan{ProjectID: projectID, Status: models.PlanApproved,
		Items: []models.RemediationItem{{DeviceID: deviceID, CliPatch: "vlan 30", RollbackCli: "no vlan 30", Approved: true}}}
	require.NoError(t, r.store.CreatePlan(&plan))

	resp := r.request(t, "POST", "/api/v1/plans/"+plan.ID+"/apply", fiber.Map{"confirm": false})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = r.request(t, "POST", "/api/v1/plans/"+plan.ID+"/rollback", fiber.Map{})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

// runValidation starts a simulation and waits for it to complete.
func (r *testRig) runValidation(t *testing.T, projectID string) {
	t.Helper()
	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/validate", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	j := decode[models.Job](t, resp)
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := r.store.GetJob(j.ID)
		require.NoError(t, err)
		if got.Status == models.JobComplete || got.Status == models.JobFailed {
			require.Equal(t, models.JobComplete, got.Status)
			return
		}
		require.True(t, time.Now().Before(deadline), "validation never terminated")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRemediatePlanLifecycle(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	d1 := r.newDevice(t, projectID, "SW-1", "switch")
	d2 := r.newDevice(t, projectID, "SW-2", "switch")

	// VLAN 30 allowed on the link but absent everywhere: continuity failures.
	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/links", fiber.Map{
		"source_device_id": d1, "target_device_id": d2,
		"vlan_allow_list": []int{30},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// Plans come from a recorded validation run, never a fresh audit.
	resp = r.request(t, "POST", "/api/v1/projects/"+projectID+"/remediate", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	r.runValidation(t, projectID)

	resp = r.request(t, "POST", "/api/v1/projects/"+projectID+"/remediate", nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	plan := decode[models.RemediationPlan](t, resp)
	require.Len(t, plan.Items, 2)
	assert.Equal(t, models.PlanPending, plan.Status)

	resp = r.request(t, "POST", "/api/v1/plans/"+plan.ID+"/approve", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	approved := decode[models.RemediationPlan](t, resp)
	assert.Equal(t, models.PlanApproved, approved.Status)

	resp = r.request(t, "PUT", "/api/v1/plans/"+plan.ID+"/items/"+plan.Items[0].ID,
		fiber.Map{"approved": false})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = r.request(t, "GET", "/api/v1/projects/"+projectID+"/plans/latest", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	latest := decode[models.RemediationPlan](t, resp)
	assert.Equal(t, plan.ID, latest.ID)
}

func TestProjectApplyUsesLatestPlan(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")

	// No plan yet: the confirm gate still answers first.
	resp := r.request(t, "POST", "/api/v1/projects/"+projectID+"/apply", fiber.Map{"confirm": false})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	resp = r.request(t, "POST", "/api/v1/projects/"+projectID+"/apply", fiber.Map{"confirm": true})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	deviceID := r.newDevice(t, projectID, "SW-1", "switch")
	plan := models.RemediationPlan{ProjectID: projectID, Status: models.PlanApproved,
		Items: []models.RemediationItem{{DeviceID: deviceID, CliPatch: "vlan 30", RollbackCli: "no vlan 30", Approved: true}}}
	require.NoError(t, r.store.CreatePlan(&plan))

	resp = r.request(t, "POST", "/api/v1/projects/"+projectID+"/apply", fiber.Map{"confirm": true})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	j := decode[models.Job](t, resp)
	assert.Equal(t, models.KindRemediation, j.Kind)
	assert.Equal(t, projectID, j.ProjectID)
}

func TestAuditTrailRoute(t *testing.T) {
	r := newRig(t)
	projectID := r.newProject(t, "campus")
	r.newDevice(t, projectID, "SW-1", "switch")

	resp := r.request(t, "GET", "/api/v1/projects/"+projectID+"/audit", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	entries := decode[[]models.AuditLog](t, resp)
	assert.NotEmpty(t, entries)
}

func TestAiSettingsRedacted(t *testing.T) {
	r := newRig(t)
	resp := r.request(t, "PUT", "/api/v1/ai/settings",
		fiber.Map{"provider": "openai", "model": "gpt-4o", "api_key": "sk-secret"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotContains(t, string(raw), "sk-secret")
	assert.Contains(t, string(raw), `"has_api_key":true`)

	resp = r.request(t, "PUT", "/api/v1/ai/settings", fiber.Map{"provider": "skynet"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = r.request(t, "GET", "/api/v1/ai/models", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[map[string][]string](t, resp)
	assert.Contains(t, body["models"], "gpt-4o")
}
