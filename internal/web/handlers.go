// Package web exposes the REST and WebSocket surface. Handlers validate,
// translate errors to status codes, and delegate; no business logic lives
// here.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"netval/internal/ai"
	"netval/internal/confparse"
	"netval/internal/engine"
	"netval/internal/jobs"
	"netval/internal/models"
	"netval/internal/remediate"
	"netval/internal/render"
	"netval/internal/snmpprobe"
	"netval/internal/sshio"
	"netval/internal/store"
	"netval/internal/vault"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// Credentials is the vault surface the handlers need.
type Credentials interface {
	Store(projectID, deviceID string, m vault.Material) (string, error)
	Load(ref string) (vault.Material, error)
	Delete(ref string) error
}

type Server struct {
	store  *store.Store
	jobs   *jobs.Manager
	engine *engine.Engine
	pool   *sshio.Pool
	creds  Credentials
	apply  *remediate.Applicator
	ai     *ai.Bridge
}

func NewServer(st *store.Store, jm *jobs.Manager, eng *engine.Engine, pool *sshio.Pool, creds Credentials, app *remediate.Applicator, bridge *ai.Bridge) *Server {
	return &Server{store: st, jobs: jm, engine: eng, pool: pool, creds: creds, apply: app, ai: bridge}
}

func (s *Server) SetupRoutes(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: "http://localhost:5173, app://netval",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	api := app.Group("/api/v1")
	api.Get("/health", s.health)

	api.Post("/projects", s.createProject)
	api.Get("/projects", s.listProjects)
	api.Get("/projects/:id", s.getProject)
	api.Delete("/projects/:id", s.deleteProject)
	api.Get("/projects/:id/audit", s.listAudit)

	api.Post("/projects/:id/devices", s.createDevice)
	// The static detail segment must register before the project wildcard.
	api.Get("/devices/detail/:device_id", s.getDevice)
	api.Get("/devices/:project_id", s.listDevices)
	api.Put("/devices/:device_id", s.updateDevice)
	api.Delete("/devices/:device_id", s.deleteDevice)

	api.Post("/projects/:id/links", s.createLink)
	api.Get("/projects/:id/links", s.listLinks)
	api.Get("/links/:project_id", s.listLinksForProject)
	api.Delete("/links/:id", s.deleteLink)

	api.Post("/devices/:device_id/upload-config", s.uploadConfig)
	api.Post("/configs/:device_id", s.putConfig)
	api.Get("/configs/:device_id/latest", s.latestConfig)
	api.Get("/devices/:device_id/generate-cli", s.generateCli)
	api.Post("/projects/:id/generate-cli", s.generateProjectCli)

	api.Post("/projects/:id/validate", s.startValidation)
	api.Get("/jobs/:id", s.getJob)

	api.Post("/devices/:device_id/credentials", s.setCredentials)
	api.Delete("/devices/:device_id/credentials", s.deleteCredentials)
	api.Post("/devices/:device_id/ssh-connect", s.sshConnect)
	api.Post("/devices/:device_id/ingest", s.startIngestion)
	api.Post("/devices/:device_id/snmp-status", s.snmpStatus)

	api.Post("/projects/:id/remediate", s.buildPlan)
	api.Get("/plans/:id", s.getPlan)
	api.Get("/projects/:id/plans/latest", s.latestPlan)
	api.Post("/plans/:id/approve", s.approvePlan)
	api.Put("/plans/:id/items/:item_id", s.setItemApproval)
	api.Post("/plans/:id/apply", s.applyPlan)
	api.Post("/plans/:id/rollback", s.rollbackPlan)
	api.Post("/projects/:id/apply", s.applyLatestPlan)

	api.Get("/ai/settings", s.aiSettings)
	api.Put("/ai/settings", s.updateAiSettings)
	api.Get("/ai/models", s.aiModels)
	api.Post("/ai/test", s.aiTest)

	s.setupWebsockets(app)
}

// fail maps domain errors onto HTTP status codes.
func fail(c *fiber.Ctx, err error) error {
	var code int
	switch {
	case store.IsValidation(err):
		code = fiber.StatusBadRequest
	case store.IsNotFound(err):
		code = fiber.StatusNotFound
	case errors.Is(err, sshio.ErrConfirmationRequired):
		code = fiber.StatusConflict
	case store.IsStorage(err):
		code = fiber.StatusServiceUnavailable
	default:
		code = fiber.StatusInternalServerError
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "ok",
		"time":             time.Now().UTC(),
		"ollama_available": s.ai.OllamaAvailable(c.Context()),
	})
}

// ---------- Projects ----------

func (s *Server) createProject(c *fiber.Ctx) error {
	// Decoded into the full model so a client-supplied id reaches the store
	// and is rejected there.
	var p models.Project
	if err := c.BodyParser(&p); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if err := s.store.CreateProject(&p); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	out, err := s.store.ListProjects()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(out)
}

func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.store.GetProject(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) deleteProject(c *fiber.Ctx) error {
	if err := s.store.DeleteProject(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listAudit(c *fiber.Ctx) error {
	out, err := s.store.ListAudit(c.Params("id"), c.QueryInt("limit"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(out)
}

// ---------- Devices ----------

func (s *Server) createDevice(c *fiber.Ctx) error {
	var d models.Device
	if err := c.BodyParser(&d); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if err := s.store.CreateDevice(c.Params("id"), &d); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (s *Server) listDevices(c *fiber.Ctx) error {
	out, err := s.store.ListDevices(c.Params("project_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(out)
}

func (s *Server) getDevice(c *fiber.Ctx) error {
	d, err := s.store.GetDevice(c.Params("device_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

func (s *Server) updateDevice(c *fiber.Ctx) error {
	patch := map[string]any{}
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	d, err := s.store.UpdateDevice(c.Params("device_id"), patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

func (s *Server) deleteDevice(c *fiber.Ctx) error {
	if err := s.store.DeleteDevice(c.Params("device_id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ---------- Links ----------

func (s *Server) createLink(c *fiber.Ctx) error {
	var l models.Link
	if err := c.BodyParser(&l); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if err := s.store.CreateLink(c.Params("id"), &l); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(l)
}

func (s *Server) listLinks(c *fiber.Ctx) error {
	out, err := s.store.ListLinks(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(out)
}

func (s *Server) listLinksForProject(c *fiber.Ctx) error {
	out, err := s.store.ListLinks(c.Params("project_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(out)
}

func (s *Server) deleteLink(c *fiber.Ctx) error {
	if err := s.store.DeleteLink(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ---------- Configurations ----------

// ingestConfig parses raw config text, replaces the device model, and
// records the snapshot.
func (s *Server) ingestConfig(c *fiber.Ctx, deviceID, raw, source string) error {
	if strings.TrimSpace(raw) == "" {
		return badRequest(c, "configuration is empty")
	}
	parsed := confparse.Parse(raw)
	ifaces, vlans := toModelRows(parsed)
	if err := s.store.ReplaceDeviceModel(deviceID, parsed.Hostname, ifaces, vlans); err != nil {
		return fail(c, err)
	}
	snap, err := s.store.AddSnapshot(deviceID, raw, source)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"snapshot": snap,
		"warnings": parsed.Warnings,
	})
}

func toModelRows(m *confparse.DeviceModel) ([]models.Interface, []models.DeviceVlan) {
	var ifaces []models.Interface
	for _, ic := range m.Interfaces {
		ifaces = append(ifaces, models.Interface{
			Name:             ic.Name,
			Description:      ic.Description,
			Mode:             ic.Mode,
			VlanAccess:       ic.VlanAccess,
			VlanNative:       ic.VlanNative,
			VlanTrunkAllowed: ic.TrunkAllowed,
			IPAddress:        ic.IPAddress,
			IPMask:           ic.IPMask,
			Duplex:           ic.Duplex,
			HelperAddresses:  ic.HelperAddresses,
			State:            ic.State,
		})
	}
	var vlans []models.DeviceVlan
	for _, v := range m.Vlans {
		vlans = append(vlans, models.DeviceVlan{VlanID: v.ID, Name: v.Name})
	}
	return ifaces, vlans
}

func (s *Server) uploadConfig(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "cannot open upload: "+err.Error())
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return badRequest(c, "cannot read upload: "+err.Error())
	}
	return s.ingestConfig(c, c.Params("device_id"), string(raw), models.SourceUpload)
}

func (s *Server) putConfig(c *fiber.Ctx) error {
	var body struct {
		Config string `json:"config"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	return s.ingestConfig(c, c.Params("device_id"), body.Config, models.SourceManual)
}

func (s *Server) latestConfig(c *fiber.Ctx) error {
	snap, err := s.store.LatestSnapshot(c.Params("device_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(snap)
}

func (s *Server) generateCli(c *fiber.Ctx) error {
	d, err := s.store.GetDevice(c.Params("device_id"))
	if err != nil {
		return fail(c, err)
	}
	cli := render.Render(engine.DeviceModelOf(d))
	return c.JSON(fiber.Map{"device_id": d.ID, "hostname": d.Hostname, "cli": cli})
}

// generateProjectCli renders CLI for every device in the project, ordered by
// hostname so repeated calls produce the same sequence.
func (s *Server) generateProjectCli(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := s.store.GetProject(projectID); err != nil {
		return fail(c, err)
	}
	devices, err := s.store.ListDevices(projectID)
	if err != nil {
		return fail(c, err)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Hostname != devices[j].Hostname {
			return devices[i].Hostname < devices[j].Hostname
		}
		return devices[i].ID < devices[j].ID
	})
	out := make([]fiber.Map, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		out = append(out, fiber.Map{
			"device_id": d.ID,
			"hostname":  d.Hostname,
			"cli":       render.Render(engine.DeviceModelOf(d)),
		})
	}
	return c.JSON(fiber.Map{"project_id": projectID, "devices": out})
}

// ---------- Validation ----------

func (s *Server) startValidation(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := s.store.GetProject(projectID); err != nil {
		return fail(c, err)
	}
	j, err := s.jobs.Create(projectID, models.KindSimulation)
	if err != nil {
		return fail(c, err)
	}
	go s.engine.RunSimulation(projectID, j.ID)
	return c.Status(fiber.StatusAccepted).JSON(j)
}

func (s *Server) getJob(c *fiber.Ctx) error {
	j, err := s.jobs.Get(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(j)
}

// ---------- Credentials and device I/O ----------

func (s *Server) setCredentials(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		KeyPath  string `json:"key_path"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	d, err := s.store.GetDevice(c.Params("device_id"))
	if err != nil {
		return fail(c, err)
	}
	if d.CredentialRef != "" {
		if err := s.creds.Delete(d.CredentialRef); err != nil {
			slog.Warn("stale vault entry removal failed", "device", d.ID, "error", err)
		}
	}
	ref, err := s.creds.Store(d.ProjectID, d.ID, vault.Material{
		Username: body.Username, Password: body.Password, KeyPath: body.KeyPath,
	})
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.store.SetCredentialRef(d.ID, ref); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"device_id": d.ID, "stored": true})
}

func (s *Server) deleteCredentials(c *fiber.Ctx) error {
	d, err := s.store.GetDevice(c.Params("device_id"))
	if err != nil {
		return fail(c, err)
	}
	if d.CredentialRef != "" {
		if err := s.creds.Delete(d.CredentialRef); err != nil {
			return fail(c, err)
		}
		if err := s.store.SetCredentialRef(d.ID, ""); err != nil {
			return fail(c, err)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) deviceMaterial(c *fiber.Ctx) (*models.Device, vault.Material, error) {
	d, err := s.store.GetDevice(c.Params("device_id"))
	if err != nil {
		return nil, vault.Material{}, err
	}
	if d.ManagementIP == "" {
		return nil, vault.Material{}, &store.ValidationError{Field: "management_ip", Msg: "device has no management IP"}
	}
	if d.CredentialRef == "" {
		return nil, vault.Material{}, &store.ValidationError{Field: "credentials", Msg: "device has no stored credentials"}
	}
	mat, err := s.creds.Load(d.CredentialRef)
	if err != nil {
		return nil, vault.Material{}, err
	}
	return d, mat, nil
}

func (s *Server) sshConnect(c *fiber.Ctx) error {
	d, mat, err := s.deviceMaterial(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.pool.Probe(c.Context(), d.ManagementIP, mat); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"reachable": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"reachable": true})
}

func (s *Server) startIngestion(c *fiber.Ctx) error {
	d, mat, err := s.deviceMaterial(c)
	if err != nil {
		return fail(c, err)
	}
	j, err := s.jobs.Create(d.ProjectID, models.KindIngestion)
	if err != nil {
		return fail(c, err)
	}
	go s.runIngestion(d, mat, j.ID)
	return c.Status(fiber.StatusAccepted).JSON(j)
}

// runIngestion pulls the live config over SSH, rebuilds the device model, and
// records an ssh-sourced snapshot.
func (s *Server) runIngestion(d *models.Device, mat vault.Material, jobID string) {
	if err := s.jobs.Start(jobID); err != nil {
		slog.Error("ingestion start failed", "job", jobID, "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s.jobs.Publish(jobID, jobs.Event{"event": "ingest_start", "device": d.Hostname})
	out, err := s.pool.Ingest(ctx, d.ManagementIP, mat)
	if err != nil {
		s.jobs.Fail(jobID, err.Error())
		return
	}
	s.jobs.Publish(jobID, jobs.Event{"event": "ingest_collected", "commands": len(out)})

	raw := out["show running-config"]
	parsed := confparse.Parse(raw)
	ifaces, vlans := toModelRows(parsed)
	if err := s.store.ReplaceDeviceModel(d.ID, parsed.Hostname, ifaces, vlans); err != nil {
		s.jobs.Fail(jobID, err.Error())
		return
	}
	snap, err := s.store.AddSnapshot(d.ID, raw, models.SourceSSH)
	if err != nil {
		s.jobs.Fail(jobID, err.Error())
		return
	}
	s.jobs.Complete(jobID, fiber.Map{
		"device_id":   d.ID,
		"hostname":    parsed.Hostname,
		"interfaces":  len(ifaces),
		"vlans":       len(vlans),
		"config_hash": snap.ConfigHash,
		"warnings":    parsed.Warnings,
	})
}

func (s *Server) snmpStatus(c *fiber.Ctx) error {
	var body struct {
		Community string `json:"community"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if body.Community == "" {
		body.Community = "public"
	}
	d, err := s.store.GetDevice(c.Params("device_id"))
	if err != nil {
		return fail(c, err)
	}
	if d.ManagementIP == "" {
		return badRequest(c, "device has no management IP")
	}
	ports, err := snmpprobe.Walk(d.ManagementIP, body.Community)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"device_id": d.ID, "ports": ports})
}

// ---------- Remediation ----------

// buildPlan turns the findings of the last completed validation run into a
// remediation plan. The plan always reflects a result the user has seen, not
// a fresh audit over a possibly edited topology.
func (s *Server) buildPlan(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := s.store.GetProject(projectID); err != nil {
		return fail(c, err)
	}
	j, err := s.store.LatestCompletedJob(projectID, models.KindSimulation)
	if err != nil {
		if store.IsNotFound(err) {
			return badRequest(c, "no completed validation run; validate the project first")
		}
		return fail(c, err)
	}
	var audit engine.AuditResult
	if err := json.Unmarshal(j.Result, &audit); err != nil {
		return fail(c, err)
	}
	plan := remediate.BuildPlan(projectID, &audit)
	if len(plan.Items) == 0 {
		return c.JSON(fiber.Map{"plan": nil, "summary": audit.Summary})
	}
	if err := s.store.CreatePlan(plan); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

func (s *Server) getPlan(c *fiber.Ctx) error {
	p, err := s.store.GetPlan(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) latestPlan(c *fiber.Ctx) error {
	p, err := s.store.LatestPlan(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) approvePlan(c *fiber.Ctx) error {
	p, err := s.apply.Approve(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) setItemApproval(c *fiber.Ctx) error {
	var body struct {
		Approved bool `json:"approved"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if err := s.store.SetItemApproval(c.Params("id"), c.Params("item_id"), body.Approved); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"item_id": c.Params("item_id"), "approved": body.Approved})
}

// confirmed decodes the confirm flag; ok=false means the response is already
// written and the caller must return err as is.
func confirmed(c *fiber.Ctx) (bool, error) {
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.BodyParser(&body); err != nil {
		return false, badRequest(c, "invalid body: "+err.Error())
	}
	if !body.Confirm {
		return false, fail(c, sshio.ErrConfirmationRequired)
	}
	return true, nil
}

// startPlanJob runs the applicator step in the background under a remediation
// job. Callers gate on the confirm flag first.
func (s *Server) startPlanJob(c *fiber.Ctx, planID string, run func(ctx context.Context, planID, jobID string)) error {
	p, err := s.store.GetPlan(planID)
	if err != nil {
		return fail(c, err)
	}
	j, err := s.jobs.Create(p.ProjectID, models.KindRemediation)
	if err != nil {
		return fail(c, err)
	}
	go run(context.Background(), planID, j.ID)
	return c.Status(fiber.StatusAccepted).JSON(j)
}

func (s *Server) applyPlan(c *fiber.Ctx) error {
	if ok, err := confirmed(c); !ok {
		return err
	}
	return s.startPlanJob(c, c.Params("id"), s.apply.Apply)
}

func (s *Server) rollbackPlan(c *fiber.Ctx) error {
	if ok, err := confirmed(c); !ok {
		return err
	}
	return s.startPlanJob(c, c.Params("id"), s.apply.Rollback)
}

// applyLatestPlan applies the project's most recent plan.
func (s *Server) applyLatestPlan(c *fiber.Ctx) error {
	if ok, err := confirmed(c); !ok {
		return err
	}
	p, err := s.store.LatestPlan(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return s.startPlanJob(c, p.ID, s.apply.Apply)
}

// ---------- Assistant ----------

func (s *Server) aiSettings(c *fiber.Ctx) error {
	return c.JSON(s.ai.Status())
}

func (s *Server) updateAiSettings(c *fiber.Ctx) error {
	var body struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		BaseURL  string `json:"base_url"`
		APIKey   string `json:"api_key"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	st, err := s.ai.Update(body.Provider, body.Model, body.BaseURL, body.APIKey)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(st)
}

func (s *Server) aiModels(c *fiber.Ctx) error {
	models, err := s.ai.Models(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"models": models})
}

func (s *Server) aiTest(c *fiber.Ctx) error {
	if err := s.ai.TestConnection(c.Context()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true})
}
