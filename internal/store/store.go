package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"netval/internal/models"

	"gorm.io/gorm"
)

// CredentialDeleter is the slice of the vault the store needs for cascades.
type CredentialDeleter interface {
	Delete(ref string) error
}

// Store is the single write path to the topology database. Writes within one
// project are serialized; reads go straight to the connection pool.
type Store struct {
	db    *gorm.DB
	vault CredentialDeleter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(conn *gorm.DB, vault CredentialDeleter) *Store {
	return &Store{db: conn, vault: vault, locks: make(map[string]*sync.Mutex)}
}

// DB exposes the underlying handle for read-only consumers (engine assembly).
func (s *Store) DB() *gorm.DB { return s.db }

// HashConfig is the content hash used for config_hash and snapshot identity.
func HashConfig(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Store) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return &StorageError{Err: err}
}

func (s *Store) audit(tx *gorm.DB, projectID, deviceID, action, detail string) {
	entry := models.AuditLog{
		ProjectID: projectID,
		DeviceID:  deviceID,
		Actor:     "local",
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		slog.Warn("audit log write failed", "action", action, "error", err)
	}
}

// ---------- Projects ----------

func (s *Store) CreateProject(p *models.Project) error {
	if p.ID != "" {
		return validationf("id", "client-supplied ids are rejected")
	}
	if p.Name == "" {
		return validationf("name", "name is required")
	}
	return wrap(s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		s.audit(tx, p.ID, "", "project.create", p.Name)
		return nil
	}))
}

func (s *Store) ListProjects() ([]models.Project, error) {
	var out []models.Project
	err := s.db.Order("created_at asc").Find(&out).Error
	return out, wrap(err)
}

func (s *Store) GetProject(id string) (*models.Project, error) {
	var p models.Project
	err := s.db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

// DeleteProject removes the project and every owned row, and revokes the vault
// entry of every device that had one.
func (s *Store) DeleteProject(id string) error {
	lock := s.projectLock(id)
	lock.Lock()
	defer lock.Unlock()

	var refs []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		var devices []models.Device
		if err := tx.Find(&devices, "project_id = ?", id).Error; err != nil {
			return err
		}
		deviceIDs := make([]string, 0, len(devices))
		for _, d := range devices {
			deviceIDs = append(deviceIDs, d.ID)
			if d.CredentialRef != "" {
				refs = append(refs, d.CredentialRef)
			}
		}
		if len(deviceIDs) > 0 {
			if err := tx.Delete(&models.Interface{}, "device_id IN ?", deviceIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.DeviceVlan{}, "device_id IN ?", deviceIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.ConfigSnapshot{}, "device_id IN ?", deviceIDs).Error; err != nil {
				return err
			}
		}
		var planIDs []string
		if err := tx.Model(&models.RemediationPlan{}).Where("project_id = ?", id).Pluck("id", &planIDs).Error; err != nil {
			return err
		}
		if len(planIDs) > 0 {
			if err := tx.Delete(&models.RemediationItem{}, "plan_id IN ?", planIDs).Error; err != nil {
				return err
			}
		}
		for _, m := range []any{
			&models.Link{}, &models.Device{}, &models.Job{}, &models.RemediationPlan{},
		} {
			if err := tx.Delete(m, "project_id = ?", id).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&models.Project{}, "id = ?", id).Error; err != nil {
			return err
		}
		s.audit(tx, id, "", "project.delete", p.Name)
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("project", id)
	}
	if err != nil {
		return wrap(err)
	}
	for _, ref := range refs {
		if err := s.vault.Delete(ref); err != nil {
			slog.Warn("vault entry removal failed", "error", err)
		}
	}
	return nil
}

func (s *Store) touchProject(tx *gorm.DB, id string) error {
	return tx.Model(&models.Project{}).Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// ---------- Devices ----------

func (s *Store) CreateDevice(projectID string, d *models.Device) error {
	if d.ID != "" {
		return validationf("id", "client-supplied ids are rejected")
	}
	if d.Hostname == "" {
		return validationf("hostname", "hostname is required")
	}
	switch d.Role {
	case models.RoleSwitch, models.RoleRouter, models.RoleWLC, models.RoleAP,
		models.RoleFirewall, models.RoleEndpoint:
	default:
		return validationf("role", "unknown role %q", d.Role)
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.First(&p, "id = ?", projectID).Error; err != nil {
			return err
		}
		d.ProjectID = projectID
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		s.audit(tx, projectID, d.ID, "device.create", d.Hostname)
		return s.touchProject(tx, projectID)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("project", projectID)
	}
	return wrap(err)
}

func (s *Store) ListDevices(projectID string) ([]models.Device, error) {
	var out []models.Device
	err := s.db.Preload("Interfaces").Preload("Vlans").
		Where("project_id = ?", projectID).
		Order("created_at asc").Find(&out).Error
	return out, wrap(err)
}

func (s *Store) GetDevice(id string) (*models.Device, error) {
	var d models.Device
	err := s.db.Preload("Interfaces").Preload("Vlans").First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("device", id)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &d, nil
}

// UpdateDevice refreshes mutable attributes (canvas position, management ip,
// hostname). Ownership and identity fields are not touched.
func (s *Store) UpdateDevice(id string, patch map[string]any) (*models.Device, error) {
	d, err := s.GetDevice(id)
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{
		"hostname": true, "management_ip": true, "canvas_x": true,
		"canvas_y": true, "role": true, "vendor": true, "platform": true,
	}
	updates := map[string]any{}
	for k, v := range patch {
		if allowed[k] {
			updates[k] = v
		}
	}
	if len(updates) == 0 {
		return d, nil
	}
	updates["updated_at"] = time.Now().UTC()

	lock := s.projectLock(d.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Device{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return s.touchProject(tx, d.ProjectID)
	})
	if err != nil {
		return nil, wrap(err)
	}
	return s.GetDevice(id)
}

func (s *Store) DeleteDevice(id string) error {
	d, err := s.GetDevice(id)
	if err != nil {
		return err
	}
	lock := s.projectLock(d.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&models.Interface{}, &models.DeviceVlan{}, &models.ConfigSnapshot{}} {
			if err := tx.Delete(m, "device_id = ?", id).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&models.Link{}, "source_device_id = ? OR target_device_id = ?", id, id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Device{}, "id = ?", id).Error; err != nil {
			return err
		}
		s.audit(tx, d.ProjectID, id, "device.delete", d.Hostname)
		return s.touchProject(tx, d.ProjectID)
	})
	if err != nil {
		return wrap(err)
	}
	if d.CredentialRef != "" {
		if err := s.vault.Delete(d.CredentialRef); err != nil {
			slog.Warn("vault entry removal failed", "device", id, "error", err)
		}
	}
	return nil
}

// ReplaceDeviceModel swaps the device's interfaces and VLAN database for the
// ones recovered from a parsed configuration.
func (s *Store) ReplaceDeviceModel(deviceID, hostname string, ifaces []models.Interface, vlans []models.DeviceVlan) error {
	d, err := s.GetDevice(deviceID)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, i := range ifaces {
		if seen[i.Name] {
			return validationf("interfaces", "duplicate interface name %q", i.Name)
		}
		seen[i.Name] = true
	}

	lock := s.projectLock(d.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Interface{}, "device_id = ?", deviceID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.DeviceVlan{}, "device_id = ?", deviceID).Error; err != nil {
			return err
		}
		for i := range ifaces {
			ifaces[i].ID = ""
			ifaces[i].DeviceID = deviceID
			if err := tx.Create(&ifaces[i]).Error; err != nil {
				return err
			}
		}
		for i := range vlans {
			vlans[i].DeviceID = deviceID
			if err := tx.Create(&vlans[i]).Error; err != nil {
				return err
			}
		}
		updates := map[string]any{"updated_at": time.Now().UTC()}
		if hostname != "" {
			updates["hostname"] = hostname
		}
		if err := tx.Model(&models.Device{}).Where("id = ?", deviceID).Updates(updates).Error; err != nil {
			return err
		}
		s.audit(tx, d.ProjectID, deviceID, "device.model.replace", hostname)
		return s.touchProject(tx, d.ProjectID)
	})
	return wrap(err)
}

func (s *Store) SetCredentialRef(deviceID, ref string) error {
	res := s.db.Model(&models.Device{}).Where("id = ?", deviceID).
		Update("credential_ref", ref)
	if res.Error != nil {
		return wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("device", deviceID)
	}
	return nil
}

// ---------- Links ----------

func (s *Store) CreateLink(projectID string, l *models.Link) error {
	if l.ID != "" {
		return validationf("id", "client-supplied ids are rejected")
	}
	for _, v := range l.VlanAllowList {
		if v < 1 || v > 4094 {
			return validationf("vlan_allow_list", "vlan %d outside 1..4094", v)
		}
	}
	if l.SourceDeviceID == l.TargetDeviceID {
		return validationf("target_device_id", "link endpoints must differ")
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.First(&p, "id = ?", projectID).Error; err != nil {
			return err
		}
		for _, did := range []string{l.SourceDeviceID, l.TargetDeviceID} {
			var d models.Device
			if err := tx.First(&d, "id = ?", did).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return validationf("device_id", "link endpoint %s does not exist", did)
				}
				return err
			}
			if d.ProjectID != projectID {
				return validationf("device_id", "link endpoint %s belongs to another project", did)
			}
		}
		l.ProjectID = projectID
		if err := tx.Create(l).Error; err != nil {
			return err
		}
		s.audit(tx, projectID, "", "link.create", l.SourceDeviceID+" <-> "+l.TargetDeviceID)
		return s.touchProject(tx, projectID)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("project", projectID)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return wrap(err)
}

func (s *Store) ListLinks(projectID string) ([]models.Link, error) {
	var out []models.Link
	err := s.db.Where("project_id = ?", projectID).Order("id asc").Find(&out).Error
	return out, wrap(err)
}

func (s *Store) DeleteLink(id string) error {
	var l models.Link
	err := s.db.First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("link", id)
	}
	if err != nil {
		return wrap(err)
	}
	lock := s.projectLock(l.ProjectID)
	lock.Lock()
	defer lock.Unlock()
	return wrap(s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Link{}, "id = ?", id).Error; err != nil {
			return err
		}
		s.audit(tx, l.ProjectID, "", "link.delete", id)
		return s.touchProject(tx, l.ProjectID)
	}))
}

// ---------- Snapshots ----------

// AddSnapshot appends an immutable config copy. For every source except
// pre_push the device's config_hash follows the newest snapshot.
func (s *Store) AddSnapshot(deviceID, raw, source string) (*models.ConfigSnapshot, error) {
	d, err := s.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	switch source {
	case models.SourceManual, models.SourceUpload, models.SourceSSH, models.SourcePrePush:
	default:
		return nil, validationf("source", "unknown snapshot source %q", source)
	}

	snap := models.ConfigSnapshot{
		DeviceID:   deviceID,
		RawConfig:  raw,
		ConfigHash: HashConfig(raw),
		Source:     source,
	}

	lock := s.projectLock(d.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&snap).Error; err != nil {
			return err
		}
		if source != models.SourcePrePush {
			if err := tx.Model(&models.Device{}).Where("id = ?", deviceID).
				Updates(map[string]any{"config_hash": snap.ConfigHash, "updated_at": time.Now().UTC()}).Error; err != nil {
				return err
			}
		}
		s.audit(tx, d.ProjectID, deviceID, "snapshot.create", source)
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &snap, nil
}

func (s *Store) LatestSnapshot(deviceID string) (*models.ConfigSnapshot, error) {
	return s.latestSnapshot(deviceID, "")
}

// LatestPrePushSnapshot is the rollback target for the most recent push.
func (s *Store) LatestPrePushSnapshot(deviceID string) (*models.ConfigSnapshot, error) {
	return s.latestSnapshot(deviceID, models.SourcePrePush)
}

func (s *Store) latestSnapshot(deviceID, source string) (*models.ConfigSnapshot, error) {
	q := s.db.Where("device_id = ?", deviceID)
	if source == "" {
		q = q.Where("source <> ?", models.SourcePrePush)
	} else {
		q = q.Where("source = ?", source)
	}
	var snap models.ConfigSnapshot
	err := q.Order("taken_at desc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("snapshot", deviceID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &snap, nil
}

// ---------- Jobs ----------

func (s *Store) CreateJob(projectID, kind string) (*models.Job, error) {
	j := models.Job{ProjectID: projectID, Kind: kind, Status: models.JobQueued}
	if err := s.db.Create(&j).Error; err != nil {
		return nil, wrap(err)
	}
	return &j, nil
}

func (s *Store) GetJob(id string) (*models.Job, error) {
	var j models.Job
	err := s.db.First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("job", id)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &j, nil
}

func (s *Store) MarkJobRunning(id string) error {
	now := time.Now().UTC()
	return wrap(s.db.Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": models.JobRunning, "started_at": now}).Error)
}

func (s *Store) FinishJob(id, status string, result []byte, errMsg string) error {
	now := time.Now().UTC()
	return wrap(s.db.Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"status": status, "result": result, "error": errMsg, "completed_at": now,
		}).Error)
}

// LatestCompletedJob returns the project's newest complete job of a kind.
func (s *Store) LatestCompletedJob(projectID, kind string) (*models.Job, error) {
	var j models.Job
	err := s.db.Where("project_id = ? AND kind = ? AND status = ?",
		projectID, kind, models.JobComplete).
		Order("created_at desc").First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("job", projectID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &j, nil
}

// FailRunningJobs marks every queued or running job failed; called on shutdown.
func (s *Store) FailRunningJobs(reason string) error {
	now := time.Now().UTC()
	return wrap(s.db.Model(&models.Job{}).
		Where("status IN ?", []string{models.JobQueued, models.JobRunning}).
		Updates(map[string]any{"status": models.JobFailed, "error": reason, "completed_at": now}).Error)
}

// ---------- Remediation plans ----------

func (s *Store) CreatePlan(p *models.RemediationPlan) error {
	if p.ID != "" {
		return validationf("id", "client-supplied ids are rejected")
	}
	return wrap(s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		s.audit(tx, p.ProjectID, "", "plan.create", p.ID)
		return nil
	}))
}

func (s *Store) GetPlan(id string) (*models.RemediationPlan, error) {
	var p models.RemediationPlan
	err := s.db.Preload("Items").First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("plan", id)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

func (s *Store) LatestPlan(projectID string) (*models.RemediationPlan, error) {
	var p models.RemediationPlan
	err := s.db.Preload("Items").Where("project_id = ?", projectID).
		Order("created_at desc").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("plan", projectID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

// LatestAppliedPlan returns the project's most recently applied plan,
// regardless of its current status. A plan that is not this one supersedes
// any older apply as a rollback target.
func (s *Store) LatestAppliedPlan(projectID string) (*models.RemediationPlan, error) {
	var p models.RemediationPlan
	err := s.db.Where("project_id = ? AND applied_at IS NOT NULL", projectID).
		Order("applied_at desc").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("plan", projectID)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

func (s *Store) SetPlanStatus(id, status string, result []byte) error {
	updates := map[string]any{"status": status}
	if result != nil {
		updates["result"] = result
	}
	if status == models.PlanApplied {
		now := time.Now().UTC()
		updates["applied_at"] = now
	}
	res := s.db.Model(&models.RemediationPlan{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("plan", id)
	}
	return nil
}

func (s *Store) SetItemApproval(planID, itemID string, approved bool) error {
	p, err := s.GetPlan(planID)
	if err != nil {
		return err
	}
	if p.Status != models.PlanPending && p.Status != models.PlanApproved {
		return validationf("status", "plan %s does not accept approval changes", p.Status)
	}
	res := s.db.Model(&models.RemediationItem{}).
		Where("id = ? AND plan_id = ?", itemID, planID).
		Update("approved", approved)
	if res.Error != nil {
		return wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("item", itemID)
	}
	return nil
}

// ---------- Audit ----------

func (s *Store) ListAudit(projectID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []models.AuditLog
	err := s.db.Where("project_id = ?", projectID).
		Order("id desc").Limit(limit).Find(&out).Error
	return out, wrap(err)
}
