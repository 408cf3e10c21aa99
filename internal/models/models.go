package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Device roles placed on the canvas.
const (
	RoleSwitch   = "switch"
	RoleRouter   = "router"
	RoleWLC      = "wlc"
	RoleAP       = "ap"
	RoleFirewall = "firewall"
	RoleEndpoint = "endpoint"
)

// Interface port modes.
const (
	ModeAccess  = "access"
	ModeTrunk   = "trunk"
	ModeRouted  = "routed"
	ModeUnknown = "unknown"
)

// Interface operational states.
const (
	StateUp      = "up"
	StateDown    = "down"
	StateUnknown = "unknown"
)

// Link states as seen by the editor.
const (
	LinkPending       = "pending"
	LinkConnected     = "connected"
	LinkMisconfigured = "misconfigured"
)

// Snapshot sources.
const (
	SourceManual  = "manual"
	SourceUpload  = "upload"
	SourceSSH     = "ssh"
	SourcePrePush = "pre_push"
)

// Job kinds and statuses.
const (
	KindSimulation  = "simulation"
	KindIngestion   = "ingestion"
	KindRemediation = "remediation"

	JobQueued   = "queued"
	JobRunning  = "running"
	JobComplete = "complete"
	JobFailed   = "failed"
)

// Remediation plan statuses.
const (
	PlanPending    = "pending"
	PlanApproved   = "approved"
	PlanApplying   = "applying"
	PlanApplied    = "applied"
	PlanRolledBack = "rolled_back"
	PlanFailed     = "failed"
)

type Project struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Devices []Device `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Links   []Link   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type Device struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	ProjectID     string    `gorm:"index;not null" json:"project_id"`
	Hostname      string    `gorm:"not null" json:"hostname"`
	Role          string    `gorm:"not null" json:"role"`
	Vendor        string    `gorm:"default:cisco" json:"vendor"`
	Platform      string    `gorm:"default:ios-xe" json:"platform"`
	ManagementIP  string    `json:"management_ip"`
	CanvasX       float64   `json:"canvas_x"`
	CanvasY       float64   `json:"canvas_y"`
	CredentialRef string    `json:"-"`
	ConfigHash    string    `json:"config_hash"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Interfaces []Interface      `gorm:"constraint:OnDelete:CASCADE" json:"interfaces"`
	Vlans      []DeviceVlan     `gorm:"constraint:OnDelete:CASCADE" json:"vlans"`
	Snapshots  []ConfigSnapshot `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

type Interface struct {
	ID          string `gorm:"primaryKey" json:"id"`
	DeviceID    string `gorm:"index;not null;uniqueIndex:idx_iface_name" json:"device_id"`
	Name        string `gorm:"not null;uniqueIndex:idx_iface_name" json:"name"`
	Description string `json:"description"`
	Mode        string `gorm:"default:unknown" json:"mode"`
	VlanAccess  *int   `json:"vlan_access"`
	VlanNative  *int   `json:"vlan_native"`
	// Empty allow-list means unconstrained.
	VlanTrunkAllowed datatypes.JSONSlice[int]    `json:"vlan_trunk_allowed"`
	IPAddress        string                      `json:"ip_address"`
	IPMask           string                      `json:"ip_mask"`
	Duplex           string                      `json:"duplex"`
	HelperAddresses  datatypes.JSONSlice[string] `json:"helper_addresses,omitempty"`
	State            string                      `gorm:"default:unknown" json:"state"`
}

func (i *Interface) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// DeviceVlan marks the presence of a VLAN in a device's VLAN database.
type DeviceVlan struct {
	DeviceID string `gorm:"primaryKey" json:"device_id"`
	VlanID   int    `gorm:"primaryKey" json:"vlan_id"`
	Name     string `json:"name"`
}

type Link struct {
	ID              string                   `gorm:"primaryKey" json:"id"`
	ProjectID       string                   `gorm:"index;not null" json:"project_id"`
	SourceDeviceID  string                   `gorm:"not null" json:"source_device_id"`
	SourceInterface string                   `json:"source_interface"`
	TargetDeviceID  string                   `gorm:"not null" json:"target_device_id"`
	TargetInterface string                   `json:"target_interface"`
	Medium          string                   `gorm:"default:ethernet" json:"medium"`
	VlanAllowList   datatypes.JSONSlice[int] `json:"vlan_allow_list"`
	State           string                   `gorm:"default:pending" json:"state"`
}

func (l *Link) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// ConfigSnapshot is an immutable copy of a device's running configuration.
type ConfigSnapshot struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	DeviceID   string    `gorm:"index;not null" json:"device_id"`
	RawConfig  string    `gorm:"type:text;not null" json:"raw_config"`
	ConfigHash string    `gorm:"not null" json:"config_hash"`
	Source     string    `gorm:"not null" json:"source"`
	TakenAt    time.Time `json:"taken_at"`
}

func (c *ConfigSnapshot) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TakenAt.IsZero() {
		c.TakenAt = time.Now().UTC()
	}
	return nil
}

// Job tracks a simulation, ingestion, or remediation run. Result is written
// exactly once, when the job terminates.
type Job struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	ProjectID   string         `gorm:"index" json:"project_id"`
	Kind        string         `gorm:"not null" json:"kind"`
	Status      string         `gorm:"default:queued" json:"status"`
	Result      datatypes.JSON `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

type RemediationPlan struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	ProjectID string         `gorm:"index;not null" json:"project_id"`
	Status    string         `gorm:"default:pending" json:"status"`
	Result    datatypes.JSON `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	AppliedAt *time.Time     `json:"applied_at"`

	Items []RemediationItem `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE" json:"items"`
}

func (p *RemediationPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type RemediationItem struct {
	ID            string `gorm:"primaryKey" json:"id"`
	PlanID        string `gorm:"index;not null" json:"plan_id"`
	DeviceID      string `gorm:"not null" json:"device_id"`
	Interface     string `json:"interface,omitempty"`
	SourceCheckID string `json:"source_check_id"`
	CliPatch      string `gorm:"type:text" json:"cli_patch"`
	RollbackCli   string `gorm:"type:text" json:"rollback_cli"`
	Approved      bool   `json:"approved"`
}

func (i *RemediationItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// AuditLog is append-only; the integer key gives a total order.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID string    `gorm:"index" json:"project_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"timestamp"`
}
