package engine

import (
	"encoding/json"
	"testing"

	"netval/internal/checks"
	"netval/internal/db"
	"netval/internal/jobs"
	"netval/internal/models"
	"netval/internal/store"
	"netval/internal/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopVault struct{}

func (nopVault) Delete(string) error { return nil }

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(db.OpenMemory(), nopVault{})
	return New(st, jobs.NewManager(st)), st
}

func seedProject(t *testing.T, st *store.Store) string {
	t.Helper()
	p := models.Project{Name: "campus"}
	require.NoError(t, st.CreateProject(&p))

	sw1 := models.Device{Hostname: "SW-1", Role: "switch"}
	require.NoError(t, st.CreateDevice(p.ID, &sw1))
	sw2 := models.Device{Hostname: "SW-2", Role: "switch"}
	require.NoError(t, st.CreateDevice(p.ID, &sw2))

	cfg1 := "hostname SW-1\nvlan 10\n name USERS\nvlan 30\n name CAMERAS\n"
	cfg2 := "hostname SW-2\nvlan 10\n name USERS\n"
	_, err := st.AddSnapshot(sw1.ID, cfg1, models.SourceManual)
	require.NoError(t, err)
	_, err = st.AddSnapshot(sw2.ID, cfg2, models.SourceManual)
	require.NoError(t, err)
	require.NoError(t, st.ReplaceDeviceModel(sw1.ID, "SW-1", nil,
		[]models.DeviceVlan{{VlanID: 10, Name: "USERS"}, {VlanID: 30, Name: "CAMERAS"}}))
	require.NoError(t, st.ReplaceDeviceModel(sw2.ID, "SW-2", nil,
		[]models.DeviceVlan{{VlanID: 10, Name: "USERS"}}))

	l := models.Link{
		SourceDeviceID: sw1.ID, SourceInterface: "Gi1/0/24",
		TargetDeviceID: sw2.ID, TargetInterface: "Gi1/0/24",
		VlanAllowList: []int{10, 30},
	}
	require.NoError(t, st.CreateLink(p.ID, &l))
	return p.ID
}

func TestAuditFindsContinuityGap(t *testing.T) {
	eng, st := newEngine(t)
	projectID := seedProject(t, st)

	g, err := eng.Assemble(projectID)
	require.NoError(t, err)
	result := eng.Audit(projectID, g, nil)

	var gap *checks.Result
	for i := range result.Findings {
		f := &result.Findings[i]
		if f.CheckID == "VLAN_CONTINUITY" && !f.Passed {
			gap = f
		}
	}
	require.NotNil(t, gap)
	assert.Equal(t, 30, gap.VlanID)
	assert.Equal(t, "SW-2", gap.Hostname)
	assert.Equal(t, result.Summary.Passed+result.Summary.Failed, result.Summary.Total)
	assert.True(t, result.Reachability["SW-1"]["SW-2"])
}

// Two runs over the same topology must serialize byte-identically.
func TestAuditDeterministic(t *testing.T) {
	eng, st := newEngine(t)
	projectID := seedProject(t, st)

	g1, err := eng.Assemble(projectID)
	require.NoError(t, err)
	a, err := json.Marshal(eng.Audit(projectID, g1, nil))
	require.NoError(t, err)

	g2, err := eng.Assemble(projectID)
	require.NoError(t, err)
	b, err := json.Marshal(eng.Audit(projectID, g2, nil))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
}

func TestAuditEmitsProgress(t *testing.T) {
	eng, st := newEngine(t)
	projectID := seedProject(t, st)
	g, err := eng.Assemble(projectID)
	require.NoError(t, err)

	var events []string
	eng.Audit(projectID, g, func(ev jobs.Event) {
		events = append(events, ev["event"].(string))
	})
	// One start and one complete per registered check, in order.
	require.Len(t, events, 2*len(checks.Registry()))
	assert.Equal(t, "check_start", events[0])
	assert.Equal(t, "check_complete", events[1])
}

func TestRunGuardedRecoversPanic(t *testing.T) {
	eng, _ := newEngine(t)
	c := checks.Check{
		ID:       "VLAN_CONTINUITY",
		Severity: checks.SeverityError,
		Run:      func(*topology.Graph) []checks.Result { panic("boom") },
	}
	results := eng.runGuarded(c, topology.Assemble(nil, nil, nil))
	require.Len(t, results, 1)
	assert.Equal(t, "VLAN_CONTINUITY_INTERNAL", results[0].CheckID)
	assert.Contains(t, results[0].Detail, "boom")
}

func TestRunSimulationLifecycle(t *testing.T) {
	eng, st := newEngine(t)
	projectID := seedProject(t, st)

	j, err := eng.jobs.Create(projectID, models.KindSimulation)
	require.NoError(t, err)
	eng.RunSimulation(projectID, j.ID)

	final, err := st.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, final.Status)

	var result AuditResult
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, projectID, result.ProjectID)
	assert.NotZero(t, result.Summary.Total)
}

func TestDeviceModelOfMarksSVIs(t *testing.T) {
	d := &models.Device{
		Hostname: "SW-1",
		Vlans:    []models.DeviceVlan{{VlanID: 10, Name: "USERS"}},
		Interfaces: []models.Interface{
			{Name: "Vlan10", IPAddress: "10.0.10.1", IPMask: "255.255.255.0", Mode: "routed"},
			{Name: "GigabitEthernet1/0/1", Mode: "access"},
		},
	}
	m := DeviceModelOf(d)
	require.Len(t, m.Interfaces, 2)
	assert.True(t, m.Interfaces[0].SVI)
	assert.Equal(t, 10, m.Interfaces[0].SVIVlan)
	assert.False(t, m.Interfaces[1].SVI)
	assert.Equal(t, "up", m.Interfaces[1].State)
}
