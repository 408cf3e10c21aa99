package sshio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"netval/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDialer struct {
	mu       sync.Mutex
	dials    int
	failDial bool
	session  *stubSession
}

func (d *stubDialer) Dial(ctx context.Context, addr string, mat vault.Material) (Session, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.failDial {
		return nil, &DeviceUnreachableError{Addr: addr, Err: fmt.Errorf("refused")}
	}
	if d.session == nil {
		d.session = &stubSession{outputs: map[string]string{}}
	}
	return d.session, nil
}

type stubSession struct {
	mu      sync.Mutex
	outputs map[string]string
	ran     []string
	pushed  []string
	runErr  error
	pushErr error
	closed  bool
}

func (s *stubSession) Run(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, command)
	if s.runErr != nil {
		return "", s.runErr
	}
	if out, ok := s.outputs[command]; ok {
		return out, nil
	}
	return "output of " + command, nil
}

func (s *stubSession) PushLines(ctx context.Context, lines []string, onLine func(string)) error {
	s.mu.Lock()
	s.pushed = append(s.pushed, lines...)
	s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	for _, l := range lines {
		if onLine != nil {
			onLine(l)
		}
	}
	return nil
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var testMat = vault.Material{Username: "admin", Password: "x"}

func TestPushRejectsWithoutConfirmation(t *testing.T) {
	d := &stubDialer{}
	p := NewPool(d, 2, time.Second)

	_, err := p.Push(context.Background(), "10.0.0.1", testMat, "vlan 30", false, nil, nil)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Zero(t, d.dials, "no session may be opened before the confirm gate")
}

func TestPushCapturesPreConfigAndStreams(t *testing.T) {
	d := &stubDialer{session: &stubSession{outputs: map[string]string{
		"show running-config": "hostname BEFORE\n",
	}}}
	p := NewPool(d, 2, time.Second)

	var streamed []string
	res, err := p.Push(context.Background(), "10.0.0.1", testMat,
		"vlan 30\n name VLAN30\n\n", true, nil,
		func(line string) { streamed = append(streamed, line) })
	require.NoError(t, err)
	assert.Equal(t, "hostname BEFORE\n", res.PreConfig)
	assert.Equal(t, 2, res.LinesSent, "blank lines are dropped")
	assert.Equal(t, []string{"vlan 30", " name VLAN30"}, streamed)
	assert.True(t, d.session.closed)
}

func TestPushReturnsPreConfigOnConfigureFailure(t *testing.T) {
	d := &stubDialer{session: &stubSession{
		outputs: map[string]string{"show running-config": "hostname BEFORE\n"},
		pushErr: errors.New("link dropped"),
	}}
	p := NewPool(d, 2, time.Second)

	res, err := p.Push(context.Background(), "10.0.0.1", testMat, "vlan 30", true, nil, nil)
	require.Error(t, err)
	var pf *PushFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "configure", pf.Step)
	require.NotNil(t, res, "partial result carries the rollback capture")
	assert.Equal(t, "hostname BEFORE\n", res.PreConfig)
}

func TestPushHandsOffCaptureBeforeConfigure(t *testing.T) {
	sess := &stubSession{outputs: map[string]string{
		"show running-config": "hostname BEFORE\n",
	}}
	d := &stubDialer{session: sess}
	p := NewPool(d, 2, time.Second)

	var captured string
	_, err := p.Push(context.Background(), "10.0.0.1", testMat, "vlan 30", true,
		func(pre string) error {
			captured = pre
			sess.mu.Lock()
			defer sess.mu.Unlock()
			require.Empty(t, sess.pushed, "capture handoff must precede configure mode")
			return nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hostname BEFORE\n", captured)
}

func TestPushAbortsWhenCaptureHandoffFails(t *testing.T) {
	sess := &stubSession{outputs: map[string]string{
		"show running-config": "hostname BEFORE\n",
	}}
	d := &stubDialer{session: sess}
	p := NewPool(d, 2, time.Second)

	_, err := p.Push(context.Background(), "10.0.0.1", testMat, "vlan 30", true,
		func(string) error { return errors.New("disk full") }, nil)
	var pf *PushFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "pre-push persist", pf.Step)
	assert.Empty(t, sess.pushed, "no configure line may be sent without a stored capture")
}

func TestIngestRunsFixedCommandSet(t *testing.T) {
	d := &stubDialer{}
	p := NewPool(d, 2, time.Second)

	out, err := p.Ingest(context.Background(), "10.0.0.1", testMat)
	require.NoError(t, err)
	require.Len(t, out, len(IngestCommands))
	assert.Equal(t, IngestCommands, d.session.ran)
	assert.Equal(t, "output of show version", out["show version"])
}

func TestIngestWrapsCommandFailure(t *testing.T) {
	d := &stubDialer{session: &stubSession{
		outputs: map[string]string{},
		runErr:  errors.New("timed out"),
	}}
	p := NewPool(d, 2, time.Second)

	_, err := p.Ingest(context.Background(), "10.0.0.1", testMat)
	var ue *DeviceUnreachableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "10.0.0.1", ue.Addr)
}

func TestProbeDialsAndCloses(t *testing.T) {
	d := &stubDialer{}
	p := NewPool(d, 2, time.Second)
	require.NoError(t, p.Probe(context.Background(), "10.0.0.1", testMat))
	assert.Equal(t, 1, d.dials)
	assert.True(t, d.session.closed)

	d2 := &stubDialer{failDial: true}
	p2 := NewPool(d2, 2, time.Second)
	err := p2.Probe(context.Background(), "10.0.0.1", testMat)
	var ue *DeviceUnreachableError
	assert.ErrorAs(t, err, &ue)
}

func TestPoolHonorsContextWhileSaturated(t *testing.T) {
	d := &stubDialer{}
	p := NewPool(d, 1, time.Second)

	// Occupy the only slot.
	require.NoError(t, p.acquire(context.Background()))
	defer p.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Probe(ctx, "10.0.0.1", testMat)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAuthMethodsRequireSecret(t *testing.T) {
	_, err := authMethods(vault.Material{Username: "admin"})
	assert.Error(t, err)

	methods, err := authMethods(vault.Material{Username: "admin", Password: "x"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestErrorMessagesNameUnderlyingType(t *testing.T) {
	e := &AuthFailureError{Addr: "10.0.0.1:22", Err: errors.New("denied")}
	assert.Contains(t, e.Error(), "*errors.errorString")
	assert.ErrorContains(t, e, "10.0.0.1:22")
}
