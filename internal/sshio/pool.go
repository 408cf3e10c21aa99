// Package sshio performs all blocking device I/O on a bounded pool so the
// request path never opens a session itself.
package sshio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"netval/internal/vault"

	"golang.org/x/crypto/ssh"
)

// IngestCommands is the fixed command set one ingest session executes.
var IngestCommands = []string{
	"show running-config",
	"show vlan",
	"show ip interface brief",
	"show cdp neighbors detail",
	"show version",
}

// Dialer abstracts the transport so tests can stand in a fake device.
type Dialer interface {
	Dial(ctx context.Context, addr string, mat vault.Material) (Session, error)
}

// Session is one authenticated connection to a device.
type Session interface {
	Run(ctx context.Context, command string) (string, error)
	// PushLines enters configure mode, feeds each line with a settle pause,
	// then issues end and write memory. onLine fires per line sent.
	PushLines(ctx context.Context, lines []string, onLine func(string)) error
	Close() error
}

type PushResult struct {
	PreConfig string `json:"-"`
	LinesSent int    `json:"lines_sent"`
}

type Pool struct {
	dialer         Dialer
	sem            chan struct{}
	commandTimeout time.Duration
}

func NewPool(dialer Dialer, max int, commandTimeout time.Duration) *Pool {
	if max <= 0 {
		max = 5
	}
	return &Pool{dialer: dialer, sem: make(chan struct{}, max), commandTimeout: commandTimeout}
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() { <-p.sem }

// Probe opens and immediately closes a session; the SSH liveness check.
func (p *Pool) Probe(ctx context.Context, addr string, mat vault.Material) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	s, err := p.dialer.Dial(ctx, addr, mat)
	if err != nil {
		return err
	}
	return s.Close()
}

// Ingest runs the fixed command set and returns output keyed by command.
func (p *Pool) Ingest(ctx context.Context, addr string, mat vault.Material) (map[string]string, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	s, err := p.dialer.Dial(ctx, addr, mat)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	out := make(map[string]string, len(IngestCommands))
	for _, cmd := range IngestCommands {
		cctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
		text, err := s.Run(cctx, cmd)
		cancel()
		if err != nil {
			return nil, &DeviceUnreachableError{Addr: addr, Err: fmt.Errorf("%s: %w", cmd, err)}
		}
		out[cmd] = text
	}
	return out, nil
}

// Push captures the running config, then feeds the patch line by line. The
// confirm gate fails before any session is opened. The captured config is
// handed to onPreConfig before configure mode opens; an error there aborts
// the push with nothing sent.
func (p *Pool) Push(ctx context.Context, addr string, mat vault.Material, configBlock string, confirm bool, onPreConfig func(string) error, onLine func(string)) (*PushResult, error) {
	if !confirm {
		return nil, ErrConfirmationRequired
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	s, err := p.dialer.Dial(ctx, addr, mat)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	cctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	pre, err := s.Run(cctx, "show running-config")
	cancel()
	if err != nil {
		return nil, &PushFailureError{Step: "pre-push capture", Err: err}
	}
	if onPreConfig != nil {
		if err := onPreConfig(pre); err != nil {
			return &PushResult{PreConfig: pre}, &PushFailureError{Step: "pre-push persist", Err: err}
		}
	}

	var lines []string
	for _, line := range strings.Split(configBlock, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := s.PushLines(ctx, lines, onLine); err != nil {
		return &PushResult{PreConfig: pre}, &PushFailureError{Step: "configure", Err: err}
	}
	return &PushResult{PreConfig: pre, LinesSent: len(lines)}, nil
}

// ---------- real transport ----------

// NetDialer speaks SSH over TCP with the configured timeouts.
type NetDialer struct {
	ConnectTimeout time.Duration
	SettleDelay    time.Duration
}

func NewNetDialer(connectTimeout time.Duration) *NetDialer {
	return &NetDialer{ConnectTimeout: connectTimeout, SettleDelay: 100 * time.Millisecond}
}

func (d *NetDialer) Dial(ctx context.Context, addr string, mat vault.Material) (Session, error) {
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	auth, err := authMethods(mat)
	if err != nil {
		return nil, &AuthFailureError{Addr: addr, Err: err}
	}
	cfg := &ssh.ClientConfig{
		User:            mat.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.ConnectTimeout,
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "permission denied") {
			return nil, &AuthFailureError{Addr: addr, Err: err}
		}
		return nil, &DeviceUnreachableError{Addr: addr, Err: err}
	}
	return &netSession{client: client, settle: d.SettleDelay}, nil
}

func authMethods(mat vault.Material) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if mat.KeyPath != "" {
		keyBytes, err := os.ReadFile(mat.KeyPath)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if mat.Password != "" {
		methods = append(methods, ssh.Password(mat.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("credential material has neither password nor key")
	}
	return methods, nil
}

type netSession struct {
	client *ssh.Client
	settle time.Duration
}

func (s *netSession) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return string(r.out), r.err
	case <-ctx.Done():
		_ = sess.Close()
		return "", ctx.Err()
	}
}

func (s *netSession) PushLines(ctx context.Context, lines []string, onLine func(string)) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return err
	}
	if err := sess.Shell(); err != nil {
		return err
	}

	send := func(line string) error {
		if _, err := fmt.Fprintln(stdin, line); err != nil {
			return err
		}
		select {
		case <-time.After(s.settle):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if err := send("configure terminal"); err != nil {
		return err
	}
	for _, line := range lines {
		if err := send(line); err != nil {
			return err
		}
		if onLine != nil {
			onLine(line)
		}
	}
	if err := send("end"); err != nil {
		return err
	}
	if err := send("write memory"); err != nil {
		return err
	}
	if err := stdin.Close(); err != nil {
		slog.Warn("ssh stdin close failed", "error", err)
	}
	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()
	select {
	case err := <-done:
		// Devices drop the shell after write memory; an exit status is fine.
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *netSession) Close() error { return s.client.Close() }
