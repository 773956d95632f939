// Package localprocess implements core.Driver by running the worker as a
// local OS subprocess, built on top of internal/process's BaseProcess.
package localprocess

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/giantswarm/latentworker/internal/core"
	"github.com/giantswarm/latentworker/internal/fileutil"
	"github.com/giantswarm/latentworker/internal/netutil"
	"github.com/giantswarm/latentworker/internal/process"
)

// fastStopTimeout is used for StopInstance(fast=true): short enough that the
// SIGTERM grace period in process.stopWithDone is effectively skipped.
const fastStopTimeout = 200 * time.Millisecond

// Config configures a Driver.
type Config struct {
	// WorkerBinary is the executable that implements the worker side of the
	// protocol (e.g. a buildbot-worker-compatible binary).
	WorkerBinary string
	// BaseDataDir is the parent directory under which each worker gets its
	// own per-instance data directory.
	BaseDataDir string
	// StartTimeout bounds how long WaitReady polls for the callback port.
	StartTimeout time.Duration
	// StopTimeout bounds graceful shutdown when StopInstance(fast=false).
	StopTimeout time.Duration
	// Ports allocates the TCP callback port each instance listens on.
	Ports *netutil.PortRegistry
	// CredentialsTemplate, if set, is staged into each instance's data
	// directory as "credentials" before the subprocess starts, with
	// permissions narrowed to 0600 regardless of the template's own mode.
	CredentialsTemplate string
	Logger              *slog.Logger
}

// Driver implements core.Driver over a local subprocess per worker.
type Driver struct {
	cfg  Config
	name string

	mu   sync.Mutex
	proc *process.BaseProcess
	port int
}

// New returns a Driver for one worker, identified by name, using password to
// authenticate the subprocess's connection back to the master.
func New(cfg Config, name, password string) (*Driver, error) {
	if cfg.WorkerBinary == "" {
		return nil, fmt.Errorf("worker binary path must not be empty")
	}
	if cfg.BaseDataDir == "" {
		return nil, fmt.Errorf("base data directory must not be empty")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 2 * time.Minute
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = process.DefaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = core.Logger()
	}
	return &Driver{cfg: cfg, name: name}, nil
}

// StartInstance launches the worker subprocess and waits for it to open its
// callback port. It returns (false, nil) if the process exits before
// becoming ready, and a non-nil error only for setup failures (bad data
// directory, port allocation failure) that are not the backend's fault.
func (d *Driver) StartInstance(ctx context.Context, build core.Build) (bool, error) {
	dataDir := filepath.Join(d.cfg.BaseDataDir, d.name)
	if err := fileutil.EnsureDir(dataDir); err != nil {
		return false, fmt.Errorf("ensure data dir: %w", err)
	}

	if d.cfg.CredentialsTemplate != "" {
		mode := os.FileMode(0o600)
		credsPath := filepath.Join(dataDir, "credentials")
		if err := fileutil.CopyFile(d.cfg.CredentialsTemplate, credsPath, &fileutil.CopyFileOptions{Mode: &mode, Atomic: true}); err != nil {
			return false, fmt.Errorf("stage credentials: %w", err)
		}
	}

	port, err := d.cfg.Ports.AllocatePort()
	if err != nil {
		return false, fmt.Errorf("acquire callback port: %w", err)
	}

	bp := process.NewBaseProcess(d.name, d.cfg.Logger)
	cmd := exec.CommandContext(ctx, d.cfg.WorkerBinary,
		"--name", d.name,
		"--port", fmt.Sprintf("%d", port),
		"--builder", build.BuilderName,
	)
	if err := bp.SetupAndStart(cmd, dataDir); err != nil {
		d.cfg.Ports.Release(port)
		return false, fmt.Errorf("start worker process: %w", err)
	}

	ready, err := d.waitReady(ctx, &bp, port)
	if err != nil {
		proc := &bp
		_ = process.StopCloseAndNil(&proc, d.cfg.StopTimeout)
		d.cfg.Ports.Release(port)
		return false, err
	}
	if !ready {
		bp.Close()
		d.cfg.Ports.Release(port)
		return false, nil
	}

	d.mu.Lock()
	d.proc = &bp
	d.port = port
	d.mu.Unlock()
	return true, nil
}

func (d *Driver) waitReady(ctx context.Context, bp *process.BaseProcess, port int) (bool, error) {
	err := process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      500 * time.Millisecond,
		Timeout:       d.cfg.StartTimeout,
		Name:          d.name,
		Port:          port,
		Logger:        d.cfg.Logger,
		ProcessExited: bp.Exited(),
	}, func(ctx context.Context, attempt int) (bool, error) {
		return netutil.ProbeTCP(ctx, port)
	})
	if err == nil {
		return true, nil
	}
	return false, nil
}

// StopInstance stops the subprocess. When fast is true it uses a short
// timeout so the SIGTERM grace period is effectively skipped, escalating to
// SIGKILL almost immediately; otherwise it uses the configured StopTimeout.
func (d *Driver) StopInstance(_ context.Context, fast bool) error {
	d.mu.Lock()
	bp := d.proc
	port := d.port
	d.proc = nil
	d.mu.Unlock()
	if bp == nil {
		return nil
	}
	defer d.cfg.Ports.Release(port)

	timeout := d.cfg.StopTimeout
	if fast {
		timeout = fastStopTimeout
	}
	return process.StopCloseAndNil(&bp, timeout)
}
